package worker

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/docrender/internal/logging"
	"github.com/kiranshivaraju/docrender/internal/store"
	"github.com/kiranshivaraju/docrender/pkg/models"
	"github.com/rs/zerolog"
)

// ErrPrivateTarget is returned when a webhook resolves to a non-public address.
var ErrPrivateTarget = errors.New("webhook target is not a public address")

// SignatureHeader carries the hex HMAC-SHA256 of the request body, keyed by
// the webhook secret and prefixed with "sha256=".
const SignatureHeader = "X-Signature"

// WebhookEvent is the body POSTed to a job's webhook.
type WebhookEvent struct {
	JobID       uuid.UUID        `json:"jobId"`
	Status      models.JobStatus `json:"status"`
	Result      *models.Result   `json:"result,omitempty"`
	Failure     *models.Failure  `json:"failure,omitempty"`
	CompletedAt *time.Time       `json:"completedAt,omitempty"`
}

// WebhookNotifier posts terminal jobs to their render webhook and records
// whether delivery succeeded.
type WebhookNotifier struct {
	client *http.Client
	jobs   store.JobStore
	logger zerolog.Logger
}

// WebhookOption configures a WebhookNotifier.
type WebhookOption func(*WebhookNotifier)

// WithWebhookClient replaces the default client, which refuses to connect
// to loopback, private and link-local addresses.
func WithWebhookClient(c *http.Client) WebhookOption {
	return func(n *WebhookNotifier) { n.client = c }
}

// NewWebhookNotifier creates a notifier whose requests give up after timeout.
func NewWebhookNotifier(jobs store.JobStore, timeout time.Duration, logger zerolog.Logger, opts ...WebhookOption) *WebhookNotifier {
	n := &WebhookNotifier{
		client: publicClient(timeout),
		jobs:   jobs,
		logger: logger,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// publicClient checks every dialed address after DNS resolution, so a name
// that passed validation cannot later point the worker at an internal host.
// Redirects are not followed.
func publicClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: timeout, Control: dialPublicOnly}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext:         dialer.DialContext,
			TLSHandshakeTimeout: timeout,
			MaxIdleConns:        10,
			IdleConnTimeout:     30 * time.Second,
		},
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func dialPublicOnly(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return err
	}
	if !PublicAddr(addr) {
		return fmt.Errorf("%w: %s", ErrPrivateTarget, host)
	}
	return nil
}

// PublicAddr reports whether addr is routable on the public internet.
func PublicAddr(addr netip.Addr) bool {
	if !addr.IsValid() {
		return false
	}
	addr = addr.Unmap()
	return !addr.IsLoopback() &&
		!addr.IsPrivate() &&
		!addr.IsLinkLocalUnicast() &&
		!addr.IsLinkLocalMulticast() &&
		!addr.IsInterfaceLocalMulticast() &&
		!addr.IsUnspecified() &&
		!sharedAddressSpace.Contains(addr)
}

// RFC 6598 carrier-grade NAT range.
var sharedAddressSpace = netip.MustParsePrefix("100.64.0.0/10")

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Notify delivers job to its webhook, if it has one. The outcome is stored
// as the job's webhook status; the job status itself is never touched.
func (n *WebhookNotifier) Notify(ctx context.Context, job *models.Job) {
	if job.Payload.Render == nil || job.Payload.Render.Webhook == nil || job.Payload.Render.Webhook.URL == "" {
		return
	}
	hook := job.Payload.Render.Webhook
	log := logging.From(ctx, n.logger)

	status := models.WebhookDelivered
	if err := n.post(ctx, hook, job); err != nil {
		log.Warn().Err(err).Str("webhook_url", hook.URL).Msg("webhook delivery failed")
		status = models.WebhookFailed
	} else {
		log.Info().Str("webhook_url", hook.URL).Msg("webhook delivered")
	}

	if err := n.jobs.SetWebhookStatus(ctx, job.ID, status); err != nil {
		log.Warn().Err(err).Msg("recording webhook status failed")
	}
}

func (n *WebhookNotifier) post(ctx context.Context, hook *models.Webhook, job *models.Job) error {
	body, err := json.Marshal(WebhookEvent{
		JobID:       job.ID,
		Status:      job.Status,
		Result:      job.Result,
		Failure:     job.Failure,
		CompletedAt: job.CompletedAt,
	})
	if err != nil {
		return fmt.Errorf("encoding webhook event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if hook.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(hook.Secret, body))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
