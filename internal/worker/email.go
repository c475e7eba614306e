package worker

import (
	"context"
	"fmt"

	"github.com/aymerick/raymond"
	"github.com/kiranshivaraju/docrender/internal/blob"
	"github.com/kiranshivaraju/docrender/internal/email"
	"github.com/kiranshivaraju/docrender/internal/logging"
	"github.com/kiranshivaraju/docrender/pkg/models"
	"github.com/rs/zerolog"
)

// DefaultMaxAttachment is the largest artifact sent inline; bigger ones are
// linked instead.
const DefaultMaxAttachment = 5 * 1024 * 1024

var (
	emailText = raymond.MustParse(`Your document {{{fileName}}} ({{pages}} page(s)) is ready.
{{#if attached}}
It is attached to this email.
{{/if}}
Download: {{{url}}}
{{#if expires}}
This link expires on {{expires}}.
{{/if}}
`)
	emailHTML = raymond.MustParse(`<p>Your document <strong>{{fileName}}</strong> ({{pages}} page(s)) is ready.</p>
{{#if attached}}<p>It is attached to this email.</p>{{/if}}
<p><a href="{{url}}">Download {{fileName}}</a></p>
{{#if expires}}<p>This link expires on {{expires}}.</p>{{/if}}
`)
)

// EmailNotifier mails completed render artifacts to the job's recipients.
// Artifacts up to maxAttachment bytes are attached, larger ones are linked.
type EmailNotifier struct {
	sender        email.Sender
	blobs         blob.Store
	maxAttachment int64
	logger        zerolog.Logger
}

// NewEmailNotifier creates an EmailNotifier. A non-positive maxAttachment
// means DefaultMaxAttachment.
func NewEmailNotifier(sender email.Sender, blobs blob.Store, maxAttachment int64, logger zerolog.Logger) *EmailNotifier {
	if maxAttachment <= 0 {
		maxAttachment = DefaultMaxAttachment
	}
	return &EmailNotifier{sender: sender, blobs: blobs, maxAttachment: maxAttachment, logger: logger}
}

// Notify sends at most one email per call. Failures are logged and dropped.
func (n *EmailNotifier) Notify(ctx context.Context, job *models.Job) {
	render := job.Payload.Render
	if render == nil || len(render.SendEmail) == 0 || job.Status != models.JobStatusCompleted || job.Result == nil {
		return
	}
	log := logging.From(ctx, n.logger).With().Int("recipients", len(render.SendEmail)).Logger()

	msg, err := n.message(ctx, log, render, job.Result)
	if err != nil {
		log.Warn().Err(err).Msg("building completion email failed")
		return
	}
	if err := n.sender.Send(ctx, msg); err != nil {
		log.Warn().Err(err).Msg("completion email failed")
		return
	}
	log.Info().Bool("attached", msg.Attachment != nil).Msg("completion email sent")
}

func (n *EmailNotifier) message(ctx context.Context, log zerolog.Logger, render *models.RenderPayload, res *models.Result) (email.Message, error) {
	fileName := render.TemplateID + ".pdf"

	var attachment *email.Attachment
	if res.SizeBytes > 0 && res.SizeBytes <= n.maxAttachment {
		data, err := n.blobs.Fetch(ctx, res.ArtifactKey)
		if err != nil {
			log.Warn().Err(err).Str("artifact_key", res.ArtifactKey).Msg("fetching artifact for email failed, sending link only")
		} else {
			attachment = &email.Attachment{Name: fileName, ContentType: "application/pdf", Data: data}
		}
	}

	vars := map[string]any{
		"fileName": fileName,
		"pages":    res.Pages,
		"url":      res.ArtifactURL,
		"attached": attachment != nil,
	}
	if res.URLExpiresAt != nil {
		vars["expires"] = res.URLExpiresAt.UTC().Format("2 January 2006 15:04 MST")
	}

	text, err := emailText.Exec(vars)
	if err != nil {
		return email.Message{}, fmt.Errorf("render email text: %w", err)
	}
	html, err := emailHTML.Exec(vars)
	if err != nil {
		return email.Message{}, fmt.Errorf("render email html: %w", err)
	}
	return email.Message{
		To:         render.SendEmail,
		Subject:    "Your PDF is ready: " + fileName,
		Text:       text,
		HTML:       html,
		Attachment: attachment,
	}, nil
}

// Notifiers fans a terminal job out to every notifier in order.
type Notifiers []Notifier

func (ns Notifiers) Notify(ctx context.Context, job *models.Job) {
	for _, n := range ns {
		n.Notify(ctx, job)
	}
}
