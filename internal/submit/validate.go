package submit

import (
	"bytes"
	"encoding/json"
	"net/mail"
	"net/netip"
	"net/url"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/docrender/internal/blob"
	"github.com/kiranshivaraju/docrender/internal/worker"
	"github.com/kiranshivaraju/docrender/pkg/models"
)

const (
	minPromptLen = 10
	maxPromptLen = 2000
	// Base64 of a 500 KB image, with padding overhead.
	maxImageBase64Len = 500 * 1024 * 134 / 100
	maxFeedbackLen    = 2000
	maxRecipients     = 10
)

var (
	templateIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)
	base64Pattern     = regexp.MustCompile(`^[A-Za-z0-9+/=]+$`)
	imageMediaTypes   = map[string]bool{"image/png": true, "image/jpeg": true, "image/webp": true}
)

// RenderRequest is a render submission. Data is a single object or an array
// of objects, one page each.
type RenderRequest struct {
	TemplateID string          `json:"templateId"`
	Data       json.RawMessage `json:"data"`
	Webhook    *models.Webhook `json:"webhook,omitempty"`
	SendEmail  []string        `json:"sendEmail,omitempty"`
}

// AIRequest is an analyze or generate submission.
type AIRequest struct {
	JobType          string          `json:"jobType"`
	Prompt           string          `json:"prompt"`
	TemplateType     string          `json:"templateType,omitempty"`
	ImageBase64      string          `json:"imageBase64,omitempty"`
	ImageMediaType   string          `json:"imageMediaType,omitempty"`
	ImageKey         string          `json:"imageKey,omitempty"`
	AnalysisJobID    *uuid.UUID      `json:"analysisJobId,omitempty"`
	Answers          []models.Answer `json:"answers,omitempty"`
	PreviousTemplate string          `json:"previousTemplate,omitempty"`
	Feedback         string          `json:"feedback,omitempty"`
}

// ValidateTemplateID checks a caller-chosen template id.
func ValidateTemplateID(id string) error {
	if !templateIDPattern.MatchString(id) {
		return invalid("templateId must be 1-128 letters, digits, '-' or '_'")
	}
	return nil
}

// ParseRecords decodes render data into records, capped at maxRecords.
func ParseRecords(raw json.RawMessage, maxRecords int) ([]map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, invalid("data is required")
	}

	var records []map[string]any
	switch trimmed[0] {
	case '{':
		var rec map[string]any
		if err := json.Unmarshal(trimmed, &rec); err != nil {
			return nil, invalid("data is not a valid object: %v", err)
		}
		records = []map[string]any{rec}
	case '[':
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, invalid("data must be an object or an array of objects")
		}
		if len(records) == 0 {
			return nil, invalid("data array must not be empty")
		}
	default:
		return nil, invalid("data must be an object or an array of objects")
	}

	if maxRecords > 0 && len(records) > maxRecords {
		return nil, &Error{
			Code:    models.ErrCodeInvalidInput,
			Message: "too many records in one request",
			Details: map[string]any{"max": maxRecords, "received": len(records)},
		}
	}
	for i, rec := range records {
		if rec == nil {
			return nil, invalid("data[%d] must be an object", i)
		}
	}
	return records, nil
}

// ValidateWebhook requires an absolute http(s) URL whose host is not a
// loopback, private or link-local address. Names are checked again after
// resolution when the webhook is delivered.
func ValidateWebhook(h *models.Webhook) error {
	if h == nil {
		return nil
	}
	u, err := url.Parse(h.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return invalid("webhook.url must be an absolute http or https URL")
	}
	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return invalid("webhook.url must not target a local address")
	}
	if addr, err := netip.ParseAddr(host); err == nil && !worker.PublicAddr(addr) {
		return invalid("webhook.url must not target a private or local address")
	}
	return nil
}

// ValidateRecipients checks the optional completion email list.
func ValidateRecipients(addrs []string) error {
	if len(addrs) > maxRecipients {
		return invalid("sendEmail accepts at most %d addresses", maxRecipients)
	}
	for i, a := range addrs {
		parsed, err := mail.ParseAddress(a)
		if err != nil || parsed.Name != "" {
			return invalid("sendEmail[%d] is not a valid email address", i)
		}
	}
	return nil
}

// BuildAIPayload validates req and turns it into an analyze or generate payload.
func BuildAIPayload(ownerID string, req AIRequest) (models.Payload, error) {
	kind := models.JobKindGenerate
	switch req.JobType {
	case "", "generation":
	case "analysis":
		kind = models.JobKindAnalyze
	default:
		return models.Payload{}, invalid("jobType must be analysis or generation")
	}

	prompt := strings.TrimSpace(req.Prompt)
	if n := len([]rune(prompt)); n < minPromptLen || n > maxPromptLen {
		return models.Payload{}, invalid("prompt must be between %d and %d characters", minPromptLen, maxPromptLen)
	}

	image, err := buildImageRef(ownerID, req)
	if err != nil {
		return models.Payload{}, err
	}

	if kind == models.JobKindAnalyze {
		return models.NewAnalyzePayload(models.AnalyzePayload{
			Prompt:       prompt,
			TemplateType: req.TemplateType,
			Image:        image,
		}), nil
	}

	if len(req.Feedback) > maxFeedbackLen {
		return models.Payload{}, invalid("feedback must be at most %d characters", maxFeedbackLen)
	}
	for i, a := range req.Answers {
		if a.QuestionID == "" {
			return models.Payload{}, invalid("answers[%d].questionId is required", i)
		}
	}
	return models.NewGeneratePayload(models.GeneratePayload{
		Prompt:           prompt,
		TemplateType:     req.TemplateType,
		Image:            image,
		AnalysisJobID:    req.AnalysisJobID,
		Answers:          req.Answers,
		PreviousTemplate: req.PreviousTemplate,
		Feedback:         req.Feedback,
	}), nil
}

func buildImageRef(ownerID string, req AIRequest) (*models.ImageRef, error) {
	switch {
	case req.ImageBase64 != "" && req.ImageKey != "":
		return nil, invalid("provide either imageBase64 or imageKey, not both")

	case req.ImageBase64 != "":
		if !imageMediaTypes[req.ImageMediaType] {
			return nil, invalid("imageMediaType must be image/png, image/jpeg or image/webp")
		}
		if len(req.ImageBase64) > maxImageBase64Len {
			return nil, invalid("image must be at most 500KB; upload larger images and pass imageKey")
		}
		if !base64Pattern.MatchString(req.ImageBase64) {
			return nil, invalid("imageBase64 is not valid base64")
		}
		return &models.ImageRef{Data: req.ImageBase64, MediaType: req.ImageMediaType}, nil

	case req.ImageKey != "":
		if !strings.HasPrefix(req.ImageKey, blob.ImagePrefix(ownerID)) || strings.Contains(req.ImageKey, "..") {
			return nil, invalid("imageKey must reference one of your uploaded images")
		}
		mediaType := req.ImageMediaType
		if mediaType == "" {
			mediaType = blob.ImageMediaType(req.ImageKey)
		}
		return &models.ImageRef{StorageKey: req.ImageKey, MediaType: mediaType}, nil
	}
	return nil, nil
}
