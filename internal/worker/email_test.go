package worker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/docrender/internal/blob"
	"github.com/kiranshivaraju/docrender/internal/email"
	"github.com/kiranshivaraju/docrender/internal/worker"
	"github.com/kiranshivaraju/docrender/pkg/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	sent []email.Message
	err  error
}

func (s *fakeSender) Send(_ context.Context, m email.Message) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, m)
	return nil
}

func emailJob(status models.JobStatus, recipients []string, size int64) *models.Job {
	expires := fixedNow.Add(5 * 24 * time.Hour)
	job := &models.Job{
		ID:      uuid.New(),
		OwnerID: "owner-1",
		Kind:    models.JobKindRender,
		Status:  status,
		Payload: models.NewRenderPayload(models.RenderPayload{
			TemplateID: "invoice",
			Records:    []map[string]any{{"n": 1}},
			SendEmail:  recipients,
		}),
	}
	if status == models.JobStatusCompleted {
		job.Result = &models.Result{
			ArtifactKey:  "owner-1/pdfs/x.pdf",
			ArtifactURL:  "https://storage.invalid/owner-1/pdfs/x.pdf?sig=1",
			URLExpiresAt: &expires,
			SizeBytes:    size,
			Pages:        2,
		}
	}
	return job
}

func TestEmailNotifier_AttachesSmallArtifact(t *testing.T) {
	blobs := blob.NewMemoryStore()
	blobs.Put("owner-1/pdfs/x.pdf", []byte("%PDF-1.7 small"))
	sender := &fakeSender{}

	n := worker.NewEmailNotifier(sender, blobs, 1024, zerolog.Nop())
	n.Notify(context.Background(), emailJob(models.JobStatusCompleted, []string{"a@example.com"}, 14))

	require.Len(t, sender.sent, 1)
	msg := sender.sent[0]
	assert.Equal(t, []string{"a@example.com"}, msg.To)
	assert.Equal(t, "Your PDF is ready: invoice.pdf", msg.Subject)
	require.NotNil(t, msg.Attachment)
	assert.Equal(t, "invoice.pdf", msg.Attachment.Name)
	assert.Equal(t, []byte("%PDF-1.7 small"), msg.Attachment.Data)
	assert.Contains(t, msg.Text, "attached")
	assert.Contains(t, msg.Text, "https://storage.invalid/owner-1/pdfs/x.pdf?sig=1")
	assert.Contains(t, msg.Text, "6 October 2026")
}

func TestEmailNotifier_LinksLargeArtifact(t *testing.T) {
	blobs := blob.NewMemoryStore()
	sender := &fakeSender{}

	n := worker.NewEmailNotifier(sender, blobs, 1024, zerolog.Nop())
	n.Notify(context.Background(), emailJob(models.JobStatusCompleted, []string{"a@example.com"}, 4096))

	require.Len(t, sender.sent, 1)
	msg := sender.sent[0]
	assert.Nil(t, msg.Attachment)
	assert.NotContains(t, msg.Text, "attached")
	assert.Contains(t, msg.HTML, `href="https://storage.invalid/owner-1/pdfs/x.pdf`)
}

func TestEmailNotifier_MissingArtifactFallsBackToLink(t *testing.T) {
	sender := &fakeSender{}

	n := worker.NewEmailNotifier(sender, blob.NewMemoryStore(), 1024, zerolog.Nop())
	n.Notify(context.Background(), emailJob(models.JobStatusCompleted, []string{"a@example.com"}, 14))

	require.Len(t, sender.sent, 1)
	assert.Nil(t, sender.sent[0].Attachment)
}

func TestEmailNotifier_Skips(t *testing.T) {
	tests := []struct {
		name string
		job  *models.Job
	}{
		{"no recipients", emailJob(models.JobStatusCompleted, nil, 14)},
		{"failed job", emailJob(models.JobStatusFailed, []string{"a@example.com"}, 0)},
		{"ai job", &models.Job{
			Kind:    models.JobKindAnalyze,
			Status:  models.JobStatusCompleted,
			Payload: models.NewAnalyzePayload(models.AnalyzePayload{Prompt: "an invoice"}),
			Result:  &models.Result{},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeSender{}
			worker.NewEmailNotifier(sender, blob.NewMemoryStore(), 0, zerolog.Nop()).Notify(context.Background(), tt.job)
			assert.Empty(t, sender.sent)
		})
	}
}

func TestEmailNotifier_SendErrorIsSwallowed(t *testing.T) {
	sender := &fakeSender{err: errors.New("smtp down")}
	n := worker.NewEmailNotifier(sender, blob.NewMemoryStore(), 0, zerolog.Nop())

	assert.NotPanics(t, func() {
		n.Notify(context.Background(), emailJob(models.JobStatusCompleted, []string{"a@example.com"}, 4096))
	})
}

func TestNotifiers_CallsEach(t *testing.T) {
	first, second := &recordingNotifier{}, &recordingNotifier{}
	job := emailJob(models.JobStatusCompleted, nil, 1)

	worker.Notifiers{first, second}.Notify(context.Background(), job)

	assert.Len(t, first.jobs, 1)
	assert.Len(t, second.jobs, 1)
}
