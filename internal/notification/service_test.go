package notification

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantello/marketsync/internal/models"
	"github.com/quantello/marketsync/internal/repository"
)

type fakeNotificationRepo struct {
	created   []models.Notification
	createErr error
	seq       int
}

func (f *fakeNotificationRepo) Create(_ context.Context, params repository.CreateNotificationParams) (models.Notification, error) {
	if f.createErr != nil {
		return models.Notification{}, f.createErr
	}
	f.seq++
	notif := models.Notification{
		ID:        fmt.Sprintf("notif-%d", f.seq),
		EventType: params.Event,
		Severity:  params.Severity,
		Title:     params.Title,
		Message:   params.Message,
		CreatedAt: time.Now(),
	}
	f.created = append(f.created, notif)
	return notif, nil
}

func (f *fakeNotificationRepo) ListRecent(_ context.Context, limit int) ([]models.Notification, error) {
	return f.created, nil
}

func (f *fakeNotificationRepo) MarkRead(_ context.Context, notificationID string) (models.Notification, error) {
	for _, n := range f.created {
		if n.ID == notificationID {
			now := time.Now()
			n.ReadAt = &now
			return n, nil
		}
	}
	return models.Notification{}, errors.New("not found")
}

type recordingNotifier struct {
	delivered []models.Notification
	err       error
}

func (r *recordingNotifier) Notify(_ context.Context, notif models.Notification) error {
	if r.err != nil {
		return r.err
	}
	r.delivered = append(r.delivered, notif)
	return nil
}

func TestPublishPersistsThenFansOut(t *testing.T) {
	repo := &fakeNotificationRepo{}
	channel := &recordingNotifier{}
	svc := NewService(repo, zerolog.Nop(), channel)

	notif, err := svc.Publish(context.Background(), Event{
		Event:   models.NotificationEventJobFailed,
		Title:   "Job failed: quotes",
		Message: "boom",
	})

	require.NoError(t, err)
	assert.Equal(t, models.NotificationSeverityInfo, notif.Severity, "severity defaults when unset")
	require.Len(t, repo.created, 1)
	require.Len(t, channel.delivered, 1)
	assert.Equal(t, notif.ID, channel.delivered[0].ID)
}

func TestPublishRequiresEventType(t *testing.T) {
	svc := NewService(&fakeNotificationRepo{}, zerolog.Nop())

	_, err := svc.Publish(context.Background(), Event{Message: "no type"})
	assert.Error(t, err)
}

func TestPublishSwallowsChannelFailures(t *testing.T) {
	repo := &fakeNotificationRepo{}
	broken := &recordingNotifier{err: errors.New("smtp down")}
	svc := NewService(repo, zerolog.Nop(), broken)

	_, err := svc.Publish(context.Background(), Event{
		Event:   models.NotificationEventIntegrityWarnings,
		Message: "warning",
	})

	// The notification is persisted even when every channel fails.
	require.NoError(t, err)
	assert.Len(t, repo.created, 1)
}

func TestNotifyJobFailedNeverReturnsError(t *testing.T) {
	repo := &fakeNotificationRepo{createErr: errors.New("db down")}
	svc := NewService(repo, zerolog.Nop())

	// Must not panic or surface anything; alerting cannot change the
	// job outcome it reports on.
	svc.NotifyJobFailed(context.Background(), "quotes", "run-1", "boom", nil)
}

func TestNotifyIntegrityWarningsSkipsEmptySet(t *testing.T) {
	repo := &fakeNotificationRepo{}
	svc := NewService(repo, zerolog.Nop())

	svc.NotifyIntegrityWarnings(context.Background(), nil)
	assert.Empty(t, repo.created)

	svc.NotifyIntegrityWarnings(context.Background(), []string{"calendar empty", "quotes stale"})
	require.Len(t, repo.created, 1)
	assert.Contains(t, repo.created[0].Message, "calendar empty")
	assert.Contains(t, repo.created[0].Title, "2 warnings")
}

func TestSanitizeRecipients(t *testing.T) {
	cleaned := sanitizeRecipients([]string{" ops@example.com ", "", "  ", "alerts@example.com"})
	assert.Equal(t, []string{"ops@example.com", "alerts@example.com"}, cleaned)
}

func TestNewServiceDropsNilNotifiers(t *testing.T) {
	repo := &fakeNotificationRepo{}
	svc := NewService(repo, zerolog.Nop(), nil, &recordingNotifier{})

	_, err := svc.Publish(context.Background(), Event{Event: models.NotificationEventJobSucceeded})
	assert.NoError(t, err)
}
