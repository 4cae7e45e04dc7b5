package notification

import (
	"context"
	"fmt"
	"strings"

	"github.com/quantello/marketsync/internal/models"
	"github.com/quantello/marketsync/internal/repository"
	"github.com/rs/zerolog"
)

type Event struct {
	Event    models.NotificationEvent
	Severity models.NotificationSeverity
	Title    string
	Message  string
	Metadata map[string]interface{}
}

// Service persists notifications and fans them out to delivery channels.
// Delivery is best-effort by contract: a channel failure is logged and
// swallowed so it can never change a job's outcome.
type Service interface {
	Publish(ctx context.Context, evt Event) (models.Notification, error)
	NotifyJobFailed(ctx context.Context, jobName, runID, errMsg string, meta map[string]interface{})
	NotifyIntegrityWarnings(ctx context.Context, warnings []string)
	ListRecent(ctx context.Context, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, notificationID string) (models.Notification, error)
}

type service struct {
	repo      repository.NotificationRepository
	logger    zerolog.Logger
	notifiers []Notifier
}

func NewService(repo repository.NotificationRepository, logger zerolog.Logger, notifiers ...Notifier) Service {
	active := make([]Notifier, 0, len(notifiers))
	for _, notifier := range notifiers {
		if notifier != nil {
			active = append(active, notifier)
		}
	}
	return &service{
		repo:      repo,
		logger:    logger.With().Str("component", "notification_service").Logger(),
		notifiers: active,
	}
}

func (s *service) Publish(ctx context.Context, evt Event) (models.Notification, error) {
	if evt.Event == "" {
		return models.Notification{}, fmt.Errorf("event type is required")
	}
	if evt.Severity == "" {
		evt.Severity = models.NotificationSeverityInfo
	}
	title := strings.TrimSpace(evt.Title)
	if title == "" {
		title = string(evt.Event)
	}

	notif, err := s.repo.Create(ctx, repository.CreateNotificationParams{
		Event:    evt.Event,
		Severity: evt.Severity,
		Title:    title,
		Message:  strings.TrimSpace(evt.Message),
		Metadata: evt.Metadata,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("event_type", string(evt.Event)).Msg("failed to persist notification")
		return models.Notification{}, err
	}
	for _, notifier := range s.notifiers {
		if err := notifier.Notify(ctx, notif); err != nil {
			logNotifyError(s.logger, err, notifierChannelName(notifier), notif)
		}
	}
	return notif, nil
}

// NotifyJobFailed implements sync.FailureNotifier. Errors are swallowed:
// failure alerting must not affect the job outcome it reports on.
func (s *service) NotifyJobFailed(ctx context.Context, jobName, runID, errMsg string, meta map[string]interface{}) {
	if meta == nil {
		meta = map[string]interface{}{}
	}
	meta["job"] = jobName
	meta["run_id"] = runID

	if _, err := s.Publish(ctx, Event{
		Event:    models.NotificationEventJobFailed,
		Severity: models.NotificationSeverityError,
		Title:    fmt.Sprintf("Job failed: %s", jobName),
		Message:  fmt.Sprintf("Job %s run %s failed: %s", jobName, runID, errMsg),
		Metadata: meta,
	}); err != nil {
		s.logger.Warn().Err(err).Str("job", jobName).Msg("failure notification not delivered")
	}
}

func (s *service) NotifyIntegrityWarnings(ctx context.Context, warnings []string) {
	if len(warnings) == 0 {
		return
	}
	if _, err := s.Publish(ctx, Event{
		Event:    models.NotificationEventIntegrityWarnings,
		Severity: models.NotificationSeverityWarning,
		Title:    fmt.Sprintf("Integrity check: %d warnings", len(warnings)),
		Message:  strings.Join(warnings, "\n"),
		Metadata: map[string]interface{}{"count": len(warnings)},
	}); err != nil {
		s.logger.Warn().Err(err).Msg("integrity notification not delivered")
	}
}

func (s *service) ListRecent(ctx context.Context, limit int) ([]models.Notification, error) {
	return s.repo.ListRecent(ctx, limit)
}

func (s *service) MarkRead(ctx context.Context, notificationID string) (models.Notification, error) {
	return s.repo.MarkRead(ctx, notificationID)
}

func notifierChannelName(n Notifier) string {
	type named interface {
		String() string
	}
	if v, ok := n.(named); ok {
		return v.String()
	}
	return fmt.Sprintf("%T", n)
}
