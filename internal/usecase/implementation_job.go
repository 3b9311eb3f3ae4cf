package usecase

import (
	"context"
	"encoding/json"
	"errors"

	"CascadeAdvisor/internal/domain/models"
	"CascadeAdvisor/pkg/logger"
	"CascadeAdvisor/pkg/queue"
)

const ImplementSuggestionType = "suggestion.implement"

type implementPayload struct {
	SuggestionID string `json:"suggestion_id"`
}

// QueueDispatcher publishes approved suggestions to the job queue.
type QueueDispatcher struct {
	queue queue.QueueService
}

var _ ImplementationDispatcher = (*QueueDispatcher)(nil)

func NewQueueDispatcher(q queue.QueueService) *QueueDispatcher {
	return &QueueDispatcher{queue: q}
}

func (d *QueueDispatcher) Dispatch(ctx context.Context, suggestionID string) error {
	return d.queue.PublishMessage(ctx, ImplementSuggestionType, implementPayload{SuggestionID: suggestionID})
}

// ImplementSuggestionJob applies approved suggestions consumed from the queue.
type ImplementSuggestionJob struct {
	manager *SuggestionManager
	log     *logger.Logger
}

var _ queue.Job = (*ImplementSuggestionJob)(nil)

func NewImplementSuggestionJob(m *SuggestionManager, log *logger.Logger) *ImplementSuggestionJob {
	return &ImplementSuggestionJob{manager: m, log: log}
}

func (j *ImplementSuggestionJob) Name() string { return "implement-suggestion" }

func (j *ImplementSuggestionJob) Type() string { return ImplementSuggestionType }

// Handle returns an error only for failures worth retrying. A suggestion
// that reverted to pending or moved on is not retried.
func (j *ImplementSuggestionJob) Handle(ctx context.Context, payload json.RawMessage) error {
	p, err := queue.ParsePayload[implementPayload](payload)
	if err != nil {
		j.log.Error("suggestion.job bad payload", logger.Error(err))
		return nil
	}
	s, err := j.manager.Implement(ctx, p.SuggestionID)
	switch {
	case err == nil:
		return nil
	case s != nil && s.Status == models.SuggestionPending:
		return nil
	case errors.Is(err, models.ErrStateConflict), errors.Is(err, models.ErrNotFound):
		j.log.Warn("suggestion.job skipped", logger.String("id", p.SuggestionID), logger.Error(err))
		return nil
	}
	return err
}
