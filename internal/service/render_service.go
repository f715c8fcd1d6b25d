package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"clipforge/internal/domain"
	"clipforge/internal/queue"
	"clipforge/internal/repository"
)

// RenderService ставит задачи рендера в очередь. Права не проверяются
// при постановке: воркер перепроверяет их в момент выполнения, потому
// что владение могло смениться, пока задача ждала в очереди.
type RenderService struct {
	store repository.VersionStore
	queue *queue.RenderQueue
}

func NewRenderService(store repository.VersionStore, q *queue.RenderQueue) *RenderService {
	return &RenderService{
		store: store,
		queue: q,
	}
}

// EnqueueRender регистрирует задачу рендера для проекта
func (s *RenderService) EnqueueRender(ctx context.Context, projectID uuid.UUID, callerID string) (string, error) {
	// Проект должен существовать на момент постановки
	if _, err := s.store.GetCurrent(ctx, projectID); err != nil {
		return "", err
	}

	return s.queue.Enqueue(ctx, projectID, callerID)
}

// JobStatus возвращает состояние задачи рендера. Состояние видно
// только тем, кому виден сам проект: last_error может раскрывать
// детали обработки.
func (s *RenderService) JobStatus(ctx context.Context, jobID string, callerID string) (*queue.JobInfo, error) {
	info, err := s.queue.Status(ctx, jobID)
	if err != nil {
		return nil, err
	}

	projectID, err := uuid.Parse(info.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("job %s has malformed project id %q: %w", jobID, info.ProjectID, err)
	}

	current, err := s.store.GetCurrent(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if !CanView(callerID, current) {
		return nil, fmt.Errorf("project %s: %w", projectID, domain.ErrForbidden)
	}

	return info, nil
}
