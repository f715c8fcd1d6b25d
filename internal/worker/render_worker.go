package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"clipforge/internal/domain"
	"clipforge/internal/queue"
	"clipforge/internal/service"
	"clipforge/internal/service/engine"
)

// JobQueue предоставляет задачи рендера с подтверждением
type JobQueue interface {
	Dequeue(ctx context.Context) (*queue.RenderJob, error)
	Complete(ctx context.Context, job *queue.RenderJob) error
	Fail(ctx context.Context, job *queue.RenderJob, jobErr error, retryable bool) error
}

// VersionResolver разрешает текущую версию проекта
type VersionResolver interface {
	GetCurrent(ctx context.Context, projectID uuid.UUID) (*domain.Version, error)
}

// Finalizer записывает результат рендера и схлопывает историю
type Finalizer interface {
	Finalize(ctx context.Context, final *domain.Version, renderedRef string) (*domain.Version, error)
}

// RenderWorker является асинхронным потребителем очереди рендера. Берет
// текущую версию проекта на момент выполнения, прогоняет финальную
// трансформацию и финализирует проект. До финализации ни одна запись
// в хранилище не меняется, поэтому упавшую задачу безопасно повторять.
type RenderWorker struct {
	queue  JobQueue
	store  VersionResolver
	chain  Finalizer
	engine engine.Engine
}

func NewRenderWorker(q JobQueue, store VersionResolver, chain Finalizer, eng engine.Engine) *RenderWorker {
	return &RenderWorker{
		queue:  q,
		store:  store,
		chain:  chain,
		engine: eng,
	}
}

// Run крутит цикл потребления до отмены контекста
func (w *RenderWorker) Run(ctx context.Context) {
	log.Printf("[RenderWorker] Started")

	for {
		select {
		case <-ctx.Done():
			log.Printf("[RenderWorker] Stopped")
			return
		default:
		}

		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Printf("[RenderWorker] Stopped")
				return
			}
			log.Printf("[RenderWorker] Dequeue error: %v", err)
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			continue
		}

		w.Process(ctx, job)
	}
}

// Process выполняет одну задачу рендера
func (w *RenderWorker) Process(ctx context.Context, job *queue.RenderJob) {
	log.Printf("[RenderWorker] Processing job %s for project %s", job.ID, job.ProjectID)

	// Текущая версия берется в момент выполнения: правки, сделанные
	// после постановки задачи, попадут в рендер
	current, err := w.store.GetCurrent(ctx, job.ProjectID)
	if errors.Is(err, domain.ErrNotFound) {
		w.fail(ctx, job, err, false)
		return
	}
	if err != nil {
		w.fail(ctx, job, err, true)
		return
	}

	// Перепроверка прав: владение могло смениться, пока задача ждала
	if !service.IsAuthorized(job.UserID, current) {
		w.fail(ctx, job, fmt.Errorf("project %s: %w", job.ProjectID, domain.ErrForbidden), false)
		return
	}

	result, err := w.engine.FinalizeRender(ctx, current.MediaRef)
	if err != nil {
		w.fail(ctx, job, err, true)
		return
	}

	if _, err := w.chain.Finalize(ctx, current, result.MediaRef); err != nil {
		w.fail(ctx, job, err, true)
		return
	}

	if err := w.queue.Complete(ctx, job); err != nil {
		log.Printf("[RenderWorker] Failed to acknowledge job %s: %v", job.ID, err)
		return
	}

	log.Printf("[RenderWorker] Job %s finished, project %s finalized as %s",
		job.ID, job.ProjectID, result.MediaRef)
}

func (w *RenderWorker) fail(ctx context.Context, job *queue.RenderJob, jobErr error, retryable bool) {
	log.Printf("[RenderWorker] Job %s failed (retryable=%v): %v", job.ID, retryable, jobErr)

	if err := w.queue.Fail(ctx, job, jobErr, retryable); err != nil {
		log.Printf("[RenderWorker] Failed to record failure of job %s: %v", job.ID, err)
	}
}
