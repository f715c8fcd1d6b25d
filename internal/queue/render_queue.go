package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"clipforge/internal/domain"
)

const (
	queueKey      = "render:queue"
	processingKey = "render:processing"
	jobKeyPrefix  = "render:job:"

	dequeueBlock = 5 * time.Second
)

// JobStatus описывает состояние задачи рендера
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusSucceeded JobStatus = "succeeded"
	StatusFailed    JobStatus = "failed"
)

// RenderJob содержит полезную нагрузку задачи рендера. Текущая версия
// проекта разрешается в момент выполнения, а не постановки в очередь.
type RenderJob struct {
	ID         string    `json:"id"`
	ProjectID  uuid.UUID `json:"project_id"`
	UserID     string    `json:"user_id"`
	Attempts   int       `json:"attempts"`
	EnqueuedAt time.Time `json:"enqueued_at"`

	// Исходная запись списка, нужна для подтверждения
	payload string
}

// JobInfo описывает состояние задачи для операторской видимости
type JobInfo struct {
	ID        string    `json:"id"`
	Status    JobStatus `json:"status"`
	ProjectID string    `json:"project_id"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
}

// RenderQueue реализует долговечную очередь задач рендера поверх Redis.
// Постановка делается через LPUSH, получение через блокирующий перенос
// в processing-список (доставка как минимум один раз), подтверждение
// через LREM. Непоправимо
// упавшие задачи помечаются failed, поправимые возвращаются в очередь
// до maxAttempts попыток.
type RenderQueue struct {
	client      *redis.Client
	maxAttempts int
	jobTTL      time.Duration
}

func NewRenderQueue(client *redis.Client, maxAttempts int, jobTTL time.Duration) *RenderQueue {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	return &RenderQueue{
		client:      client,
		maxAttempts: maxAttempts,
		jobTTL:      jobTTL,
	}
}

// Enqueue ставит задачу рендера в очередь и возвращает её id
func (q *RenderQueue) Enqueue(ctx context.Context, projectID uuid.UUID, userID string) (string, error) {
	job := RenderJob{
		ID:         uuid.NewString(),
		ProjectID:  projectID,
		UserID:     userID,
		EnqueuedAt: time.Now().UTC(),
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, jobKey(job.ID), map[string]interface{}{
		"status":     string(StatusQueued),
		"project_id": projectID.String(),
		"attempts":   0,
	})
	pipe.Expire(ctx, jobKey(job.ID), q.jobTTL)
	pipe.LPush(ctx, queueKey, payload)

	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to enqueue render job: %w", err)
	}

	log.Printf("[Queue] Render job %s enqueued for project %s", job.ID, projectID)

	return job.ID, nil
}

// Dequeue блокирующе забирает задачу из очереди. Возвращает nil без
// ошибки, если за время ожидания задач не появилось.
func (q *RenderQueue) Dequeue(ctx context.Context) (*RenderJob, error) {
	raw, err := q.client.BLMove(ctx, queueKey, processingKey, "RIGHT", "LEFT", dequeueBlock).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue render job: %w", err)
	}

	var job RenderJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		// Нечитаемую запись нельзя ни выполнить, ни вернуть в очередь
		q.client.LRem(ctx, processingKey, 1, raw)
		return nil, fmt.Errorf("failed to unmarshal render job: %w", err)
	}
	job.payload = raw

	if err := q.client.HSet(ctx, jobKey(job.ID), "status", string(StatusRunning)).Err(); err != nil {
		log.Printf("[Queue] Failed to mark job %s running: %v", job.ID, err)
	}

	return &job, nil
}

// Complete подтверждает успешное выполнение задачи
func (q *RenderQueue) Complete(ctx context.Context, job *RenderJob) error {
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, processingKey, 1, job.payload)
	pipe.HSet(ctx, jobKey(job.ID), "status", string(StatusSucceeded))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to complete render job: %w", err)
	}

	log.Printf("[Queue] Render job %s succeeded", job.ID)

	return nil
}

// Fail снимает задачу с processing-списка. Поправимая ошибка возвращает
// задачу в очередь, пока не исчерпан лимит попыток; непоправимая или
// исчерпавшая попытки помечает задачу failed.
func (q *RenderQueue) Fail(ctx context.Context, job *RenderJob, jobErr error, retryable bool) error {
	if err := q.client.LRem(ctx, processingKey, 1, job.payload).Err(); err != nil {
		log.Printf("[Queue] Failed to remove job %s from processing list: %v", job.ID, err)
	}

	if retryable && job.Attempts+1 < q.maxAttempts {
		job.Attempts++

		payload, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to marshal job for retry: %w", err)
		}

		pipe := q.client.TxPipeline()
		pipe.HSet(ctx, jobKey(job.ID), map[string]interface{}{
			"status":     string(StatusQueued),
			"attempts":   job.Attempts,
			"last_error": jobErr.Error(),
		})
		pipe.LPush(ctx, queueKey, payload)

		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("failed to requeue render job: %w", err)
		}

		log.Printf("[Queue] Render job %s requeued (attempt %d/%d): %v",
			job.ID, job.Attempts+1, q.maxAttempts, jobErr)

		return nil
	}

	if err := q.client.HSet(ctx, jobKey(job.ID), map[string]interface{}{
		"status":     string(StatusFailed),
		"last_error": jobErr.Error(),
	}).Err(); err != nil {
		return fmt.Errorf("failed to mark render job failed: %w", err)
	}

	log.Printf("[Queue] Render job %s failed permanently: %v", job.ID, jobErr)

	return nil
}

// Status возвращает состояние задачи по её id
func (q *RenderQueue) Status(ctx context.Context, jobID string) (*JobInfo, error) {
	fields, err := q.client.HGetAll(ctx, jobKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get job status: %w", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("render job %s: %w", jobID, domain.ErrNotFound)
	}

	attempts, _ := strconv.Atoi(fields["attempts"])

	return &JobInfo{
		ID:        jobID,
		Status:    JobStatus(fields["status"]),
		ProjectID: fields["project_id"],
		Attempts:  attempts,
		LastError: fields["last_error"],
	}, nil
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}
