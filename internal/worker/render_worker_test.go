package worker_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clipforge/internal/domain"
	"clipforge/internal/queue"
	"clipforge/internal/service/engine"
	"clipforge/internal/worker"
)

type fakeJobQueue struct {
	completed []*queue.RenderJob
	failures  []failure
}

type failure struct {
	job       *queue.RenderJob
	err       error
	retryable bool
}

func (q *fakeJobQueue) Dequeue(ctx context.Context) (*queue.RenderJob, error) {
	return nil, nil
}

func (q *fakeJobQueue) Complete(ctx context.Context, job *queue.RenderJob) error {
	q.completed = append(q.completed, job)
	return nil
}

func (q *fakeJobQueue) Fail(ctx context.Context, job *queue.RenderJob, jobErr error, retryable bool) error {
	q.failures = append(q.failures, failure{job: job, err: jobErr, retryable: retryable})
	return nil
}

type fakeResolver struct {
	version *domain.Version
	err     error
}

func (r *fakeResolver) GetCurrent(ctx context.Context, projectID uuid.UUID) (*domain.Version, error) {
	return r.version, r.err
}

type fakeFinalizer struct {
	finalized   *domain.Version
	renderedRef string
	err         error
}

func (f *fakeFinalizer) Finalize(ctx context.Context, final *domain.Version, renderedRef string) (*domain.Version, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.finalized = final
	f.renderedRef = renderedRef
	return final, nil
}

type fakeRenderEngine struct {
	result *engine.Result
	err    error
	input  string
}

func (e *fakeRenderEngine) Trim(ctx context.Context, inputRef string, start, end float64) (*engine.Result, error) {
	return nil, errors.New("not used")
}

func (e *fakeRenderEngine) OverlayCaptions(ctx context.Context, inputRef string, captions []domain.Caption) (*engine.Result, error) {
	return nil, errors.New("not used")
}

func (e *fakeRenderEngine) FinalizeRender(ctx context.Context, inputRef string) (*engine.Result, error) {
	e.input = inputRef
	return e.result, e.err
}

func (e *fakeRenderEngine) ProbeDuration(ctx context.Context, localPath string) (float64, error) {
	return 0, errors.New("not used")
}

func newJob(projectID uuid.UUID, userID string) *queue.RenderJob {
	return &queue.RenderJob{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		UserID:    userID,
	}
}

func TestProcessSuccess(t *testing.T) {
	projectID := uuid.New()
	current := &domain.Version{ID: projectID, ProjectID: projectID, MediaRef: "media/v3.mp4", IsCurrent: true}

	q := &fakeJobQueue{}
	resolver := &fakeResolver{version: current}
	finalizer := &fakeFinalizer{}
	eng := &fakeRenderEngine{result: &engine.Result{MediaRef: "media/final.mp4", SizeBytes: 500, DurationSeconds: 12}}

	w := worker.NewRenderWorker(q, resolver, finalizer, eng)
	w.Process(context.Background(), newJob(projectID, ""))

	assert.Equal(t, "media/v3.mp4", eng.input, "render must use the current version at execution time")
	require.NotNil(t, finalizer.finalized)
	assert.Equal(t, current.ID, finalizer.finalized.ID)
	assert.Equal(t, "media/final.mp4", finalizer.renderedRef)
	assert.Len(t, q.completed, 1)
	assert.Empty(t, q.failures)
}

func TestProcessProjectGone(t *testing.T) {
	q := &fakeJobQueue{}
	resolver := &fakeResolver{err: domain.ErrNotFound}
	eng := &fakeRenderEngine{}

	w := worker.NewRenderWorker(q, resolver, &fakeFinalizer{}, eng)
	w.Process(context.Background(), newJob(uuid.New(), ""))

	require.Len(t, q.failures, 1)
	assert.ErrorIs(t, q.failures[0].err, domain.ErrNotFound)
	assert.False(t, q.failures[0].retryable, "missing project cannot be retried into existence")
	assert.Empty(t, q.completed)
}

func TestProcessResolverUnavailable(t *testing.T) {
	q := &fakeJobQueue{}
	resolver := &fakeResolver{err: errors.New("connection refused")}

	w := worker.NewRenderWorker(q, resolver, &fakeFinalizer{}, &fakeRenderEngine{})
	w.Process(context.Background(), newJob(uuid.New(), ""))

	require.Len(t, q.failures, 1)
	assert.True(t, q.failures[0].retryable)
}

func TestProcessOwnershipRecheck(t *testing.T) {
	projectID := uuid.New()
	owner := "user-1"
	current := &domain.Version{ID: projectID, ProjectID: projectID, OwnerID: &owner, MediaRef: "media/v1.mp4"}

	q := &fakeJobQueue{}
	eng := &fakeRenderEngine{}

	w := worker.NewRenderWorker(q, &fakeResolver{version: current}, &fakeFinalizer{}, eng)
	w.Process(context.Background(), newJob(projectID, "user-2"))

	require.Len(t, q.failures, 1)
	assert.ErrorIs(t, q.failures[0].err, domain.ErrForbidden)
	assert.False(t, q.failures[0].retryable)
	assert.Empty(t, eng.input, "render must not run for an unauthorized job")
}

func TestProcessEngineFailureIsRetryable(t *testing.T) {
	projectID := uuid.New()
	current := &domain.Version{ID: projectID, ProjectID: projectID, MediaRef: "media/v1.mp4"}

	q := &fakeJobQueue{}
	eng := &fakeRenderEngine{err: domain.ErrTransformationFailed}
	finalizer := &fakeFinalizer{}

	w := worker.NewRenderWorker(q, &fakeResolver{version: current}, finalizer, eng)
	w.Process(context.Background(), newJob(projectID, ""))

	require.Len(t, q.failures, 1)
	assert.ErrorIs(t, q.failures[0].err, domain.ErrTransformationFailed)
	assert.True(t, q.failures[0].retryable)
	assert.Nil(t, finalizer.finalized)
}

func TestProcessFinalizeConflictIsRetryable(t *testing.T) {
	projectID := uuid.New()
	current := &domain.Version{ID: projectID, ProjectID: projectID, MediaRef: "media/v1.mp4"}

	q := &fakeJobQueue{}
	eng := &fakeRenderEngine{result: &engine.Result{MediaRef: "media/final.mp4"}}
	finalizer := &fakeFinalizer{err: domain.ErrConflict}

	w := worker.NewRenderWorker(q, &fakeResolver{version: current}, finalizer, eng)
	w.Process(context.Background(), newJob(projectID, ""))

	require.Len(t, q.failures, 1)
	assert.ErrorIs(t, q.failures[0].err, domain.ErrConflict)
	assert.True(t, q.failures[0].retryable, "a conflicting finalize retries against the new current version")
	assert.Empty(t, q.completed)
}
