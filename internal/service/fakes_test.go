package service_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/google/uuid"

	"clipforge/internal/domain"
	"clipforge/internal/repository"
	"clipforge/internal/service/engine"
	"clipforge/internal/service/s3"
)

// --- In-memory version store ---

type memStore struct {
	mu       sync.Mutex
	versions map[uuid.UUID]*domain.Version
}

func newMemStore() *memStore {
	return &memStore{versions: make(map[uuid.UUID]*domain.Version)}
}

func cloneVersion(v *domain.Version) *domain.Version {
	c := *v
	return &c
}

func (m *memStore) Get(ctx context.Context, id uuid.UUID) (*domain.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memTx{store: m}).Get(id)
}

func (m *memStore) GetCurrent(ctx context.Context, projectID uuid.UUID) (*domain.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memTx{store: m}).Current(projectID)
}

func (m *memStore) GetChain(ctx context.Context, projectID uuid.UUID) ([]domain.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var chain []domain.Version
	for _, v := range m.versions {
		if v.ProjectID == projectID {
			chain = append(chain, *v)
		}
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("project %s: %w", projectID, domain.ErrNotFound)
	}
	sort.Slice(chain, func(i, j int) bool { return chain[i].SequenceNumber < chain[j].SequenceNumber })

	return chain, nil
}

func (m *memStore) InProjectTx(ctx context.Context, projectID uuid.UUID, fn func(tx repository.VersionTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Снимок для отката при ошибке
	snapshot := make(map[uuid.UUID]*domain.Version, len(m.versions))
	for id, v := range m.versions {
		snapshot[id] = cloneVersion(v)
	}

	if err := fn(&memTx{store: m}); err != nil {
		m.versions = snapshot
		return err
	}

	return nil
}

type memTx struct {
	store *memStore
}

func (t *memTx) Get(id uuid.UUID) (*domain.Version, error) {
	v, ok := t.store.versions[id]
	if !ok {
		return nil, fmt.Errorf("version %s: %w", id, domain.ErrNotFound)
	}
	return cloneVersion(v), nil
}

func (t *memTx) Current(projectID uuid.UUID) (*domain.Version, error) {
	for _, v := range t.store.versions {
		if v.ProjectID == projectID && v.IsCurrent {
			return cloneVersion(v), nil
		}
	}
	return nil, fmt.Errorf("project %s: %w", projectID, domain.ErrNotFound)
}

func (t *memTx) Create(v *domain.Version) error {
	if _, exists := t.store.versions[v.ID]; exists {
		return fmt.Errorf("version %s already exists", v.ID)
	}
	t.store.versions[v.ID] = cloneVersion(v)
	return nil
}

func (t *memTx) UpdateFields(id uuid.UUID, fields map[string]interface{}) error {
	v, ok := t.store.versions[id]
	if !ok {
		return fmt.Errorf("version %s: %w", id, domain.ErrNotFound)
	}

	for column, value := range fields {
		switch column {
		case "is_current":
			v.IsCurrent = value.(bool)
		case "previous_version_id":
			v.PreviousVersionID = toUUIDPtr(value)
		case "next_version_id":
			v.NextVersionID = toUUIDPtr(value)
		case "final_media_ref":
			if value == nil {
				v.FinalMediaRef = nil
			} else {
				ref := value.(string)
				v.FinalMediaRef = &ref
			}
		case "operation_kind":
			v.OperationKind = value.(domain.OperationKind)
		default:
			return fmt.Errorf("column %q is not updatable", column)
		}
	}

	return nil
}

func toUUIDPtr(value interface{}) *uuid.UUID {
	if value == nil {
		return nil
	}
	id := value.(uuid.UUID)
	return &id
}

func (t *memTx) Delete(id uuid.UUID) error {
	delete(t.store.versions, id)
	return nil
}

func (t *memTx) FutureOf(projectID uuid.UUID, sequenceNumber int) ([]domain.Version, error) {
	var future []domain.Version
	for _, v := range t.store.versions {
		if v.ProjectID == projectID && v.SequenceNumber > sequenceNumber {
			future = append(future, *v)
		}
	}
	sort.Slice(future, func(i, j int) bool { return future[i].SequenceNumber < future[j].SequenceNumber })
	return future, nil
}

func (t *memTx) AllExcept(projectID uuid.UUID, keepID uuid.UUID) ([]domain.Version, error) {
	var victims []domain.Version
	for _, v := range t.store.versions {
		if v.ProjectID == projectID && v.ID != keepID {
			victims = append(victims, *v)
		}
	}
	sort.Slice(victims, func(i, j int) bool { return victims[i].SequenceNumber < victims[j].SequenceNumber })
	return victims, nil
}

// currentCount возвращает число версий проекта с is_current = true
func (m *memStore) currentCount(projectID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, v := range m.versions {
		if v.ProjectID == projectID && v.IsCurrent {
			count++
		}
	}
	return count
}

func (m *memStore) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.versions)
}

func (m *memStore) has(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.versions[id]
	return ok
}

// --- Fake S3 storage ---

type fakeStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: make(map[string][]byte)}
}

func (f *fakeStorage) UploadBytes(key string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = append([]byte(nil), data...)
	return nil
}

func (f *fakeStorage) GetObject(ctx context.Context, key string) (s3.S3Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("object not found: %s", key)
	}
	return &fakeObject{Reader: bytes.NewReader(data), length: int64(len(data))}, nil
}

func (f *fakeStorage) GetObjectRange(ctx context.Context, key string, start, end int64) (s3.S3Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("object not found: %s", key)
	}

	total := int64(len(data))
	if start >= total {
		return nil, fmt.Errorf("range start %d beyond object size %d", start, total)
	}
	if end < 0 || end >= total {
		end = total - 1
	}

	part := data[start : end+1]
	return &fakeObject{
		Reader:       bytes.NewReader(part),
		length:       int64(len(part)),
		contentRange: fmt.Sprintf("bytes %d-%d/%d", start, end, total),
	}, nil
}

func (f *fakeStorage) DeleteObject(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeStorage) deletedKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

type fakeObject struct {
	*bytes.Reader
	length       int64
	contentRange string
}

func (o *fakeObject) Close() error         { return nil }
func (o *fakeObject) ContentLength() int64 { return o.length }
func (o *fakeObject) ContentType() string  { return "video/mp4" }
func (o *fakeObject) ContentRange() string { return o.contentRange }

var _ io.ReadCloser = (*fakeObject)(nil)

// --- Fake transformation engine ---

type fakeEngine struct {
	result *engine.Result
	err    error

	trimCalls    int
	captionCalls int
	renderCalls  int
	lastInput    string
	lastCaptions []domain.Caption
}

func (e *fakeEngine) Trim(ctx context.Context, inputRef string, start, end float64) (*engine.Result, error) {
	e.trimCalls++
	e.lastInput = inputRef
	return e.result, e.err
}

func (e *fakeEngine) OverlayCaptions(ctx context.Context, inputRef string, captions []domain.Caption) (*engine.Result, error) {
	e.captionCalls++
	e.lastInput = inputRef
	e.lastCaptions = captions
	return e.result, e.err
}

func (e *fakeEngine) FinalizeRender(ctx context.Context, inputRef string) (*engine.Result, error) {
	e.renderCalls++
	e.lastInput = inputRef
	return e.result, e.err
}

func (e *fakeEngine) ProbeDuration(ctx context.Context, localPath string) (float64, error) {
	if e.err != nil {
		return 0, e.err
	}
	return 42.5, nil
}
