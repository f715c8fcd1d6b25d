package service_test

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clipforge/internal/domain"
	"clipforge/internal/service"
	"clipforge/internal/service/engine"
)

type editFixture struct {
	svc     *service.EditService
	chain   *service.ChainService
	store   *memStore
	storage *fakeStorage
	engine  *fakeEngine
}

func newEditFixture(t *testing.T) *editFixture {
	t.Helper()

	store := newMemStore()
	storage := newFakeStorage()
	eng := &fakeEngine{result: &engine.Result{
		MediaRef:        "media/transformed.mp4",
		SizeBytes:       700,
		DurationSeconds: 10,
	}}
	chain := service.NewChainService(store, storage)

	svc, err := service.NewEditService(store, chain, eng, storage, t.TempDir())
	require.NoError(t, err)

	return &editFixture{svc: svc, chain: chain, store: store, storage: storage, engine: eng}
}

func (f *editFixture) upload(t *testing.T, ownerID string, isPublic bool) *domain.Version {
	t.Helper()

	data := []byte("fake video bytes")
	version, err := f.svc.Upload(context.Background(), ownerID, isPublic, "clip.mp4", bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	return version
}

func TestUpload(t *testing.T) {
	f := newEditFixture(t)

	version := f.upload(t, "user-1", true)

	assert.Equal(t, version.ID, version.ProjectID)
	assert.Equal(t, domain.OperationUploaded, version.OperationKind)
	assert.True(t, version.IsCurrent)
	require.NotNil(t, version.OwnerID)
	assert.Equal(t, "user-1", *version.OwnerID)
	assert.Equal(t, 42.5, version.DurationSeconds)
	assert.Equal(t, int64(16), version.SizeBytes)

	// Артефакт существует до того, как создана запись версии
	obj, err := f.storage.GetObject(context.Background(), version.MediaRef)
	require.NoError(t, err)
	defer obj.Close()
	body, err := io.ReadAll(obj)
	require.NoError(t, err)
	assert.Equal(t, "fake video bytes", string(body))
}

func TestUploadAnonymousPublic(t *testing.T) {
	f := newEditFixture(t)

	version := f.upload(t, "", true)

	assert.Nil(t, version.OwnerID)
	assert.True(t, version.IsPublic)
}

func TestUploadAnonymousPrivateRejected(t *testing.T) {
	f := newEditFixture(t)

	data := []byte("x")
	_, err := f.svc.Upload(context.Background(), "", false, "clip.mp4", bytes.NewReader(data), 1)
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestUploadUnreadableMedia(t *testing.T) {
	f := newEditFixture(t)
	f.engine.err = domain.ErrTransformationFailed

	data := []byte("not a video")
	_, err := f.svc.Upload(context.Background(), "", true, "clip.mp4", bytes.NewReader(data), int64(len(data)))
	assert.ErrorIs(t, err, domain.ErrInvalidOperation)
	assert.Equal(t, 0, f.store.size())
}

func TestTrim(t *testing.T) {
	f := newEditFixture(t)
	root := f.upload(t, "user-1", true)

	v2, err := f.svc.Trim(context.Background(), root.ProjectID, "user-1", 1.0, 5.0)
	require.NoError(t, err)

	assert.Equal(t, domain.OperationTrimmed, v2.OperationKind)
	assert.Equal(t, 2, v2.SequenceNumber)
	assert.Equal(t, "media/transformed.mp4", v2.MediaRef)
	assert.Equal(t, 1, f.engine.trimCalls)
	assert.Equal(t, root.MediaRef, f.engine.lastInput)
}

func TestTrimInvalidInterval(t *testing.T) {
	f := newEditFixture(t)
	root := f.upload(t, "", true)
	ctx := context.Background()

	for _, interval := range [][2]float64{{-1, 5}, {5, 5}, {5, 3}} {
		_, err := f.svc.Trim(ctx, root.ProjectID, "", interval[0], interval[1])
		assert.ErrorIs(t, err, domain.ErrInvalidOperation, "interval [%v, %v)", interval[0], interval[1])
	}
	assert.Equal(t, 0, f.engine.trimCalls)
}

func TestTrimForbidden(t *testing.T) {
	f := newEditFixture(t)
	root := f.upload(t, "user-1", true)

	_, err := f.svc.Trim(context.Background(), root.ProjectID, "user-2", 0, 5)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	assert.Equal(t, 0, f.engine.trimCalls)
}

func TestTrimPublicOwnership(t *testing.T) {
	f := newEditFixture(t)
	root := f.upload(t, "", true)

	// Версия без владельца принадлежит всем, включая анонимов
	_, err := f.svc.Trim(context.Background(), root.ProjectID, "", 0, 5)
	require.NoError(t, err)
	_, err = f.svc.Trim(context.Background(), root.ProjectID, "someone-else", 0, 3)
	require.NoError(t, err)
}

func TestTrimEngineFailureLeavesChainUntouched(t *testing.T) {
	f := newEditFixture(t)
	root := f.upload(t, "", true)
	f.engine.err = domain.ErrTransformationFailed
	f.engine.result = nil

	_, err := f.svc.Trim(context.Background(), root.ProjectID, "", 0, 5)
	assert.ErrorIs(t, err, domain.ErrTransformationFailed)

	current, err := f.store.GetCurrent(context.Background(), root.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, root.ID, current.ID)
	assert.Equal(t, 1, f.store.size())
}

func TestTrimUnknownProject(t *testing.T) {
	f := newEditFixture(t)

	_, err := f.svc.Trim(context.Background(), uuid.New(), "", 0, 5)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAddCaptions(t *testing.T) {
	f := newEditFixture(t)
	root := f.upload(t, "", true)

	captions := []domain.Caption{
		{Text: "hello", StartTime: 0, EndTime: 2},
		{Text: "world", StartTime: 2, EndTime: 4},
	}
	v2, err := f.svc.AddCaptions(context.Background(), root.ProjectID, "", captions)
	require.NoError(t, err)

	assert.Equal(t, domain.OperationSubtitled, v2.OperationKind)
	assert.Equal(t, 1, f.engine.captionCalls)
	assert.Equal(t, captions, f.engine.lastCaptions)
}

func TestAddCaptionsBeyondDuration(t *testing.T) {
	f := newEditFixture(t)
	root := f.upload(t, "", true)

	// Интервал за пределами ролика допустим: субтитр просто не показывается
	captions := []domain.Caption{{Text: "late", StartTime: 9000, EndTime: 9010}}
	_, err := f.svc.AddCaptions(context.Background(), root.ProjectID, "", captions)
	require.NoError(t, err)
}

func TestAddCaptionsValidation(t *testing.T) {
	f := newEditFixture(t)
	root := f.upload(t, "", true)
	ctx := context.Background()

	_, err := f.svc.AddCaptions(ctx, root.ProjectID, "", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidOperation)

	_, err = f.svc.AddCaptions(ctx, root.ProjectID, "", []domain.Caption{{Text: "", StartTime: 0, EndTime: 1}})
	assert.ErrorIs(t, err, domain.ErrInvalidOperation)

	assert.Equal(t, 0, f.engine.captionCalls)
}

func TestUndoRedoThroughService(t *testing.T) {
	f := newEditFixture(t)
	root := f.upload(t, "user-1", true)
	ctx := context.Background()

	v2, err := f.svc.Trim(ctx, root.ProjectID, "user-1", 0, 5)
	require.NoError(t, err)

	undone, err := f.svc.Undo(ctx, root.ProjectID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, root.ID, undone.ID)

	_, err = f.svc.Undo(ctx, root.ProjectID, "user-1")
	assert.ErrorIs(t, err, domain.ErrNoHistory)

	redone, err := f.svc.Redo(ctx, root.ProjectID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, v2.ID, redone.ID)

	_, err = f.svc.Redo(ctx, root.ProjectID, "user-1")
	assert.ErrorIs(t, err, domain.ErrNoFuture)
}

func TestUndoForbidden(t *testing.T) {
	f := newEditFixture(t)
	root := f.upload(t, "user-1", true)
	_, err := f.svc.Trim(context.Background(), root.ProjectID, "user-1", 0, 5)
	require.NoError(t, err)

	_, err = f.svc.Undo(context.Background(), root.ProjectID, "user-2")
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestGetCurrentVisibility(t *testing.T) {
	f := newEditFixture(t)
	root := f.upload(t, "user-1", false)
	ctx := context.Background()

	_, err := f.svc.GetCurrent(ctx, root.ProjectID, "user-1")
	require.NoError(t, err)

	_, err = f.svc.GetCurrent(ctx, root.ProjectID, "user-2")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.svc.GetCurrent(ctx, root.ProjectID, "")
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestGetCurrentPublicVisibleToAll(t *testing.T) {
	f := newEditFixture(t)
	root := f.upload(t, "user-1", true)

	got, err := f.svc.GetCurrent(context.Background(), root.ProjectID, "user-2")
	require.NoError(t, err)
	assert.Equal(t, root.ID, got.ID)
}

func TestListVersions(t *testing.T) {
	f := newEditFixture(t)
	root := f.upload(t, "user-1", true)
	ctx := context.Background()

	v2, err := f.svc.Trim(ctx, root.ProjectID, "user-1", 0, 5)
	require.NoError(t, err)

	versions, err := f.svc.ListVersions(ctx, root.ProjectID, "")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, root.ID, versions[0].ID)
	assert.Equal(t, v2.ID, versions[1].ID)
}

func TestDownloadFinalNotRendered(t *testing.T) {
	f := newEditFixture(t)
	root := f.upload(t, "", true)

	_, _, err := f.svc.DownloadFinal(context.Background(), root.ProjectID, "")
	assert.ErrorIs(t, err, domain.ErrNotRendered)
}

func TestDownloadFinal(t *testing.T) {
	f := newEditFixture(t)
	root := f.upload(t, "", true)
	ctx := context.Background()

	require.NoError(t, f.storage.UploadBytes("media/final.mp4", []byte("final video")))
	_, err := f.chain.Finalize(ctx, root, "media/final.mp4")
	require.NoError(t, err)

	version, obj, err := f.svc.DownloadFinal(ctx, root.ProjectID, "")
	require.NoError(t, err)
	defer obj.Close()

	require.NotNil(t, version.FinalMediaRef)
	assert.Equal(t, "media/final.mp4", *version.FinalMediaRef)

	body, err := io.ReadAll(obj)
	require.NoError(t, err)
	assert.Equal(t, "final video", string(body))
}

func TestDownloadFinalRange(t *testing.T) {
	f := newEditFixture(t)
	root := f.upload(t, "", true)
	ctx := context.Background()

	require.NoError(t, f.storage.UploadBytes("media/final.mp4", []byte("final video")))
	_, err := f.chain.Finalize(ctx, root, "media/final.mp4")
	require.NoError(t, err)

	// Явный диапазон
	_, obj, err := f.svc.DownloadFinalRange(ctx, root.ProjectID, "", 0, 4)
	require.NoError(t, err)
	body, err := io.ReadAll(obj)
	require.NoError(t, err)
	obj.Close()
	assert.Equal(t, "final", string(body))
	assert.Equal(t, int64(5), obj.ContentLength())
	assert.Equal(t, "bytes 0-4/11", obj.ContentRange())

	// Открытый диапазон до конца артефакта
	_, obj, err = f.svc.DownloadFinalRange(ctx, root.ProjectID, "", 6, -1)
	require.NoError(t, err)
	body, err = io.ReadAll(obj)
	require.NoError(t, err)
	obj.Close()
	assert.Equal(t, "video", string(body))
	assert.Equal(t, "bytes 6-10/11", obj.ContentRange())
}

func TestDownloadFinalRangeValidation(t *testing.T) {
	f := newEditFixture(t)
	root := f.upload(t, "", true)
	ctx := context.Background()

	require.NoError(t, f.storage.UploadBytes("media/final.mp4", []byte("final video")))
	_, err := f.chain.Finalize(ctx, root, "media/final.mp4")
	require.NoError(t, err)

	_, _, err = f.svc.DownloadFinalRange(ctx, root.ProjectID, "", -1, 4)
	assert.ErrorIs(t, err, domain.ErrInvalidOperation)

	_, _, err = f.svc.DownloadFinalRange(ctx, root.ProjectID, "", 5, 2)
	assert.ErrorIs(t, err, domain.ErrInvalidOperation)
}

func TestDownloadFinalRangeNotRendered(t *testing.T) {
	f := newEditFixture(t)
	root := f.upload(t, "", true)

	_, _, err := f.svc.DownloadFinalRange(context.Background(), root.ProjectID, "", 0, 100)
	assert.ErrorIs(t, err, domain.ErrNotRendered)
}

func TestUploadSizeLimit(t *testing.T) {
	f := newEditFixture(t)

	_, err := f.svc.Upload(context.Background(), "", true, "clip.mp4", strings.NewReader(""), 0)
	assert.ErrorIs(t, err, domain.ErrInvalidOperation)

	_, err = f.svc.Upload(context.Background(), "", true, "clip.mp4", strings.NewReader(""), 600*1024*1024)
	assert.ErrorIs(t, err, domain.ErrInvalidOperation)
}
