package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"clipforge/internal/domain"
	"clipforge/internal/repository"
	"clipforge/internal/service/engine"
	"clipforge/internal/service/s3"
)

const (
	maxUploadSize = 500 * 1024 * 1024 // 500MB максимальный размер загружаемого видео
)

// EditService применяет монтажные операции к текущей версии проекта.
// Каждая операция следует одному шаблону: найти текущую версию,
// проверить права, проверить параметры, выполнить трансформацию и
// только после её успеха добавить версию в цепочку. Версия никогда
// не создается до того, как существует её артефакт.
type EditService struct {
	store    repository.VersionStore
	chain    *ChainService
	engine   engine.Engine
	s3Client s3.Storage
	workDir  string
}

func NewEditService(
	store repository.VersionStore,
	chain *ChainService,
	eng engine.Engine,
	s3Client s3.Storage,
	workDir string,
) (*EditService, error) {
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}

	return &EditService{
		store:    store,
		chain:    chain,
		engine:   eng,
		s3Client: s3Client,
		workDir:  workDir,
	}, nil
}

// Upload создает новый проект из загруженного видео
func (s *EditService) Upload(
	ctx context.Context,
	ownerID string,
	isPublic bool,
	filename string,
	data io.Reader,
	size int64,
) (*domain.Version, error) {
	if !isPublic && ownerID == "" {
		return nil, fmt.Errorf("%w: authentication is required to make the video private", domain.ErrForbidden)
	}
	if size <= 0 || size > maxUploadSize {
		return nil, fmt.Errorf("%w: file size must be between 1 and %d bytes", domain.ErrInvalidOperation, maxUploadSize)
	}

	// Скачиваем во временный файл для ffprobe
	tmpFile, err := os.CreateTemp(s.workDir, "upload-*"+filepath.Ext(filename))
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmpFile.Name())

	buf := bytes.NewBuffer(make([]byte, 0, size))
	if _, err := io.Copy(io.MultiWriter(tmpFile, buf), io.LimitReader(data, maxUploadSize+1)); err != nil {
		tmpFile.Close()
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return nil, err
	}
	if int64(buf.Len()) > maxUploadSize {
		return nil, fmt.Errorf("%w: file exceeds %d bytes", domain.ErrInvalidOperation, maxUploadSize)
	}

	duration, err := s.engine.ProbeDuration(ctx, tmpFile.Name())
	if err != nil {
		return nil, fmt.Errorf("%w: unreadable media: %v", domain.ErrInvalidOperation, err)
	}

	// Имя объекта по id версии, чтобы не тянуть пользовательские имена
	id := uuid.New()
	ext := filepath.Ext(filename)
	if ext == "" {
		ext = ".mp4"
	}
	mediaRef := fmt.Sprintf("media/%s%s", id, ext)

	if err := s.s3Client.UploadBytes(mediaRef, buf.Bytes()); err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	version := &domain.Version{
		ID:              id,
		MediaRef:        mediaRef,
		SizeBytes:       int64(buf.Len()),
		DurationSeconds: duration,
		IsPublic:        isPublic,
	}
	if ownerID != "" {
		version.OwnerID = &ownerID
	}

	if err := s.chain.CreateRoot(ctx, version); err != nil {
		// Артефакт без записи бесполезен
		if delErr := s.s3Client.DeleteObject(mediaRef); delErr != nil {
			log.Printf("[Edit] Failed to release orphaned upload %s: %v", mediaRef, delErr)
		}
		return nil, err
	}

	log.Printf("[Edit] Created project %s from upload %q (%.2fs, %d bytes)",
		version.ProjectID, filename, duration, version.SizeBytes)

	return version, nil
}

// Trim обрезает текущую версию до интервала [start, end)
func (s *EditService) Trim(ctx context.Context, projectID uuid.UUID, callerID string, start, end float64) (*domain.Version, error) {
	current, err := s.resolveForEdit(ctx, projectID, callerID)
	if err != nil {
		return nil, err
	}

	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: trim interval must satisfy 0 <= start < end, got [%v, %v)",
			domain.ErrInvalidOperation, start, end)
	}

	result, err := s.engine.Trim(ctx, current.MediaRef, start, end)
	if err != nil {
		return nil, err
	}

	return s.appendResult(ctx, current, result, domain.OperationTrimmed)
}

// AddCaptions накладывает субтитры на текущую версию.
// Интервалы не сверяются с длительностью ролика: субтитр за его
// пределами просто никогда не показывается.
func (s *EditService) AddCaptions(ctx context.Context, projectID uuid.UUID, callerID string, captions []domain.Caption) (*domain.Version, error) {
	current, err := s.resolveForEdit(ctx, projectID, callerID)
	if err != nil {
		return nil, err
	}

	if len(captions) == 0 {
		return nil, fmt.Errorf("%w: at least one caption is required", domain.ErrInvalidOperation)
	}
	for i, c := range captions {
		if c.Text == "" {
			return nil, fmt.Errorf("%w: caption %d has empty text", domain.ErrInvalidOperation, i)
		}
	}

	result, err := s.engine.OverlayCaptions(ctx, current.MediaRef, captions)
	if err != nil {
		return nil, err
	}

	return s.appendResult(ctx, current, result, domain.OperationSubtitled)
}

// Undo откатывает проект на предыдущую версию
func (s *EditService) Undo(ctx context.Context, projectID uuid.UUID, callerID string) (*domain.Version, error) {
	current, err := s.resolveForEdit(ctx, projectID, callerID)
	if err != nil {
		return nil, err
	}

	return s.chain.Undo(ctx, current)
}

// Redo возвращает проект на следующую версию
func (s *EditService) Redo(ctx context.Context, projectID uuid.UUID, callerID string) (*domain.Version, error) {
	current, err := s.resolveForEdit(ctx, projectID, callerID)
	if err != nil {
		return nil, err
	}

	return s.chain.Redo(ctx, current)
}

// GetCurrent возвращает текущую версию проекта
func (s *EditService) GetCurrent(ctx context.Context, projectID uuid.UUID, callerID string) (*domain.Version, error) {
	current, err := s.store.GetCurrent(ctx, projectID)
	if err != nil {
		return nil, err
	}

	if !CanView(callerID, current) {
		return nil, fmt.Errorf("project %s: %w", projectID, domain.ErrForbidden)
	}

	return current, nil
}

// ListVersions возвращает всю цепочку версий проекта
func (s *EditService) ListVersions(ctx context.Context, projectID uuid.UUID, callerID string) ([]domain.Version, error) {
	versions, err := s.store.GetChain(ctx, projectID)
	if err != nil {
		return nil, err
	}

	// Владелец и видимость одинаковы у всех версий проекта
	if !CanView(callerID, &versions[0]) {
		return nil, fmt.Errorf("project %s: %w", projectID, domain.ErrForbidden)
	}

	return versions, nil
}

// DownloadFinal отдает финальный артефакт проекта целиком
func (s *EditService) DownloadFinal(ctx context.Context, projectID uuid.UUID, callerID string) (*domain.Version, s3.S3Object, error) {
	current, err := s.resolveFinal(ctx, projectID, callerID)
	if err != nil {
		return nil, nil, err
	}

	obj, err := s.s3Client.GetObject(ctx, *current.FinalMediaRef)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get final artifact: %w", err)
	}

	return current, obj, nil
}

// DownloadFinalRange отдает диапазон байт финального артефакта.
// Отрицательный end читает от start до конца артефакта.
func (s *EditService) DownloadFinalRange(ctx context.Context, projectID uuid.UUID, callerID string, start, end int64) (*domain.Version, s3.S3Object, error) {
	current, err := s.resolveFinal(ctx, projectID, callerID)
	if err != nil {
		return nil, nil, err
	}

	if start < 0 || (end >= 0 && end < start) {
		return nil, nil, fmt.Errorf("%w: byte range must satisfy 0 <= start <= end, got [%d, %d]",
			domain.ErrInvalidOperation, start, end)
	}

	obj, err := s.s3Client.GetObjectRange(ctx, *current.FinalMediaRef, start, end)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get final artifact range: %w", err)
	}

	return current, obj, nil
}

func (s *EditService) resolveFinal(ctx context.Context, projectID uuid.UUID, callerID string) (*domain.Version, error) {
	current, err := s.store.GetCurrent(ctx, projectID)
	if err != nil {
		return nil, err
	}

	if !CanView(callerID, current) {
		return nil, fmt.Errorf("project %s: %w", projectID, domain.ErrForbidden)
	}

	if current.FinalMediaRef == nil {
		return nil, fmt.Errorf("project %s: %w", projectID, domain.ErrNotRendered)
	}

	return current, nil
}

func (s *EditService) resolveForEdit(ctx context.Context, projectID uuid.UUID, callerID string) (*domain.Version, error) {
	current, err := s.store.GetCurrent(ctx, projectID)
	if err != nil {
		return nil, err
	}

	if !IsAuthorized(callerID, current) {
		return nil, fmt.Errorf("project %s: %w", projectID, domain.ErrForbidden)
	}

	return current, nil
}

func (s *EditService) appendResult(
	ctx context.Context,
	current *domain.Version,
	result *engine.Result,
	kind domain.OperationKind,
) (*domain.Version, error) {
	version, err := s.chain.Append(ctx, current, result.MediaRef, result.SizeBytes, result.DurationSeconds, kind)
	if err != nil {
		// Цепочка не изменилась, артефакт остался без записи
		if delErr := s.s3Client.DeleteObject(result.MediaRef); delErr != nil {
			log.Printf("[Edit] Failed to release orphaned artifact %s: %v", result.MediaRef, delErr)
		}
		return nil, err
	}

	return version, nil
}
