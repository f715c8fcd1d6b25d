package preview

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/h2non/bimg"
	"github.com/jmoiron/sqlx"

	"clipforge/internal/domain"
	"clipforge/internal/service/s3"
)

const (
	maxImageSize  = 1024            // максимальный размер превью в пикселях
	jpegQuality   = 85              // качество JPEG
	previewPrefix = "previews/"     // префикс для превью в S3
	tmpDir        = "/tmp/previews" // директория для временных файлов

	frameTimeout    = 30 * time.Second // таймаут для ffmpeg
	cleanupInterval = 24 * time.Hour   // период очистки старых превью
)

// Service генерирует постер-кадры версий проекта. Превью кешируется
// в S3 по id версии и учитывается в version_previews для очистки.
type Service struct {
	s3Client s3.Storage
	db       *sqlx.DB
}

func NewService(s3Client s3.Storage, db *sqlx.DB) *Service {
	if err := os.MkdirAll(tmpDir, 0755); err != nil {
		log.Printf("Warning: failed to create directory %s: %v", tmpDir, err)
	}

	return &Service{
		s3Client: s3Client,
		db:       db,
	}
}

// StartCleanupTask запускает периодическую очистку старых превью.
// Отмена контекста останавливает задачу.
func (s *Service) StartCleanupTask(ctx context.Context) {
	go s.runCleanupLoop(ctx, cleanupInterval)
}

func (s *Service) runCleanupLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("Preview cleanup task stopped")
			return
		case <-ticker.C:
			s.cleanupOldPreviews(ctx)
		}
	}
}

// cleanupOldPreviews удаляет превью отсеченных версий и превью
// старше 30 дней из S3 и базы данных
func (s *Service) cleanupOldPreviews(ctx context.Context) {
	log.Printf("Starting preview cleanup task")

	var staleIDs []uuid.UUID

	query := `
        DELETE FROM version_previews vp
        WHERE vp.created_at < NOW() - INTERVAL '30 days'
           OR NOT EXISTS (SELECT 1 FROM versions v WHERE v.id = vp.version_id)
        RETURNING vp.version_id
    `

	if err := s.db.SelectContext(ctx, &staleIDs, query); err != nil {
		log.Printf("Error cleaning up old previews from database: %v", err)
		return
	}

	// Удаляем превью из S3
	for _, id := range staleIDs {
		if err := s.s3Client.DeleteObject(previewKey(id)); err != nil {
			log.Printf("Error deleting preview from S3: %v", err)
		}
	}

	log.Printf("Completed preview cleanup task. Removed %d old previews", len(staleIDs))
}

// GetOrGenerate возвращает постер-кадр версии, генерируя его при
// первом обращении
func (s *Service) GetOrGenerate(ctx context.Context, version *domain.Version) ([]byte, error) {
	log.Printf("[Preview] Запрос превью для версии: %s", version.ID)

	key := previewKey(version.ID)

	// Сначала пробуем кеш в S3
	if obj, err := s.s3Client.GetObject(ctx, key); err == nil {
		defer obj.Close()
		data, err := io.ReadAll(obj)
		if err == nil {
			log.Printf("[Preview] Отдаем кешированное превью для версии %s", version.ID)
			return data, nil
		}
		log.Printf("[Preview] Не удалось прочитать кешированное превью: %v", err)
	}

	frame, err := s.grabFrame(ctx, version.MediaRef)
	if err != nil {
		return nil, fmt.Errorf("failed to grab poster frame: %w", err)
	}

	preview, err := s.optimizeImage(frame)
	if err != nil {
		return nil, fmt.Errorf("failed to optimize poster frame: %w", err)
	}

	if err := s.s3Client.UploadBytes(key, preview); err != nil {
		log.Printf("[Preview] Не удалось сохранить превью в S3: %v", err)
	} else {
		_, err = s.db.ExecContext(ctx, `
            INSERT INTO version_previews (version_id) VALUES ($1)
            ON CONFLICT (version_id) DO UPDATE SET created_at = NOW()`,
			version.ID)
		if err != nil {
			log.Printf("[Preview] Не удалось зарегистрировать превью: %v", err)
		}
	}

	return preview, nil
}

// grabFrame извлекает один кадр из начала ролика
func (s *Service) grabFrame(ctx context.Context, mediaRef string) ([]byte, error) {
	obj, err := s.s3Client.GetObject(ctx, mediaRef)
	if err != nil {
		return nil, fmt.Errorf("failed to get media from S3: %w", err)
	}
	defer obj.Close()

	inputFile, err := os.CreateTemp(tmpDir, "frame-in-*"+filepath.Ext(mediaRef))
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(inputFile.Name())

	if _, err := io.Copy(inputFile, obj); err != nil {
		inputFile.Close()
		return nil, fmt.Errorf("failed to copy media data: %w", err)
	}
	if err := inputFile.Close(); err != nil {
		return nil, err
	}

	framePath := filepath.Join(tmpDir, "frame-out-"+uuid.NewString()+".png")
	defer os.Remove(framePath)

	ctx, cancel := context.WithTimeout(ctx, frameTimeout)
	defer cancel()

	// Формируем команду ffmpeg
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-y",
		"-ss", "1",
		"-i", inputFile.Name(),
		"-vframes", "1",
		"-f", "image2",
		framePath,
	)

	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("ffmpeg frame extraction failed: %v (%s)", err, out)
	}

	return os.ReadFile(framePath)
}

// optimizeImage оптимизирует изображение до нужного размера
func (s *Service) optimizeImage(data []byte) ([]byte, error) {
	// Используем bimg для оптимизации
	image := bimg.NewImage(data)

	// Получаем текущие размеры
	size, err := image.Size()
	if err != nil {
		return nil, fmt.Errorf("failed to get image size: %w", err)
	}

	// Вычисляем новые размеры с сохранением пропорций
	width, height := calculateNewDimensions(size.Width, size.Height, maxImageSize)

	// Создаем превью
	processed, err := image.Process(bimg.Options{
		Width:   width,
		Height:  height,
		Quality: jpegQuality,
		Type:    bimg.JPEG,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to process image: %w", err)
	}

	return processed, nil
}

// calculateNewDimensions вычисляет новые размеры с сохранением пропорций
func calculateNewDimensions(width, height, maxSize int) (newWidth, newHeight int) {
	if width > height {
		newWidth = maxSize
		newHeight = (height * maxSize) / width
	} else {
		newHeight = maxSize
		newWidth = (width * maxSize) / height
	}
	return
}

func previewKey(versionID uuid.UUID) string {
	return previewPrefix + versionID.String() + ".jpg"
}
