package engine

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/xfrr/goffmpeg/transcoder"

	"clipforge/internal/domain"
	"clipforge/internal/service/s3"
)

const mediaPrefix = "media/"

// FFmpegEngine реализует Engine поверх ffmpeg/ffprobe.
// Вход скачивается из S3 во временный файл, результат загружается
// обратно под новым ключом media/<uuid><ext>.
type FFmpegEngine struct {
	s3Client s3.Storage
	workDir  string
}

func NewFFmpegEngine(s3Client s3.Storage, workDir string) (*FFmpegEngine, error) {
	// Проверяем наличие ffmpeg и ffprobe
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		return nil, fmt.Errorf("ffprobe not found: %w", err)
	}

	// Создаем директорию, если её нет
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}

	return &FFmpegEngine{
		s3Client: s3Client,
		workDir:  workDir,
	}, nil
}

func (e *FFmpegEngine) Trim(ctx context.Context, inputRef string, start, end float64) (*Result, error) {
	return e.transform(ctx, inputRef, func(ctx context.Context, inPath, outPath string) error {
		trans := new(transcoder.Transcoder)

		if err := trans.Initialize(inPath, outPath); err != nil {
			return fmt.Errorf("failed to initialize transcoder: %w", err)
		}

		trans.MediaFile().SetSeekTime(formatSeconds(start))
		trans.MediaFile().SetDuration(formatSeconds(end - start))

		done := trans.Run(true)
		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("trim transcoding failed: %w", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})
}

func (e *FFmpegEngine) OverlayCaptions(ctx context.Context, inputRef string, captions []domain.Caption) (*Result, error) {
	return e.transform(ctx, inputRef, func(ctx context.Context, inPath, outPath string) error {
		filters := make([]string, 0, len(captions))
		for _, c := range captions {
			filters = append(filters, fmt.Sprintf(
				"drawtext=text='%s':enable='between(t,%s,%s)':x=(W-tw)/2:y=H-th-10:fontsize=24:fontcolor=white:box=1:boxborderw=5:boxcolor=black",
				escapeDrawtext(c.Text),
				formatSeconds(c.StartTime),
				formatSeconds(c.EndTime),
			))
		}

		cmd := exec.CommandContext(ctx, "ffmpeg",
			"-y",
			"-i", inPath,
			"-vf", strings.Join(filters, ","),
			outPath,
		)

		if out, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("drawtext filter failed: %v (%s)", err, tail(out))
		}
		return nil
	})
}

func (e *FFmpegEngine) FinalizeRender(ctx context.Context, inputRef string) (*Result, error) {
	return e.transform(ctx, inputRef, func(ctx context.Context, inPath, outPath string) error {
		trans := new(transcoder.Transcoder)

		if err := trans.Initialize(inPath, outPath); err != nil {
			return fmt.Errorf("failed to initialize transcoder: %w", err)
		}

		trans.MediaFile().SetVideoCodec("libx264")
		trans.MediaFile().SetAudioCodec("aac")

		done := trans.Run(true)
		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("render transcoding failed: %w", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})
}

// ProbeDuration возвращает длительность ролика в секундах
func (e *FFmpegEngine) ProbeDuration(ctx context.Context, localPath string) (float64, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		localPath,
	)

	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse ffprobe output %q: %w", strings.TrimSpace(string(out)), err)
	}

	return duration, nil
}

// transform скачивает входной артефакт, применяет операцию и загружает
// результат под свежим ключом. Любая ошибка заворачивается в
// ErrTransformationFailed: для цепочки версий причина сбоя не важна.
func (e *FFmpegEngine) transform(
	ctx context.Context,
	inputRef string,
	apply func(ctx context.Context, inPath, outPath string) error,
) (*Result, error) {
	inPath, err := e.fetchInput(ctx, inputRef)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransformationFailed, err)
	}
	defer os.Remove(inPath)

	ext := filepath.Ext(inputRef)
	if ext == "" {
		ext = ".mp4"
	}
	outPath := filepath.Join(e.workDir, "out-"+uuid.NewString()+ext)
	defer os.Remove(outPath)

	if err := apply(ctx, inPath, outPath); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransformationFailed, err)
	}

	duration, err := e.ProbeDuration(ctx, outPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransformationFailed, err)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read output: %v", domain.ErrTransformationFailed, err)
	}

	outputRef := mediaPrefix + uuid.NewString() + ext
	if err := e.s3Client.UploadBytes(outputRef, data); err != nil {
		return nil, fmt.Errorf("%w: failed to store output: %v", domain.ErrTransformationFailed, err)
	}

	log.Printf("[Engine] Produced artifact %s (%d bytes, %.2fs) from %s",
		outputRef, len(data), duration, inputRef)

	return &Result{
		MediaRef:        outputRef,
		SizeBytes:       int64(len(data)),
		DurationSeconds: duration,
	}, nil
}

func (e *FFmpegEngine) fetchInput(ctx context.Context, inputRef string) (string, error) {
	obj, err := e.s3Client.GetObject(ctx, inputRef)
	if err != nil {
		return "", fmt.Errorf("failed to get input artifact: %w", err)
	}
	defer obj.Close()

	inputFile, err := os.CreateTemp(e.workDir, "in-*"+filepath.Ext(inputRef))
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}

	// Копирование с отслеживанием отмены контекста
	done := make(chan error, 1)
	go func() {
		_, err := io.Copy(inputFile, obj)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			inputFile.Close()
			os.Remove(inputFile.Name())
			return "", fmt.Errorf("failed to copy input data: %w", err)
		}
	case <-ctx.Done():
		inputFile.Close()
		os.Remove(inputFile.Name())
		return "", ctx.Err()
	}

	if err := inputFile.Close(); err != nil {
		os.Remove(inputFile.Name())
		return "", err
	}

	return inputFile.Name(), nil
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// escapeDrawtext экранирует спецсимволы фильтра drawtext
func escapeDrawtext(text string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		`'`, `\'`,
		`:`, `\:`,
		`%`, `\%`,
	)
	return r.Replace(text)
}

func tail(out []byte) string {
	const maxTail = 512
	s := strings.TrimSpace(string(out))
	if len(s) > maxTail {
		s = s[len(s)-maxTail:]
	}
	return s
}
