package engine

import (
	"context"

	"clipforge/internal/domain"
)

// Result описывает артефакт, созданный движком трансформаций
type Result struct {
	MediaRef        string
	SizeBytes       int64
	DurationSeconds float64
}

// Engine абстрагирует движок трансформаций. Каждая операция читает
// входной артефакт по ключу, создает новый артефакт по свежему ключу
// и возвращает его метаданные. Входной артефакт не изменяется.
// Политика таймаутов живет здесь, а не в логике цепочки версий.
type Engine interface {
	Trim(ctx context.Context, inputRef string, start, end float64) (*Result, error)
	OverlayCaptions(ctx context.Context, inputRef string, captions []domain.Caption) (*Result, error)
	FinalizeRender(ctx context.Context, inputRef string) (*Result, error)
	ProbeDuration(ctx context.Context, localPath string) (float64, error)
}
