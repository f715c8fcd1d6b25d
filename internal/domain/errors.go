package domain

import "errors"

// Ошибки уровня домена. Хендлеры сопоставляют их с HTTP статусами
// через errors.Is, сервисы оборачивают через fmt.Errorf с %w.
var (
	ErrNotFound             = errors.New("not found")
	ErrForbidden            = errors.New("access denied")
	ErrNoHistory            = errors.New("no previous version to undo to")
	ErrNoFuture             = errors.New("no next version to redo to")
	ErrInvalidOperation     = errors.New("invalid operation parameters")
	ErrTransformationFailed = errors.New("transformation failed")
	ErrNotRendered          = errors.New("project is not rendered yet")
	ErrConflict             = errors.New("concurrent modification conflict")
)
