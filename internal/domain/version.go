package domain

import (
	"github.com/google/uuid"
	"time"
)

// OperationKind описывает операцию, породившую версию
type OperationKind string

const (
	OperationUploaded  OperationKind = "uploaded"
	OperationTrimmed   OperationKind = "trimmed"
	OperationSubtitled OperationKind = "subtitled"
	OperationRendered  OperationKind = "rendered"
)

// Version представляет одну неизменяемую версию медиафайла проекта.
// Версии одного проекта образуют двусвязный список (цепочку undo/redo),
// ровно одна версия проекта помечена is_current.
type Version struct {
	ID                uuid.UUID     `json:"id" db:"id"`
	ProjectID         uuid.UUID     `json:"project_id" db:"project_id"`
	SequenceNumber    int           `json:"sequence_number" db:"sequence_number"`
	MediaRef          string        `json:"media_ref" db:"media_ref"`
	SizeBytes         int64         `json:"size_bytes" db:"size_bytes"`
	DurationSeconds   float64       `json:"duration_seconds" db:"duration_seconds"`
	OperationKind     OperationKind `json:"operation_kind" db:"operation_kind"`
	OwnerID           *string       `json:"owner_id,omitempty" db:"owner_id"`
	IsPublic          bool          `json:"is_public" db:"is_public"`
	PreviousVersionID *uuid.UUID    `json:"previous_version_id,omitempty" db:"previous_version_id"`
	NextVersionID     *uuid.UUID    `json:"next_version_id,omitempty" db:"next_version_id"`
	IsCurrent         bool          `json:"is_current" db:"is_current"`
	FinalMediaRef     *string       `json:"final_media_ref,omitempty" db:"final_media_ref"`
	CreatedAt         time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at" db:"updated_at"`
}

// IsFinalized сообщает, завершен ли проект рендером
func (v *Version) IsFinalized() bool {
	return v.FinalMediaRef != nil
}

// Caption описывает один субтитр с интервалом показа в секундах.
// Интервалы не проверяются на попадание в длительность ролика:
// субтитр за пределами ролика просто не отображается.
type Caption struct {
	Text      string  `json:"text"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
}
