package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"clipforge/internal/domain"
)

// VersionStore определяет хранилище версий для сервисов.
// Все мутации цепочки выполняются внутри InProjectTx: транзакция
// блокирует строки проекта, поэтому две конкурентные правки одного
// проекта не могут одновременно наблюдать одну и ту же текущую версию.
type VersionStore interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Version, error)
	GetCurrent(ctx context.Context, projectID uuid.UUID) (*domain.Version, error)
	GetChain(ctx context.Context, projectID uuid.UUID) ([]domain.Version, error)
	InProjectTx(ctx context.Context, projectID uuid.UUID, fn func(tx VersionTx) error) error
}

// VersionTx описывает операции, доступные внутри транзакции проекта
type VersionTx interface {
	Get(id uuid.UUID) (*domain.Version, error)
	Current(projectID uuid.UUID) (*domain.Version, error)
	Create(v *domain.Version) error
	UpdateFields(id uuid.UUID, fields map[string]interface{}) error
	Delete(id uuid.UUID) error
	// FutureOf возвращает версии проекта с номером больше указанного.
	// Индексный запрос вместо рекурсивного обхода по next_version_id:
	// глубина истории не ограничена.
	FutureOf(projectID uuid.UUID, sequenceNumber int) ([]domain.Version, error)
	AllExcept(projectID uuid.UUID, keepID uuid.UUID) ([]domain.Version, error)
}

// Колонки, которые разрешено менять после создания версии.
// Медиа-содержимое версии неизменяемо, мутируют только указатели
// цепочки, флаг текущей версии и ссылка на финальный артефакт.
var updatableColumns = map[string]bool{
	"is_current":          true,
	"previous_version_id": true,
	"next_version_id":     true,
	"final_media_ref":     true,
	"operation_kind":      true,
}

type VersionRepository struct {
	db *sqlx.DB
}

func NewVersionRepository(db *sqlx.DB) *VersionRepository {
	return &VersionRepository{db: db}
}

func (r *VersionRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Version, error) {
	var version domain.Version
	query := `SELECT * FROM versions WHERE id = $1`

	err := r.db.GetContext(ctx, &version, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("version %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get version: %w", err)
	}

	return &version, nil
}

func (r *VersionRepository) GetCurrent(ctx context.Context, projectID uuid.UUID) (*domain.Version, error) {
	var version domain.Version
	query := `SELECT * FROM versions WHERE project_id = $1 AND is_current = TRUE`

	err := r.db.GetContext(ctx, &version, query, projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %s: %w", projectID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get current version: %w", err)
	}

	return &version, nil
}

func (r *VersionRepository) GetChain(ctx context.Context, projectID uuid.UUID) ([]domain.Version, error) {
	var versions []domain.Version
	query := `SELECT * FROM versions WHERE project_id = $1 ORDER BY sequence_number`

	if err := r.db.SelectContext(ctx, &versions, query, projectID); err != nil {
		return nil, fmt.Errorf("failed to get version chain: %w", err)
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("project %s: %w", projectID, domain.ErrNotFound)
	}

	return versions, nil
}

// InProjectTx выполняет fn в транзакции, предварительно заблокировав
// все строки проекта (SELECT ... FOR UPDATE). Блокировка на уровне
// проекта: между проектами транзакции не конкурируют.
func (r *VersionRepository) InProjectTx(ctx context.Context, projectID uuid.UUID, fn func(tx VersionTx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `SELECT id FROM versions WHERE project_id = $1 FOR UPDATE`, projectID)
	if err != nil {
		return fmt.Errorf("failed to lock project rows: %w", err)
	}

	if err := fn(&projectTx{ctx: ctx, tx: tx}); err != nil {
		return err
	}

	return tx.Commit()
}

type projectTx struct {
	ctx context.Context
	tx  *sqlx.Tx
}

func (t *projectTx) Get(id uuid.UUID) (*domain.Version, error) {
	var version domain.Version
	err := t.tx.GetContext(t.ctx, &version, `SELECT * FROM versions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("version %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get version: %w", err)
	}
	return &version, nil
}

func (t *projectTx) Current(projectID uuid.UUID) (*domain.Version, error) {
	var version domain.Version
	err := t.tx.GetContext(t.ctx, &version,
		`SELECT * FROM versions WHERE project_id = $1 AND is_current = TRUE`, projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %s: %w", projectID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get current version: %w", err)
	}
	return &version, nil
}

func (t *projectTx) Create(v *domain.Version) error {
	query := `
        INSERT INTO versions (
            id, project_id, sequence_number, media_ref, size_bytes,
            duration_seconds, operation_kind, owner_id, is_public,
            previous_version_id, next_version_id, is_current, final_media_ref
        )
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
        RETURNING created_at, updated_at`

	err := t.tx.QueryRowContext(
		t.ctx,
		query,
		v.ID,
		v.ProjectID,
		v.SequenceNumber,
		v.MediaRef,
		v.SizeBytes,
		v.DurationSeconds,
		v.OperationKind,
		v.OwnerID,
		v.IsPublic,
		v.PreviousVersionID,
		v.NextVersionID,
		v.IsCurrent,
		v.FinalMediaRef,
	).Scan(&v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create version: %w", err)
	}

	return nil
}

func (t *projectTx) UpdateFields(id uuid.UUID, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return fmt.Errorf("no fields to update")
	}

	// Стабильный порядок колонок, чтобы запрос был детерминированным
	columns := make([]string, 0, len(fields))
	for column := range fields {
		if !updatableColumns[column] {
			return fmt.Errorf("column %q is not updatable", column)
		}
		columns = append(columns, column)
	}
	sort.Strings(columns)

	set := make([]string, 0, len(columns)+1)
	args := make([]interface{}, 0, len(columns)+1)
	for i, column := range columns {
		set = append(set, fmt.Sprintf("%s = $%d", column, i+1))
		args = append(args, fields[column])
	}
	set = append(set, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id)

	query := fmt.Sprintf(`UPDATE versions SET %s WHERE id = $%d`, strings.Join(set, ", "), len(args))

	res, err := t.tx.ExecContext(t.ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update version: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("version %s: %w", id, domain.ErrNotFound)
	}

	return nil
}

func (t *projectTx) Delete(id uuid.UUID) error {
	if _, err := t.tx.ExecContext(t.ctx, `DELETE FROM versions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete version: %w", err)
	}
	return nil
}

func (t *projectTx) FutureOf(projectID uuid.UUID, sequenceNumber int) ([]domain.Version, error) {
	var versions []domain.Version
	query := `
        SELECT * FROM versions
        WHERE project_id = $1 AND sequence_number > $2
        ORDER BY sequence_number`

	if err := t.tx.SelectContext(t.ctx, &versions, query, projectID, sequenceNumber); err != nil {
		return nil, fmt.Errorf("failed to get future versions: %w", err)
	}

	return versions, nil
}

func (t *projectTx) AllExcept(projectID uuid.UUID, keepID uuid.UUID) ([]domain.Version, error) {
	var versions []domain.Version
	query := `
        SELECT * FROM versions
        WHERE project_id = $1 AND id != $2
        ORDER BY sequence_number`

	if err := t.tx.SelectContext(t.ctx, &versions, query, projectID, keepID); err != nil {
		return nil, fmt.Errorf("failed to get prunable versions: %w", err)
	}

	return versions, nil
}
