package service

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"clipforge/internal/domain"
	"clipforge/internal/repository"
	"clipforge/internal/service/s3"
)

// ChainService управляет цепочкой версий проекта: добавление версии
// с отсечением будущего, undo/redo и финализация. Каждая мутация
// выполняется одной транзакцией проекта: читатель никогда не видит
// ноль или две текущие версии. Вызывающий передает ту версию, которую
// он считает текущей; если за это время она сменилась, операция
// завершается ErrConflict и вызывающий повторяет её целиком.
type ChainService struct {
	store    repository.VersionStore
	s3Client s3.Storage
}

func NewChainService(store repository.VersionStore, s3Client s3.Storage) *ChainService {
	return &ChainService{
		store:    store,
		s3Client: s3Client,
	}
}

// CreateRoot создает корневую версию нового проекта.
// Идентификатор проекта равен идентификатору корневой версии.
func (s *ChainService) CreateRoot(ctx context.Context, version *domain.Version) error {
	if version.ID == uuid.Nil {
		version.ID = uuid.New()
	}
	version.ProjectID = version.ID
	version.SequenceNumber = 1
	version.OperationKind = domain.OperationUploaded
	version.PreviousVersionID = nil
	version.NextVersionID = nil
	version.IsCurrent = true

	return s.store.InProjectTx(ctx, version.ProjectID, func(tx repository.VersionTx) error {
		return tx.Create(version)
	})
}

// Append добавляет новую версию после current. Если у current есть
// будущее (после undo), оно отсекается: новая правка из непоследней
// версии делает старую ветку недостижимой навсегда.
func (s *ChainService) Append(
	ctx context.Context,
	current *domain.Version,
	newMediaRef string,
	sizeBytes int64,
	durationSeconds float64,
	kind domain.OperationKind,
) (*domain.Version, error) {
	var created *domain.Version
	var prunedRefs []string

	err := s.store.InProjectTx(ctx, current.ProjectID, func(tx repository.VersionTx) error {
		cur, err := tx.Current(current.ProjectID)
		if err != nil {
			return err
		}
		if cur.ID != current.ID {
			return fmt.Errorf("current version moved from %s to %s: %w",
				current.ID, cur.ID, domain.ErrConflict)
		}

		// Отсекаем будущее: все версии с большим порядковым номером
		future, err := tx.FutureOf(cur.ProjectID, cur.SequenceNumber)
		if err != nil {
			return err
		}
		for _, v := range future {
			if err := tx.Delete(v.ID); err != nil {
				return err
			}
			prunedRefs = append(prunedRefs, v.MediaRef)
		}

		prevID := cur.ID
		next := &domain.Version{
			ID:                uuid.New(),
			ProjectID:         cur.ProjectID,
			SequenceNumber:    cur.SequenceNumber + 1,
			MediaRef:          newMediaRef,
			SizeBytes:         sizeBytes,
			DurationSeconds:   durationSeconds,
			OperationKind:     kind,
			OwnerID:           cur.OwnerID,
			IsPublic:          cur.IsPublic,
			PreviousVersionID: &prevID,
			IsCurrent:         true,
		}

		// Сначала снимаем флаг с текущей версии, потом вставляем новую:
		// частичный уникальный индекс по is_current требует этот порядок
		if err := tx.UpdateFields(cur.ID, map[string]interface{}{
			"is_current":      false,
			"next_version_id": next.ID,
		}); err != nil {
			return err
		}

		if err := tx.Create(next); err != nil {
			return err
		}

		created = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.releaseArtifacts(prunedRefs)

	return created, nil
}

// Undo переводит курсор на предыдущую версию. Прямая ссылка
// next_version_id не трогается, поэтому redo остается возможным.
func (s *ChainService) Undo(ctx context.Context, current *domain.Version) (*domain.Version, error) {
	if current.PreviousVersionID == nil {
		return nil, fmt.Errorf("version %s is the project root: %w", current.ID, domain.ErrNoHistory)
	}

	var previous *domain.Version

	err := s.store.InProjectTx(ctx, current.ProjectID, func(tx repository.VersionTx) error {
		cur, err := tx.Current(current.ProjectID)
		if err != nil {
			return err
		}
		if cur.ID != current.ID {
			return fmt.Errorf("current version moved from %s to %s: %w",
				current.ID, cur.ID, domain.ErrConflict)
		}
		if cur.PreviousVersionID == nil {
			return fmt.Errorf("version %s is the project root: %w", cur.ID, domain.ErrNoHistory)
		}

		prev, err := tx.Get(*cur.PreviousVersionID)
		if err != nil {
			return err
		}

		if err := tx.UpdateFields(cur.ID, map[string]interface{}{"is_current": false}); err != nil {
			return err
		}
		if err := tx.UpdateFields(prev.ID, map[string]interface{}{"is_current": true}); err != nil {
			return err
		}

		prev.IsCurrent = true
		previous = prev
		return nil
	})
	if err != nil {
		return nil, err
	}

	return previous, nil
}

// Redo переводит курсор на следующую версию, если она еще существует
func (s *ChainService) Redo(ctx context.Context, current *domain.Version) (*domain.Version, error) {
	if current.NextVersionID == nil {
		return nil, fmt.Errorf("version %s is the chain tip: %w", current.ID, domain.ErrNoFuture)
	}

	var next *domain.Version

	err := s.store.InProjectTx(ctx, current.ProjectID, func(tx repository.VersionTx) error {
		cur, err := tx.Current(current.ProjectID)
		if err != nil {
			return err
		}
		if cur.ID != current.ID {
			return fmt.Errorf("current version moved from %s to %s: %w",
				current.ID, cur.ID, domain.ErrConflict)
		}
		if cur.NextVersionID == nil {
			return fmt.Errorf("version %s is the chain tip: %w", cur.ID, domain.ErrNoFuture)
		}

		nxt, err := tx.Get(*cur.NextVersionID)
		if err != nil {
			return err
		}

		if err := tx.UpdateFields(cur.ID, map[string]interface{}{"is_current": false}); err != nil {
			return err
		}
		if err := tx.UpdateFields(nxt.ID, map[string]interface{}{"is_current": true}); err != nil {
			return err
		}

		nxt.IsCurrent = true
		next = nxt
		return nil
	})
	if err != nil {
		return nil, err
	}

	return next, nil
}

// Finalize записывает результат рендера в текущую версию и схлопывает
// историю проекта до единственной записи. Два шага разнесены по
// транзакциям намеренно: сбой между ними оставляет валидную текущую
// версию с финальным артефактом, а отсечение безопасно повторяется.
func (s *ChainService) Finalize(ctx context.Context, final *domain.Version, renderedRef string) (*domain.Version, error) {
	err := s.store.InProjectTx(ctx, final.ProjectID, func(tx repository.VersionTx) error {
		cur, err := tx.Current(final.ProjectID)
		if err != nil {
			return err
		}
		if cur.ID != final.ID {
			return fmt.Errorf("current version moved from %s to %s: %w",
				final.ID, cur.ID, domain.ErrConflict)
		}

		return tx.UpdateFields(final.ID, map[string]interface{}{
			"final_media_ref": renderedRef,
			"operation_kind":  domain.OperationRendered,
		})
	})
	if err != nil {
		return nil, err
	}

	final.FinalMediaRef = &renderedRef
	final.OperationKind = domain.OperationRendered

	if err := s.PruneOnFinalize(ctx, final); err != nil {
		return nil, err
	}

	final.PreviousVersionID = nil
	final.NextVersionID = nil
	final.IsCurrent = true

	return final, nil
}

// PruneOnFinalize удаляет все версии проекта кроме финальной и
// обнуляет её указатели. Операция идемпотентна: повторный запуск
// против уже схлопнутого проекта ничего не меняет.
func (s *ChainService) PruneOnFinalize(ctx context.Context, final *domain.Version) error {
	var prunedRefs []string

	err := s.store.InProjectTx(ctx, final.ProjectID, func(tx repository.VersionTx) error {
		victims, err := tx.AllExcept(final.ProjectID, final.ID)
		if err != nil {
			return err
		}
		for _, v := range victims {
			if err := tx.Delete(v.ID); err != nil {
				return err
			}
			prunedRefs = append(prunedRefs, v.MediaRef)
		}

		return tx.UpdateFields(final.ID, map[string]interface{}{
			"previous_version_id": nil,
			"next_version_id":     nil,
			"is_current":          true,
		})
	})
	if err != nil {
		return err
	}

	s.releaseArtifacts(prunedRefs)

	return nil
}

// releaseArtifacts освобождает медиа-артефакты удаленных версий.
// Ошибки логируются, но не прерывают операцию: запись из базы уже
// удалена, повисший объект в хранилище безвреден.
func (s *ChainService) releaseArtifacts(refs []string) {
	for _, ref := range refs {
		if err := s.s3Client.DeleteObject(ref); err != nil {
			log.Printf("[Chain] Failed to release artifact %s: %v", ref, err)
		}
	}
}
