package study

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/studytrack/internal/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// rejection is returned by kind hooks when stored state makes a payload unacceptable.
type rejection struct {
	reason  string
	message string
}

func (r *rejection) Error() string {
	return r.message
}

type hooks[T model.Record, C any, U any] struct {
	build func(ownerID uint64, input C) T
	apply func(record *T, patch U)
	// stamp sets updatedAt, and createdAt as well when the record is new.
	stamp func(record *T, at time.Time, created bool)
	// verify checks references of a record about to be written; optional.
	verify func(tx *gorm.DB, record T) error
	// guardDelete vetoes deletes that would orphan dependent records; optional.
	guardDelete func(tx *gorm.DB, ownerID, id uint64) error
}

// Repository provides user-scoped CRUD for one resource kind.
type Repository[T model.Record, C any, U any] struct {
	service *Service
	kind    model.Kind
	hooks   hooks[T, C, U]
}

// Kind returns the resource kind served by the repository.
func (r *Repository[T, C, U]) Kind() model.Kind {
	return r.kind
}

// List returns every record of the kind owned by ownerID, most recently updated first.
func (r *Repository[T, C, U]) List(ctx context.Context, ownerID uint64) ([]T, error) {
	operation := r.operation("list")
	if err := r.requireOwner(operation, ownerID); err != nil {
		return nil, err
	}

	records := make([]T, 0)
	if err := r.service.db.WithContext(ctx).
		Where("user_id = ?", ownerID).
		Order("updated_at DESC").
		Order("id DESC").
		Find(&records).Error; err != nil {
		r.service.logError(operation, "query_failed", err, zap.Uint64("user_id", ownerID))
		return nil, newServiceError(operation, "query_failed", err)
	}
	return records, nil
}

// Get returns one record owned by ownerID.
func (r *Repository[T, C, U]) Get(ctx context.Context, ownerID, id uint64) (T, error) {
	operation := r.operation("get")
	var record T
	if err := r.requireOwner(operation, ownerID); err != nil {
		return record, err
	}
	return r.take(r.service.db.WithContext(ctx), operation, ownerID, id)
}

// Create validates input and inserts a new record owned by ownerID.
func (r *Repository[T, C, U]) Create(ctx context.Context, ownerID uint64, input C) (T, error) {
	operation := r.operation("create")
	var created T
	if err := r.requireOwner(operation, ownerID); err != nil {
		return created, err
	}
	if err := r.validate(operation, input); err != nil {
		return created, err
	}

	txErr := r.service.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record := r.hooks.build(ownerID, input)
		now := r.service.now()
		r.hooks.stamp(&record, now, true)
		if err := r.verify(tx, operation, record); err != nil {
			return err
		}
		if err := tx.Create(&record).Error; err != nil {
			r.service.logError(operation, "insert_failed", err, zap.Uint64("user_id", ownerID))
			return newServiceError(operation, "insert_failed", err)
		}
		created = record
		return nil
	})
	if txErr != nil {
		var zero T
		return zero, txErr
	}
	return created, nil
}

// Update applies patch to the record. updatedAt always moves forward, by one millisecond when
// the clock has not advanced since the previous write.
func (r *Repository[T, C, U]) Update(ctx context.Context, ownerID, id uint64, patch U) (T, error) {
	operation := r.operation("update")
	var updated T
	if err := r.requireOwner(operation, ownerID); err != nil {
		return updated, err
	}
	if err := r.validate(operation, patch); err != nil {
		return updated, err
	}

	txErr := r.service.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record, err := r.take(tx, operation, ownerID, id)
		if err != nil {
			return err
		}
		previous := record.LastUpdated()
		r.hooks.apply(&record, patch)

		next := r.service.now()
		if !next.After(previous) {
			next = previous.Add(time.Millisecond)
		}
		r.hooks.stamp(&record, next, false)

		if err := r.verify(tx, operation, record); err != nil {
			return err
		}
		if err := tx.Save(&record).Error; err != nil {
			r.service.logError(operation, "save_failed", err,
				zap.Uint64("user_id", ownerID),
				zap.Uint64("id", id))
			return newServiceError(operation, "save_failed", err)
		}
		updated = record
		return nil
	})
	if txErr != nil {
		var zero T
		return zero, txErr
	}
	return updated, nil
}

// Delete removes the record owned by ownerID.
func (r *Repository[T, C, U]) Delete(ctx context.Context, ownerID, id uint64) error {
	operation := r.operation("delete")
	if err := r.requireOwner(operation, ownerID); err != nil {
		return err
	}

	return r.service.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if r.hooks.guardDelete != nil {
			if err := r.hooks.guardDelete(tx, ownerID, id); err != nil {
				return r.hookFailure(operation, err)
			}
		}
		result := tx.Where("user_id = ? AND id = ?", ownerID, id).Delete(new(T))
		if result.Error != nil {
			r.service.logError(operation, "delete_failed", result.Error,
				zap.Uint64("user_id", ownerID),
				zap.Uint64("id", id))
			return newServiceError(operation, "delete_failed", result.Error)
		}
		if result.RowsAffected == 0 {
			return r.notFound(operation, id)
		}
		return nil
	})
}

func (r *Repository[T, C, U]) take(db *gorm.DB, operation string, ownerID, id uint64) (T, error) {
	var record T
	err := db.Where("user_id = ? AND id = ?", ownerID, id).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return record, r.notFound(operation, id)
	}
	if err != nil {
		r.service.logError(operation, "select_failed", err,
			zap.Uint64("user_id", ownerID),
			zap.Uint64("id", id))
		return record, newServiceError(operation, "select_failed", err)
	}
	return record, nil
}

func (r *Repository[T, C, U]) validate(operation string, payload any) error {
	err := model.Validate(payload)
	if err == nil {
		return nil
	}
	return newClientError(operation, "invalid_payload", err.Error(), ErrValidation, err)
}

func (r *Repository[T, C, U]) verify(tx *gorm.DB, operation string, record T) error {
	if r.hooks.verify == nil {
		return nil
	}
	if err := r.hooks.verify(tx, record); err != nil {
		return r.hookFailure(operation, err)
	}
	return nil
}

func (r *Repository[T, C, U]) hookFailure(operation string, err error) error {
	var rejected *rejection
	if errors.As(err, &rejected) {
		return newClientError(operation, rejected.reason, rejected.message, ErrValidation, nil)
	}
	r.service.logError(operation, "reference_check_failed", err)
	return newServiceError(operation, "reference_check_failed", err)
}

func (r *Repository[T, C, U]) notFound(operation string, id uint64) error {
	message := fmt.Sprintf("%s %d not found", r.kind.Singular(), id)
	return newClientError(operation, "not_found", message, ErrNotFound, nil)
}

func (r *Repository[T, C, U]) requireOwner(operation string, ownerID uint64) error {
	if ownerID != 0 {
		return nil
	}
	r.service.logError(operation, "missing_user_id", errMissingUserID)
	return newServiceError(operation, "missing_user_id", errMissingUserID)
}

func (r *Repository[T, C, U]) operation(verb string) string {
	return fmt.Sprintf("study.%s.%s", r.kind, verb)
}
