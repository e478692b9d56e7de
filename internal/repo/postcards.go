package repo

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/LeventeLantos/postcard-messaging/internal/model"
)

var (
	ErrNotFound = errors.New("repo: postcard not found")

	// ErrStatusConflict is returned by UpdateStatusIf when the stored status
	// no longer matches the expected one.
	ErrStatusConflict = errors.New("repo: postcard status changed concurrently")

	ErrInvalidTransition = errors.New("repo: invalid status transition")
)

// StorageError marks a failure of the underlying persistence layer.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("repo: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// UpdateFields carries the optional columns written with a status change.
// Nil fields are left untouched.
type UpdateFields struct {
	Address           *string
	AddressReceivedAt *time.Time
	LastError         *string
}

type PostcardRepository interface {
	Create(ctx context.Context, p model.Postcard) (model.Postcard, error)
	Get(ctx context.Context, id string) (model.Postcard, error)
	UpdateStatus(ctx context.Context, id string, status model.Status, fields UpdateFields) error
	UpdateStatusIf(ctx context.Context, id string, expected, status model.Status, fields UpdateFields) error
	FindActiveByPhone(ctx context.Context, phone string, status model.Status) (*model.Postcard, error)
	ListByStatus(ctx context.Context, status model.Status, createdBefore time.Time, limit int) ([]model.Postcard, error)
	ListAll(ctx context.Context, newestFirst bool) iter.Seq2[model.Postcard, error]
}

func checkTransition(from, to model.Status) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
