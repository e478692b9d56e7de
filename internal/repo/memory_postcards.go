package repo

import (
	"context"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/LeventeLantos/postcard-messaging/internal/model"
	"github.com/LeventeLantos/postcard-messaging/internal/phone"
)

// MemoryPostcardRepo keeps postcards in process memory. It backs tests and
// STORE_BACKEND=memory for local runs.
type MemoryPostcardRepo struct {
	mu    sync.Mutex
	items []model.Postcard
	now   func() time.Time
}

var _ PostcardRepository = (*MemoryPostcardRepo)(nil)

func NewMemoryPostcardRepo() *MemoryPostcardRepo {
	return &MemoryPostcardRepo{now: func() time.Time { return time.Now().UTC() }}
}

// WithClock replaces the creation/update clock.
func (r *MemoryPostcardRepo) WithClock(now func() time.Time) *MemoryPostcardRepo {
	r.now = now
	return r
}

func (r *MemoryPostcardRepo) Create(ctx context.Context, p model.Postcard) (model.Postcard, error) {
	if err := ctx.Err(); err != nil {
		return model.Postcard{}, storageErr("create postcard", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p.ID = uuid.NewString()
	p.RecipientPhone = phone.Normalize(p.RecipientPhone)
	if p.Status == "" {
		p.Status = model.Pending
	}
	p.DateCreated = r.now()
	p.UpdatedAt = p.DateCreated
	r.items = append(r.items, clonePostcard(p))
	return clonePostcard(p), nil
}

func (r *MemoryPostcardRepo) Get(ctx context.Context, id string) (model.Postcard, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexOf(id)
	if i < 0 {
		return model.Postcard{}, ErrNotFound
	}
	return clonePostcard(r.items[i]), nil
}

func (r *MemoryPostcardRepo) UpdateStatus(ctx context.Context, id string, status model.Status, fields UpdateFields) error {
	if err := ctx.Err(); err != nil {
		return storageErr("update postcard status", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexOf(id)
	if i < 0 {
		return ErrNotFound
	}
	if err := checkTransition(r.items[i].Status, status); err != nil {
		return err
	}
	r.apply(i, status, fields)
	return nil
}

func (r *MemoryPostcardRepo) UpdateStatusIf(ctx context.Context, id string, expected, status model.Status, fields UpdateFields) error {
	if err := checkTransition(expected, status); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return storageErr("update postcard status", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexOf(id)
	if i < 0 {
		return ErrNotFound
	}
	if r.items[i].Status != expected {
		return ErrStatusConflict
	}
	r.apply(i, status, fields)
	return nil
}

func (r *MemoryPostcardRepo) FindActiveByPhone(ctx context.Context, phone string, status model.Status) (*model.Postcard, error) {
	if err := ctx.Err(); err != nil {
		return nil, storageErr("find postcard by phone", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var best *model.Postcard
	for i := range r.items {
		p := &r.items[i]
		if p.RecipientPhone != phone || p.Status != status {
			continue
		}
		// later inserts win ties on equal timestamps
		if best == nil || !p.DateCreated.Before(best.DateCreated) {
			best = p
		}
	}
	if best == nil {
		return nil, nil
	}
	out := clonePostcard(*best)
	return &out, nil
}

func (r *MemoryPostcardRepo) ListByStatus(ctx context.Context, status model.Status, createdBefore time.Time, limit int) ([]model.Postcard, error) {
	if limit <= 0 {
		limit = 50
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var out []model.Postcard
	for _, p := range r.sorted(false) {
		if p.Status == status && p.DateCreated.Before(createdBefore) {
			out = append(out, clonePostcard(p))
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (r *MemoryPostcardRepo) ListAll(ctx context.Context, newestFirst bool) iter.Seq2[model.Postcard, error] {
	return func(yield func(model.Postcard, error) bool) {
		r.mu.Lock()
		snapshot := r.sorted(newestFirst)
		r.mu.Unlock()

		for _, p := range snapshot {
			if err := ctx.Err(); err != nil {
				yield(model.Postcard{}, storageErr("list postcards", err))
				return
			}
			if !yield(clonePostcard(p), nil) {
				return
			}
		}
	}
}

func (r *MemoryPostcardRepo) indexOf(id string) int {
	return slices.IndexFunc(r.items, func(p model.Postcard) bool { return p.ID == id })
}

func (r *MemoryPostcardRepo) apply(i int, status model.Status, fields UpdateFields) {
	p := &r.items[i]
	p.Status = status
	if fields.Address != nil {
		p.Address = ptr(*fields.Address)
	}
	if fields.AddressReceivedAt != nil {
		p.AddressRecvAt = ptr(*fields.AddressReceivedAt)
	}
	if fields.LastError != nil {
		p.LastError = ptr(*fields.LastError)
	}
	p.UpdatedAt = r.now()
}

// sorted returns a copy ordered by creation time; insertion order breaks ties.
func (r *MemoryPostcardRepo) sorted(newestFirst bool) []model.Postcard {
	out := slices.Clone(r.items)
	slices.SortStableFunc(out, func(a, b model.Postcard) int {
		return a.DateCreated.Compare(b.DateCreated)
	})
	if newestFirst {
		slices.Reverse(out)
	}
	return out
}

func clonePostcard(p model.Postcard) model.Postcard {
	if p.Address != nil {
		p.Address = ptr(*p.Address)
	}
	if p.AddressRecvAt != nil {
		p.AddressRecvAt = ptr(*p.AddressRecvAt)
	}
	if p.LastError != nil {
		p.LastError = ptr(*p.LastError)
	}
	return p
}

func ptr[T any](v T) *T { return &v }
