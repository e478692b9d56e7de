package repo

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/LeventeLantos/postcard-messaging/internal/model"
	"github.com/LeventeLantos/postcard-messaging/internal/phone"
)

// PgxPool is the subset of *pgxpool.Pool the repository needs.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresPostcardRepo struct {
	pool PgxPool
	now  func() time.Time
}

var _ PostcardRepository = (*PostgresPostcardRepo)(nil)

func NewPostgresPostcardRepo(pool PgxPool) *PostgresPostcardRepo {
	return &PostgresPostcardRepo{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

const postcardColumns = `id::text, recipient_phone, recipient_name, message, image_reference,
	address, status, date_created, updated_at, address_received_at, last_error`

func (r *PostgresPostcardRepo) Create(ctx context.Context, p model.Postcard) (model.Postcard, error) {
	p.ID = uuid.NewString()
	p.RecipientPhone = phone.Normalize(p.RecipientPhone)
	if p.Status == "" {
		p.Status = model.Pending
	}
	p.DateCreated = r.now()
	p.UpdatedAt = p.DateCreated

	_, err := r.pool.Exec(ctx, `
		INSERT INTO postcards (id, recipient_phone, recipient_name, message, image_reference, status, date_created, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, p.ID, p.RecipientPhone, p.RecipientName, p.Message, p.ImageReference, string(p.Status), p.DateCreated, p.UpdatedAt)
	if err != nil {
		return model.Postcard{}, storageErr("create postcard", err)
	}
	return p, nil
}

func (r *PostgresPostcardRepo) Get(ctx context.Context, id string) (model.Postcard, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.Postcard{}, ErrNotFound
	}
	row := r.pool.QueryRow(ctx, `SELECT `+postcardColumns+` FROM postcards WHERE id = $1`, id)
	p, err := scanPostcard(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Postcard{}, ErrNotFound
	}
	if err != nil {
		return model.Postcard{}, storageErr("get postcard", err)
	}
	return p, nil
}

func (r *PostgresPostcardRepo) UpdateStatus(ctx context.Context, id string, status model.Status, fields UpdateFields) error {
	from := predecessors(status)
	if len(from) == 0 {
		return checkTransition("", status)
	}
	return r.update(ctx, id, status, fields, from, ErrInvalidTransition)
}

func (r *PostgresPostcardRepo) UpdateStatusIf(ctx context.Context, id string, expected, status model.Status, fields UpdateFields) error {
	if err := checkTransition(expected, status); err != nil {
		return err
	}
	return r.update(ctx, id, status, fields, []string{string(expected)}, ErrStatusConflict)
}

// update writes the new status only while the row is in one of the allowed
// source statuses, so the transition check and the write are one statement.
func (r *PostgresPostcardRepo) update(ctx context.Context, id string, status model.Status, fields UpdateFields, from []string, mismatch error) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE postcards
		SET status = $2,
		    address = COALESCE($3, address),
		    address_received_at = COALESCE($4, address_received_at),
		    last_error = COALESCE($5, last_error),
		    updated_at = $6
		WHERE id = $1 AND status = ANY($7)
	`, id, string(status), fields.Address, fields.AddressReceivedAt, fields.LastError, r.now(), from)
	if err != nil {
		return storageErr("update postcard status", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var current string
	err = r.pool.QueryRow(ctx, `SELECT status FROM postcards WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return storageErr("read postcard status", err)
	}
	if errors.Is(mismatch, ErrInvalidTransition) {
		return checkTransition(model.Status(current), status)
	}
	return mismatch
}

func (r *PostgresPostcardRepo) FindActiveByPhone(ctx context.Context, phone string, status model.Status) (*model.Postcard, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+postcardColumns+`
		FROM postcards
		WHERE recipient_phone = $1 AND status = $2
		ORDER BY date_created DESC
		LIMIT 1
	`, phone, string(status))

	p, err := scanPostcard(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("find postcard by phone", err)
	}
	return &p, nil
}

func (r *PostgresPostcardRepo) ListByStatus(ctx context.Context, status model.Status, createdBefore time.Time, limit int) ([]model.Postcard, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+postcardColumns+`
		FROM postcards
		WHERE status = $1 AND date_created < $2
		ORDER BY date_created ASC
		LIMIT $3
	`, string(status), createdBefore, limit)
	if err != nil {
		return nil, storageErr("list postcards by status", err)
	}
	defer rows.Close()

	var out []model.Postcard
	for rows.Next() {
		p, err := scanPostcard(rows)
		if err != nil {
			return nil, storageErr("scan postcard", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list postcards by status", err)
	}
	return out, nil
}

// ListAll streams every postcard. Each range over the returned sequence runs
// a fresh query.
func (r *PostgresPostcardRepo) ListAll(ctx context.Context, newestFirst bool) iter.Seq2[model.Postcard, error] {
	query := `SELECT ` + postcardColumns + ` FROM postcards ORDER BY date_created ASC`
	if newestFirst {
		query = `SELECT ` + postcardColumns + ` FROM postcards ORDER BY date_created DESC`
	}

	return func(yield func(model.Postcard, error) bool) {
		rows, err := r.pool.Query(ctx, query)
		if err != nil {
			yield(model.Postcard{}, storageErr("list postcards", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			p, err := scanPostcard(rows)
			if err != nil {
				yield(model.Postcard{}, storageErr("scan postcard", err))
				return
			}
			if !yield(p, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(model.Postcard{}, storageErr("list postcards", err))
		}
	}
}

func scanPostcard(row pgx.Row) (model.Postcard, error) {
	var p model.Postcard
	var status string
	if err := row.Scan(
		&p.ID,
		&p.RecipientPhone,
		&p.RecipientName,
		&p.Message,
		&p.ImageReference,
		&p.Address,
		&status,
		&p.DateCreated,
		&p.UpdatedAt,
		&p.AddressRecvAt,
		&p.LastError,
	); err != nil {
		return model.Postcard{}, err
	}
	p.Status = model.Status(status)
	return p, nil
}

var allStatuses = []model.Status{
	model.Pending,
	model.AddressRequested,
	model.AddressReceived,
	model.Completed,
	model.Failed,
}

func predecessors(status model.Status) []string {
	var out []string
	for _, s := range allStatuses {
		if s.CanTransitionTo(status) {
			out = append(out, string(s))
		}
	}
	return out
}
