package catalog

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Lookup resolves catalog references.
type Lookup interface {
	ResolveItem(ctx context.Context, id int64) (Entry, error)
	ResolveService(ctx context.Context, id int64) (Entry, error)
}

// Resolve dispatches to the item or service resolver based on the ref kind.
func Resolve(ctx context.Context, lookup Lookup, ref Ref) (Entry, error) {
	switch ref.Kind {
	case KindItem:
		return lookup.ResolveItem(ctx, ref.ID)
	case KindService:
		return lookup.ResolveService(ctx, ref.ID)
	default:
		return Entry{}, &NotFoundError{Ref: ref}
	}
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns a PostgreSQL backed Lookup.
func NewRepository(db *pgxpool.Pool) Lookup {
	return &repository{db: db}
}

func (r *repository) ResolveItem(ctx context.Context, id int64) (Entry, error) {
	query := `SELECT id, name, unit_price, category_id FROM catalog_items WHERE id = $1 AND is_active`
	return r.resolve(ctx, query, ItemRef(id))
}

func (r *repository) ResolveService(ctx context.Context, id int64) (Entry, error) {
	query := `SELECT id, name, hourly_rate, category_id FROM catalog_services WHERE id = $1 AND is_active`
	return r.resolve(ctx, query, ServiceRef(id))
}

func (r *repository) resolve(ctx context.Context, query string, ref Ref) (Entry, error) {
	e := Entry{Ref: ref}
	err := r.db.QueryRow(ctx, query, ref.ID).Scan(&e.Ref.ID, &e.Name, &e.Price, &e.CategoryID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, &NotFoundError{Ref: ref}
		}
		return Entry{}, err
	}
	return e, nil
}
