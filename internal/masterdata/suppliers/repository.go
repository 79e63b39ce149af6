package suppliers

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-procurement/internal/masterdata/catalog"
	"github.com/odyssey-erp/odyssey-procurement/internal/masterdata/shared"
)

type Repository interface {
	List(ctx context.Context, filters shared.ListFilters) ([]Supplier, int, error)
	Get(ctx context.Context, id int64) (Supplier, error)
	// ListCovering returns suppliers that cover at least one of refs.
	ListCovering(ctx context.Context, refs []catalog.Ref) ([]Supplier, error)
	Create(ctx context.Context, supplier Supplier) (Supplier, error)
	Update(ctx context.Context, id int64, supplier Supplier) error
	Delete(ctx context.Context, id int64) error
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const supplierColumns = `id, code, name, address, email, phone, allows_cash, allows_disbursement, allows_store_credit, created_at, updated_at`

func scanSupplier(row pgx.Row) (Supplier, error) {
	var s Supplier
	err := row.Scan(&s.ID, &s.Code, &s.Name, &s.Address, &s.Email, &s.Phone,
		&s.AllowsCash, &s.AllowsDisbursement, &s.AllowsStoreCredit, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

func (r *repository) List(ctx context.Context, filters shared.ListFilters) ([]Supplier, int, error) {
	query := `SELECT ` + supplierColumns + ` FROM suppliers WHERE 1=1`
	args := []interface{}{}
	argCount := 0

	if filters.Search != "" {
		argCount++
		query += ` AND (name ILIKE $` + strconv.Itoa(argCount) + ` OR code ILIKE $` + strconv.Itoa(argCount) + `)`
		args = append(args, "%"+filters.Search+"%")
	}

	countQuery := `SELECT COUNT(*) FROM suppliers WHERE 1=1`
	countArgs := []interface{}{}
	if filters.Search != "" {
		countArgs = append(countArgs, "%"+filters.Search+"%")
		countQuery += ` AND (name ILIKE $1 OR code ILIKE $1)`
	}

	var total int
	if err := r.db.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += " ORDER BY " + sortOrder(filters.SortBy, filters.SortDir)

	if filters.Limit > 0 {
		argCount++
		query += ` LIMIT $` + strconv.Itoa(argCount)
		args = append(args, filters.Limit)

		argCount++
		query += ` OFFSET $` + strconv.Itoa(argCount)
		args = append(args, filters.Offset())
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var suppliers []Supplier
	for rows.Next() {
		s, err := scanSupplier(rows)
		if err != nil {
			return nil, 0, err
		}
		suppliers = append(suppliers, s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if err := r.loadCoverage(ctx, suppliers); err != nil {
		return nil, 0, err
	}
	return suppliers, total, nil
}

func (r *repository) Get(ctx context.Context, id int64) (Supplier, error) {
	query := `SELECT ` + supplierColumns + ` FROM suppliers WHERE id = $1`
	s, err := scanSupplier(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Supplier{}, &NotFoundError{ID: id}
		}
		return Supplier{}, err
	}
	list := []Supplier{s}
	if err := r.loadCoverage(ctx, list); err != nil {
		return Supplier{}, err
	}
	return list[0], nil
}

func (r *repository) ListCovering(ctx context.Context, refs []catalog.Ref) ([]Supplier, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	kinds := make([]string, len(refs))
	ids := make([]int64, len(refs))
	for i, ref := range refs {
		kinds[i] = string(ref.Kind)
		ids[i] = ref.ID
	}
	query := `SELECT ` + supplierColumns + ` FROM suppliers s
		WHERE EXISTS (
			SELECT 1 FROM supplier_coverage c
			JOIN unnest($1::text[], $2::bigint[]) AS want(kind, id)
			  ON c.catalog_kind = want.kind AND c.catalog_id = want.id
			WHERE c.supplier_id = s.id
		)
		ORDER BY s.id`
	rows, err := r.db.Query(ctx, query, kinds, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var suppliers []Supplier
	for rows.Next() {
		s, err := scanSupplier(rows)
		if err != nil {
			return nil, err
		}
		suppliers = append(suppliers, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.loadCoverage(ctx, suppliers); err != nil {
		return nil, err
	}
	return suppliers, nil
}

func (r *repository) Create(ctx context.Context, supplier Supplier) (Supplier, error) {
	now := time.Now()
	err := pgx.BeginTxFunc(ctx, r.db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		query := `INSERT INTO suppliers (code, name, address, email, phone, allows_cash, allows_disbursement, allows_store_credit, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`
		if err := tx.QueryRow(ctx, query, supplier.Code, supplier.Name, supplier.Address, supplier.Email, supplier.Phone,
			supplier.AllowsCash, supplier.AllowsDisbursement, supplier.AllowsStoreCredit, now, now).Scan(&supplier.ID); err != nil {
			return err
		}
		return replaceCoverage(ctx, tx, supplier.ID, supplier.Coverage)
	})
	if err != nil {
		return Supplier{}, err
	}
	supplier.CreatedAt = now
	supplier.UpdatedAt = now
	return supplier, nil
}

func (r *repository) Update(ctx context.Context, id int64, supplier Supplier) error {
	return pgx.BeginTxFunc(ctx, r.db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		query := `UPDATE suppliers SET code = $1, name = $2, address = $3, email = $4, phone = $5,
			allows_cash = $6, allows_disbursement = $7, allows_store_credit = $8, updated_at = $9 WHERE id = $10`
		tag, err := tx.Exec(ctx, query, supplier.Code, supplier.Name, supplier.Address, supplier.Email, supplier.Phone,
			supplier.AllowsCash, supplier.AllowsDisbursement, supplier.AllowsStoreCredit, time.Now(), id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return &NotFoundError{ID: id}
		}
		return replaceCoverage(ctx, tx, id, supplier.Coverage)
	})
}

func (r *repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM suppliers WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &NotFoundError{ID: id}
	}
	return nil
}

func replaceCoverage(ctx context.Context, tx pgx.Tx, supplierID int64, refs []catalog.Ref) error {
	if _, err := tx.Exec(ctx, `DELETE FROM supplier_coverage WHERE supplier_id = $1`, supplierID); err != nil {
		return err
	}
	for _, ref := range refs {
		if _, err := tx.Exec(ctx, `INSERT INTO supplier_coverage (supplier_id, catalog_kind, catalog_id) VALUES ($1, $2, $3)`,
			supplierID, string(ref.Kind), ref.ID); err != nil {
			return err
		}
	}
	return nil
}

func (r *repository) loadCoverage(ctx context.Context, suppliers []Supplier) error {
	if len(suppliers) == 0 {
		return nil
	}
	index := make(map[int64]int, len(suppliers))
	ids := make([]int64, len(suppliers))
	for i, s := range suppliers {
		index[s.ID] = i
		ids[i] = s.ID
	}
	rows, err := r.db.Query(ctx, `SELECT supplier_id, catalog_kind, catalog_id FROM supplier_coverage
		WHERE supplier_id = ANY($1) ORDER BY supplier_id, catalog_kind, catalog_id`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var supplierID int64
		var ref catalog.Ref
		var kind string
		if err := rows.Scan(&supplierID, &kind, &ref.ID); err != nil {
			return err
		}
		ref.Kind = catalog.Kind(kind)
		i := index[supplierID]
		suppliers[i].Coverage = append(suppliers[i].Coverage, ref)
	}
	return rows.Err()
}

func sortOrder(sortBy, sortDir string) string {
	dir := "ASC"
	if sortDir == shared.SortDesc {
		dir = "DESC"
	}
	switch sortBy {
	case "code":
		return "code " + dir
	case "created_at":
		return "created_at " + dir
	default:
		return "name " + dir
	}
}
