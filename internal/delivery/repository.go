package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-procurement/internal/masterdata/catalog"
	"github.com/odyssey-erp/odyssey-procurement/internal/platform/db"
	"github.com/odyssey-erp/odyssey-procurement/internal/procurement"
)

// Repository provides PostgreSQL backed persistence for delivery operations.
type Repository struct {
	pool   *pgxpool.Pool
	orders *procurement.Repository
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, orders: procurement.NewRepository(pool)}
}

type txRepo struct {
	procurement.TxRepository
	tx pgx.Tx
}

// WithTx wraps callback in repeatable-read transaction shared with the
// procurement order tables.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{TxRepository: procurement.NewTx(tx), tx: tx})
	})
	if db.IsSerializationFailure(err) {
		return &procurement.ConflictError{Entity: "transaction", Reason: "concurrent update, reload and retry"}
	}
	return err
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const deliveryColumns = `id, kind, source_type, source_id, purchase_order_id, receipt_no, delivery_date, status,
	total_cost, notes, received_at, created_at, updated_at`

// ============================================================================
// READS
// ============================================================================

// GetOrder returns the purchase order a delivery is recorded against.
func (r *Repository) GetOrder(ctx context.Context, id int64) (procurement.PurchaseOrder, error) {
	return r.orders.GetOrder(ctx, id)
}

// GetDelivery returns a delivery with its lines.
func (r *Repository) GetDelivery(ctx context.Context, id int64) (Delivery, error) {
	return loadDelivery(ctx, r.pool, id, false)
}

// ListOrderDeliveries returns every delivery of an order.
func (r *Repository) ListOrderDeliveries(ctx context.Context, orderID int64) ([]Delivery, error) {
	return listDeliveries(ctx, r.pool, orderID)
}

// ListOrderReturns returns every return raised against an order.
func (r *Repository) ListOrderReturns(ctx context.Context, orderID int64) ([]Return, error) {
	return listReturns(ctx, r.pool, "purchase_order_id", orderID)
}

// ListDeliveryReturns returns the returns raised against one delivery.
func (r *Repository) ListDeliveryReturns(ctx context.Context, deliveryID int64) ([]Return, error) {
	return listReturns(ctx, r.pool, "delivery_id", deliveryID)
}

// ListDeliveryReworks returns the reworks scheduled for one delivery.
func (r *Repository) ListDeliveryReworks(ctx context.Context, deliveryID int64) ([]Rework, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, delivery_id, purchase_order_id, rework_no, reason, scheduled_at, total_cost, created_at
		FROM delivery_reworks WHERE delivery_id = $1 ORDER BY id`, deliveryID)
	if err != nil {
		return nil, fmt.Errorf("delivery: list reworks: %w", err)
	}
	var reworks []Rework
	for rows.Next() {
		var rw Rework
		if err := rows.Scan(&rw.ID, &rw.DeliveryID, &rw.PurchaseOrderID, &rw.ReworkNo, &rw.Reason, &rw.ScheduledAt, &rw.TotalCost, &rw.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		reworks = append(reworks, rw)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range reworks {
		svcRows, err := r.pool.Query(ctx, `SELECT id, rework_id, delivery_service_id, catalog_id, hours, hourly_rate
			FROM delivery_rework_services WHERE rework_id = $1 ORDER BY id`, reworks[i].ID)
		if err != nil {
			return nil, fmt.Errorf("delivery: list rework services: %w", err)
		}
		for svcRows.Next() {
			var svc ReworkService
			if err := svcRows.Scan(&svc.ID, &svc.ReworkID, &svc.DeliveryServiceID, &svc.Ref.ID, &svc.Hours, &svc.HourlyRate); err != nil {
				svcRows.Close()
				return nil, err
			}
			svc.Ref.Kind = catalog.KindService
			reworks[i].Services = append(reworks[i].Services, svc)
		}
		svcRows.Close()
		if err := svcRows.Err(); err != nil {
			return nil, err
		}
	}
	return reworks, nil
}

// ListDeliveryIDs pages through delivery ids in ascending order.
func (r *Repository) ListDeliveryIDs(ctx context.Context, afterID int64, limit int) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM deliveries WHERE id > $1 ORDER BY id LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("delivery: list ids: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func scanDelivery(row pgx.Row) (Delivery, error) {
	var d Delivery
	var kind *string
	var sourceType, status string
	if err := row.Scan(&d.ID, &kind, &sourceType, &d.Source.ID, &d.PurchaseOrderID, &d.ReceiptNo, &d.DeliveryDate, &status,
		&d.TotalCost, &d.Notes, &d.ReceivedAt, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return Delivery{}, err
	}
	if kind != nil {
		d.Kind = Kind(*kind)
	}
	d.Source.Type = SourceType(sourceType)
	d.Status = Status(status)
	return d, nil
}

func loadDelivery(ctx context.Context, q querier, id int64, lock bool) (Delivery, error) {
	sql := `SELECT ` + deliveryColumns + ` FROM deliveries WHERE id = $1`
	if lock {
		sql += ` FOR UPDATE`
	}
	d, err := scanDelivery(q.QueryRow(ctx, sql, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Delivery{}, &NotFoundError{Entity: "delivery", ID: id}
		}
		return Delivery{}, fmt.Errorf("delivery: load delivery: %w", err)
	}
	out := []Delivery{d}
	if err := loadLines(ctx, q, out); err != nil {
		return Delivery{}, err
	}
	return out[0], nil
}

func listDeliveries(ctx context.Context, q querier, orderID int64) ([]Delivery, error) {
	rows, err := q.Query(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE purchase_order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("delivery: list deliveries: %w", err)
	}
	var deliveries []Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		deliveries = append(deliveries, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := loadLines(ctx, q, deliveries); err != nil {
		return nil, err
	}
	return deliveries, nil
}

// loadLines attaches items and services to the given deliveries in two
// batched queries.
func loadLines(ctx context.Context, q querier, deliveries []Delivery) error {
	if len(deliveries) == 0 {
		return nil
	}
	index := make(map[int64]int, len(deliveries))
	ids := make([]int64, 0, len(deliveries))
	for i, d := range deliveries {
		index[d.ID] = i
		ids = append(ids, d.ID)
	}

	rows, err := q.Query(ctx, `SELECT id, delivery_id, order_line_id, catalog_id, quantity, unit_price
		FROM delivery_items WHERE delivery_id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return fmt.Errorf("delivery: load items: %w", err)
	}
	for rows.Next() {
		var item ItemLine
		if err := rows.Scan(&item.ID, &item.DeliveryID, &item.OrderLineID, &item.Ref.ID, &item.Quantity, &item.UnitPrice); err != nil {
			rows.Close()
			return err
		}
		item.Ref.Kind = catalog.KindItem
		d := &deliveries[index[item.DeliveryID]]
		d.Items = append(d.Items, item)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = q.Query(ctx, `SELECT id, delivery_id, order_line_id, catalog_id, hours, hourly_rate
		FROM delivery_services WHERE delivery_id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return fmt.Errorf("delivery: load services: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var svc ServiceLine
		if err := rows.Scan(&svc.ID, &svc.DeliveryID, &svc.OrderLineID, &svc.Ref.ID, &svc.Hours, &svc.HourlyRate); err != nil {
			return err
		}
		svc.Ref.Kind = catalog.KindService
		d := &deliveries[index[svc.DeliveryID]]
		d.Services = append(d.Services, svc)
	}
	return rows.Err()
}

// listReturns loads returns filtered on column, which is always one of the
// two constants passed by the callers above.
func listReturns(ctx context.Context, q querier, column string, id int64) ([]Return, error) {
	rows, err := q.Query(ctx, `SELECT id, delivery_id, purchase_order_id, return_no, reason, returned_at, total_cost, created_at
		FROM delivery_returns WHERE `+column+` = $1 ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("delivery: list returns: %w", err)
	}
	var returns []Return
	index := map[int64]int{}
	for rows.Next() {
		var r Return
		if err := rows.Scan(&r.ID, &r.DeliveryID, &r.PurchaseOrderID, &r.ReturnNo, &r.Reason, &r.ReturnedAt, &r.TotalCost, &r.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		index[r.ID] = len(returns)
		returns = append(returns, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(returns) == 0 {
		return nil, nil
	}
	ids := make([]int64, 0, len(returns))
	for _, r := range returns {
		ids = append(ids, r.ID)
	}
	itemRows, err := q.Query(ctx, `SELECT id, return_id, delivery_item_id, order_line_id, quantity, unit_price
		FROM delivery_return_items WHERE return_id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, fmt.Errorf("delivery: list return items: %w", err)
	}
	defer itemRows.Close()
	for itemRows.Next() {
		var item ReturnItem
		if err := itemRows.Scan(&item.ID, &item.ReturnID, &item.DeliveryItemID, &item.OrderLineID, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, err
		}
		r := &returns[index[item.ReturnID]]
		r.Items = append(r.Items, item)
	}
	return returns, itemRows.Err()
}

// ============================================================================
// TRANSACTIONAL WRITES
// ============================================================================

func (t *txRepo) LockDelivery(ctx context.Context, id int64) (Delivery, error) {
	return loadDelivery(ctx, t.tx, id, true)
}

func (t *txRepo) ListOrderDeliveries(ctx context.Context, orderID int64) ([]Delivery, error) {
	return listDeliveries(ctx, t.tx, orderID)
}

func (t *txRepo) ListOrderReturns(ctx context.Context, orderID int64) ([]Return, error) {
	return listReturns(ctx, t.tx, "purchase_order_id", orderID)
}

func (t *txRepo) ListDeliveryReturns(ctx context.Context, deliveryID int64) ([]Return, error) {
	return listReturns(ctx, t.tx, "delivery_id", deliveryID)
}

func (t *txRepo) CreateDelivery(ctx context.Context, d *Delivery) error {
	now := time.Now()
	var kind *string
	if d.Kind != "" {
		k := string(d.Kind)
		kind = &k
	}
	err := t.tx.QueryRow(ctx, `INSERT INTO deliveries (kind, source_type, source_id, purchase_order_id, receipt_no,
			delivery_date, status, total_cost, notes, received_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11) RETURNING id`,
		kind, string(d.Source.Type), d.Source.ID, d.PurchaseOrderID, d.ReceiptNo, d.DeliveryDate, string(d.Status),
		d.TotalCost, d.Notes, d.ReceivedAt, now).Scan(&d.ID)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return &procurement.ConflictError{Entity: "delivery", Reason: "receipt " + d.ReceiptNo + " already exists"}
		}
		return fmt.Errorf("delivery: insert delivery: %w", err)
	}
	d.CreatedAt, d.UpdatedAt = now, now
	for i := range d.Items {
		item := &d.Items[i]
		item.DeliveryID = d.ID
		if err := t.tx.QueryRow(ctx, `INSERT INTO delivery_items (delivery_id, order_line_id, catalog_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			d.ID, item.OrderLineID, item.Ref.ID, item.Quantity, item.UnitPrice).Scan(&item.ID); err != nil {
			return fmt.Errorf("delivery: insert item: %w", err)
		}
	}
	for i := range d.Services {
		svc := &d.Services[i]
		svc.DeliveryID = d.ID
		if err := t.tx.QueryRow(ctx, `INSERT INTO delivery_services (delivery_id, order_line_id, catalog_id, hours, hourly_rate)
			VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			d.ID, svc.OrderLineID, svc.Ref.ID, svc.Hours, svc.HourlyRate).Scan(&svc.ID); err != nil {
			return fmt.Errorf("delivery: insert service: %w", err)
		}
	}
	return nil
}

func (t *txRepo) UpdateDeliveryStatus(ctx context.Context, id int64, status Status, receivedAt *time.Time) error {
	tag, err := t.tx.Exec(ctx, `UPDATE deliveries SET status = $2, received_at = $3, updated_at = NOW() WHERE id = $1`,
		id, string(status), receivedAt)
	if err != nil {
		return fmt.Errorf("delivery: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &NotFoundError{Entity: "delivery", ID: id}
	}
	return nil
}

func (t *txRepo) UpdateDeliveryTotal(ctx context.Context, id int64, total decimal.Decimal) error {
	if _, err := t.tx.Exec(ctx, `UPDATE deliveries SET total_cost = $2, updated_at = NOW() WHERE id = $1`, id, total); err != nil {
		return fmt.Errorf("delivery: update total: %w", err)
	}
	return nil
}

func (t *txRepo) CreateReturn(ctx context.Context, r *Return) error {
	now := time.Now()
	err := t.tx.QueryRow(ctx, `INSERT INTO delivery_returns (delivery_id, purchase_order_id, return_no, reason, returned_at, total_cost, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		r.DeliveryID, r.PurchaseOrderID, r.ReturnNo, r.Reason, r.ReturnedAt, r.TotalCost, now).Scan(&r.ID)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return &procurement.ConflictError{Entity: "return", Reason: "return " + r.ReturnNo + " already exists"}
		}
		return fmt.Errorf("delivery: insert return: %w", err)
	}
	r.CreatedAt = now
	for i := range r.Items {
		item := &r.Items[i]
		item.ReturnID = r.ID
		if err := t.tx.QueryRow(ctx, `INSERT INTO delivery_return_items (return_id, delivery_item_id, order_line_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			r.ID, item.DeliveryItemID, item.OrderLineID, item.Quantity, item.UnitPrice).Scan(&item.ID); err != nil {
			return fmt.Errorf("delivery: insert return item: %w", err)
		}
	}
	return nil
}

func (t *txRepo) CreateRework(ctx context.Context, r *Rework) error {
	now := time.Now()
	err := t.tx.QueryRow(ctx, `INSERT INTO delivery_reworks (delivery_id, purchase_order_id, rework_no, reason, scheduled_at, total_cost, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		r.DeliveryID, r.PurchaseOrderID, r.ReworkNo, r.Reason, r.ScheduledAt, r.TotalCost, now).Scan(&r.ID)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return &procurement.ConflictError{Entity: "rework", Reason: "rework " + r.ReworkNo + " already exists"}
		}
		return fmt.Errorf("delivery: insert rework: %w", err)
	}
	r.CreatedAt = now
	for i := range r.Services {
		svc := &r.Services[i]
		svc.ReworkID = r.ID
		if err := t.tx.QueryRow(ctx, `INSERT INTO delivery_rework_services (rework_id, delivery_service_id, catalog_id, hours, hourly_rate)
			VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			r.ID, svc.DeliveryServiceID, svc.Ref.ID, svc.Hours, svc.HourlyRate).Scan(&svc.ID); err != nil {
			return fmt.Errorf("delivery: insert rework service: %w", err)
		}
	}
	return nil
}
