package procurement

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-procurement/internal/masterdata/catalog"
	"github.com/odyssey-erp/odyssey-procurement/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	CreateRequisition(ctx context.Context, req Requisition) (Requisition, error)
	LockRequisition(ctx context.Context, id int64) (Requisition, error)
	UpdateRequisitionStatus(ctx context.Context, id int64, status RequisitionStatus) error
	CreateOrder(ctx context.Context, po *PurchaseOrder) error
	LockOrder(ctx context.Context, id int64) (PurchaseOrder, error)
	// SaveOrderHeader persists header fields when po.Version still matches
	// the stored version, then bumps po.Version.
	SaveOrderHeader(ctx context.Context, po *PurchaseOrder) error
	InsertOrderLines(ctx context.Context, orderID int64, lines []OrderLine) ([]OrderLine, error)
	UpdateOrderLine(ctx context.Context, line OrderLine) error
	DeleteOrderLines(ctx context.Context, orderID int64, lineIDs []int64) error
	// ClaimLines registers requisition lines as owned by the order. A line
	// already claimed by another active order yields ConflictError.
	ClaimLines(ctx context.Context, orderID int64, requisitionLineIDs []int64) error
	ReleaseLines(ctx context.Context, orderID int64, requisitionLineIDs []int64) error
	ReleaseOrderClaims(ctx context.Context, orderID int64) error
}

type txRepo struct {
	tx pgx.Tx
}

// NewTx wraps an open transaction so other packages can take part in it.
func NewTx(tx pgx.Tx) TxRepository {
	return &txRepo{tx: tx}
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
	if db.IsSerializationFailure(err) {
		return &ConflictError{Entity: "transaction", Reason: "concurrent update, reload and retry"}
	}
	return err
}

const requisitionColumns = `id, number, status, order_type, requestor_id, priority, note, created_at, updated_at`

const orderColumns = `id, reference_no, order_type, status, supplier_id, payment_type, requisition_ids,
	total_cost, remarks, version, created_at, updated_at, submitted_at, issued_at, delivered_at, received_at`

const orderLineColumns = `id, order_id, requisition_id, requisition_line_id, catalog_kind, catalog_id,
	baseline, quantity, unit_price, selected`

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func scanRequisition(row pgx.Row) (Requisition, error) {
	var req Requisition
	var status, orderType, priority string
	if err := row.Scan(&req.ID, &req.Number, &status, &orderType, &req.RequestorID, &priority, &req.Note, &req.CreatedAt, &req.UpdatedAt); err != nil {
		return Requisition{}, err
	}
	req.Status = RequisitionStatus(status)
	req.OrderType = OrderType(orderType)
	req.Priority = Priority(priority)
	return req, nil
}

func loadRequisition(ctx context.Context, q querier, id int64, lock bool) (Requisition, error) {
	sql := `SELECT ` + requisitionColumns + ` FROM requisitions WHERE id = $1`
	if lock {
		sql += ` FOR UPDATE`
	}
	req, err := scanRequisition(q.QueryRow(ctx, sql, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Requisition{}, &NotFoundError{Entity: "requisition", ID: id}
		}
		return Requisition{}, fmt.Errorf("procurement: load requisition: %w", err)
	}
	rows, err := q.Query(ctx, `SELECT id, requisition_id, catalog_kind, catalog_id, requested_qty, unit_price, category_id
		FROM requisition_lines WHERE requisition_id = $1 ORDER BY id`, id)
	if err != nil {
		return Requisition{}, fmt.Errorf("procurement: load requisition lines: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var line RequisitionLine
		var kind string
		if err := rows.Scan(&line.ID, &line.RequisitionID, &kind, &line.Ref.ID, &line.RequestedQty, &line.UnitPrice, &line.CategoryID); err != nil {
			return Requisition{}, err
		}
		line.Ref.Kind = catalog.Kind(kind)
		req.Lines = append(req.Lines, line)
	}
	return req, rows.Err()
}

func scanOrder(row pgx.Row) (PurchaseOrder, error) {
	var po PurchaseOrder
	var orderType, status string
	var paymentType *string
	if err := row.Scan(&po.ID, &po.ReferenceNo, &orderType, &status, &po.SupplierID, &paymentType, &po.RequisitionIDs,
		&po.TotalCost, &po.Remarks, &po.Version, &po.CreatedAt, &po.UpdatedAt, &po.SubmittedAt, &po.IssuedAt,
		&po.DeliveredAt, &po.ReceivedAt); err != nil {
		return PurchaseOrder{}, err
	}
	po.OrderType = OrderType(orderType)
	po.Status = Status(status)
	if paymentType != nil {
		pt := PaymentType(*paymentType)
		po.PaymentType = &pt
	}
	return po, nil
}

func loadOrder(ctx context.Context, q querier, id int64, lock bool) (PurchaseOrder, error) {
	sql := `SELECT ` + orderColumns + ` FROM purchase_orders WHERE id = $1`
	if lock {
		sql += ` FOR UPDATE`
	}
	po, err := scanOrder(q.QueryRow(ctx, sql, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, &NotFoundError{Entity: "purchase order", ID: id}
		}
		return PurchaseOrder{}, fmt.Errorf("procurement: load order: %w", err)
	}
	rows, err := q.Query(ctx, `SELECT `+orderLineColumns+` FROM purchase_order_lines WHERE order_id = $1 ORDER BY id`, id)
	if err != nil {
		return PurchaseOrder{}, fmt.Errorf("procurement: load order lines: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var line OrderLine
		var kind string
		if err := rows.Scan(&line.ID, &line.OrderID, &line.RequisitionID, &line.RequisitionLineID, &kind, &line.Ref.ID,
			&line.Baseline, &line.Quantity, &line.UnitPrice, &line.Selected); err != nil {
			return PurchaseOrder{}, err
		}
		line.Ref.Kind = catalog.Kind(kind)
		po.Lines = append(po.Lines, line)
	}
	return po, rows.Err()
}

// GetRequisition returns a requisition with its lines.
func (r *Repository) GetRequisition(ctx context.Context, id int64) (Requisition, error) {
	return loadRequisition(ctx, r.pool, id, false)
}

// GetOrder returns a purchase order with its lines.
func (r *Repository) GetOrder(ctx context.Context, id int64) (PurchaseOrder, error) {
	return loadOrder(ctx, r.pool, id, false)
}

// ListOrders returns order headers ordered by newest first.
func (r *Repository) ListOrders(ctx context.Context, filters ListFilters) ([]PurchaseOrder, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if filters.Status != "" {
		args = append(args, string(filters.Status))
		where += ` AND status = $` + strconv.Itoa(len(args))
	}
	if filters.SupplierID > 0 {
		args = append(args, filters.SupplierID)
		where += ` AND supplier_id = $` + strconv.Itoa(len(args))
	}
	if filters.Search != "" {
		args = append(args, "%"+filters.Search+"%")
		where += ` AND reference_no ILIKE $` + strconv.Itoa(len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM purchase_orders`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("procurement: count orders: %w", err)
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = 25
	}
	args = append(args, limit, filters.Offset)
	sql := `SELECT ` + orderColumns + ` FROM purchase_orders` + where +
		` ORDER BY created_at DESC, id DESC LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("procurement: list orders: %w", err)
	}
	defer rows.Close()
	var orders []PurchaseOrder
	for rows.Next() {
		po, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		orders = append(orders, po)
	}
	return orders, total, rows.Err()
}

// ListOrderIDs pages through order ids in ascending order.
func (r *Repository) ListOrderIDs(ctx context.Context, afterID int64, limit int) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM purchase_orders WHERE id > $1 ORDER BY id LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("procurement: list order ids: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (t *txRepo) CreateRequisition(ctx context.Context, req Requisition) (Requisition, error) {
	now := time.Now()
	err := t.tx.QueryRow(ctx, `INSERT INTO requisitions (number, status, order_type, requestor_id, priority, note, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7) RETURNING id`,
		req.Number, string(req.Status), string(req.OrderType), req.RequestorID, string(req.Priority), req.Note, now).Scan(&req.ID)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Requisition{}, &ConflictError{Entity: "requisition", Reason: "number " + req.Number + " already exists"}
		}
		return Requisition{}, fmt.Errorf("procurement: insert requisition: %w", err)
	}
	req.CreatedAt, req.UpdatedAt = now, now
	for i := range req.Lines {
		line := &req.Lines[i]
		line.RequisitionID = req.ID
		if err := t.tx.QueryRow(ctx, `INSERT INTO requisition_lines (requisition_id, catalog_kind, catalog_id, requested_qty, unit_price, category_id)
			VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
			req.ID, string(line.Ref.Kind), line.Ref.ID, line.RequestedQty, line.UnitPrice, line.CategoryID).Scan(&line.ID); err != nil {
			return Requisition{}, fmt.Errorf("procurement: insert requisition line: %w", err)
		}
	}
	return req, nil
}

func (t *txRepo) LockRequisition(ctx context.Context, id int64) (Requisition, error) {
	return loadRequisition(ctx, t.tx, id, true)
}

func (t *txRepo) UpdateRequisitionStatus(ctx context.Context, id int64, status RequisitionStatus) error {
	tag, err := t.tx.Exec(ctx, `UPDATE requisitions SET status = $2, updated_at = NOW() WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("procurement: update requisition status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &NotFoundError{Entity: "requisition", ID: id}
	}
	return nil
}

func (t *txRepo) CreateOrder(ctx context.Context, po *PurchaseOrder) error {
	now := time.Now()
	err := t.tx.QueryRow(ctx, `INSERT INTO purchase_orders (reference_no, order_type, status, supplier_id, payment_type,
			requisition_ids, total_cost, remarks, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, $9, $9) RETURNING id`,
		po.ReferenceNo, string(po.OrderType), string(po.Status), po.SupplierID, paymentTypeArg(po.PaymentType),
		po.RequisitionIDs, po.TotalCost, po.Remarks, now).Scan(&po.ID)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return &ConflictError{Entity: "purchase order", Reason: "reference " + po.ReferenceNo + " already exists"}
		}
		return fmt.Errorf("procurement: insert order: %w", err)
	}
	po.Version = 1
	po.CreatedAt, po.UpdatedAt = now, now
	return nil
}

func (t *txRepo) LockOrder(ctx context.Context, id int64) (PurchaseOrder, error) {
	return loadOrder(ctx, t.tx, id, true)
}

func (t *txRepo) SaveOrderHeader(ctx context.Context, po *PurchaseOrder) error {
	now := time.Now()
	tag, err := t.tx.Exec(ctx, `UPDATE purchase_orders SET status = $3, supplier_id = $4, payment_type = $5,
			requisition_ids = $6, total_cost = $7, remarks = $8, submitted_at = $9, issued_at = $10,
			delivered_at = $11, received_at = $12, updated_at = $13, version = version + 1
		WHERE id = $1 AND version = $2`,
		po.ID, po.Version, string(po.Status), po.SupplierID, paymentTypeArg(po.PaymentType), po.RequisitionIDs,
		po.TotalCost, po.Remarks, po.SubmittedAt, po.IssuedAt, po.DeliveredAt, po.ReceivedAt, now)
	if err != nil {
		return fmt.Errorf("procurement: save order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &ConflictError{Entity: "purchase order", ID: po.ID, Reason: "stale version " + strconv.FormatInt(po.Version, 10)}
	}
	po.Version++
	po.UpdatedAt = now
	return nil
}

func (t *txRepo) InsertOrderLines(ctx context.Context, orderID int64, lines []OrderLine) ([]OrderLine, error) {
	out := make([]OrderLine, 0, len(lines))
	for _, line := range lines {
		line.OrderID = orderID
		if err := t.tx.QueryRow(ctx, `INSERT INTO purchase_order_lines (order_id, requisition_id, requisition_line_id,
				catalog_kind, catalog_id, baseline, quantity, unit_price, selected)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
			orderID, line.RequisitionID, line.RequisitionLineID, string(line.Ref.Kind), line.Ref.ID,
			line.Baseline, line.Quantity, line.UnitPrice, line.Selected).Scan(&line.ID); err != nil {
			return nil, fmt.Errorf("procurement: insert order line: %w", err)
		}
		out = append(out, line)
	}
	return out, nil
}

func (t *txRepo) UpdateOrderLine(ctx context.Context, line OrderLine) error {
	tag, err := t.tx.Exec(ctx, `UPDATE purchase_order_lines SET quantity = $3, selected = $4 WHERE id = $1 AND order_id = $2`,
		line.ID, line.OrderID, line.Quantity, line.Selected)
	if err != nil {
		return fmt.Errorf("procurement: update order line: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &NotFoundError{Entity: "order line", ID: line.ID}
	}
	return nil
}

func (t *txRepo) DeleteOrderLines(ctx context.Context, orderID int64, lineIDs []int64) error {
	if len(lineIDs) == 0 {
		return nil
	}
	if _, err := t.tx.Exec(ctx, `DELETE FROM purchase_order_lines WHERE order_id = $1 AND id = ANY($2)`, orderID, lineIDs); err != nil {
		return fmt.Errorf("procurement: delete order lines: %w", err)
	}
	return nil
}

func (t *txRepo) ClaimLines(ctx context.Context, orderID int64, requisitionLineIDs []int64) error {
	for _, lineID := range requisitionLineIDs {
		_, err := t.tx.Exec(ctx, `INSERT INTO requisition_line_claims (requisition_line_id, order_id, claimed_at) VALUES ($1, $2, NOW())`, lineID, orderID)
		if err != nil {
			if db.IsUniqueViolation(err) {
				return &ConflictError{Entity: "requisition line", ID: lineID, Reason: "already claimed by another active order"}
			}
			return fmt.Errorf("procurement: claim requisition line: %w", err)
		}
	}
	return nil
}

func (t *txRepo) ReleaseLines(ctx context.Context, orderID int64, requisitionLineIDs []int64) error {
	if len(requisitionLineIDs) == 0 {
		return nil
	}
	if _, err := t.tx.Exec(ctx, `DELETE FROM requisition_line_claims WHERE order_id = $1 AND requisition_line_id = ANY($2)`, orderID, requisitionLineIDs); err != nil {
		return fmt.Errorf("procurement: release requisition lines: %w", err)
	}
	return nil
}

func (t *txRepo) ReleaseOrderClaims(ctx context.Context, orderID int64) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM requisition_line_claims WHERE order_id = $1`, orderID); err != nil {
		return fmt.Errorf("procurement: release order claims: %w", err)
	}
	return nil
}

func paymentTypeArg(pt *PaymentType) *string {
	if pt == nil {
		return nil
	}
	s := string(*pt)
	return &s
}
