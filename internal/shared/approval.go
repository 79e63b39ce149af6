package shared

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ApprovalAction enumerates approval log actions.
type ApprovalAction string

const (
	ApprovalSubmit  ApprovalAction = "SUBMIT"
	ApprovalApprove ApprovalAction = "APPROVE"
	ApprovalReject  ApprovalAction = "REJECT"
)

// Approval modules. Each document kind keeps its own history.
const (
	ApprovalModuleRequisition = "REQ"
	ApprovalModuleOrder       = "PO"
)

// ApprovalLog is one step in a document's approval history.
type ApprovalLog struct {
	ID      int64          `json:"id"`
	Module  string         `json:"module"`
	RefID   uuid.UUID      `json:"ref_id"`
	ActorID int64          `json:"actor_id"`
	Action  ApprovalAction `json:"action"`
	Note    string         `json:"note,omitempty"`
	At      time.Time      `json:"at"`
}

// ApprovalRef derives the stable reference id of a document. Requisitions and
// orders use bigint keys, the approvals table keys on UUIDs.
func ApprovalRef(module string, id int64) uuid.UUID {
	return uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("%s:%d", module, id)))
}

// ApprovalRecorder persists approval history in the approvals table.
type ApprovalRecorder struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	now    func() time.Time
}

// NewApprovalRecorder constructs ApprovalRecorder.
func NewApprovalRecorder(pool *pgxpool.Pool, logger *slog.Logger) *ApprovalRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &ApprovalRecorder{pool: pool, logger: logger, now: time.Now}
}

func validateApproval(log ApprovalLog) error {
	switch {
	case log.Module == "":
		return fmt.Errorf("approvals: module required: %w", ErrValidation)
	case log.ActorID == 0:
		return fmt.Errorf("approvals: actor required: %w", ErrValidation)
	case log.RefID == uuid.Nil:
		return fmt.Errorf("approvals: ref id required: %w", ErrValidation)
	}
	switch log.Action {
	case ApprovalSubmit, ApprovalApprove, ApprovalReject:
		return nil
	default:
		return fmt.Errorf("approvals: unknown action %q: %w", log.Action, ErrValidation)
	}
}

// Record appends an approval step.
func (r *ApprovalRecorder) Record(ctx context.Context, log ApprovalLog) error {
	if err := validateApproval(log); err != nil {
		return err
	}
	if log.At.IsZero() {
		log.At = r.now()
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO approvals (module, ref_id, actor_id, action, note, at)
VALUES ($1, $2, $3, $4, $5, $6)`, log.Module, log.RefID, log.ActorID, string(log.Action), log.Note, log.At)
	if err != nil {
		r.logger.Error("record approval", slog.String("module", log.Module), slog.String("action", string(log.Action)), slog.Any("error", err))
		return fmt.Errorf("approvals: record: %w", err)
	}
	return nil
}

// EnsureSubmit records a submit step unless the document already has one.
// Resubmitting an edited order keeps the first submit entry.
func (r *ApprovalRecorder) EnsureSubmit(ctx context.Context, module string, ref uuid.UUID, actorID int64, note string) error {
	log := ApprovalLog{Module: module, RefID: ref, ActorID: actorID, Action: ApprovalSubmit, Note: note}
	if err := validateApproval(log); err != nil {
		return err
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO approvals (module, ref_id, actor_id, action, note, at)
SELECT $1, $2, $3, 'SUBMIT', $4, $5
WHERE NOT EXISTS (SELECT 1 FROM approvals WHERE module = $1 AND ref_id = $2 AND action = 'SUBMIT')`,
		module, ref, actorID, note, r.now())
	if err != nil {
		return fmt.Errorf("approvals: ensure submit: %w", err)
	}
	return nil
}

// List returns the approval steps of one document, oldest first.
func (r *ApprovalRecorder) List(ctx context.Context, module string, ref uuid.UUID) ([]ApprovalLog, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, module, ref_id, actor_id, action, note, at
FROM approvals WHERE module = $1 AND ref_id = $2 ORDER BY at, id`, module, ref)
	if err != nil {
		return nil, fmt.Errorf("approvals: list: %w", err)
	}
	defer rows.Close()
	logs := []ApprovalLog{}
	for rows.Next() {
		var l ApprovalLog
		var action string
		if err := rows.Scan(&l.ID, &l.Module, &l.RefID, &l.ActorID, &action, &l.Note, &l.At); err != nil {
			return nil, err
		}
		l.Action = ApprovalAction(action)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
