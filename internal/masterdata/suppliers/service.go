package suppliers

import (
	"context"
	"log/slog"

	"github.com/odyssey-erp/odyssey-procurement/internal/masterdata/catalog"
	"github.com/odyssey-erp/odyssey-procurement/internal/masterdata/shared"
)

// Invalidator is notified whenever supplier data changes so derived caches
// such as supplier rankings can be discarded.
type Invalidator interface {
	Bump(ctx context.Context) error
}

type Service struct {
	repo        Repository
	invalidator Invalidator
	logger      *slog.Logger
}

func NewService(repo Repository, invalidator Invalidator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, invalidator: invalidator, logger: logger}
}

func (s *Service) List(ctx context.Context, filters shared.ListFilters) ([]Supplier, int, error) {
	return s.repo.List(ctx, filters)
}

func (s *Service) Get(ctx context.Context, id int64) (Supplier, error) {
	if id <= 0 {
		return Supplier{}, &ValidationError{Name: "id", Reason: "must be positive"}
	}
	return s.repo.Get(ctx, id)
}

// Covering returns every supplier able to fulfil at least one of refs.
func (s *Service) Covering(ctx context.Context, refs []catalog.Ref) ([]Supplier, error) {
	return s.repo.ListCovering(ctx, refs)
}

func (s *Service) Create(ctx context.Context, supplier Supplier) (Supplier, error) {
	if err := s.validate(supplier); err != nil {
		return Supplier{}, err
	}
	created, err := s.repo.Create(ctx, supplier)
	if err != nil {
		return Supplier{}, err
	}
	s.invalidate(ctx, "create", created.ID)
	return created, nil
}

func (s *Service) Update(ctx context.Context, id int64, supplier Supplier) error {
	if id <= 0 {
		return &ValidationError{Name: "id", Reason: "must be positive"}
	}
	if err := s.validate(supplier); err != nil {
		return err
	}
	if err := s.repo.Update(ctx, id, supplier); err != nil {
		return err
	}
	s.invalidate(ctx, "update", id)
	return nil
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return &ValidationError{Name: "id", Reason: "must be positive"}
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, "delete", id)
	return nil
}

// invalidate failures are logged only; stale rankings expire with their TTL.
func (s *Service) invalidate(ctx context.Context, op string, id int64) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.Bump(ctx); err != nil {
		s.logger.Warn("supplier cache invalidation failed", slog.String("op", op), slog.Int64("supplier_id", id), slog.Any("error", err))
	}
}
