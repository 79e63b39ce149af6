package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-procurement/internal/delivery"
	"github.com/odyssey-erp/odyssey-procurement/internal/masterdata/catalog"
	"github.com/odyssey-erp/odyssey-procurement/internal/masterdata/suppliers"
	"github.com/odyssey-erp/odyssey-procurement/internal/observability"
	"github.com/odyssey-erp/odyssey-procurement/internal/procurement"
	"github.com/odyssey-erp/odyssey-procurement/internal/shared"
)

// Services bundles the domain services shared by the API server and the worker.
type Services struct {
	Catalog     *catalog.CachedLookup
	Rankings    *procurement.RankingCache
	Suppliers   *suppliers.Service
	Procurement *procurement.Service
	Deliveries  *delivery.Service
	Idempotency *shared.IdempotencyStore
}

// NewServices wires repositories, caches and services. redisClient may be nil,
// in which case the ranking and catalog caches are bypassed.
func NewServices(cfg *Config, pool *pgxpool.Pool, redisClient *redis.Client, logger *slog.Logger, metrics *observability.Metrics) *Services {
	if cfg == nil {
		cfg = &Config{}
	}
	auditLogger := shared.NewAuditLogger(pool)
	approvals := shared.NewApprovalRecorder(pool, logger)

	rankings := procurement.NewRankingCache(redisClient, cfg.RankingCacheTTL)
	catalogLookup := catalog.NewCachedLookup(catalog.NewRepository(pool), redisClient, cfg.CatalogCacheTTL)
	supplierService := suppliers.NewService(suppliers.NewRepository(pool), rankings, logger)

	procurementService := procurement.NewService(
		procurement.NewRepository(pool),
		supplierService,
		catalogLookup,
		rankings,
		approvals,
		auditLogger,
		logger,
	)
	if metrics != nil {
		procurementService = procurementService.WithStatusListener(metrics)
	}
	deliveryService := delivery.NewService(delivery.NewRepository(pool), procurementService, auditLogger, logger)

	return &Services{
		Catalog:     catalogLookup,
		Rankings:    rankings,
		Suppliers:   supplierService,
		Procurement: procurementService,
		Deliveries:  deliveryService,
		Idempotency: shared.NewIdempotencyStore(pool),
	}
}
