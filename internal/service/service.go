package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"posledger/internal/cache"
	"posledger/internal/domain"
	"posledger/internal/lock"
	"posledger/internal/store"
	"posledger/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo             store.Repository
	reconCache       cache.ReconciliationCache
	locker           lock.Locker
	logger           *logrus.Logger
	defaultCompanyID string
	reconTTL         time.Duration
}

func New(repo store.Repository, reconCache cache.ReconciliationCache, locker lock.Locker, logger *logrus.Logger, defaultCompanyID string, reconTTL time.Duration) *Service {
	if reconCache == nil {
		reconCache = cache.NoopReconciliationCache{}
	}
	if locker == nil {
		locker = lock.NoopLocker{}
	}
	if logger == nil {
		logger = logrus.New()
	}
	if defaultCompanyID == "" {
		defaultCompanyID = "co_demo"
	}
	if reconTTL <= 0 {
		reconTTL = 15 * time.Second
	}

	return &Service{
		repo:             repo,
		reconCache:       reconCache,
		locker:           locker,
		logger:           logger,
		defaultCompanyID: defaultCompanyID,
		reconTTL:         reconTTL,
	}
}

func (s *Service) companyOrDefault(companyID string) string {
	if strings.TrimSpace(companyID) == "" {
		return s.defaultCompanyID
	}
	return companyID
}

func (s *Service) ListProducts(ctx context.Context, companyID string) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx, s.companyOrDefault(companyID))
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	req.CompanyID = s.companyOrDefault(req.CompanyID)
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Product{}, fmt.Errorf("product name is required: %w", store.ErrInvalidInput)
	}
	if req.PriceCents < 1 || req.InitialStock < 0 {
		return domain.Product{}, fmt.Errorf("price must be positive and stock non-negative: %w", store.ErrInvalidInput)
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		CompanyID:  req.CompanyID,
		Name:       req.Name,
		PriceCents: req.PriceCents,
		StockQty:   req.InitialStock,
		Active:     true,
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, req.CompanyID, "product_create", "product", created.ID, fmt.Sprintf("name=%s,price=%d,stock=%d", created.Name, created.PriceCents, created.StockQty))
	return *created, nil
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	req.CompanyID = s.companyOrDefault(req.CompanyID)
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Customer{}, fmt.Errorf("customer name is required: %w", store.ErrInvalidInput)
	}

	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		CompanyID: req.CompanyID,
		Name:      req.Name,
		Phone:     strings.TrimSpace(req.Phone),
	})
	if err != nil {
		return domain.Customer{}, err
	}

	s.logAudit(ctx, req.CompanyID, "customer_create", "customer", created.ID, created.Name)
	return *created, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, companyID string, date string, limit int) ([]domain.AuditLog, error) {
	companyID = s.companyOrDefault(companyID)
	if limit < 1 || limit > 500 {
		limit = 100
	}

	day := time.Now().UTC()
	if date != "" {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, fmt.Errorf("date must be YYYY-MM-DD: %w", store.ErrInvalidInput)
		}
		day = parsed
	}
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, companyID, from, to, limit)
}

func (s *Service) logAudit(ctx context.Context, companyID string, action string, entityType string, entityID string, detail string) {
	if companyID == "" {
		companyID = s.defaultCompanyID
	}

	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:         xid.New("audit"),
		CompanyID:  companyID,
		Actor:      actor.Username,
		Role:       actor.Role,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
		CreatedAt:  time.Now().UTC(),
	}); err != nil {
		s.logger.WithFields(logrus.Fields{
			"action":      action,
			"entity_type": entityType,
			"entity_id":   entityID,
		}).WithError(err).Warn("failed to write audit log")
	}
}
