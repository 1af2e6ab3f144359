package service

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"nexpos/backend/internal/auth"
	"nexpos/backend/internal/cache"
	"nexpos/backend/internal/domain"
	"nexpos/backend/internal/store"
	"nexpos/backend/internal/xid"
)

const (
	defaultRecentSales   = 50
	maxRecentSales       = 200
	dashboardRecentSales = 5
	defaultAuditLimit    = 100
	defaultDashboardTTL  = 15 * time.Second
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	DashboardCache cache.DashboardCache
	DashboardTTL   time.Duration
	// BarcodeDir, when set, receives a PNG for every rendered product barcode.
	BarcodeDir string
}

type Service struct {
	repo         store.Repository
	auth         *auth.Manager
	dashboards   cache.DashboardCache
	dashboardTTL time.Duration
	barcodeDir   string
	settings     atomic.Pointer[domain.Settings]
	now          func() time.Time
}

func New(repo store.Repository, authManager *auth.Manager, opts Options) *Service {
	if opts.DashboardCache == nil {
		opts.DashboardCache = cache.NoopDashboardCache{}
	}
	if opts.DashboardTTL <= 0 {
		opts.DashboardTTL = defaultDashboardTTL
	}

	s := &Service{
		repo:         repo,
		auth:         authManager,
		dashboards:   opts.DashboardCache,
		dashboardTTL: opts.DashboardTTL,
		barcodeDir:   opts.BarcodeDir,
		now:          func() time.Time { return time.Now().UTC() },
	}
	defaults := domain.DefaultSettings()
	s.settings.Store(&defaults)
	return s
}

// requireRole resolves the actor from ctx and checks it against roles.
func (s *Service) requireRole(ctx context.Context, roles ...string) (domain.Actor, error) {
	actor, _ := ActorFromContext(ctx)
	if err := auth.Authorize(actor, roles...); err != nil {
		return domain.Actor{}, err
	}
	return actor, nil
}

func (s *Service) requireAnyRole(ctx context.Context) (domain.Actor, error) {
	return s.requireRole(ctx, domain.RoleAdmin, domain.RoleCashier)
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

func (s *Service) invalidateDashboard(ctx context.Context) {
	if err := s.dashboards.Invalidate(ctx, cache.DashboardKey); err != nil {
		log.Printf("[service] WARN: failed to invalidate dashboard cache: %v", err)
	}
}

func clampLimit(limit int, fallback int, max int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > max {
		return max
	}
	return limit
}
