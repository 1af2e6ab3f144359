package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"nexpos/backend/internal/auth"
	"nexpos/backend/internal/domain"
	"nexpos/backend/internal/store"
)

var maxTaxRate = decimal.NewFromInt(100)

// LoadSettings fills the in-memory settings snapshot from the store.
func (s *Service) LoadSettings(ctx context.Context) error {
	settings, err := s.repo.GetSettings(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	s.settings.Store(&settings)
	return nil
}

// Settings returns the current snapshot without touching the store.
func (s *Service) Settings() domain.Settings {
	return *s.settings.Load()
}

func (s *Service) UpdateSettings(ctx context.Context, req domain.SettingsUpdateRequest) (domain.Settings, error) {
	if _, err := s.requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.Settings{}, err
	}

	next := s.Settings()
	if req.CompanyName != nil {
		next.CompanyName = strings.TrimSpace(*req.CompanyName)
	}
	if req.LogoURL != nil {
		next.LogoURL = strings.TrimSpace(*req.LogoURL)
	}
	if req.CurrencySymbol != nil {
		next.CurrencySymbol = strings.TrimSpace(*req.CurrencySymbol)
	}
	if req.PrinterName != nil {
		next.PrinterName = strings.TrimSpace(*req.PrinterName)
	}
	if next.CompanyName == "" {
		return domain.Settings{}, store.Invalid("company name is required")
	}
	if next.CurrencySymbol == "" || len(next.CurrencySymbol) > 8 {
		return domain.Settings{}, store.Invalid("currency symbol must be 1 to 8 characters")
	}

	saved, err := s.repo.UpdateSettings(ctx, next)
	if err != nil {
		return domain.Settings{}, err
	}
	s.settings.Store(&saved)

	s.logAudit(ctx, "settings_update", "settings", "1", fmt.Sprintf("company=%s,currency=%s", saved.CompanyName, saved.CurrencySymbol))
	s.invalidateDashboard(ctx)
	return saved, nil
}

func (s *Service) ListTaxes(ctx context.Context) ([]domain.Tax, error) {
	if _, err := s.requireRole(ctx, domain.RoleAdmin); err != nil {
		return nil, err
	}
	return s.repo.ListTaxes(ctx)
}

// CreateTax stores a flat rate. Activating it deactivates every other tax.
func (s *Service) CreateTax(ctx context.Context, req domain.TaxCreateRequest) (domain.Tax, error) {
	if _, err := s.requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.Tax{}, err
	}
	tax := domain.Tax{Name: strings.TrimSpace(req.Name), Rate: req.Rate, Active: req.Active}
	if err := validateTax(tax); err != nil {
		return domain.Tax{}, err
	}

	created, err := s.repo.CreateTax(ctx, tax)
	if err != nil {
		return domain.Tax{}, err
	}
	s.logAudit(ctx, "tax_create", "tax", idString(created.ID), fmt.Sprintf("name=%s,rate=%s,active=%t", created.Name, created.Rate, created.Active))
	return *created, nil
}

func (s *Service) UpdateTax(ctx context.Context, id int64, req domain.TaxUpdateRequest) (domain.Tax, error) {
	if _, err := s.requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.Tax{}, err
	}

	taxes, err := s.repo.ListTaxes(ctx)
	if err != nil {
		return domain.Tax{}, err
	}
	var tax *domain.Tax
	for i := range taxes {
		if taxes[i].ID == id {
			tax = &taxes[i]
			break
		}
	}
	if tax == nil {
		return domain.Tax{}, store.ErrTaxNotFound
	}

	if req.Name != nil {
		tax.Name = strings.TrimSpace(*req.Name)
	}
	if req.Rate != nil {
		tax.Rate = *req.Rate
	}
	if req.Active != nil {
		tax.Active = *req.Active
	}
	if err := validateTax(*tax); err != nil {
		return domain.Tax{}, err
	}

	updated, err := s.repo.UpdateTax(ctx, *tax)
	if err != nil {
		return domain.Tax{}, err
	}
	s.logAudit(ctx, "tax_update", "tax", idString(updated.ID), fmt.Sprintf("name=%s,rate=%s,active=%t", updated.Name, updated.Rate, updated.Active))
	return *updated, nil
}

// ActiveTax returns nil when no tax is active.
func (s *Service) ActiveTax(ctx context.Context) (*domain.Tax, error) {
	if _, err := s.requireAnyRole(ctx); err != nil {
		return nil, err
	}
	return s.repo.GetActiveTax(ctx)
}

func (s *Service) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if _, err := s.requireRole(ctx, domain.RoleAdmin); err != nil {
		return nil, err
	}
	return s.repo.ListAuditLogs(ctx, clampLimit(limit, defaultAuditLimit, 1000))
}

func (s *Service) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	resp, err := s.auth.Login(ctx, req)
	if err != nil {
		return domain.LoginResponse{}, err
	}
	ctx = WithActor(ctx, domain.Actor{Username: resp.Username, Role: resp.Role})
	s.logAudit(ctx, "login", "user", resp.Username, "")
	return resp, nil
}

func (s *Service) ListUsers(ctx context.Context) ([]domain.User, error) {
	actor, _ := ActorFromContext(ctx)
	return s.auth.ListUsers(ctx, actor)
}

func (s *Service) CreateUser(ctx context.Context, req domain.UserCreateRequest) (domain.User, error) {
	actor, _ := ActorFromContext(ctx)
	user, err := s.auth.CreateUser(ctx, actor, req)
	if err != nil {
		return domain.User{}, err
	}
	s.logAudit(ctx, "user_create", "user", user.Username, "role="+user.Role)
	return user, nil
}

func (s *Service) ResetPassword(ctx context.Context, username string, req domain.PasswordResetRequest) error {
	actor, _ := ActorFromContext(ctx)
	if err := s.auth.ResetPassword(ctx, actor, username, req.Password); err != nil {
		return err
	}
	s.logAudit(ctx, "user_password_reset", "user", strings.ToLower(strings.TrimSpace(username)), "")
	return nil
}

func (s *Service) SetUserActive(ctx context.Context, username string, req domain.UserUpdateRequest) (domain.User, error) {
	actor, _ := ActorFromContext(ctx)
	if req.Active == nil {
		if err := auth.Authorize(actor, domain.RoleAdmin); err != nil {
			return domain.User{}, err
		}
		return domain.User{}, store.Invalid("active is required")
	}
	user, err := s.auth.SetUserActive(ctx, actor, username, *req.Active)
	if err != nil {
		return domain.User{}, err
	}
	s.logAudit(ctx, "user_update", "user", user.Username, fmt.Sprintf("active=%t", user.Active))
	return user, nil
}

func validateTax(tax domain.Tax) error {
	if tax.Name == "" {
		return store.Invalid("tax name is required")
	}
	if tax.Rate.IsNegative() || tax.Rate.GreaterThan(maxTaxRate) || !isCents(tax.Rate) {
		return store.Invalid("tax rate must be between 0 and 100 with at most two decimals")
	}
	return nil
}
