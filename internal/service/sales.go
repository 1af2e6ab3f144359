package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"nexpos/backend/internal/cache"
	"nexpos/backend/internal/domain"
	"nexpos/backend/internal/store"
)

// ProcessSale validates the basket and hands it to the repository, which
// decrements stock, snapshots prices and records any payment as one unit of
// work. A failed sale has no side effects.
func (s *Service) ProcessSale(ctx context.Context, req domain.SaleRequest) (domain.Sale, error) {
	actor, err := s.requireAnyRole(ctx)
	if err != nil {
		return domain.Sale{}, err
	}

	method := strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	if method == "" {
		method = domain.PaymentCash
	}
	if !isSupportedPaymentMethod(method) {
		return domain.Sale{}, store.Invalid("unsupported payment method " + method)
	}
	if req.ClientID != nil && *req.ClientID < 1 {
		return domain.Sale{}, store.Invalid("client id must be positive")
	}
	if method == domain.PaymentAccount && req.ClientID == nil {
		return domain.Sale{}, store.Invalid("account sales require a client")
	}
	if req.AmountPaid.IsNegative() || !isCents(req.AmountPaid) {
		return domain.Sale{}, store.Invalid("amount paid must be a non-negative amount in cents")
	}
	if !store.AmountInRange(req.AmountPaid) {
		return domain.Sale{}, store.ErrAmountOutOfRange
	}

	lines, err := normalizeLines(req.Items)
	if err != nil {
		return domain.Sale{}, err
	}

	// A payment is only recorded against a client account.
	amountPaid := req.AmountPaid
	if req.ClientID == nil {
		amountPaid = decimal.Zero
	}

	taxRate := decimal.Zero
	tax, err := s.repo.GetActiveTax(ctx)
	if err != nil {
		return domain.Sale{}, err
	}
	if tax != nil {
		taxRate = tax.Rate
	}

	sale, err := s.repo.CreateSale(ctx, domain.SaleDraft{
		UserID:        actor.UserID,
		ClientID:      req.ClientID,
		PaymentMethod: method,
		Lines:         lines,
		AmountPaid:    amountPaid,
		TaxRate:       taxRate,
		CreatedAt:     s.now(),
	})
	if err != nil {
		return domain.Sale{}, err
	}

	client := "-"
	if sale.ClientID != nil {
		client = idString(*sale.ClientID)
	}
	s.logAudit(ctx, "sale_create", "sale", idString(sale.ID), fmt.Sprintf("total=%s,payment=%s,client=%s,lines=%d,paid=%s", sale.TotalAmount, sale.PaymentMethod, client, len(sale.Items), amountPaid))
	s.invalidateDashboard(ctx)
	return *sale, nil
}

func (s *Service) GetSale(ctx context.Context, id int64) (domain.Sale, error) {
	if _, err := s.requireAnyRole(ctx); err != nil {
		return domain.Sale{}, err
	}
	sale, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

// ListRecentSales returns the newest sales first, 50 by default.
func (s *Service) ListRecentSales(ctx context.Context, limit int) ([]domain.Sale, error) {
	if _, err := s.requireAnyRole(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListRecentSales(ctx, clampLimit(limit, defaultRecentSales, maxRecentSales))
}

// Dashboard serves the cached summary when fresh and rebuilds it otherwise.
// Cache failures degrade to a direct read.
func (s *Service) Dashboard(ctx context.Context) (domain.Dashboard, error) {
	if _, err := s.requireAnyRole(ctx); err != nil {
		return domain.Dashboard{}, err
	}

	cached, hit, err := s.dashboards.Get(ctx, cache.DashboardKey)
	if err != nil {
		log.Printf("[service] WARN: dashboard cache read failed: %v", err)
	} else if hit && cached != nil {
		return *cached, nil
	}

	dashboard, err := s.repo.GetDashboard(ctx, startOfDay(s.now()), dashboardRecentSales)
	if err != nil {
		return domain.Dashboard{}, err
	}
	dashboard.GeneratedAt = s.now()
	dashboard.CurrencySymbol = s.Settings().CurrencySymbol

	if err := s.dashboards.Set(ctx, cache.DashboardKey, &dashboard, s.dashboardTTL); err != nil {
		log.Printf("[service] WARN: dashboard cache write failed: %v", err)
	}
	return dashboard, nil
}

// normalizeLines merges repeated products, keeping first-appearance order.
func normalizeLines(items []domain.SaleLineRequest) ([]domain.SaleLineRequest, error) {
	if len(items) == 0 {
		return nil, store.ErrEmptyBasket
	}

	merged := make([]domain.SaleLineRequest, 0, len(items))
	position := make(map[int64]int, len(items))
	for _, item := range items {
		if item.ProductID < 1 {
			return nil, store.Invalid("product id must be positive")
		}
		if item.Quantity < 1 {
			return nil, store.Invalid(fmt.Sprintf("quantity for product %d must be at least 1", item.ProductID))
		}
		if item.Quantity > store.MaxQuantity {
			return nil, store.ErrQuantityOutOfRange
		}
		if i, seen := position[item.ProductID]; seen {
			if merged[i].Quantity > store.MaxQuantity-item.Quantity {
				return nil, store.ErrQuantityOutOfRange
			}
			merged[i].Quantity += item.Quantity
			continue
		}
		position[item.ProductID] = len(merged)
		merged = append(merged, item)
	}
	return merged, nil
}

func isSupportedPaymentMethod(method string) bool {
	switch method {
	case domain.PaymentCash, domain.PaymentCard, domain.PaymentTransfer, domain.PaymentAccount:
		return true
	default:
		return false
	}
}

// startOfDay is local midnight for the day containing t.
func startOfDay(t time.Time) time.Time {
	local := t.In(time.Local)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.Local)
}
