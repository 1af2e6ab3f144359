package service

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/shopspring/decimal"

	"nexpos/backend/internal/domain"
	"nexpos/backend/internal/ledger"
	"nexpos/backend/internal/store"
)

func (s *Service) ListClients(ctx context.Context) ([]domain.Client, error) {
	if _, err := s.requireAnyRole(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListClients(ctx)
}

func (s *Service) GetClient(ctx context.Context, id int64) (domain.Client, error) {
	if _, err := s.requireAnyRole(ctx); err != nil {
		return domain.Client{}, err
	}
	client, err := s.repo.GetClient(ctx, id)
	if err != nil {
		return domain.Client{}, err
	}
	return *client, nil
}

func (s *Service) CreateClient(ctx context.Context, req domain.ClientCreateRequest) (domain.Client, error) {
	if _, err := s.requireAnyRole(ctx); err != nil {
		return domain.Client{}, err
	}

	client := domain.Client{
		Name:        strings.TrimSpace(req.Name),
		Phone:       strings.TrimSpace(req.Phone),
		Email:       strings.TrimSpace(req.Email),
		Address:     strings.TrimSpace(req.Address),
		Notes:       strings.TrimSpace(req.Notes),
		CreditLimit: req.CreditLimit,
	}
	if err := validateClient(client); err != nil {
		return domain.Client{}, err
	}

	created, err := s.repo.CreateClient(ctx, client)
	if err != nil {
		return domain.Client{}, err
	}
	s.logAudit(ctx, "client_create", "client", idString(created.ID), "name="+created.Name)
	s.invalidateDashboard(ctx)
	return *created, nil
}

func (s *Service) UpdateClient(ctx context.Context, id int64, req domain.ClientUpdateRequest) (domain.Client, error) {
	if _, err := s.requireAnyRole(ctx); err != nil {
		return domain.Client{}, err
	}

	existing, err := s.repo.GetClient(ctx, id)
	if err != nil {
		return domain.Client{}, err
	}

	updated := *existing
	if req.Name != nil {
		updated.Name = strings.TrimSpace(*req.Name)
	}
	if req.Phone != nil {
		updated.Phone = strings.TrimSpace(*req.Phone)
	}
	if req.Email != nil {
		updated.Email = strings.TrimSpace(*req.Email)
	}
	if req.Address != nil {
		updated.Address = strings.TrimSpace(*req.Address)
	}
	if req.Notes != nil {
		updated.Notes = strings.TrimSpace(*req.Notes)
	}
	if req.CreditLimit != nil {
		updated.CreditLimit = req.CreditLimit
	}
	if err := validateClient(updated); err != nil {
		return domain.Client{}, err
	}

	saved, err := s.repo.UpdateClient(ctx, updated)
	if err != nil {
		return domain.Client{}, err
	}
	s.logAudit(ctx, "client_update", "client", idString(saved.ID), "name="+saved.Name)
	return *saved, nil
}

// DeleteClient refuses clients that still have sales or payments.
func (s *Service) DeleteClient(ctx context.Context, id int64) error {
	if _, err := s.requireAnyRole(ctx); err != nil {
		return err
	}
	if err := s.repo.DeleteClient(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "client_delete", "client", idString(id), "")
	s.invalidateDashboard(ctx)
	return nil
}

// ClientAccount returns the client with its balance and movements, all read
// from one snapshot.
func (s *Service) ClientAccount(ctx context.Context, id int64) (domain.ClientAccount, error) {
	if _, err := s.requireAnyRole(ctx); err != nil {
		return domain.ClientAccount{}, err
	}
	l, err := s.repo.GetClientLedger(ctx, id)
	if err != nil {
		return domain.ClientAccount{}, err
	}
	return ledger.Account(*l), nil
}

func (s *Service) ComputeBalance(ctx context.Context, id int64) (decimal.Decimal, error) {
	if _, err := s.requireAnyRole(ctx); err != nil {
		return decimal.Zero, err
	}
	l, err := s.repo.GetClientLedger(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	return ledger.Balance(l.Sales, l.Payments), nil
}

func (s *Service) RegisterPayment(ctx context.Context, clientID int64, req domain.PaymentRequest) (domain.PaymentResponse, error) {
	if _, err := s.requireAnyRole(ctx); err != nil {
		return domain.PaymentResponse{}, err
	}
	if !req.Amount.IsPositive() {
		return domain.PaymentResponse{}, store.ErrInvalidAmount
	}
	if !isCents(req.Amount) {
		return domain.PaymentResponse{}, store.Invalid("amount cannot have more than two decimals")
	}
	if !store.AmountInRange(req.Amount) {
		return domain.PaymentResponse{}, store.ErrAmountOutOfRange
	}

	payment, err := s.repo.CreatePayment(ctx, domain.Payment{
		ClientID:  clientID,
		Amount:    req.Amount,
		Note:      strings.TrimSpace(req.Note),
		CreatedAt: s.now(),
	})
	if err != nil {
		return domain.PaymentResponse{}, err
	}

	resp := domain.PaymentResponse{Payment: *payment}
	balanceNote := "unknown"
	// The payment is committed; a failed balance read must not look like a
	// failed payment, or a retry would credit the client twice.
	if l, err := s.repo.GetClientLedger(ctx, clientID); err != nil {
		log.Printf("[service] WARN: balance unavailable after payment client=%d payment=%d: %v", clientID, payment.ID, err)
	} else {
		balance := ledger.Balance(l.Sales, l.Payments)
		resp.Balance = &balance
		balanceNote = balance.String()
	}

	s.logAudit(ctx, "payment_create", "client", idString(clientID), fmt.Sprintf("payment=%d,amount=%s,balance=%s", payment.ID, payment.Amount, balanceNote))
	return resp, nil
}

func validateClient(c domain.Client) error {
	if c.Name == "" {
		return store.Invalid("client name is required")
	}
	if c.Email != "" && !strings.Contains(c.Email, "@") {
		return store.Invalid("email address is not valid")
	}
	if c.CreditLimit != nil && (c.CreditLimit.IsNegative() || !isCents(*c.CreditLimit)) {
		return store.Invalid("credit limit must be a non-negative amount in cents")
	}
	if c.CreditLimit != nil && !store.AmountInRange(*c.CreditLimit) {
		return store.ErrAmountOutOfRange
	}
	return nil
}
