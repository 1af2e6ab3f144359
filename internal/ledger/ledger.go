// Package ledger computes client current-account figures from sales and
// payments. Nothing here is persisted; balances are always recomputed.
package ledger

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"nexpos/backend/internal/domain"
)

// Balance is the sum of sale totals minus the sum of payments. A positive
// result means the client owes money.
func Balance(sales []domain.Sale, payments []domain.Payment) decimal.Decimal {
	balance := decimal.Zero
	for _, sale := range sales {
		balance = balance.Add(sale.TotalAmount)
	}
	for _, payment := range payments {
		balance = balance.Sub(payment.Amount)
	}
	return balance
}

// Movements merges sales and payments into one timeline, newest first.
// Entries with equal dates keep input order with sales ahead of payments.
func Movements(sales []domain.Sale, payments []domain.Payment) []domain.Movement {
	movements := make([]domain.Movement, 0, len(sales)+len(payments))
	for _, sale := range sales {
		movements = append(movements, domain.Movement{
			Date:        sale.CreatedAt,
			Description: fmt.Sprintf("Sale #%d", sale.ID),
			Amount:      sale.TotalAmount,
			Kind:        domain.MovementSale,
			ReferenceID: sale.ID,
		})
	}
	for _, payment := range payments {
		movements = append(movements, domain.Movement{
			Date:        payment.CreatedAt,
			Description: strings.TrimSpace("Payment: " + payment.Note),
			Amount:      payment.Amount,
			Kind:        domain.MovementPayment,
			ReferenceID: payment.ID,
		})
	}

	sort.SliceStable(movements, func(i, j int) bool {
		return movements[i].Date.After(movements[j].Date)
	})
	return movements
}

func Account(l domain.ClientLedger) domain.ClientAccount {
	return domain.ClientAccount{
		Client:    l.Client,
		Balance:   Balance(l.Sales, l.Payments),
		Movements: Movements(l.Sales, l.Payments),
	}
}

// Headroom returns how much more the client may owe before hitting its credit
// limit. ok is false when the client has no limit.
func Headroom(client domain.Client, balance decimal.Decimal) (decimal.Decimal, bool) {
	if client.CreditLimit == nil {
		return decimal.Zero, false
	}
	return client.CreditLimit.Sub(balance), true
}
