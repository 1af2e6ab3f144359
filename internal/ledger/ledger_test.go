package ledger

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexpos/backend/internal/domain"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestBalanceSalesMinusPayments(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	sales := []domain.Sale{{ID: 1, CreatedAt: at, TotalAmount: dec("100")}}
	payments := []domain.Payment{{ID: 1, CreatedAt: at.Add(time.Hour), Amount: dec("40")}}

	assert.True(t, Balance(sales, payments).Equal(dec("60")))

	payments = append(payments, domain.Payment{ID: 2, CreatedAt: at.Add(2 * time.Hour), Amount: dec("60")})
	assert.True(t, Balance(sales, payments).IsZero())
}

func TestBalanceCanBeNegativeWhenClientPrepaid(t *testing.T) {
	payments := []domain.Payment{{ID: 1, Amount: dec("25.50")}}
	assert.True(t, Balance(nil, payments).Equal(dec("-25.50")))
}

func TestMovementsNewestFirstWithDeterministicTies(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	sales := []domain.Sale{
		{ID: 1, CreatedAt: at, TotalAmount: dec("10")},
		{ID: 2, CreatedAt: at.Add(time.Hour), TotalAmount: dec("20")},
	}
	payments := []domain.Payment{
		{ID: 7, CreatedAt: at.Add(time.Hour), Amount: dec("5"), Note: "cash"},
		{ID: 8, CreatedAt: at.Add(-time.Hour), Amount: dec("1")},
	}

	first := Movements(sales, payments)
	require.Len(t, first, 4)

	assert.Equal(t, "Sale #2", first[0].Description)
	assert.Equal(t, domain.MovementSale, first[0].Kind)
	assert.Equal(t, "Payment: cash", first[1].Description)
	assert.Equal(t, domain.MovementPayment, first[1].Kind)
	assert.Equal(t, "Sale #1", first[2].Description)
	assert.Equal(t, "Payment:", first[3].Description)

	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Movements(sales, payments))
	}
}

func TestHeadroom(t *testing.T) {
	limit := dec("500")
	room, ok := Headroom(domain.Client{CreditLimit: &limit}, dec("120"))
	require.True(t, ok)
	assert.True(t, room.Equal(dec("380")))

	_, ok = Headroom(domain.Client{}, dec("120"))
	assert.False(t, ok)
}
