package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)

const (
	PaymentCash     = "cash"
	PaymentCard     = "card"
	PaymentTransfer = "transfer"
	// PaymentAccount charges the sale to a client's current account.
	PaymentAccount = "account"
)

const (
	MovementSale    = "sale"
	MovementPayment = "payment"
)

const DefaultMinStockLevel = 5

type Product struct {
	ID            int64           `json:"id"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	Barcode       string          `json:"barcode"`
	Price         decimal.Decimal `json:"price"`
	CostPrice     decimal.Decimal `json:"cost_price"`
	StockQuantity int             `json:"stock_quantity"`
	MinStockLevel int             `json:"min_stock_level"`
	Category      string          `json:"category"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (p Product) IsLowStock() bool {
	return p.StockQuantity <= p.MinStockLevel
}

type ProductCreateRequest struct {
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	Barcode       string          `json:"barcode"`
	Category      string          `json:"category"`
	Price         decimal.Decimal `json:"price"`
	CostPrice     decimal.Decimal `json:"cost_price"`
	StockQuantity int             `json:"stock_quantity"`
	MinStockLevel *int            `json:"min_stock_level,omitempty"`
}

type ProductUpdateRequest struct {
	Name          *string          `json:"name,omitempty"`
	Description   *string          `json:"description,omitempty"`
	Barcode       *string          `json:"barcode,omitempty"`
	Category      *string          `json:"category,omitempty"`
	Price         *decimal.Decimal `json:"price,omitempty"`
	CostPrice     *decimal.Decimal `json:"cost_price,omitempty"`
	MinStockLevel *int             `json:"min_stock_level,omitempty"`
}

type StockRequest struct {
	Quantity int `json:"quantity"`
}

type BarcodeResponse struct {
	ProductID int64  `json:"product_id"`
	Barcode   string `json:"barcode"`
	Filename  string `json:"filename"`
}

type SaleLineRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type SaleRequest struct {
	Items         []SaleLineRequest `json:"items"`
	PaymentMethod string            `json:"payment_method"`
	ClientID      *int64            `json:"client_id,omitempty"`
	AmountPaid    decimal.Decimal   `json:"amount_paid"`
}

// SaleDraft is a validated basket handed to the repository. Prices and
// totals are resolved inside the sale transaction.
type SaleDraft struct {
	UserID        int64
	ClientID      *int64
	PaymentMethod string
	Lines         []SaleLineRequest
	AmountPaid    decimal.Decimal
	TaxRate       decimal.Decimal
	CreatedAt     time.Time
}

type SaleItem struct {
	ID          int64           `json:"id"`
	SaleID      int64           `json:"sale_id"`
	ProductID   *int64          `json:"product_id,omitempty"`
	ProductName string          `json:"product_name"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    int             `json:"quantity"`
	Total       decimal.Decimal `json:"total"`
}

type Sale struct {
	ID            int64           `json:"id"`
	CreatedAt     time.Time       `json:"created_at"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	PaymentMethod string          `json:"payment_method"`
	ClientID      *int64          `json:"client_id,omitempty"`
	UserID        int64           `json:"user_id"`
	TaxRate       decimal.Decimal `json:"tax_rate"`
	TaxAmount     decimal.Decimal `json:"tax_amount"`
	Items         []SaleItem      `json:"items,omitempty"`
	Payment       *Payment        `json:"payment,omitempty"`
}

// SalePaymentNote is the note stored on a payment taken while ringing up a sale.
func SalePaymentNote(saleID int64) string {
	return fmt.Sprintf("Payment received with sale #%d", saleID)
}

// IncludedTax returns the portion of a tax-inclusive total that belongs to a
// flat percentage rate.
func IncludedTax(total decimal.Decimal, ratePercent decimal.Decimal) decimal.Decimal {
	if !ratePercent.IsPositive() || !total.IsPositive() {
		return decimal.Zero
	}
	hundred := decimal.NewFromInt(100)
	return total.Mul(ratePercent).Div(hundred.Add(ratePercent)).Round(2)
}

type Client struct {
	ID          int64            `json:"id"`
	Name        string           `json:"name"`
	Phone       string           `json:"phone,omitempty"`
	Email       string           `json:"email,omitempty"`
	Address     string           `json:"address,omitempty"`
	Notes       string           `json:"notes,omitempty"`
	CreditLimit *decimal.Decimal `json:"credit_limit,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

type ClientCreateRequest struct {
	Name        string           `json:"name"`
	Phone       string           `json:"phone"`
	Email       string           `json:"email"`
	Address     string           `json:"address"`
	Notes       string           `json:"notes"`
	CreditLimit *decimal.Decimal `json:"credit_limit,omitempty"`
}

type ClientUpdateRequest struct {
	Name        *string          `json:"name,omitempty"`
	Phone       *string          `json:"phone,omitempty"`
	Email       *string          `json:"email,omitempty"`
	Address     *string          `json:"address,omitempty"`
	Notes       *string          `json:"notes,omitempty"`
	CreditLimit *decimal.Decimal `json:"credit_limit,omitempty"`
}

type Payment struct {
	ID        int64           `json:"id"`
	ClientID  int64           `json:"client_id"`
	SaleID    *int64          `json:"sale_id,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Note      string          `json:"note,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

type PaymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Note   string          `json:"note"`
}

// PaymentResponse omits Balance when it could not be read after the payment
// was recorded.
type PaymentResponse struct {
	Payment Payment          `json:"payment"`
	Balance *decimal.Decimal `json:"balance,omitempty"`
}

// ClientLedger is the raw material for balance and movement computation.
type ClientLedger struct {
	Client   Client
	Sales    []Sale
	Payments []Payment
}

type Movement struct {
	Date        time.Time       `json:"date"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Kind        string          `json:"kind"`
	ReferenceID int64           `json:"reference_id"`
}

type ClientAccount struct {
	Client    Client          `json:"client"`
	Balance   decimal.Decimal `json:"balance"`
	Movements []Movement      `json:"movements"`
}

type Dashboard struct {
	ProductCount   int             `json:"product_count"`
	LowStockCount  int             `json:"low_stock_count"`
	ClientCount    int             `json:"client_count"`
	SalesToday     int             `json:"sales_today"`
	RevenueToday   decimal.Decimal `json:"revenue_today"`
	RecentSales    []Sale          `json:"recent_sales"`
	GeneratedAt    time.Time       `json:"generated_at"`
	CurrencySymbol string          `json:"currency_symbol"`
}

type Settings struct {
	CompanyName    string    `json:"company_name"`
	LogoURL        string    `json:"logo_url"`
	CurrencySymbol string    `json:"currency_symbol"`
	PrinterName    string    `json:"printer_name"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func DefaultSettings() Settings {
	return Settings{
		CompanyName:    "NexPos",
		LogoURL:        "/static/images/logo.png",
		CurrencySymbol: "$",
	}
}

type SettingsUpdateRequest struct {
	CompanyName    *string `json:"company_name,omitempty"`
	LogoURL        *string `json:"logo_url,omitempty"`
	CurrencySymbol *string `json:"currency_symbol,omitempty"`
	PrinterName    *string `json:"printer_name,omitempty"`
}

type Tax struct {
	ID     int64           `json:"id"`
	Name   string          `json:"name"`
	Rate   decimal.Decimal `json:"rate"`
	Active bool            `json:"active"`
}

type TaxCreateRequest struct {
	Name   string          `json:"name"`
	Rate   decimal.Decimal `json:"rate"`
	Active bool            `json:"active"`
}

type TaxUpdateRequest struct {
	Name   *string          `json:"name,omitempty"`
	Rate   *decimal.Decimal `json:"rate,omitempty"`
	Active *bool            `json:"active,omitempty"`
}

type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	FullName     string    `json:"full_name,omitempty"`
	Role         string    `json:"role"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

type UserCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
}

type UserUpdateRequest struct {
	Active *bool `json:"active,omitempty"`
}

type PasswordResetRequest struct {
	Password string `json:"password"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Username    string `json:"username"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	UserID   int64
	Username string
	Role     string
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type ImportResult struct {
	Clients  int      `json:"clients"`
	Products int      `json:"products"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors"`
}
