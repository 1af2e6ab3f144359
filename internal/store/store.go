package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"nexpos/backend/internal/domain"
)

// Error kinds. Concrete errors wrap one of these so the boundary can map them
// with errors.Is.
var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("invalid request")
	ErrForbidden  = errors.New("forbidden")
	ErrConflict   = errors.New("conflict")
	ErrStorage    = errors.New("storage failure")
)

var (
	ErrProductNotFound = fmt.Errorf("product %w", ErrNotFound)
	ErrClientNotFound  = fmt.Errorf("client %w", ErrNotFound)
	ErrSaleNotFound    = fmt.Errorf("sale %w", ErrNotFound)
	ErrUserNotFound    = fmt.Errorf("user %w", ErrNotFound)
	ErrTaxNotFound     = fmt.Errorf("tax %w", ErrNotFound)

	ErrInsufficientStock   = fmt.Errorf("%w: insufficient stock", ErrValidation)
	ErrEmptyBasket         = fmt.Errorf("%w: basket is empty", ErrValidation)
	ErrInvalidAmount       = fmt.Errorf("%w: amount must be positive", ErrValidation)
	ErrCreditLimitExceeded = fmt.Errorf("%w: credit limit exceeded", ErrValidation)
	ErrAmountOutOfRange    = fmt.Errorf("%w: amount exceeds 9999999999.99", ErrValidation)
	ErrQuantityOutOfRange  = fmt.Errorf("%w: quantity exceeds %d", ErrValidation, MaxQuantity)
)

// Schema bounds: money columns are NUMERIC(12,2), quantities INTEGER.
const MaxQuantity = math.MaxInt32

var amountLimit = decimal.New(1, 10)

// AmountInRange reports whether d fits a NUMERIC(12,2) column by magnitude.
func AmountInRange(d decimal.Decimal) bool {
	return d.Abs().LessThan(amountLimit)
}

// Invalid returns a validation error carrying a user-facing reason.
func Invalid(reason string) error {
	return fmt.Errorf("%w: %s", ErrValidation, reason)
}

type ProductNotFoundError struct {
	ProductID int64
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %d not found", e.ProductID)
}

func (e *ProductNotFoundError) Unwrap() error {
	return ErrProductNotFound
}

type InsufficientStockError struct {
	ProductID   int64
	ProductName string
	Requested   int
	Available   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.ProductName, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	ListLowStockProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	GetProductByBarcode(ctx context.Context, code string) (*domain.Product, error)
	// CreateProduct stores the product; when Barcode is empty the first free
	// code from derive(id) is stored inside the same unit of work.
	CreateProduct(ctx context.Context, product domain.Product, derive func(id int64) []string) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id int64) error
	// AssignBarcode sets the code only while the product has none. It reports
	// whether the row was changed.
	AssignBarcode(ctx context.Context, id int64, code string) (bool, error)
	SetStock(ctx context.Context, id int64, qty int) (*domain.Product, error)
	IncreaseStock(ctx context.Context, id int64, qty int) (*domain.Product, error)

	CreateSale(ctx context.Context, draft domain.SaleDraft) (*domain.Sale, error)
	GetSale(ctx context.Context, id int64) (*domain.Sale, error)
	ListRecentSales(ctx context.Context, limit int) ([]domain.Sale, error)

	CreateClient(ctx context.Context, client domain.Client) (*domain.Client, error)
	GetClient(ctx context.Context, id int64) (*domain.Client, error)
	FindClientByName(ctx context.Context, name string) (*domain.Client, error)
	ListClients(ctx context.Context) ([]domain.Client, error)
	UpdateClient(ctx context.Context, client domain.Client) (*domain.Client, error)
	DeleteClient(ctx context.Context, id int64) error
	CreatePayment(ctx context.Context, payment domain.Payment) (*domain.Payment, error)
	// GetClientLedger reads the client, its sales and its payments from a
	// single snapshot, each list ordered by (date, id) ascending.
	GetClientLedger(ctx context.Context, clientID int64) (*domain.ClientLedger, error)

	GetDashboard(ctx context.Context, since time.Time, recentLimit int) (domain.Dashboard, error)

	GetSettings(ctx context.Context) (domain.Settings, error)
	UpdateSettings(ctx context.Context, settings domain.Settings) (domain.Settings, error)

	ListTaxes(ctx context.Context) ([]domain.Tax, error)
	CreateTax(ctx context.Context, tax domain.Tax) (*domain.Tax, error)
	UpdateTax(ctx context.Context, tax domain.Tax) (*domain.Tax, error)
	GetActiveTax(ctx context.Context) (*domain.Tax, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.User) (*domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	UpdateUserPassword(ctx context.Context, username string, passwordHash string) error
	SetUserActive(ctx context.Context, username string, active bool) (*domain.User, error)
}
