package memory

import (
	"context"
	"fmt"
	"log"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"nexpos/backend/internal/barcode"
	"nexpos/backend/internal/domain"
	"nexpos/backend/internal/ledger"
	"nexpos/backend/internal/store"
	"nexpos/backend/internal/xid"
)

type Store struct {
	mu sync.RWMutex

	products      map[int64]domain.Product
	sales         map[int64]*domain.Sale
	clients       map[int64]domain.Client
	payments      []domain.Payment
	taxes         map[int64]domain.Tax
	users         map[string]domain.User
	auditLogs     []domain.AuditLog
	settings      domain.Settings
	nextProductID int64
	nextSaleID    int64
	nextItemID    int64
	nextClientID  int64
	nextPaymentID int64
	nextTaxID     int64
	nextUserID    int64
}

// Seed controls the demo data loaded by NewSeeded. Empty passwords fall back
// to dev defaults with a warning.
type Seed struct {
	AdminPassword   string
	CashierPassword string
	BcryptCost      int
}

func New() *Store {
	return &Store{
		products:  make(map[int64]domain.Product),
		sales:     make(map[int64]*domain.Sale),
		clients:   make(map[int64]domain.Client),
		payments:  make([]domain.Payment, 0, 64),
		taxes:     make(map[int64]domain.Tax),
		users:     make(map[string]domain.User),
		auditLogs: make([]domain.AuditLog, 0, 128),
		settings:  domain.DefaultSettings(),
	}
}

// NewSeeded builds a store for dev/demo mode with two accounts and a small
// catalog. These credentials are never used when DATABASE_URL is set.
func NewSeeded(seed Seed) *Store {
	s := New()

	if seed.AdminPassword == "" || seed.CashierPassword == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}
	cost := seed.BcryptCost
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}

	now := time.Now().UTC()
	for _, u := range []struct {
		username string
		password string
		fullName string
		role     string
	}{
		{"admin", orDefault(seed.AdminPassword, "admin123"), "Administrator", domain.RoleAdmin},
		{"cashier", orDefault(seed.CashierPassword, "cashier123"), "Cashier", domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), cost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		s.nextUserID++
		s.users[u.username] = domain.User{
			ID:           s.nextUserID,
			Username:     u.username,
			PasswordHash: string(hash),
			FullName:     u.fullName,
			Role:         u.role,
			Active:       true,
			CreatedAt:    now,
		}
	}

	for _, p := range []struct {
		name     string
		category string
		price    string
		cost     string
		stock    int
	}{
		{"Mineral Water 600ml", "beverage", "0.90", "0.45", 120},
		{"Instant Coffee Sachet", "beverage", "0.60", "0.30", 200},
		{"White Bread", "bakery", "2.40", "1.60", 30},
		{"UHT Milk 1L", "dairy", "1.85", "1.20", 48},
		{"Sugar 1kg", "grocery", "1.70", "1.35", 60},
		{"Potato Chips", "snack", "1.25", "0.70", 4},
		{"Bath Soap", "household", "0.95", "0.55", 40},
	} {
		s.nextProductID++
		id := s.nextProductID
		s.products[id] = domain.Product{
			ID:            id,
			Name:          p.name,
			Barcode:       barcode.Derive(id),
			Price:         decimal.RequireFromString(p.price),
			CostPrice:     decimal.RequireFromString(p.cost),
			StockQuantity: p.stock,
			MinStockLevel: domain.DefaultMinStockLevel,
			Category:      p.category,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
	}

	return s
}

func orDefault(val, fallback string) string {
	if val != "" {
		return val
	}
	return fallback
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}
	slices.SortFunc(products, compareProductByName)
	return products, nil
}

func (s *Store) ListLowStockProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, 16)
	for _, p := range s.products {
		if p.IsLowStock() {
			products = append(products, p)
		}
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.StockQuantity != b.StockQuantity {
			return a.StockQuantity - b.StockQuantity
		}
		return compareProductByName(a, b)
	})
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, &store.ProductNotFoundError{ProductID: id}
	}
	return &product, nil
}

func (s *Store) GetProductByBarcode(_ context.Context, code string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	code = strings.TrimSpace(code)
	if code == "" {
		return nil, store.ErrProductNotFound
	}
	for _, p := range s.products {
		if p.Barcode == code {
			product := p
			return &product, nil
		}
	}
	return nil, store.ErrProductNotFound
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product, derive func(id int64) []string) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.StockQuantity < 0 {
		return nil, store.Invalid("stock quantity cannot be negative")
	}
	product.Barcode = strings.TrimSpace(product.Barcode)
	if product.Barcode != "" && s.barcodeTaken(product.Barcode, 0) {
		return nil, duplicateBarcode(product.Barcode)
	}

	id := s.nextProductID + 1
	if product.Barcode == "" && derive != nil {
		candidates := derive(id)
		for _, code := range candidates {
			if code != "" && !s.barcodeTaken(code, 0) {
				product.Barcode = code
				break
			}
		}
		if product.Barcode == "" {
			// Burn the id like a sequence would, so the next create tries fresh codes.
			s.nextProductID = id
			return nil, fmt.Errorf("%w: generated barcodes %v are already in use", store.ErrConflict, candidates)
		}
	}

	now := time.Now().UTC()
	s.nextProductID = id
	product.ID = id
	product.CreatedAt = now
	product.UpdatedAt = now
	s.products[id] = product
	created := product
	return &created, nil
}

// UpdateProduct replaces the descriptive fields. Stock is only changed through
// sales, SetStock and IncreaseStock.
func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.products[product.ID]
	if !exists {
		return nil, &store.ProductNotFoundError{ProductID: product.ID}
	}
	product.Barcode = strings.TrimSpace(product.Barcode)
	if product.Barcode != "" && s.barcodeTaken(product.Barcode, product.ID) {
		return nil, duplicateBarcode(product.Barcode)
	}

	product.StockQuantity = current.StockQuantity
	product.CreatedAt = current.CreatedAt
	product.UpdatedAt = time.Now().UTC()
	s.products[product.ID] = product
	updated := product
	return &updated, nil
}

func (s *Store) DeleteProduct(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[id]; !exists {
		return &store.ProductNotFoundError{ProductID: id}
	}
	delete(s.products, id)

	// Sale lines keep their snapshot but lose the link.
	for _, sale := range s.sales {
		for i := range sale.Items {
			if sale.Items[i].ProductID != nil && *sale.Items[i].ProductID == id {
				sale.Items[i].ProductID = nil
			}
		}
	}
	return nil
}

func (s *Store) AssignBarcode(_ context.Context, id int64, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.products[id]
	if !exists {
		return false, &store.ProductNotFoundError{ProductID: id}
	}
	if product.Barcode != "" {
		return false, nil
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return false, store.Invalid("barcode is required")
	}
	if s.barcodeTaken(code, id) {
		return false, duplicateBarcode(code)
	}
	product.Barcode = code
	product.UpdatedAt = time.Now().UTC()
	s.products[id] = product
	return true, nil
}

func (s *Store) SetStock(_ context.Context, id int64, qty int) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if qty < 0 {
		return nil, store.Invalid("stock quantity cannot be negative")
	}
	product, exists := s.products[id]
	if !exists {
		return nil, &store.ProductNotFoundError{ProductID: id}
	}
	product.StockQuantity = qty
	product.UpdatedAt = time.Now().UTC()
	s.products[id] = product
	updated := product
	return &updated, nil
}

func (s *Store) IncreaseStock(_ context.Context, id int64, qty int) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if qty < 1 {
		return nil, store.Invalid("restock quantity must be at least 1")
	}
	product, exists := s.products[id]
	if !exists {
		return nil, &store.ProductNotFoundError{ProductID: id}
	}
	if product.StockQuantity > store.MaxQuantity-qty {
		return nil, store.ErrQuantityOutOfRange
	}
	product.StockQuantity += qty
	product.UpdatedAt = time.Now().UTC()
	s.products[id] = product
	updated := product
	return &updated, nil
}

// CreateSale checks every line, the client and the credit limit before it
// touches any state, so a failed sale leaves the store unchanged.
func (s *Store) CreateSale(ctx context.Context, draft domain.SaleDraft) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(draft.Lines) == 0 {
		return nil, store.ErrEmptyBasket
	}

	var client *domain.Client
	if draft.ClientID != nil {
		c, exists := s.clients[*draft.ClientID]
		if !exists {
			return nil, store.ErrClientNotFound
		}
		client = &c
	}

	requested := make(map[int64]int, len(draft.Lines))
	ids := make([]int64, 0, len(draft.Lines))
	for _, line := range draft.Lines {
		if line.Quantity < 1 {
			return nil, store.Invalid("quantity must be at least 1")
		}
		if _, seen := requested[line.ProductID]; !seen {
			ids = append(ids, line.ProductID)
		}
		requested[line.ProductID] += line.Quantity
	}
	slices.Sort(ids)
	for _, id := range ids {
		product, exists := s.products[id]
		if !exists {
			return nil, &store.ProductNotFoundError{ProductID: id}
		}
		if product.StockQuantity < requested[id] {
			return nil, &store.InsufficientStockError{
				ProductID:   id,
				ProductName: product.Name,
				Requested:   requested[id],
				Available:   product.StockQuantity,
			}
		}
	}

	total := decimal.Zero
	items := make([]domain.SaleItem, 0, len(draft.Lines))
	for _, line := range draft.Lines {
		product := s.products[line.ProductID]
		productID := product.ID
		lineTotal := product.Price.Mul(decimal.NewFromInt(int64(line.Quantity)))
		items = append(items, domain.SaleItem{
			ProductID:   &productID,
			ProductName: product.Name,
			UnitPrice:   product.Price,
			Quantity:    line.Quantity,
			Total:       lineTotal,
		})
		total = total.Add(lineTotal)
	}
	if !store.AmountInRange(total) {
		return nil, store.ErrAmountOutOfRange
	}

	if client != nil {
		balance := ledger.Balance(s.clientSales(client.ID), s.clientPayments(client.ID))
		if room, limited := ledger.Headroom(*client, balance); limited {
			if total.Sub(draft.AmountPaid).GreaterThan(room) {
				return nil, store.ErrCreditLimitExceeded
			}
		}
	}

	for _, id := range ids {
		product := s.products[id]
		product.StockQuantity -= requested[id]
		product.UpdatedAt = time.Now().UTC()
		s.products[id] = product
	}

	createdAt := draft.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	s.nextSaleID++
	sale := &domain.Sale{
		ID:            s.nextSaleID,
		CreatedAt:     createdAt,
		TotalAmount:   total,
		PaymentMethod: draft.PaymentMethod,
		ClientID:      draft.ClientID,
		UserID:        draft.UserID,
		TaxRate:       draft.TaxRate,
		TaxAmount:     domain.IncludedTax(total, draft.TaxRate),
		Items:         items,
	}
	for i := range sale.Items {
		s.nextItemID++
		sale.Items[i].ID = s.nextItemID
		sale.Items[i].SaleID = sale.ID
	}

	if client != nil && draft.AmountPaid.IsPositive() {
		s.nextPaymentID++
		saleID := sale.ID
		payment := domain.Payment{
			ID:        s.nextPaymentID,
			ClientID:  client.ID,
			SaleID:    &saleID,
			Amount:    draft.AmountPaid,
			Note:      domain.SalePaymentNote(sale.ID),
			CreatedAt: createdAt,
		}
		s.payments = append(s.payments, payment)
		sale.Payment = &payment
	}

	s.sales[sale.ID] = sale
	return cloneSale(sale), nil
}

func (s *Store) GetSale(_ context.Context, id int64) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.sales[id]
	if !exists {
		return nil, store.ErrSaleNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) ListRecentSales(_ context.Context, limit int) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.recentSales(time.Time{}, limit), nil
}

func (s *Store) CreateClient(_ context.Context, client domain.Client) (*domain.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	client.Name = strings.TrimSpace(client.Name)
	if client.Name == "" {
		return nil, store.Invalid("client name is required")
	}
	s.nextClientID++
	client.ID = s.nextClientID
	if client.CreatedAt.IsZero() {
		client.CreatedAt = time.Now().UTC()
	}
	s.clients[client.ID] = client
	created := client
	return &created, nil
}

func (s *Store) GetClient(_ context.Context, id int64) (*domain.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	client, exists := s.clients[id]
	if !exists {
		return nil, store.ErrClientNotFound
	}
	return &client, nil
}

func (s *Store) FindClientByName(_ context.Context, name string) (*domain.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	name = strings.TrimSpace(name)
	for _, client := range s.sortedClients() {
		if strings.EqualFold(client.Name, name) {
			found := client
			return &found, nil
		}
	}
	return nil, store.ErrClientNotFound
}

func (s *Store) ListClients(_ context.Context) ([]domain.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.sortedClients(), nil
}

func (s *Store) UpdateClient(_ context.Context, client domain.Client) (*domain.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.clients[client.ID]
	if !exists {
		return nil, store.ErrClientNotFound
	}
	client.Name = strings.TrimSpace(client.Name)
	if client.Name == "" {
		return nil, store.Invalid("client name is required")
	}
	client.CreatedAt = current.CreatedAt
	s.clients[client.ID] = client
	updated := client
	return &updated, nil
}

func (s *Store) DeleteClient(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.clients[id]; !exists {
		return store.ErrClientNotFound
	}
	if len(s.clientSales(id)) > 0 || len(s.clientPayments(id)) > 0 {
		return fmt.Errorf("%w: client %d has sales or payments", store.ErrConflict, id)
	}
	delete(s.clients, id)
	return nil
}

func (s *Store) CreatePayment(_ context.Context, payment domain.Payment) (*domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.clients[payment.ClientID]; !exists {
		return nil, store.ErrClientNotFound
	}
	if !payment.Amount.IsPositive() {
		return nil, store.ErrInvalidAmount
	}
	s.nextPaymentID++
	payment.ID = s.nextPaymentID
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}
	s.payments = append(s.payments, payment)
	created := payment
	return &created, nil
}

func (s *Store) GetClientLedger(_ context.Context, clientID int64) (*domain.ClientLedger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	client, exists := s.clients[clientID]
	if !exists {
		return nil, store.ErrClientNotFound
	}
	return &domain.ClientLedger{
		Client:   client,
		Sales:    s.clientSales(clientID),
		Payments: s.clientPayments(clientID),
	}, nil
}

func (s *Store) GetDashboard(_ context.Context, since time.Time, recentLimit int) (domain.Dashboard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dashboard := domain.Dashboard{
		ProductCount: len(s.products),
		ClientCount:  len(s.clients),
		RevenueToday: decimal.Zero,
	}
	for _, p := range s.products {
		if p.IsLowStock() {
			dashboard.LowStockCount++
		}
	}
	for _, sale := range s.sales {
		if sale.CreatedAt.Before(since) {
			continue
		}
		dashboard.SalesToday++
		dashboard.RevenueToday = dashboard.RevenueToday.Add(sale.TotalAmount)
	}
	dashboard.RecentSales = s.recentSales(time.Time{}, recentLimit)
	return dashboard, nil
}

func (s *Store) GetSettings(_ context.Context) (domain.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.settings, nil
}

func (s *Store) UpdateSettings(_ context.Context, settings domain.Settings) (domain.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings.UpdatedAt = time.Now().UTC()
	s.settings = settings
	return settings, nil
}

func (s *Store) ListTaxes(_ context.Context) ([]domain.Tax, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	taxes := make([]domain.Tax, 0, len(s.taxes))
	for _, tax := range s.taxes {
		taxes = append(taxes, tax)
	}
	slices.SortFunc(taxes, func(a, b domain.Tax) int {
		return compareID(a.ID, b.ID)
	})
	return taxes, nil
}

func (s *Store) CreateTax(_ context.Context, tax domain.Tax) (*domain.Tax, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextTaxID++
	tax.ID = s.nextTaxID
	if tax.Active {
		s.deactivateTaxes()
	}
	s.taxes[tax.ID] = tax
	created := tax
	return &created, nil
}

func (s *Store) UpdateTax(_ context.Context, tax domain.Tax) (*domain.Tax, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.taxes[tax.ID]; !exists {
		return nil, store.ErrTaxNotFound
	}
	if tax.Active {
		s.deactivateTaxes()
	}
	s.taxes[tax.ID] = tax
	updated := tax
	return &updated, nil
}

// GetActiveTax returns nil without error when no tax is active.
func (s *Store) GetActiveTax(_ context.Context) (*domain.Tax, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, tax := range s.taxes {
		if tax.Active {
			active := tax
			return &active, nil
		}
	}
	return nil, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, len(s.auditLogs))
	copy(result, s.auditLogs)
	// Appended in order, so a stable reverse keeps same-instant entries newest first.
	slices.Reverse(result)
	slices.SortStableFunc(result, func(a, b domain.AuditLog) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.User) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.PasswordHash) == "" {
		return nil, store.Invalid("username and password are required")
	}
	if _, exists := s.users[username]; exists {
		return nil, fmt.Errorf("%w: username %s already exists", store.ErrConflict, username)
	}
	s.nextUserID++
	user.ID = s.nextUserID
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.users[username] = user
	created := user
	return &created, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.User, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.User) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, exists := s.users[strings.ToLower(strings.TrimSpace(username))]
	if !exists {
		return nil, store.ErrUserNotFound
	}
	return &user, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(passwordHash) == "" {
		return store.Invalid("username and password are required")
	}
	user, exists := s.users[username]
	if !exists {
		return store.ErrUserNotFound
	}
	user.PasswordHash = passwordHash
	s.users[username] = user
	return nil
}

func (s *Store) SetUserActive(_ context.Context, username string, active bool) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	user, exists := s.users[username]
	if !exists {
		return nil, store.ErrUserNotFound
	}
	user.Active = active
	s.users[username] = user
	updated := user
	return &updated, nil
}

func (s *Store) barcodeTaken(code string, exceptID int64) bool {
	for id, p := range s.products {
		if id != exceptID && p.Barcode == code {
			return true
		}
	}
	return false
}

func (s *Store) deactivateTaxes() {
	for id, tax := range s.taxes {
		if tax.Active {
			tax.Active = false
			s.taxes[id] = tax
		}
	}
}

// clientSales returns the client's sales ordered by (date, id) ascending.
func (s *Store) clientSales(clientID int64) []domain.Sale {
	sales := make([]domain.Sale, 0, 8)
	for _, sale := range s.sales {
		if sale.ClientID != nil && *sale.ClientID == clientID {
			sales = append(sales, *cloneSale(sale))
		}
	}
	slices.SortFunc(sales, func(a, b domain.Sale) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return compareID(a.ID, b.ID)
	})
	return sales
}

func (s *Store) clientPayments(clientID int64) []domain.Payment {
	payments := make([]domain.Payment, 0, 8)
	for _, payment := range s.payments {
		if payment.ClientID == clientID {
			payments = append(payments, payment)
		}
	}
	slices.SortFunc(payments, func(a, b domain.Payment) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return compareID(a.ID, b.ID)
	})
	return payments
}

func (s *Store) recentSales(since time.Time, limit int) []domain.Sale {
	sales := make([]domain.Sale, 0, len(s.sales))
	for _, sale := range s.sales {
		if sale.CreatedAt.Before(since) {
			continue
		}
		sales = append(sales, *cloneSale(sale))
	}
	slices.SortFunc(sales, func(a, b domain.Sale) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return compareID(b.ID, a.ID)
	})
	if limit > 0 && len(sales) > limit {
		sales = sales[:limit]
	}
	return sales
}

func (s *Store) sortedClients() []domain.Client {
	clients := make([]domain.Client, 0, len(s.clients))
	for _, client := range s.clients {
		clients = append(clients, client)
	}
	slices.SortFunc(clients, func(a, b domain.Client) int {
		if c := strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)); c != 0 {
			return c
		}
		return compareID(a.ID, b.ID)
	})
	return clients
}

func duplicateBarcode(code string) error {
	return fmt.Errorf("%w: barcode %s is already in use", store.ErrConflict, code)
}

func compareProductByName(a, b domain.Product) int {
	if c := strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)); c != 0 {
		return c
	}
	return compareID(a.ID, b.ID)
}

func compareID(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cloneSale(src *domain.Sale) *domain.Sale {
	if src == nil {
		return nil
	}
	dup := *src
	dup.Items = make([]domain.SaleItem, len(src.Items))
	copy(dup.Items, src.Items)
	if src.Payment != nil {
		payment := *src.Payment
		dup.Payment = &payment
	}
	return &dup
}
