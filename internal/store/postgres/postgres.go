package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"nexpos/backend/internal/domain"
	"nexpos/backend/internal/store"
	"nexpos/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const productColumns = `id, name, description, COALESCE(barcode, ''), price, cost_price, stock_quantity, min_stock_level, category, created_at, updated_at`

func scanProduct(row scanner) (*domain.Product, error) {
	var p domain.Product
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Barcode, &p.Price, &p.CostPrice,
		&p.StockQuantity, &p.MinStockLevel, &p.Category, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) listProducts(ctx context.Context, op string, query string) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, storageErr(op, err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, storageErr(op, err)
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(op, err)
	}
	return products, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.listProducts(ctx, "list products", `
		SELECT `+productColumns+`
		FROM products
		ORDER BY lower(name), id
	`)
}

func (s *Store) ListLowStockProducts(ctx context.Context) ([]domain.Product, error) {
	return s.listProducts(ctx, "list low stock", `
		SELECT `+productColumns+`
		FROM products
		WHERE stock_quantity <= min_stock_level
		ORDER BY stock_quantity, lower(name), id
	`)
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &store.ProductNotFoundError{ProductID: id}
		}
		return nil, storageErr("get product", err)
	}
	return p, nil
}

func (s *Store) GetProductByBarcode(ctx context.Context, code string) (*domain.Product, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, store.ErrProductNotFound
	}
	p, err := scanProduct(s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE barcode = $1`, code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrProductNotFound
		}
		return nil, storageErr("get product by barcode", err)
	}
	return p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product, derive func(id int64) []string) (*domain.Product, error) {
	if product.StockQuantity < 0 {
		return nil, store.Invalid("stock quantity cannot be negative")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("create product", err)
	}
	defer func() { _ = tx.Rollback() }()

	product.Barcode = strings.TrimSpace(product.Barcode)
	err = tx.QueryRowContext(ctx, `
		INSERT INTO products (name, description, barcode, price, cost_price, stock_quantity, min_stock_level, category, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		RETURNING id, created_at, updated_at
	`, product.Name, product.Description, nullIfEmpty(product.Barcode), product.Price, product.CostPrice,
		product.StockQuantity, product.MinStockLevel, product.Category,
	).Scan(&product.ID, &product.CreatedAt, &product.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, duplicateBarcode(product.Barcode)
		}
		return nil, storageErr("create product", err)
	}

	if product.Barcode == "" && derive != nil {
		candidates := derive(product.ID)
		for _, code := range candidates {
			if code == "" {
				continue
			}
			var taken bool
			if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE barcode = $1)`, code).Scan(&taken); err != nil {
				return nil, storageErr("check derived barcode", err)
			}
			if !taken {
				product.Barcode = code
				break
			}
		}
		if product.Barcode == "" {
			return nil, fmt.Errorf("%w: generated barcodes %v are already in use", store.ErrConflict, candidates)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE products SET barcode = $2 WHERE id = $1`, product.ID, product.Barcode); err != nil {
			if isUniqueViolation(err) {
				return nil, duplicateBarcode(product.Barcode)
			}
			return nil, storageErr("assign derived barcode", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, storageErr("create product", err)
	}
	return &product, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	product.Barcode = strings.TrimSpace(product.Barcode)
	updated, err := scanProduct(s.db.QueryRowContext(ctx, `
		UPDATE products
		SET name = $2, description = $3, barcode = $4, price = $5, cost_price = $6,
		    min_stock_level = $7, category = $8, updated_at = now()
		WHERE id = $1
		RETURNING `+productColumns,
		product.ID, product.Name, product.Description, nullIfEmpty(product.Barcode), product.Price,
		product.CostPrice, product.MinStockLevel, product.Category,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &store.ProductNotFoundError{ProductID: product.ID}
		}
		if isUniqueViolation(err) {
			return nil, duplicateBarcode(product.Barcode)
		}
		return nil, storageErr("update product", err)
	}
	return updated, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return storageErr("delete product", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storageErr("delete product", err)
	}
	if affected == 0 {
		return &store.ProductNotFoundError{ProductID: id}
	}
	return nil
}

func (s *Store) AssignBarcode(ctx context.Context, id int64, code string) (bool, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return false, store.Invalid("barcode is required")
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET barcode = $2, updated_at = now()
		WHERE id = $1 AND (barcode IS NULL OR barcode = '')
	`, id, code)
	if err != nil {
		if isUniqueViolation(err) {
			return false, duplicateBarcode(code)
		}
		return false, storageErr("assign barcode", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, storageErr("assign barcode", err)
	}
	if affected == 1 {
		return true, nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, storageErr("assign barcode", err)
	}
	if !exists {
		return false, &store.ProductNotFoundError{ProductID: id}
	}
	return false, nil
}

func (s *Store) SetStock(ctx context.Context, id int64, qty int) (*domain.Product, error) {
	if qty < 0 {
		return nil, store.Invalid("stock quantity cannot be negative")
	}
	return s.updateStock(ctx, "set stock", `
		UPDATE products SET stock_quantity = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+productColumns, id, qty)
}

func (s *Store) IncreaseStock(ctx context.Context, id int64, qty int) (*domain.Product, error) {
	if qty < 1 {
		return nil, store.Invalid("restock quantity must be at least 1")
	}
	return s.updateStock(ctx, "increase stock", `
		UPDATE products SET stock_quantity = stock_quantity + $2, updated_at = now()
		WHERE id = $1
		RETURNING `+productColumns, id, qty)
}

func (s *Store) updateStock(ctx context.Context, op string, query string, id int64, qty int) (*domain.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, query, id, qty))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &store.ProductNotFoundError{ProductID: id}
		}
		return nil, storageErr(op, err)
	}
	return p, nil
}

type lockedProduct struct {
	id    int64
	name  string
	price decimal.Decimal
	stock int
}

// CreateSale runs the whole sale in one read-committed transaction. Product
// rows are locked in ascending id order so concurrent sales cannot deadlock,
// and the decrement re-checks stock so a row can never go negative.
func (s *Store) CreateSale(ctx context.Context, draft domain.SaleDraft) (*domain.Sale, error) {
	if len(draft.Lines) == 0 {
		return nil, store.ErrEmptyBasket
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
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, storageErr("begin sale", err)
	}
	defer func() { _ = tx.Rollback() }()

	var client *domain.Client
	if draft.ClientID != nil {
		client, err = scanClient(tx.QueryRowContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = $1 FOR UPDATE`, *draft.ClientID))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, store.ErrClientNotFound
			}
			return nil, storageErr("lock client", err)
		}
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT id, name, price, stock_quantity
		FROM products
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, ids)
	if err != nil {
		return nil, storageErr("lock products", err)
	}
	locked := make(map[int64]lockedProduct, len(ids))
	for rows.Next() {
		var p lockedProduct
		if err := rows.Scan(&p.id, &p.name, &p.price, &p.stock); err != nil {
			_ = rows.Close()
			return nil, storageErr("lock products", err)
		}
		locked[p.id] = p
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, storageErr("lock products", err)
	}
	_ = rows.Close()

	for _, id := range ids {
		p, exists := locked[id]
		if !exists {
			return nil, &store.ProductNotFoundError{ProductID: id}
		}
		if p.stock < requested[id] {
			return nil, &store.InsufficientStockError{ProductID: id, ProductName: p.name, Requested: requested[id], Available: p.stock}
		}
	}

	total := decimal.Zero
	items := make([]domain.SaleItem, 0, len(draft.Lines))
	for _, line := range draft.Lines {
		p := locked[line.ProductID]
		productID := p.id
		lineTotal := p.price.Mul(decimal.NewFromInt(int64(line.Quantity)))
		items = append(items, domain.SaleItem{
			ProductID:   &productID,
			ProductName: p.name,
			UnitPrice:   p.price,
			Quantity:    line.Quantity,
			Total:       lineTotal,
		})
		total = total.Add(lineTotal)
	}
	if !store.AmountInRange(total) {
		return nil, store.ErrAmountOutOfRange
	}

	if client != nil && client.CreditLimit != nil {
		var balance decimal.Decimal
		if err := tx.QueryRowContext(ctx, `
			SELECT
				COALESCE((SELECT SUM(total_amount) FROM sales WHERE client_id = $1), 0)
				- COALESCE((SELECT SUM(amount) FROM payments WHERE client_id = $1), 0)
		`, client.ID).Scan(&balance); err != nil {
			return nil, storageErr("client balance", err)
		}
		if balance.Add(total).Sub(draft.AmountPaid).GreaterThan(*client.CreditLimit) {
			return nil, store.ErrCreditLimitExceeded
		}
	}

	for _, id := range ids {
		res, err := tx.ExecContext(ctx, `
			UPDATE products
			SET stock_quantity = stock_quantity - $1, updated_at = now()
			WHERE id = $2 AND stock_quantity >= $1
		`, requested[id], id)
		if err != nil {
			return nil, storageErr("decrement stock", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, storageErr("decrement stock", err)
		}
		if affected != 1 {
			p := locked[id]
			return nil, &store.InsufficientStockError{ProductID: id, ProductName: p.name, Requested: requested[id], Available: p.stock}
		}
	}

	createdAt := draft.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	sale := &domain.Sale{
		CreatedAt:     createdAt,
		TotalAmount:   total,
		PaymentMethod: draft.PaymentMethod,
		ClientID:      draft.ClientID,
		UserID:        draft.UserID,
		TaxRate:       draft.TaxRate,
		TaxAmount:     domain.IncludedTax(total, draft.TaxRate),
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO sales (created_at, total_amount, payment_method, client_id, user_id, tax_rate, tax_amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, sale.CreatedAt, sale.TotalAmount, sale.PaymentMethod, nullInt64(sale.ClientID), nullIfZero(sale.UserID),
		sale.TaxRate, sale.TaxAmount,
	).Scan(&sale.ID)
	if err != nil {
		return nil, storageErr("insert sale", err)
	}

	for i := range items {
		items[i].SaleID = sale.ID
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO sale_items (sale_id, product_id, product_name, unit_price, quantity, total)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id
		`, sale.ID, *items[i].ProductID, items[i].ProductName, items[i].UnitPrice, items[i].Quantity, items[i].Total,
		).Scan(&items[i].ID); err != nil {
			return nil, storageErr("insert sale item", err)
		}
	}
	sale.Items = items

	if client != nil && draft.AmountPaid.IsPositive() {
		saleID := sale.ID
		payment := domain.Payment{
			ClientID:  client.ID,
			SaleID:    &saleID,
			Amount:    draft.AmountPaid,
			Note:      domain.SalePaymentNote(sale.ID),
			CreatedAt: createdAt,
		}
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO payments (client_id, sale_id, amount, note, created_at)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		`, payment.ClientID, saleID, payment.Amount, payment.Note, payment.CreatedAt).Scan(&payment.ID); err != nil {
			return nil, storageErr("insert sale payment", err)
		}
		sale.Payment = &payment
	}

	if err := tx.Commit(); err != nil {
		return nil, storageErr("commit sale", err)
	}
	return sale, nil
}

const saleColumns = `id, created_at, total_amount, payment_method, client_id, user_id, tax_rate, tax_amount`

func scanSale(row scanner) (*domain.Sale, error) {
	var sale domain.Sale
	var clientID, userID sql.NullInt64
	if err := row.Scan(&sale.ID, &sale.CreatedAt, &sale.TotalAmount, &sale.PaymentMethod, &clientID, &userID,
		&sale.TaxRate, &sale.TaxAmount); err != nil {
		return nil, err
	}
	if clientID.Valid {
		id := clientID.Int64
		sale.ClientID = &id
	}
	sale.UserID = userID.Int64
	return &sale, nil
}

func (s *Store) GetSale(ctx context.Context, id int64) (*domain.Sale, error) {
	sale, err := scanSale(s.db.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrSaleNotFound
		}
		return nil, storageErr("get sale", err)
	}

	itemsBySale, err := loadSaleItems(ctx, s.db, []int64{id})
	if err != nil {
		return nil, err
	}
	sale.Items = itemsBySale[id]

	payment, err := scanPayment(s.db.QueryRowContext(ctx, `
		SELECT `+paymentColumns+` FROM payments WHERE sale_id = $1 ORDER BY id LIMIT 1
	`, id))
	switch {
	case err == nil:
		sale.Payment = payment
	case !errors.Is(err, sql.ErrNoRows):
		return nil, storageErr("get sale payment", err)
	}
	return sale, nil
}

func (s *Store) ListRecentSales(ctx context.Context, limit int) ([]domain.Sale, error) {
	return listRecentSales(ctx, s.db, limit)
}

func listRecentSales(ctx context.Context, q queryer, limit int) ([]domain.Sale, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, nullLimit(limit))
	if err != nil {
		return nil, storageErr("list sales", err)
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 64)
	ids := make([]int64, 0, 64)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, storageErr("list sales", err)
		}
		sales = append(sales, *sale)
		ids = append(ids, sale.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list sales", err)
	}
	if len(ids) == 0 {
		return sales, nil
	}

	itemsBySale, err := loadSaleItems(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	for i := range sales {
		sales[i].Items = itemsBySale[sales[i].ID]
	}
	return sales, nil
}

func loadSaleItems(ctx context.Context, q queryer, saleIDs []int64) (map[int64][]domain.SaleItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, sale_id, product_id, product_name, unit_price, quantity, total
		FROM sale_items
		WHERE sale_id = ANY($1)
		ORDER BY sale_id, id
	`, saleIDs)
	if err != nil {
		return nil, storageErr("load sale items", err)
	}
	defer rows.Close()

	items := make(map[int64][]domain.SaleItem, len(saleIDs))
	for rows.Next() {
		var item domain.SaleItem
		var productID sql.NullInt64
		if err := rows.Scan(&item.ID, &item.SaleID, &productID, &item.ProductName, &item.UnitPrice, &item.Quantity, &item.Total); err != nil {
			return nil, storageErr("load sale items", err)
		}
		if productID.Valid {
			id := productID.Int64
			item.ProductID = &id
		}
		items[item.SaleID] = append(items[item.SaleID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("load sale items", err)
	}
	return items, nil
}

const clientColumns = `id, name, phone, email, address, notes, credit_limit, created_at`

func scanClient(row scanner) (*domain.Client, error) {
	var c domain.Client
	var limit decimal.NullDecimal
	if err := row.Scan(&c.ID, &c.Name, &c.Phone, &c.Email, &c.Address, &c.Notes, &limit, &c.CreatedAt); err != nil {
		return nil, err
	}
	if limit.Valid {
		l := limit.Decimal
		c.CreditLimit = &l
	}
	return &c, nil
}

func (s *Store) CreateClient(ctx context.Context, client domain.Client) (*domain.Client, error) {
	client.Name = strings.TrimSpace(client.Name)
	if client.Name == "" {
		return nil, store.Invalid("client name is required")
	}
	created, err := scanClient(s.db.QueryRowContext(ctx, `
		INSERT INTO clients (name, phone, email, address, notes, credit_limit, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		RETURNING `+clientColumns,
		client.Name, client.Phone, client.Email, client.Address, client.Notes, nullDecimal(client.CreditLimit),
	))
	if err != nil {
		return nil, storageErr("create client", err)
	}
	return created, nil
}

func (s *Store) GetClient(ctx context.Context, id int64) (*domain.Client, error) {
	client, err := scanClient(s.db.QueryRowContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrClientNotFound
		}
		return nil, storageErr("get client", err)
	}
	return client, nil
}

func (s *Store) FindClientByName(ctx context.Context, name string) (*domain.Client, error) {
	client, err := scanClient(s.db.QueryRowContext(ctx, `
		SELECT `+clientColumns+`
		FROM clients
		WHERE lower(name) = lower($1)
		ORDER BY id
		LIMIT 1
	`, strings.TrimSpace(name)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrClientNotFound
		}
		return nil, storageErr("find client", err)
	}
	return client, nil
}

func (s *Store) ListClients(ctx context.Context) ([]domain.Client, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+clientColumns+` FROM clients ORDER BY lower(name), id`)
	if err != nil {
		return nil, storageErr("list clients", err)
	}
	defer rows.Close()

	clients := make([]domain.Client, 0, 64)
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, storageErr("list clients", err)
		}
		clients = append(clients, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list clients", err)
	}
	return clients, nil
}

func (s *Store) UpdateClient(ctx context.Context, client domain.Client) (*domain.Client, error) {
	client.Name = strings.TrimSpace(client.Name)
	if client.Name == "" {
		return nil, store.Invalid("client name is required")
	}
	updated, err := scanClient(s.db.QueryRowContext(ctx, `
		UPDATE clients
		SET name = $2, phone = $3, email = $4, address = $5, notes = $6, credit_limit = $7
		WHERE id = $1
		RETURNING `+clientColumns,
		client.ID, client.Name, client.Phone, client.Email, client.Address, client.Notes, nullDecimal(client.CreditLimit),
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrClientNotFound
		}
		return nil, storageErr("update client", err)
	}
	return updated, nil
}

func (s *Store) DeleteClient(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM clients WHERE id = $1`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: client %d has sales or payments", store.ErrConflict, id)
		}
		return storageErr("delete client", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storageErr("delete client", err)
	}
	if affected == 0 {
		return store.ErrClientNotFound
	}
	return nil
}

const paymentColumns = `id, client_id, sale_id, amount, note, created_at`

func scanPayment(row scanner) (*domain.Payment, error) {
	var p domain.Payment
	var saleID sql.NullInt64
	if err := row.Scan(&p.ID, &p.ClientID, &saleID, &p.Amount, &p.Note, &p.CreatedAt); err != nil {
		return nil, err
	}
	if saleID.Valid {
		id := saleID.Int64
		p.SaleID = &id
	}
	return &p, nil
}

func (s *Store) CreatePayment(ctx context.Context, payment domain.Payment) (*domain.Payment, error) {
	if !payment.Amount.IsPositive() {
		return nil, store.ErrInvalidAmount
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}
	created, err := scanPayment(s.db.QueryRowContext(ctx, `
		INSERT INTO payments (client_id, sale_id, amount, note, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+paymentColumns,
		payment.ClientID, nullInt64(payment.SaleID), payment.Amount, payment.Note, payment.CreatedAt,
	))
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrClientNotFound
		}
		return nil, storageErr("create payment", err)
	}
	return created, nil
}

// GetClientLedger reads from one repeatable-read snapshot so the balance and
// the movement list always agree.
func (s *Store) GetClientLedger(ctx context.Context, clientID int64) (*domain.ClientLedger, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, storageErr("begin ledger read", err)
	}
	defer func() { _ = tx.Rollback() }()

	client, err := scanClient(tx.QueryRowContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = $1`, clientID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrClientNotFound
		}
		return nil, storageErr("ledger client", err)
	}

	saleRows, err := tx.QueryContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE client_id = $1
		ORDER BY created_at, id
	`, clientID)
	if err != nil {
		return nil, storageErr("ledger sales", err)
	}
	sales := make([]domain.Sale, 0, 32)
	for saleRows.Next() {
		sale, err := scanSale(saleRows)
		if err != nil {
			_ = saleRows.Close()
			return nil, storageErr("ledger sales", err)
		}
		sales = append(sales, *sale)
	}
	if err := saleRows.Err(); err != nil {
		_ = saleRows.Close()
		return nil, storageErr("ledger sales", err)
	}
	_ = saleRows.Close()

	paymentRows, err := tx.QueryContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE client_id = $1
		ORDER BY created_at, id
	`, clientID)
	if err != nil {
		return nil, storageErr("ledger payments", err)
	}
	payments := make([]domain.Payment, 0, 32)
	for paymentRows.Next() {
		p, err := scanPayment(paymentRows)
		if err != nil {
			_ = paymentRows.Close()
			return nil, storageErr("ledger payments", err)
		}
		payments = append(payments, *p)
	}
	if err := paymentRows.Err(); err != nil {
		_ = paymentRows.Close()
		return nil, storageErr("ledger payments", err)
	}
	_ = paymentRows.Close()

	if err := tx.Commit(); err != nil {
		return nil, storageErr("ledger read", err)
	}
	return &domain.ClientLedger{Client: *client, Sales: sales, Payments: payments}, nil
}

func (s *Store) GetDashboard(ctx context.Context, since time.Time, recentLimit int) (domain.Dashboard, error) {
	var dashboard domain.Dashboard
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT count(*) FROM products),
			(SELECT count(*) FROM products WHERE stock_quantity <= min_stock_level),
			(SELECT count(*) FROM clients),
			(SELECT count(*) FROM sales WHERE created_at >= $1),
			(SELECT COALESCE(SUM(total_amount), 0) FROM sales WHERE created_at >= $1)
	`, since).Scan(&dashboard.ProductCount, &dashboard.LowStockCount, &dashboard.ClientCount,
		&dashboard.SalesToday, &dashboard.RevenueToday)
	if err != nil {
		return domain.Dashboard{}, storageErr("dashboard", err)
	}

	recent, err := listRecentSales(ctx, s.db, recentLimit)
	if err != nil {
		return domain.Dashboard{}, err
	}
	dashboard.RecentSales = recent
	return dashboard, nil
}

func (s *Store) GetSettings(ctx context.Context) (domain.Settings, error) {
	var settings domain.Settings
	err := s.db.QueryRowContext(ctx, `
		SELECT company_name, logo_url, currency_symbol, printer_name, updated_at
		FROM settings
		WHERE id = 1
	`).Scan(&settings.CompanyName, &settings.LogoURL, &settings.CurrencySymbol, &settings.PrinterName, &settings.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.DefaultSettings(), nil
		}
		return domain.Settings{}, storageErr("get settings", err)
	}
	return settings, nil
}

func (s *Store) UpdateSettings(ctx context.Context, settings domain.Settings) (domain.Settings, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO settings (id, company_name, logo_url, currency_symbol, printer_name, updated_at)
		VALUES (1, $1, $2, $3, $4, now())
		ON CONFLICT (id)
		DO UPDATE SET company_name = EXCLUDED.company_name, logo_url = EXCLUDED.logo_url,
		              currency_symbol = EXCLUDED.currency_symbol, printer_name = EXCLUDED.printer_name,
		              updated_at = EXCLUDED.updated_at
		RETURNING company_name, logo_url, currency_symbol, printer_name, updated_at
	`, settings.CompanyName, settings.LogoURL, settings.CurrencySymbol, settings.PrinterName,
	).Scan(&settings.CompanyName, &settings.LogoURL, &settings.CurrencySymbol, &settings.PrinterName, &settings.UpdatedAt)
	if err != nil {
		return domain.Settings{}, storageErr("update settings", err)
	}
	return settings, nil
}

func (s *Store) ListTaxes(ctx context.Context) ([]domain.Tax, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, rate, active FROM taxes ORDER BY id`)
	if err != nil {
		return nil, storageErr("list taxes", err)
	}
	defer rows.Close()

	taxes := make([]domain.Tax, 0, 8)
	for rows.Next() {
		var tax domain.Tax
		if err := rows.Scan(&tax.ID, &tax.Name, &tax.Rate, &tax.Active); err != nil {
			return nil, storageErr("list taxes", err)
		}
		taxes = append(taxes, tax)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list taxes", err)
	}
	return taxes, nil
}

func (s *Store) CreateTax(ctx context.Context, tax domain.Tax) (*domain.Tax, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("create tax", err)
	}
	defer func() { _ = tx.Rollback() }()

	if tax.Active {
		if _, err := tx.ExecContext(ctx, `UPDATE taxes SET active = false WHERE active`); err != nil {
			return nil, storageErr("deactivate taxes", err)
		}
	}
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO taxes (name, rate, active) VALUES ($1, $2, $3) RETURNING id
	`, tax.Name, tax.Rate, tax.Active).Scan(&tax.ID); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: another tax is already active", store.ErrConflict)
		}
		return nil, storageErr("create tax", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, storageErr("create tax", err)
	}
	return &tax, nil
}

func (s *Store) UpdateTax(ctx context.Context, tax domain.Tax) (*domain.Tax, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("update tax", err)
	}
	defer func() { _ = tx.Rollback() }()

	if tax.Active {
		if _, err := tx.ExecContext(ctx, `UPDATE taxes SET active = false WHERE active AND id <> $1`, tax.ID); err != nil {
			return nil, storageErr("deactivate taxes", err)
		}
	}
	res, err := tx.ExecContext(ctx, `UPDATE taxes SET name = $2, rate = $3, active = $4 WHERE id = $1`,
		tax.ID, tax.Name, tax.Rate, tax.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: another tax is already active", store.ErrConflict)
		}
		return nil, storageErr("update tax", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, storageErr("update tax", err)
	}
	if affected == 0 {
		return nil, store.ErrTaxNotFound
	}
	if err := tx.Commit(); err != nil {
		return nil, storageErr("update tax", err)
	}
	return &tax, nil
}

func (s *Store) GetActiveTax(ctx context.Context) (*domain.Tax, error) {
	var tax domain.Tax
	err := s.db.QueryRowContext(ctx, `SELECT id, name, rate, active FROM taxes WHERE active LIMIT 1`).
		Scan(&tax.ID, &tax.Name, &tax.Rate, &tax.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, storageErr("get active tax", err)
	}
	return &tax, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	if err != nil {
		return storageErr("create audit log", err)
	}
	return nil
}

func (s *Store) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, nullLimit(limit))
	if err != nil {
		return nil, storageErr("list audit logs", err)
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, 64)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType,
			&entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, storageErr("list audit logs", err)
		}
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list audit logs", err)
	}
	return logs, nil
}

const userColumns = `id, username, password_hash, full_name, role, active, created_at`

func scanUser(row scanner) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.FullName, &u.Role, &u.Active, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.User) (*domain.User, error) {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.PasswordHash) == "" {
		return nil, store.Invalid("username and password are required")
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	created, err := scanUser(s.db.QueryRowContext(ctx, `
		INSERT INTO users (username, password_hash, full_name, role, active, created_at)
		VALUES ($1, $2, $3, $4, true, now())
		RETURNING `+userColumns,
		user.Username, user.PasswordHash, user.FullName, user.Role,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: username %s already exists", store.ErrConflict, user.Username)
		}
		return nil, storageErr("create user", err)
	}
	return created, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY username`)
	if err != nil {
		return nil, storageErr("list users", err)
	}
	defer rows.Close()

	users := make([]domain.User, 0, 16)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, storageErr("list users", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list users", err)
	}
	return users, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`,
		strings.ToLower(strings.TrimSpace(username))))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrUserNotFound
		}
		return nil, storageErr("get user", err)
	}
	return u, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, passwordHash string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(passwordHash) == "" {
		return store.Invalid("username and password are required")
	}
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash = $2 WHERE username = $1`, username, passwordHash)
	if err != nil {
		return storageErr("update user password", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storageErr("update user password", err)
	}
	if affected == 0 {
		return store.ErrUserNotFound
	}
	return nil
}

func (s *Store) SetUserActive(ctx context.Context, username string, active bool) (*domain.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `
		UPDATE users SET active = $2 WHERE username = $1
		RETURNING `+userColumns,
		strings.ToLower(strings.TrimSpace(username)), active,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrUserNotFound
		}
		return nil, storageErr("set user active", err)
	}
	return u, nil
}

// storageErr wraps driver failures. Numeric overflow (22003) is the caller's
// input, so it becomes a validation error instead.
func storageErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "22003" {
		return fmt.Errorf("%s: %w: value out of range", op, store.ErrValidation)
	}
	return fmt.Errorf("%s: %w: %w", op, store.ErrStorage, err)
}

func duplicateBarcode(code string) error {
	return fmt.Errorf("%w: barcode %s is already in use", store.ErrConflict, code)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullIfZero(val int64) any {
	if val == 0 {
		return nil
	}
	return val
}

func nullInt64(val *int64) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullDecimal(val *decimal.Decimal) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullLimit(limit int) any {
	if limit < 1 {
		return nil
	}
	return limit
}
