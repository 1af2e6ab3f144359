package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"nexpos/backend/internal/auth"
	"nexpos/backend/internal/barcode"
	"nexpos/backend/internal/domain"
	"nexpos/backend/internal/store"
	"nexpos/backend/internal/store/memory"
)

const (
	waterID = int64(1)
	chipsID = int64(6)
)

func newTestService(t *testing.T, opts Options) (*Service, *memory.Store) {
	t.Helper()
	repo := memory.NewSeeded(memory.Seed{AdminPassword: "admin123", CashierPassword: "cashier123", BcryptCost: bcrypt.MinCost})
	manager, err := auth.NewManager("0123456789abcdef0123456789abcdef", time.Hour, bcrypt.MinCost, repo)
	if err != nil {
		t.Fatalf("new auth manager: %v", err)
	}
	return New(repo, manager, opts), repo
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{UserID: 1, Username: "admin", Role: domain.RoleAdmin})
}

func cashierCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{UserID: 2, Username: "cashier", Role: domain.RoleCashier})
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func createProduct(t *testing.T, svc *Service, name string, price string, stock int) domain.Product {
	t.Helper()
	product, err := svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{Name: name, Price: money(price), StockQuantity: stock})
	if err != nil {
		t.Fatalf("create product %s: %v", name, err)
	}
	return product
}

func createClient(t *testing.T, svc *Service, name string, limit *decimal.Decimal) domain.Client {
	t.Helper()
	client, err := svc.CreateClient(cashierCtx(), domain.ClientCreateRequest{Name: name, CreditLimit: limit})
	if err != nil {
		t.Fatalf("create client %s: %v", name, err)
	}
	return client
}

func TestProcessSaleDecrementsStockAndSnapshotsPrice(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := cashierCtx()

	sale, err := svc.ProcessSale(ctx, domain.SaleRequest{Items: []domain.SaleLineRequest{{ProductID: waterID, Quantity: 3}}})
	if err != nil {
		t.Fatalf("process sale: %v", err)
	}
	if sale.PaymentMethod != domain.PaymentCash {
		t.Fatalf("expected default cash payment, got %s", sale.PaymentMethod)
	}
	if !sale.TotalAmount.Equal(money("2.70")) {
		t.Fatalf("expected total 2.70, got %s", sale.TotalAmount)
	}
	if sale.UserID != 2 {
		t.Fatalf("expected sale to record cashier user id, got %d", sale.UserID)
	}

	water, err := svc.GetProduct(ctx, waterID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if water.StockQuantity != 117 {
		t.Fatalf("expected stock 117, got %d", water.StockQuantity)
	}

	newPrice := money("1.10")
	if _, err := svc.UpdateProduct(adminCtx(), waterID, domain.ProductUpdateRequest{Price: &newPrice}); err != nil {
		t.Fatalf("update price: %v", err)
	}
	stored, err := svc.GetSale(ctx, sale.ID)
	if err != nil {
		t.Fatalf("get sale: %v", err)
	}
	if !stored.Items[0].UnitPrice.Equal(money("0.90")) {
		t.Fatalf("expected snapshot price 0.90, got %s", stored.Items[0].UnitPrice)
	}
}

func TestProcessSaleMergesRepeatedProducts(t *testing.T) {
	svc, _ := newTestService(t, Options{})

	sale, err := svc.ProcessSale(cashierCtx(), domain.SaleRequest{Items: []domain.SaleLineRequest{
		{ProductID: chipsID, Quantity: 2},
		{ProductID: waterID, Quantity: 1},
		{ProductID: chipsID, Quantity: 2},
	}})
	if err != nil {
		t.Fatalf("process sale: %v", err)
	}
	if len(sale.Items) != 2 {
		t.Fatalf("expected 2 sale lines, got %d", len(sale.Items))
	}
	if *sale.Items[0].ProductID != chipsID || sale.Items[0].Quantity != 4 {
		t.Fatalf("expected first line chips x4, got %+v", sale.Items[0])
	}

	chips, _ := svc.GetProduct(cashierCtx(), chipsID)
	if chips.StockQuantity != 0 {
		t.Fatalf("expected chips sold out, got %d", chips.StockQuantity)
	}
}

func TestProcessSaleInsufficientStockHasNoSideEffects(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := cashierCtx()

	_, err := svc.ProcessSale(ctx, domain.SaleRequest{Items: []domain.SaleLineRequest{
		{ProductID: waterID, Quantity: 1},
		{ProductID: chipsID, Quantity: 5},
	}})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	var stockErr *store.InsufficientStockError
	if !errors.As(err, &stockErr) || stockErr.ProductName != "Potato Chips" || stockErr.Available != 4 {
		t.Fatalf("expected error naming Potato Chips with 4 available, got %v", err)
	}

	water, _ := svc.GetProduct(ctx, waterID)
	if water.StockQuantity != 120 {
		t.Fatalf("expected water stock untouched, got %d", water.StockQuantity)
	}
	sales, err := svc.ListRecentSales(ctx, 0)
	if err != nil {
		t.Fatalf("list sales: %v", err)
	}
	if len(sales) != 0 {
		t.Fatalf("expected no sale recorded, got %d", len(sales))
	}
}

func TestProcessSaleUnknownProduct(t *testing.T) {
	svc, _ := newTestService(t, Options{})

	_, err := svc.ProcessSale(cashierCtx(), domain.SaleRequest{Items: []domain.SaleLineRequest{{ProductID: 999, Quantity: 1}}})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	var notFound *store.ProductNotFoundError
	if !errors.As(err, &notFound) || notFound.ProductID != 999 {
		t.Fatalf("expected product 999 in error, got %v", err)
	}
}

func TestProcessSaleValidation(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := cashierCtx()
	clientID := int64(1)

	cases := []struct {
		name string
		req  domain.SaleRequest
	}{
		{"zero quantity", domain.SaleRequest{Items: []domain.SaleLineRequest{{ProductID: waterID, Quantity: 0}}}},
		{"bad product id", domain.SaleRequest{Items: []domain.SaleLineRequest{{ProductID: 0, Quantity: 1}}}},
		{"unknown method", domain.SaleRequest{Items: []domain.SaleLineRequest{{ProductID: waterID, Quantity: 1}}, PaymentMethod: "barter"}},
		{"account without client", domain.SaleRequest{Items: []domain.SaleLineRequest{{ProductID: waterID, Quantity: 1}}, PaymentMethod: domain.PaymentAccount}},
		{"negative paid", domain.SaleRequest{Items: []domain.SaleLineRequest{{ProductID: waterID, Quantity: 1}}, ClientID: &clientID, AmountPaid: money("-1")}},
	}
	for _, tc := range cases {
		if _, err := svc.ProcessSale(ctx, tc.req); !errors.Is(err, store.ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", tc.name, err)
		}
	}

	if _, err := svc.ProcessSale(ctx, domain.SaleRequest{}); !errors.Is(err, store.ErrEmptyBasket) {
		t.Fatalf("expected empty basket error, got %v", err)
	}
	if _, err := svc.ProcessSale(ctx, domain.SaleRequest{Items: []domain.SaleLineRequest{}}); !errors.Is(err, store.ErrEmptyBasket) {
		t.Fatalf("expected empty basket error for empty items, got %v", err)
	}
	sales, err := svc.ListRecentSales(ctx, 10)
	if err != nil || len(sales) != 0 {
		t.Fatalf("expected no sales recorded, got %d (%v)", len(sales), err)
	}
	dashboard, err := svc.Dashboard(ctx)
	if err != nil || dashboard.SalesToday != 0 || !dashboard.RevenueToday.IsZero() {
		t.Fatalf("expected untouched dashboard, got %+v (%v)", dashboard, err)
	}
	if _, err := svc.ProcessSale(context.Background(), domain.SaleRequest{Items: []domain.SaleLineRequest{{ProductID: waterID, Quantity: 1}}}); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected forbidden without actor, got %v", err)
	}
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	last := createProduct(t, svc, "Last Unit", "9.99", 1)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ProcessSale(cashierCtx(), domain.SaleRequest{Items: []domain.SaleLineRequest{{ProductID: last.ID, Quantity: 1}}})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		} else if !errors.Is(err, store.ErrInsufficientStock) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one sale to succeed, got %d", succeeded)
	}
	product, _ := svc.GetProduct(cashierCtx(), last.ID)
	if product.StockQuantity != 0 {
		t.Fatalf("expected stock 0, got %d", product.StockQuantity)
	}
}

func TestClientAccountBalanceAndMovements(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := cashierCtx()
	product := createProduct(t, svc, "Rice Sack", "50.00", 10)
	client := createClient(t, svc, "Tienda Sur", nil)

	sale, err := svc.ProcessSale(ctx, domain.SaleRequest{
		Items:         []domain.SaleLineRequest{{ProductID: product.ID, Quantity: 2}},
		PaymentMethod: domain.PaymentAccount,
		ClientID:      &client.ID,
		AmountPaid:    money("40"),
	})
	if err != nil {
		t.Fatalf("process sale: %v", err)
	}
	if sale.Payment == nil || sale.Payment.Note != domain.SalePaymentNote(sale.ID) {
		t.Fatalf("expected linked payment on sale, got %+v", sale.Payment)
	}

	account, err := svc.ClientAccount(ctx, client.ID)
	if err != nil {
		t.Fatalf("client account: %v", err)
	}
	if !account.Balance.Equal(money("60")) {
		t.Fatalf("expected balance 60, got %s", account.Balance)
	}
	if len(account.Movements) != 2 {
		t.Fatalf("expected 2 movements, got %d", len(account.Movements))
	}
	if account.Movements[0].Kind != domain.MovementSale || account.Movements[1].Kind != domain.MovementPayment {
		t.Fatalf("expected sale then payment for same timestamp, got %+v", account.Movements)
	}

	resp, err := svc.RegisterPayment(ctx, client.ID, domain.PaymentRequest{Amount: money("60"), Note: "cash"})
	if err != nil {
		t.Fatalf("register payment: %v", err)
	}
	if resp.Balance == nil || !resp.Balance.IsZero() {
		t.Fatalf("expected balance 0 after payment, got %v", resp.Balance)
	}
	balance, err := svc.ComputeBalance(ctx, client.ID)
	if err != nil || !balance.IsZero() {
		t.Fatalf("expected computed balance 0, got %s (%v)", balance, err)
	}

	if err := svc.DeleteClient(ctx, client.ID); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict deleting client with history, got %v", err)
	}
}

type flakyLedgerRepo struct {
	*memory.Store
	failLedger bool
}

func (r *flakyLedgerRepo) GetClientLedger(ctx context.Context, clientID int64) (*domain.ClientLedger, error) {
	if r.failLedger {
		return nil, store.ErrStorage
	}
	return r.Store.GetClientLedger(ctx, clientID)
}

func TestRegisterPaymentSucceedsWhenBalanceReadFails(t *testing.T) {
	repo := &flakyLedgerRepo{Store: memory.NewSeeded(memory.Seed{AdminPassword: "admin123", CashierPassword: "cashier123", BcryptCost: bcrypt.MinCost})}
	manager, err := auth.NewManager("0123456789abcdef0123456789abcdef", time.Hour, bcrypt.MinCost, repo)
	if err != nil {
		t.Fatalf("new auth manager: %v", err)
	}
	svc := New(repo, manager, Options{})
	client := createClient(t, svc, "Ana", nil)

	repo.failLedger = true
	resp, err := svc.RegisterPayment(cashierCtx(), client.ID, domain.PaymentRequest{Amount: money("25")})
	if err != nil {
		t.Fatalf("expected recorded payment to succeed, got %v", err)
	}
	if resp.Payment.ID == 0 || !resp.Payment.Amount.Equal(money("25")) {
		t.Fatalf("expected payment in response, got %+v", resp.Payment)
	}
	if resp.Balance != nil {
		t.Fatalf("expected balance omitted, got %s", resp.Balance)
	}

	repo.failLedger = false
	balance, err := svc.ComputeBalance(cashierCtx(), client.ID)
	if err != nil || !balance.Equal(money("-25")) {
		t.Fatalf("expected a single credited payment, got %s (%v)", balance, err)
	}
}

func TestRegisterPaymentRejectsNonPositiveAmount(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	client := createClient(t, svc, "Ana", nil)

	for _, amount := range []string{"0", "-5"} {
		_, err := svc.RegisterPayment(cashierCtx(), client.ID, domain.PaymentRequest{Amount: money(amount)})
		if !errors.Is(err, store.ErrInvalidAmount) {
			t.Fatalf("amount %s: expected invalid amount, got %v", amount, err)
		}
	}
	if _, err := svc.RegisterPayment(cashierCtx(), 999, domain.PaymentRequest{Amount: money("1")}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected client not found, got %v", err)
	}
}

func TestCreditLimitBlocksSale(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	product := createProduct(t, svc, "Rice Sack", "50.00", 10)
	limit := money("50")
	client := createClient(t, svc, "Limited", &limit)

	_, err := svc.ProcessSale(cashierCtx(), domain.SaleRequest{
		Items:         []domain.SaleLineRequest{{ProductID: product.ID, Quantity: 2}},
		PaymentMethod: domain.PaymentAccount,
		ClientID:      &client.ID,
		AmountPaid:    money("40"),
	})
	if !errors.Is(err, store.ErrCreditLimitExceeded) {
		t.Fatalf("expected credit limit error, got %v", err)
	}
	current, _ := svc.GetProduct(cashierCtx(), product.ID)
	if current.StockQuantity != 10 {
		t.Fatalf("expected stock untouched, got %d", current.StockQuantity)
	}
}

func TestAmountPaidIgnoredWithoutClient(t *testing.T) {
	svc, _ := newTestService(t, Options{})

	sale, err := svc.ProcessSale(cashierCtx(), domain.SaleRequest{
		Items:      []domain.SaleLineRequest{{ProductID: waterID, Quantity: 1}},
		AmountPaid: money("5"),
	})
	if err != nil {
		t.Fatalf("process sale: %v", err)
	}
	if sale.Payment != nil {
		t.Fatalf("expected no payment without client, got %+v", sale.Payment)
	}
}

func TestCreateProductDerivesBarcodeAndAssignIsIdempotent(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := adminCtx()

	product := createProduct(t, svc, "Olive Oil", "6.40", 12)
	if product.Barcode != barcode.Derive(product.ID) {
		t.Fatalf("expected derived barcode %s, got %s", barcode.Derive(product.ID), product.Barcode)
	}

	first, err := svc.AssignBarcode(ctx, product.ID)
	if err != nil {
		t.Fatalf("assign barcode: %v", err)
	}
	second, err := svc.AssignBarcode(ctx, product.ID)
	if err != nil {
		t.Fatalf("assign barcode again: %v", err)
	}
	if first.Barcode != product.Barcode || second.Barcode != first.Barcode {
		t.Fatalf("expected stable barcode, got %s then %s", first.Barcode, second.Barcode)
	}

	manual, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{Name: "Imported Tea", Barcode: "ABC-123", Price: money("3")})
	if err != nil {
		t.Fatalf("create manual product: %v", err)
	}
	resp, err := svc.AssignBarcode(ctx, manual.ID)
	if err != nil {
		t.Fatalf("assign manual: %v", err)
	}
	if resp.Barcode != "ABC-123" || resp.Filename != "ABC123.png" {
		t.Fatalf("expected manual code kept, got %+v", resp)
	}

	if _, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{Name: "Dup", Barcode: "ABC-123", Price: money("1")}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected duplicate barcode conflict, got %v", err)
	}

	found, err := svc.LookupBarcode(cashierCtx(), " ABC-123 ")
	if err != nil || found.ID != manual.ID {
		t.Fatalf("expected lookup to find manual product, got %+v (%v)", found, err)
	}
}

func TestCreateProductFallsBackWhenDerivedBarcodeIsTaken(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := adminCtx()

	squatter, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{Name: "Shelf Label", Barcode: barcode.Derive(9), Price: money("1")})
	if err != nil || squatter.ID != 8 {
		t.Fatalf("expected manual product id 8, got %+v (%v)", squatter, err)
	}

	fallback := createProduct(t, svc, "Rice", "2.10", 4)
	if fallback.ID != 9 || fallback.Barcode != barcode.Alternate(9) {
		t.Fatalf("expected id 9 with %s, got %d %s", barcode.Alternate(9), fallback.ID, fallback.Barcode)
	}
	next := createProduct(t, svc, "Beans", "1.70", 4)
	if next.ID != 10 || next.Barcode != barcode.Derive(10) {
		t.Fatalf("expected id 10 with %s, got %d %s", barcode.Derive(10), next.ID, next.Barcode)
	}

	found, err := svc.LookupBarcode(cashierCtx(), barcode.Alternate(9))
	if err != nil || found.ID != fallback.ID {
		t.Fatalf("expected lookup by fallback code, got %+v (%v)", found, err)
	}
}

func TestAssignBarcodeFallsBackWhenDerivedBarcodeIsTaken(t *testing.T) {
	svc, repo := newTestService(t, Options{})
	ctx := adminCtx()

	blank, err := repo.CreateProduct(ctx, domain.Product{Name: "Unlabelled", Price: money("1"), MinStockLevel: domain.DefaultMinStockLevel}, nil)
	if err != nil || blank.Barcode != "" {
		t.Fatalf("expected product without barcode, got %+v (%v)", blank, err)
	}
	if _, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{Name: "Shelf Label", Barcode: barcode.Derive(blank.ID), Price: money("1")}); err != nil {
		t.Fatalf("create manual product: %v", err)
	}

	resp, err := svc.AssignBarcode(ctx, blank.ID)
	if err != nil {
		t.Fatalf("assign barcode: %v", err)
	}
	if resp.Barcode != barcode.Alternate(blank.ID) {
		t.Fatalf("expected %s, got %s", barcode.Alternate(blank.ID), resp.Barcode)
	}
}

func TestImportLegacyReportsUnplaceableGeneratedBarcode(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := adminCtx()
	for i, code := range barcode.Candidates(10) {
		if _, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{Name: fmt.Sprintf("Label %d", i), Barcode: code, Price: money("1")}); err != nil {
			t.Fatalf("create manual product %s: %v", code, err)
		}
	}
	dump := "INSERT INTO `producto` VALUES (3,'','No Code','1','2',NULL,'x','3','2',0);\n"

	result, err := svc.ImportLegacy(ctx, strings.NewReader(dump))
	if err != nil {
		t.Fatalf("import legacy: %v", err)
	}
	if result.Products != 0 || result.Skipped != 0 || len(result.Errors) != 1 {
		t.Fatalf("expected the row reported as an error, got %+v", result)
	}

	again, err := svc.ImportLegacy(ctx, strings.NewReader(dump))
	if err != nil {
		t.Fatalf("second import: %v", err)
	}
	if again.Products != 1 || len(again.Errors) != 0 {
		t.Fatalf("expected the row imported with a fresh id, got %+v", again)
	}
	if _, err := svc.LookupBarcode(ctx, barcode.Derive(11)); err != nil {
		t.Fatalf("expected product under %s: %v", barcode.Derive(11), err)
	}
}

func TestRenderProductBarcodeWritesImage(t *testing.T) {
	dir := t.TempDir()
	svc, _ := newTestService(t, Options{BarcodeDir: dir})

	product := createProduct(t, svc, "Olive Oil", "6.40", 12)
	if _, err := os.Stat(filepath.Join(dir, product.Barcode+".png")); err != nil {
		t.Fatalf("expected barcode image saved on create: %v", err)
	}

	rendered, err := svc.RenderProductBarcode(cashierCtx(), product.ID)
	if err != nil {
		t.Fatalf("render barcode: %v", err)
	}
	if rendered.Image.Symbology != barcode.SymbologyEAN13 || len(rendered.Image.PNG) == 0 {
		t.Fatalf("expected EAN-13 png, got %s (%d bytes)", rendered.Image.Symbology, len(rendered.Image.PNG))
	}
	if rendered.Path == "" {
		t.Fatalf("expected rendered path when barcode dir is set")
	}

	code := "SKU 42/B"
	manual, err := svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{Name: "Loose Nuts", Barcode: code, Price: money("2")})
	if err != nil {
		t.Fatalf("create manual product: %v", err)
	}
	rendered, err = svc.RenderProductBarcode(cashierCtx(), manual.ID)
	if err != nil {
		t.Fatalf("render manual barcode: %v", err)
	}
	if rendered.Image.Symbology != barcode.SymbologyCode128 || rendered.Filename != "SKU42B.png" {
		t.Fatalf("expected Code-128 SKU42B.png, got %s %s", rendered.Image.Symbology, rendered.Filename)
	}
}

func TestAdminOnlyOperationsRejectCashier(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := cashierCtx()
	name := "x"

	checks := map[string]error{}
	_, checks["create product"] = svc.CreateProduct(ctx, domain.ProductCreateRequest{Name: "x", Price: money("1")})
	_, checks["update product"] = svc.UpdateProduct(ctx, waterID, domain.ProductUpdateRequest{Name: &name})
	checks["delete product"] = svc.DeleteProduct(ctx, waterID)
	_, checks["set stock"] = svc.SetStock(ctx, waterID, 1)
	_, checks["restock"] = svc.Restock(ctx, waterID, 1)
	_, checks["assign barcode"] = svc.AssignBarcode(ctx, waterID)
	_, checks["settings"] = svc.UpdateSettings(ctx, domain.SettingsUpdateRequest{CompanyName: &name})
	_, checks["create tax"] = svc.CreateTax(ctx, domain.TaxCreateRequest{Name: "VAT", Rate: money("16")})
	_, checks["list taxes"] = svc.ListTaxes(ctx)
	_, checks["list users"] = svc.ListUsers(ctx)
	_, checks["create user"] = svc.CreateUser(ctx, domain.UserCreateRequest{Username: "eve", Password: "password1"})
	_, checks["audit logs"] = svc.ListAuditLogs(ctx, 10)
	_, checks["legacy import"] = svc.ImportLegacy(ctx, strings.NewReader(""))
	_, checks["excel import"] = svc.ImportProducts(ctx, strings.NewReader(""))

	for name, err := range checks {
		if !errors.Is(err, store.ErrForbidden) {
			t.Fatalf("%s: expected forbidden, got %v", name, err)
		}
	}
}

func TestStockCorrectionAndRestock(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := adminCtx()

	product, err := svc.SetStock(ctx, waterID, 10)
	if err != nil || product.StockQuantity != 10 {
		t.Fatalf("expected stock 10, got %d (%v)", product.StockQuantity, err)
	}
	product, err = svc.Restock(ctx, waterID, 5)
	if err != nil || product.StockQuantity != 15 {
		t.Fatalf("expected stock 15, got %d (%v)", product.StockQuantity, err)
	}
	if _, err := svc.SetStock(ctx, waterID, -1); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation for negative stock, got %v", err)
	}
	if _, err := svc.Restock(ctx, waterID, 0); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation for zero restock, got %v", err)
	}

	low, err := svc.ListLowStock(cashierCtx())
	if err != nil {
		t.Fatalf("list low stock: %v", err)
	}
	if len(low) != 1 || low[0].ID != chipsID {
		t.Fatalf("expected only chips low on stock, got %+v", low)
	}
}

func TestMagnitudeLimitsAreValidationErrors(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := adminCtx()
	over := store.MaxQuantity
	over++
	huge := money("10000000000")
	clientID := createClient(t, svc, "Ana", nil).ID

	checks := map[string]error{}
	_, checks["price"] = svc.CreateProduct(ctx, domain.ProductCreateRequest{Name: "Gold", Price: huge})
	_, checks["cost price"] = svc.CreateProduct(ctx, domain.ProductCreateRequest{Name: "Gold", Price: money("1"), CostPrice: huge})
	_, checks["stock"] = svc.CreateProduct(ctx, domain.ProductCreateRequest{Name: "Sand", Price: money("1"), StockQuantity: over})
	_, checks["set stock"] = svc.SetStock(ctx, waterID, over)
	_, checks["restock"] = svc.Restock(ctx, waterID, over)
	_, checks["line quantity"] = svc.ProcessSale(cashierCtx(), domain.SaleRequest{Items: []domain.SaleLineRequest{{ProductID: waterID, Quantity: over}}})
	_, checks["merged quantity"] = svc.ProcessSale(cashierCtx(), domain.SaleRequest{Items: []domain.SaleLineRequest{
		{ProductID: waterID, Quantity: store.MaxQuantity},
		{ProductID: waterID, Quantity: store.MaxQuantity},
	}})
	_, checks["amount paid"] = svc.ProcessSale(cashierCtx(), domain.SaleRequest{Items: []domain.SaleLineRequest{{ProductID: waterID, Quantity: 1}}, ClientID: &clientID, AmountPaid: huge})
	_, checks["payment"] = svc.RegisterPayment(cashierCtx(), clientID, domain.PaymentRequest{Amount: huge})
	_, checks["credit limit"] = svc.CreateClient(cashierCtx(), domain.ClientCreateRequest{Name: "Bea", CreditLimit: &huge})

	for name, err := range checks {
		if !errors.Is(err, store.ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}

	if _, err := svc.SetStock(ctx, waterID, store.MaxQuantity); err != nil {
		t.Fatalf("set stock to the maximum: %v", err)
	}
	if _, err := svc.Restock(ctx, waterID, 1); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation when restock passes the maximum, got %v", err)
	}

	pricey := createProduct(t, svc, "Yacht", "9999999999", 2)
	_, err := svc.ProcessSale(cashierCtx(), domain.SaleRequest{Items: []domain.SaleLineRequest{{ProductID: pricey.ID, Quantity: 2}}})
	if !errors.Is(err, store.ErrAmountOutOfRange) {
		t.Fatalf("expected total out of range, got %v", err)
	}
	after, err := svc.GetProduct(cashierCtx(), pricey.ID)
	if err != nil || after.StockQuantity != 2 {
		t.Fatalf("expected stock untouched, got %d (%v)", after.StockQuantity, err)
	}
}

func TestActiveTaxIsSnapshotOnSale(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := adminCtx()

	first, err := svc.CreateTax(ctx, domain.TaxCreateRequest{Name: "Reduced", Rate: money("8"), Active: true})
	if err != nil {
		t.Fatalf("create tax: %v", err)
	}
	if _, err := svc.CreateTax(ctx, domain.TaxCreateRequest{Name: "VAT", Rate: money("16"), Active: true}); err != nil {
		t.Fatalf("create second tax: %v", err)
	}
	if _, err := svc.CreateTax(ctx, domain.TaxCreateRequest{Name: "Bad", Rate: money("101")}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected rate validation, got %v", err)
	}

	taxes, _ := svc.ListTaxes(ctx)
	for _, tax := range taxes {
		if tax.ID == first.ID && tax.Active {
			t.Fatalf("expected first tax deactivated")
		}
	}

	product := createProduct(t, svc, "Rice Sack", "50.00", 10)
	sale, err := svc.ProcessSale(cashierCtx(), domain.SaleRequest{Items: []domain.SaleLineRequest{{ProductID: product.ID, Quantity: 2}}})
	if err != nil {
		t.Fatalf("process sale: %v", err)
	}
	if !sale.TaxRate.Equal(money("16")) || !sale.TaxAmount.Equal(money("13.79")) {
		t.Fatalf("expected rate 16 and included tax 13.79, got %s / %s", sale.TaxRate, sale.TaxAmount)
	}
	if !sale.TotalAmount.Equal(money("100")) {
		t.Fatalf("expected tax-inclusive total 100, got %s", sale.TotalAmount)
	}

	off := false
	active, _ := svc.ActiveTax(cashierCtx())
	if _, err := svc.UpdateTax(ctx, active.ID, domain.TaxUpdateRequest{Active: &off}); err != nil {
		t.Fatalf("deactivate tax: %v", err)
	}
	if active, err := svc.ActiveTax(cashierCtx()); err != nil || active != nil {
		t.Fatalf("expected no active tax, got %+v (%v)", active, err)
	}
}

func TestSettingsSnapshot(t *testing.T) {
	svc, repo := newTestService(t, Options{})
	name := "Corner Shop"
	symbol := "€"

	updated, err := svc.UpdateSettings(adminCtx(), domain.SettingsUpdateRequest{CompanyName: &name, CurrencySymbol: &symbol})
	if err != nil {
		t.Fatalf("update settings: %v", err)
	}
	if updated.CompanyName != name || svc.Settings().CurrencySymbol != symbol {
		t.Fatalf("expected snapshot to follow update, got %+v", svc.Settings())
	}

	manager, _ := auth.NewManager("0123456789abcdef0123456789abcdef", time.Hour, bcrypt.MinCost, repo)
	fresh := New(repo, manager, Options{})
	if fresh.Settings().CompanyName != "NexPos" {
		t.Fatalf("expected defaults before load, got %s", fresh.Settings().CompanyName)
	}
	if err := fresh.LoadSettings(context.Background()); err != nil {
		t.Fatalf("load settings: %v", err)
	}
	if fresh.Settings().CompanyName != name {
		t.Fatalf("expected loaded company name, got %s", fresh.Settings().CompanyName)
	}

	empty := " "
	if _, err := svc.UpdateSettings(adminCtx(), domain.SettingsUpdateRequest{CompanyName: &empty}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation for empty company name, got %v", err)
	}
}

type countingCache struct {
	mu    sync.Mutex
	value *domain.Dashboard
	hits  int
}

func (c *countingCache) Get(_ context.Context, _ string) (*domain.Dashboard, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.value == nil {
		return nil, false, nil
	}
	c.hits++
	copied := *c.value
	return &copied, true, nil
}

func (c *countingCache) Set(_ context.Context, _ string, value *domain.Dashboard, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	copied := *value
	c.value = &copied
	return nil
}

func (c *countingCache) Invalidate(_ context.Context, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = nil
	return nil
}

func TestDashboardIsCachedAndInvalidatedBySales(t *testing.T) {
	dashboards := &countingCache{}
	svc, _ := newTestService(t, Options{DashboardCache: dashboards, DashboardTTL: time.Minute})
	ctx := cashierCtx()

	first, err := svc.Dashboard(ctx)
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if first.ProductCount != 7 || first.LowStockCount != 1 || first.SalesToday != 0 {
		t.Fatalf("unexpected dashboard %+v", first)
	}
	if _, err := svc.Dashboard(ctx); err != nil || dashboards.hits != 1 {
		t.Fatalf("expected second read from cache, hits=%d (%v)", dashboards.hits, err)
	}

	if _, err := svc.ProcessSale(ctx, domain.SaleRequest{Items: []domain.SaleLineRequest{{ProductID: waterID, Quantity: 2}}}); err != nil {
		t.Fatalf("process sale: %v", err)
	}
	after, err := svc.Dashboard(ctx)
	if err != nil {
		t.Fatalf("dashboard after sale: %v", err)
	}
	if after.SalesToday != 1 || !after.RevenueToday.Equal(money("1.80")) || len(after.RecentSales) != 1 {
		t.Fatalf("expected fresh dashboard after sale, got %+v", after)
	}
}

const legacyDump = "INSERT INTO `cliente` VALUES (1,'Cliente Contado','0',1),(2,'Tienda Sur','0',1);\n" +
	"INSERT INTO `producto` VALUES (1,'7501055300075','Refresco','8.50','14.00',NULL,'bebidas','24','',0)," +
	"(2,'%s','Duplicate Water','0.40','0.90',NULL,'x','1','1',0),(3,'','No Code','1','2',NULL,'x','3','2',0);\n"

func TestImportLegacySkipsExistingRecords(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := adminCtx()
	createClient(t, svc, "Tienda Sur", nil)
	dump := strings.Replace(legacyDump, "%s", barcode.Derive(waterID), 1)

	result, err := svc.ImportLegacy(ctx, strings.NewReader(dump))
	if err != nil {
		t.Fatalf("import legacy: %v", err)
	}
	if result.Clients != 1 || result.Products != 2 || result.Skipped != 2 || len(result.Errors) != 0 {
		t.Fatalf("unexpected first import result %+v", result)
	}

	again, err := svc.ImportLegacy(ctx, strings.NewReader(dump))
	if err != nil {
		t.Fatalf("second import: %v", err)
	}
	if again.Clients != 0 || again.Products != 1 {
		t.Fatalf("expected only the code-less product to be created again, got %+v", again)
	}

	soda, err := svc.LookupBarcode(ctx, "7501055300075")
	if err != nil || !soda.Price.Equal(money("14")) || soda.StockQuantity != 24 || soda.MinStockLevel != 5 {
		t.Fatalf("unexpected imported product %+v (%v)", soda, err)
	}
}

func TestExportThenImportProducts(t *testing.T) {
	svc, _ := newTestService(t, Options{})

	var buf bytes.Buffer
	if err := svc.ExportProducts(cashierCtx(), &buf); err != nil {
		t.Fatalf("export products: %v", err)
	}
	workbook := buf.Bytes()

	result, err := svc.ImportProducts(adminCtx(), bytes.NewReader(workbook))
	if err != nil {
		t.Fatalf("import into same catalog: %v", err)
	}
	if result.Products != 0 || result.Skipped != 7 {
		t.Fatalf("expected every row skipped, got %+v", result)
	}

	target := New(memory.New(), nil, Options{})
	result, err = target.ImportProducts(adminCtx(), bytes.NewReader(workbook))
	if err != nil {
		t.Fatalf("import into empty catalog: %v", err)
	}
	if result.Products != 7 {
		t.Fatalf("expected 7 products imported, got %+v", result)
	}
	chips, err := target.LookupBarcode(cashierCtx(), barcode.Derive(chipsID))
	if err != nil || chips.Name != "Potato Chips" || chips.StockQuantity != 4 {
		t.Fatalf("unexpected imported chips %+v (%v)", chips, err)
	}
}

func TestUserManagementIsAudited(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := adminCtx()

	if _, err := svc.CreateUser(ctx, domain.UserCreateRequest{Username: "maria", Password: "password1", Role: domain.RoleCashier}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	resp, err := svc.Login(context.Background(), domain.LoginRequest{Username: "maria", Password: "password1"})
	if err != nil || resp.AccessToken == "" {
		t.Fatalf("login: %v", err)
	}
	if _, err := svc.Login(context.Background(), domain.LoginRequest{Username: "maria", Password: "wrong-one"}); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}

	active := false
	user, err := svc.SetUserActive(ctx, "maria", domain.UserUpdateRequest{Active: &active})
	if err != nil || user.Active {
		t.Fatalf("expected user deactivated, got %+v (%v)", user, err)
	}

	logs, err := svc.ListAuditLogs(ctx, 0)
	if err != nil {
		t.Fatalf("list audit logs: %v", err)
	}
	seen := map[string]bool{}
	for _, entry := range logs {
		seen[entry.Action] = true
	}
	for _, action := range []string{"user_create", "login", "user_update"} {
		if !seen[action] {
			t.Fatalf("expected audit action %s, got %+v", action, seen)
		}
	}
}
