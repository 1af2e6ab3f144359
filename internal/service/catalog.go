package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"nexpos/backend/internal/barcode"
	"nexpos/backend/internal/domain"
	"nexpos/backend/internal/store"
)

// ProductBarcode is a rendered product barcode. Path is set when the image
// was also written to the barcode directory.
type ProductBarcode struct {
	ProductID int64
	Filename  string
	Path      string
	Image     barcode.Rendered
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	if _, err := s.requireAnyRole(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListProducts(ctx)
}

func (s *Service) ListLowStock(ctx context.Context) ([]domain.Product, error) {
	if _, err := s.requireAnyRole(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListLowStockProducts(ctx)
}

func (s *Service) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	if _, err := s.requireAnyRole(ctx); err != nil {
		return domain.Product{}, err
	}
	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) LookupBarcode(ctx context.Context, code string) (domain.Product, error) {
	if _, err := s.requireAnyRole(ctx); err != nil {
		return domain.Product{}, err
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.Product{}, store.Invalid("barcode is required")
	}
	product, err := s.repo.GetProductByBarcode(ctx, code)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

// CreateProduct stores the product and, when no barcode was given, the
// derived one in the same unit of work. The image is rendered afterwards and a
// rendering failure does not undo the product.
func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if _, err := s.requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.Product{}, err
	}

	product := domain.Product{
		Name:          strings.TrimSpace(req.Name),
		Description:   strings.TrimSpace(req.Description),
		Barcode:       strings.TrimSpace(req.Barcode),
		Category:      strings.TrimSpace(req.Category),
		Price:         req.Price,
		CostPrice:     req.CostPrice,
		StockQuantity: req.StockQuantity,
		MinStockLevel: domain.DefaultMinStockLevel,
	}
	if req.MinStockLevel != nil {
		product.MinStockLevel = *req.MinStockLevel
	}
	if err := validateProduct(product); err != nil {
		return domain.Product{}, err
	}
	if product.StockQuantity < 0 {
		return domain.Product{}, store.Invalid("stock quantity cannot be negative")
	}

	created, err := s.repo.CreateProduct(ctx, product, barcode.Candidates)
	if err != nil {
		return domain.Product{}, err
	}

	s.saveBarcodeImage(*created)
	s.logAudit(ctx, "product_create", "product", idString(created.ID), fmt.Sprintf("name=%s,barcode=%s,price=%s,stock=%d", created.Name, created.Barcode, created.Price, created.StockQuantity))
	s.invalidateDashboard(ctx)
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id int64, req domain.ProductUpdateRequest) (domain.Product, error) {
	if _, err := s.requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.Product{}, err
	}

	existing, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		updated.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		updated.Description = strings.TrimSpace(*req.Description)
	}
	if req.Barcode != nil {
		code := strings.TrimSpace(*req.Barcode)
		if code == "" {
			return domain.Product{}, store.Invalid("barcode cannot be cleared")
		}
		updated.Barcode = code
	}
	if req.Category != nil {
		updated.Category = strings.TrimSpace(*req.Category)
	}
	if req.Price != nil {
		updated.Price = *req.Price
	}
	if req.CostPrice != nil {
		updated.CostPrice = *req.CostPrice
	}
	if req.MinStockLevel != nil {
		updated.MinStockLevel = *req.MinStockLevel
	}
	if err := validateProduct(updated); err != nil {
		return domain.Product{}, err
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	if !existing.Price.Equal(saved.Price) {
		s.logAudit(ctx, "product_price_update", "product", idString(saved.ID), fmt.Sprintf("old=%s,new=%s", existing.Price, saved.Price))
	}
	s.logAudit(ctx, "product_update", "product", idString(saved.ID), fmt.Sprintf("name=%s,barcode=%s", saved.Name, saved.Barcode))
	s.invalidateDashboard(ctx)
	return *saved, nil
}

func (s *Service) DeleteProduct(ctx context.Context, id int64) error {
	if _, err := s.requireRole(ctx, domain.RoleAdmin); err != nil {
		return err
	}
	if err := s.repo.DeleteProduct(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "product_delete", "product", idString(id), "")
	s.invalidateDashboard(ctx)
	return nil
}

// AssignBarcode gives a product without a code its derived one, or the alternate
// when a manual code holds the derived value. A product that already has a code
// keeps it, so repeated calls return the same value.
func (s *Service) AssignBarcode(ctx context.Context, id int64) (domain.BarcodeResponse, error) {
	if _, err := s.requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.BarcodeResponse{}, err
	}

	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.BarcodeResponse{}, err
	}
	code := product.Barcode

	if code == "" {
		var changed bool
		for _, candidate := range barcode.Candidates(product.ID) {
			code = candidate
			changed, err = s.repo.AssignBarcode(ctx, product.ID, code)
			if err == nil || !errors.Is(err, store.ErrConflict) {
				break
			}
		}
		if err != nil {
			return domain.BarcodeResponse{}, err
		}
		if changed {
			product.Barcode = code
			s.logAudit(ctx, "barcode_assign", "product", idString(product.ID), "barcode="+code)
		} else {
			// Someone else assigned first; report what is stored.
			current, err := s.repo.GetProduct(ctx, product.ID)
			if err != nil {
				return domain.BarcodeResponse{}, err
			}
			product = current
			code = current.Barcode
		}
		s.saveBarcodeImage(*product)
	}

	return domain.BarcodeResponse{
		ProductID: product.ID,
		Barcode:   code,
		Filename:  barcode.Filename(code, product.ID),
	}, nil
}

// RenderProductBarcode renders the stored code of a product. No store lock is
// held while rendering.
func (s *Service) RenderProductBarcode(ctx context.Context, id int64) (ProductBarcode, error) {
	if _, err := s.requireAnyRole(ctx); err != nil {
		return ProductBarcode{}, err
	}
	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return ProductBarcode{}, err
	}
	if product.Barcode == "" {
		return ProductBarcode{}, store.Invalid("product has no barcode; assign one first")
	}

	img, err := barcode.Render(product.Barcode)
	if err != nil {
		if errors.Is(err, barcode.ErrEmptyCode) {
			return ProductBarcode{}, store.Invalid(err.Error())
		}
		return ProductBarcode{}, fmt.Errorf("render barcode for product %d: %w", product.ID, err)
	}

	result := ProductBarcode{
		ProductID: product.ID,
		Filename:  barcode.Filename(product.Barcode, product.ID),
		Image:     img,
	}
	if s.barcodeDir != "" {
		path, err := barcode.Save(s.barcodeDir, result.Filename, img)
		if err != nil {
			log.Printf("[service] WARN: failed to save barcode image product=%d: %v", product.ID, err)
		} else {
			result.Path = path
		}
	}
	return result, nil
}

// SetStock is a manual correction to an absolute quantity.
func (s *Service) SetStock(ctx context.Context, id int64, qty int) (domain.Product, error) {
	if _, err := s.requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.Product{}, err
	}
	if qty < 0 {
		return domain.Product{}, store.Invalid("stock quantity cannot be negative")
	}
	if qty > store.MaxQuantity {
		return domain.Product{}, store.ErrQuantityOutOfRange
	}

	before, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	updated, err := s.repo.SetStock(ctx, id, qty)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "stock_correction", "product", idString(id), fmt.Sprintf("before=%d,after=%d", before.StockQuantity, updated.StockQuantity))
	s.invalidateDashboard(ctx)
	return *updated, nil
}

func (s *Service) Restock(ctx context.Context, id int64, qty int) (domain.Product, error) {
	if _, err := s.requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.Product{}, err
	}
	if qty < 1 {
		return domain.Product{}, store.Invalid("restock quantity must be at least 1")
	}
	if qty > store.MaxQuantity {
		return domain.Product{}, store.ErrQuantityOutOfRange
	}

	updated, err := s.repo.IncreaseStock(ctx, id, qty)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "stock_restock", "product", idString(id), fmt.Sprintf("qty=%d,after=%d", qty, updated.StockQuantity))
	s.invalidateDashboard(ctx)
	return *updated, nil
}

// saveBarcodeImage writes the product's barcode PNG when a directory is
// configured. Failures are logged only.
func (s *Service) saveBarcodeImage(product domain.Product) {
	if s.barcodeDir == "" || product.Barcode == "" {
		return
	}
	img, err := barcode.Render(product.Barcode)
	if err != nil {
		log.Printf("[service] WARN: failed to render barcode product=%d: %v", product.ID, err)
		return
	}
	if _, err := barcode.Save(s.barcodeDir, barcode.Filename(product.Barcode, product.ID), img); err != nil {
		log.Printf("[service] WARN: failed to save barcode image product=%d: %v", product.ID, err)
	}
}

func validateProduct(p domain.Product) error {
	if p.Name == "" {
		return store.Invalid("product name is required")
	}
	if p.Price.IsNegative() || p.CostPrice.IsNegative() {
		return store.Invalid("prices cannot be negative")
	}
	if !isCents(p.Price) || !isCents(p.CostPrice) {
		return store.Invalid("prices cannot have more than two decimals")
	}
	if !store.AmountInRange(p.Price) || !store.AmountInRange(p.CostPrice) {
		return store.ErrAmountOutOfRange
	}
	if p.MinStockLevel < 0 {
		return store.Invalid("minimum stock level cannot be negative")
	}
	if p.StockQuantity > store.MaxQuantity || p.MinStockLevel > store.MaxQuantity {
		return store.ErrQuantityOutOfRange
	}
	return nil
}

func idString(id int64) string {
	return strconv.FormatInt(id, 10)
}

// isCents reports whether d fits a NUMERIC(12,2) column without rounding.
func isCents(d decimal.Decimal) bool {
	return d.Equal(d.Round(2))
}
