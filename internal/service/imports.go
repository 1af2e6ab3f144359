package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"nexpos/backend/internal/barcode"
	"nexpos/backend/internal/domain"
	"nexpos/backend/internal/excel"
	"nexpos/backend/internal/legacy"
	"nexpos/backend/internal/store"
)

// ImportLegacy loads clients and products from a dump of the previous
// system. Clients already present by name and products already present by
// barcode are skipped. Products without a code always get a new derived one.
func (s *Service) ImportLegacy(ctx context.Context, dump io.Reader) (domain.ImportResult, error) {
	if _, err := s.requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.ImportResult{}, err
	}

	parsed, err := legacy.Parse(dump)
	if err != nil {
		return domain.ImportResult{}, store.Invalid(err.Error())
	}

	result := domain.ImportResult{Errors: append([]string{}, parsed.Errors...)}
	result.Skipped = len(parsed.Errors)

	for _, c := range parsed.Clients {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		_, err := s.repo.FindClientByName(ctx, c.Name)
		if err == nil {
			result.Skipped++
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return result, err
		}
		if _, err := s.repo.CreateClient(ctx, domain.Client{Name: c.Name}); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("client %q: %v", c.Name, err))
			continue
		}
		result.Clients++
	}

	for _, p := range parsed.Products {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		created, err := s.importProduct(ctx, domain.Product{
			Name:          p.Name,
			Barcode:       p.Code,
			Price:         p.Price.Round(2),
			CostPrice:     p.CostPrice.Round(2),
			StockQuantity: p.StockQuantity,
			MinStockLevel: p.MinStockLevel,
		})
		switch {
		case err != nil:
			result.Errors = append(result.Errors, fmt.Sprintf("product %q: %v", p.Name, err))
		case created:
			result.Products++
		default:
			result.Skipped++
		}
	}

	s.logAudit(ctx, "import_legacy", "import", "legacy", fmt.Sprintf("clients=%d,products=%d,skipped=%d,errors=%d", result.Clients, result.Products, result.Skipped, len(result.Errors)))
	s.invalidateDashboard(ctx)
	return result, nil
}

// ImportProducts loads a Products workbook. Rows without a barcode get a
// derived one; rows whose barcode already exists are skipped.
func (s *Service) ImportProducts(ctx context.Context, workbook io.Reader) (domain.ImportResult, error) {
	if _, err := s.requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.ImportResult{}, err
	}

	rows, problems, err := excel.ReadProducts(workbook)
	if err != nil {
		return domain.ImportResult{}, store.Invalid(err.Error())
	}

	result := domain.ImportResult{Errors: append([]string{}, problems...), Skipped: len(problems)}
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		created, err := s.importProduct(ctx, domain.Product{
			Name:          row.Name,
			Barcode:       row.Barcode,
			Category:      row.Category,
			Price:         row.Price,
			CostPrice:     row.CostPrice,
			StockQuantity: row.StockQuantity,
			MinStockLevel: row.MinStockLevel,
		})
		switch {
		case err != nil:
			result.Errors = append(result.Errors, fmt.Sprintf("row %d: %v", row.Line, err))
		case created:
			result.Products++
		default:
			result.Skipped++
		}
	}

	s.logAudit(ctx, "import_products", "import", "excel", fmt.Sprintf("products=%d,skipped=%d,errors=%d", result.Products, result.Skipped, len(result.Errors)))
	s.invalidateDashboard(ctx)
	return result, nil
}

func (s *Service) ExportProducts(ctx context.Context, w io.Writer) error {
	if _, err := s.requireAnyRole(ctx); err != nil {
		return err
	}
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return err
	}
	return excel.WriteProducts(w, products)
}

// importProduct reports false without error when the supplied barcode is taken.
func (s *Service) importProduct(ctx context.Context, product domain.Product) (bool, error) {
	if err := validateProduct(product); err != nil {
		return false, err
	}
	if product.StockQuantity < 0 {
		log.Printf("[service] WARN: import clamped negative stock product=%q stock=%d", product.Name, product.StockQuantity)
		product.StockQuantity = 0
	}
	if product.Barcode != "" {
		_, err := s.repo.GetProductByBarcode(ctx, product.Barcode)
		if err == nil {
			return false, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return false, err
		}
	}

	created, err := s.repo.CreateProduct(ctx, product, barcode.Candidates)
	if err != nil {
		// A supplied code that was taken meanwhile is a skip; a generated one
		// that cannot be placed is reported.
		if product.Barcode != "" && errors.Is(err, store.ErrConflict) {
			return false, nil
		}
		return false, err
	}
	s.saveBarcodeImage(*created)
	return true, nil
}
