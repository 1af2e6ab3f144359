// Package excel converts the product catalog to and from .xlsx workbooks.
package excel

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"nexpos/backend/internal/domain"
)

const SheetName = "Products"

const (
	ColBarcode  = "barcode"
	ColName     = "name"
	ColCategory = "category"
	ColPrice    = "price"
	ColCost     = "cost_price"
	ColStock    = "stock_quantity"
	ColMinStock = "min_stock_level"
)

// Columns is the header row written by WriteProducts and expected by
// ReadProducts, in any order.
var Columns = []string{ColBarcode, ColName, ColCategory, ColPrice, ColCost, ColStock, ColMinStock}

var ErrMissingColumn = errors.New("missing required column")

// Row is one data row of an import workbook. Line is the 1-based sheet row.
type Row struct {
	Line          int
	Barcode       string
	Name          string
	Category      string
	Price         decimal.Decimal
	CostPrice     decimal.Decimal
	StockQuantity int
	MinStockLevel int
}

func WriteProducts(w io.Writer, products []domain.Product) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	header := make([]interface{}, len(Columns))
	for i, col := range Columns {
		header[i] = col
	}
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}
	lastHeader, _ := excelize.CoordinatesToCellName(len(Columns), 1)
	if err := f.SetCellStyle(SheetName, "A1", lastHeader, bold); err != nil {
		return fmt.Errorf("style header: %w", err)
	}
	if err := f.SetColWidth(SheetName, "A", "B", 24); err != nil {
		return fmt.Errorf("set column width: %w", err)
	}

	for i, p := range products {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []interface{}{
			p.Barcode,
			p.Name,
			p.Category,
			p.Price.InexactFloat64(),
			p.CostPrice.InexactFloat64(),
			p.StockQuantity,
			p.MinStockLevel,
		}
		if err := f.SetSheetRow(SheetName, cell, &row); err != nil {
			return fmt.Errorf("write product %d: %w", p.ID, err)
		}
	}

	return f.Write(w)
}

// ReadProducts reads the Products sheet, or the first sheet when there is
// none. Headers are matched case-insensitively; name and price are required.
// Rows that fail to convert are reported by line and skipped.
func ReadProducts(r io.Reader) ([]Row, []string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, errors.New("workbook has no sheets")
	}
	sheet := sheets[0]
	for _, name := range sheets {
		if strings.EqualFold(name, SheetName) {
			sheet = name
			break
		}
	}

	raw, err := f.GetRows(sheet)
	if err != nil {
		return nil, nil, fmt.Errorf("read sheet %s: %w", sheet, err)
	}
	if len(raw) == 0 {
		return nil, nil, nil
	}

	index := make(map[string]int, len(raw[0]))
	for i, h := range raw[0] {
		index[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{ColName, ColPrice} {
		if _, ok := index[required]; !ok {
			return nil, nil, fmt.Errorf("%w: %s", ErrMissingColumn, required)
		}
	}

	cell := func(record []string, col string) string {
		i, ok := index[col]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var rows []Row
	var problems []string
	for i, record := range raw[1:] {
		line := i + 2
		if blank(record) {
			continue
		}
		row, err := parseRow(record, cell)
		if err != nil {
			problems = append(problems, fmt.Sprintf("row %d: %v", line, err))
			continue
		}
		row.Line = line
		rows = append(rows, row)
	}
	return rows, problems, nil
}

func parseRow(record []string, cell func([]string, string) string) (Row, error) {
	row := Row{
		Barcode:  cell(record, ColBarcode),
		Name:     cell(record, ColName),
		Category: cell(record, ColCategory),
	}
	if row.Name == "" {
		return Row{}, errors.New("name is required")
	}

	var err error
	if row.Price, err = parseDecimal(cell(record, ColPrice)); err != nil {
		return Row{}, fmt.Errorf("price: %w", err)
	}
	if row.CostPrice, err = parseDecimal(cell(record, ColCost)); err != nil {
		return Row{}, fmt.Errorf("cost_price: %w", err)
	}
	if row.StockQuantity, err = parseCount(cell(record, ColStock), 0); err != nil {
		return Row{}, fmt.Errorf("stock_quantity: %w", err)
	}
	if row.MinStockLevel, err = parseCount(cell(record, ColMinStock), domain.DefaultMinStockLevel); err != nil {
		return Row{}, fmt.Errorf("min_stock_level: %w", err)
	}
	return row, nil
}

func parseDecimal(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, err
	}
	if d.IsNegative() {
		return decimal.Zero, errors.New("must not be negative")
	}
	return d.Round(2), nil
}

func parseCount(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		d, derr := decimal.NewFromString(raw)
		if derr != nil || !d.Equal(d.Truncate(0)) {
			return 0, fmt.Errorf("%q is not a whole number", raw)
		}
		n = int(d.IntPart())
	}
	if n < 0 {
		return 0, errors.New("must not be negative")
	}
	return n, nil
}

func blank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
