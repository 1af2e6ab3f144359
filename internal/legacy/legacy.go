// Package legacy reads the MySQL dump of the previous point-of-sale system and
// extracts its clients and products.
package legacy

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"nexpos/backend/internal/domain"
)

const (
	clientTable  = "cliente"
	productTable = "producto"
)

// Column positions in the legacy `producto` table:
// id, codigo, nombre, preciocosto, precioventa, proveedor, departamento,
// stock, stockMin, ...
const (
	colCode     = 1
	colName     = 2
	colCost     = 3
	colPrice    = 4
	colStock    = 7
	colMinStock = 8
)

var insertPattern = regexp.MustCompile("(?i)INSERT\\s+INTO\\s+`([A-Za-z0-9_]+)`")

var errUnterminated = errors.New("unterminated statement")

type Client struct {
	Name string
}

type Product struct {
	Code          string
	Name          string
	CostPrice     decimal.Decimal
	Price         decimal.Decimal
	StockQuantity int
	MinStockLevel int
}

// Dump is the usable content of a legacy dump. Rows that could not be
// converted are reported in Errors and left out.
type Dump struct {
	Clients  []Client
	Products []Product
	Errors   []string
}

func Parse(r io.Reader) (Dump, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return Dump{}, fmt.Errorf("read dump: %w", err)
	}
	return ParseString(string(content))
}

func ParseString(content string) (Dump, error) {
	var dump Dump

	clientRows, err := Rows(content, clientTable)
	if err != nil {
		return Dump{}, err
	}
	for i, row := range clientRows {
		if len(row) < 2 || strings.TrimSpace(row[1]) == "" {
			dump.Errors = append(dump.Errors, fmt.Sprintf("%s row %d: missing name", clientTable, i+1))
			continue
		}
		dump.Clients = append(dump.Clients, Client{Name: strings.TrimSpace(row[1])})
	}

	productRows, err := Rows(content, productTable)
	if err != nil {
		return Dump{}, err
	}
	for i, row := range productRows {
		product, err := productFromRow(row)
		if err != nil {
			dump.Errors = append(dump.Errors, fmt.Sprintf("%s row %d: %v", productTable, i+1, err))
			continue
		}
		dump.Products = append(dump.Products, product)
	}

	return dump, nil
}

func productFromRow(row []string) (Product, error) {
	if len(row) <= colMinStock {
		return Product{}, fmt.Errorf("expected at least %d columns, got %d", colMinStock+1, len(row))
	}
	name := strings.TrimSpace(row[colName])
	if name == "" {
		return Product{}, errors.New("missing name")
	}
	cost, err := decimalOrZero(row[colCost])
	if err != nil {
		return Product{}, fmt.Errorf("cost price: %w", err)
	}
	price, err := decimalOrZero(row[colPrice])
	if err != nil {
		return Product{}, fmt.Errorf("price: %w", err)
	}
	stock, err := intOr(row[colStock], 0)
	if err != nil {
		return Product{}, fmt.Errorf("stock: %w", err)
	}
	minStock, err := intOr(row[colMinStock], domain.DefaultMinStockLevel)
	if err != nil {
		return Product{}, fmt.Errorf("minimum stock: %w", err)
	}
	return Product{
		Code:          strings.TrimSpace(row[colCode]),
		Name:          name,
		CostPrice:     cost,
		Price:         price,
		StockQuantity: stock,
		MinStockLevel: minStock,
	}, nil
}

func decimalOrZero(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}

// intOr accepts "12" and "12.000" since the old schema stored some counts as
// DECIMAL.
func intOr(raw string, fallback int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return n, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, err
	}
	if !d.Equal(d.Truncate(0)) {
		return 0, fmt.Errorf("%s is not a whole number", raw)
	}
	return int(d.IntPart()), nil
}

// Rows returns the value tuples of every INSERT INTO `table` statement in
// content. NULL becomes an empty string and quoted strings are unescaped.
func Rows(content string, table string) ([][]string, error) {
	var rows [][]string
	for _, loc := range insertPattern.FindAllStringSubmatchIndex(content, -1) {
		if !strings.EqualFold(content[loc[2]:loc[3]], table) {
			continue
		}
		p := &parser{src: content, pos: loc[1]}
		stmtRows, err := p.values()
		if err != nil {
			return nil, fmt.Errorf("insert into %s at offset %d: %w", table, loc[0], err)
		}
		rows = append(rows, stmtRows...)
	}
	return rows, nil
}

type parser struct {
	src string
	pos int
}

func (p *parser) values() ([][]string, error) {
	p.skipSpace()
	if p.peek() == '(' {
		end := strings.IndexByte(p.src[p.pos:], ')')
		if end < 0 {
			return nil, errUnterminated
		}
		p.pos += end + 1
		p.skipSpace()
	}
	if !p.keyword("VALUES") {
		return nil, fmt.Errorf("expected VALUES at offset %d", p.pos)
	}

	var rows [][]string
	for {
		p.skipSpace()
		row, err := p.tuple()
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)

		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
		case ';', 0:
			return rows, nil
		default:
			return nil, fmt.Errorf("unexpected %q at offset %d", p.peek(), p.pos)
		}
	}
}

func (p *parser) tuple() ([]string, error) {
	if p.peek() != '(' {
		return nil, fmt.Errorf("expected ( at offset %d", p.pos)
	}
	p.pos++

	var row []string
	for {
		p.skipSpace()
		value, err := p.value()
		if err != nil {
			return nil, err
		}
		row = append(row, value)

		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
		case ')':
			p.pos++
			return row, nil
		case 0:
			return nil, errUnterminated
		default:
			return nil, fmt.Errorf("unexpected %q at offset %d", p.peek(), p.pos)
		}
	}
}

func (p *parser) value() (string, error) {
	if p.peek() == '\'' {
		return p.quoted()
	}
	start := p.pos
	for p.pos < len(p.src) && p.src[p.pos] != ',' && p.src[p.pos] != ')' {
		p.pos++
	}
	raw := strings.TrimSpace(p.src[start:p.pos])
	if strings.EqualFold(raw, "NULL") {
		return "", nil
	}
	return raw, nil
}

func (p *parser) quoted() (string, error) {
	p.pos++
	var b strings.Builder
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch {
		case c == '\\' && p.pos+1 < len(p.src):
			b.WriteByte(unescape(p.src[p.pos+1]))
			p.pos += 2
		case c == '\'' && p.pos+1 < len(p.src) && p.src[p.pos+1] == '\'':
			b.WriteByte('\'')
			p.pos += 2
		case c == '\'':
			p.pos++
			return b.String(), nil
		default:
			b.WriteByte(c)
			p.pos++
		}
	}
	return "", errUnterminated
}

func (p *parser) keyword(word string) bool {
	end := p.pos + len(word)
	if end > len(p.src) || !strings.EqualFold(p.src[p.pos:end], word) {
		return false
	}
	p.pos = end
	return true
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) {
		switch p.src[p.pos] {
		case ' ', '\t', '\r', '\n':
			p.pos++
		default:
			return
		}
	}
}

func (p *parser) peek() byte {
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func unescape(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 'r':
		return '\r'
	case 't':
		return '\t'
	case '0':
		return 0
	default:
		return c
	}
}
