// Package barcode derives product codes and renders them as PNG images.
//
// Symbology policy: a code of exactly 12 or 13 ASCII digits is encoded as
// EAN-13 (the check digit is computed for 12 digits and verified for 13).
// Everything else is encoded as Code-128. When an EAN-13 candidate fails its
// checksum or the encoder rejects it, the same text is encoded as Code-128
// and the result is flagged as a fallback. The fallback never depends on
// anything but the input text.
package barcode

import (
	"bytes"
	"errors"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	bc "github.com/boombuler/barcode"
	"github.com/boombuler/barcode/code128"
	"github.com/boombuler/barcode/ean"
)

const (
	SymbologyEAN13   = "EAN-13"
	SymbologyCode128 = "Code-128"
)

// storePrefix places derived codes in the GS1 in-store range (20-29), which
// never collides with manufacturer-assigned EANs.
const storePrefix = "20"

const (
	moduleWidth = 2
	barHeight   = 80
)

var ErrEmptyCode = errors.New("barcode is empty")

// Symbol is an encoded barcode before rasterisation.
type Symbol struct {
	Code      bc.Barcode
	Symbology string
	Text      string
	Fallback  bool
}

type Rendered struct {
	Symbology string `json:"symbology"`
	Text      string `json:"text"`
	Fallback  bool   `json:"fallback"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	PNG       []byte `json:"-"`
}

// Derive maps a product id to its generated code. The result only depends on
// the id, so repeated calls agree.
func Derive(id int64) string {
	if id <= 0 {
		return ""
	}
	digits := strconv.FormatInt(id, 10)
	if len(digits) > 10 {
		return digits
	}
	payload := storePrefix + fmt.Sprintf("%010d", id)
	check, _ := CheckDigit(payload)
	return payload + string(check)
}

// Alternate is the generated code used when a manual code already holds
// Derive(id). It is not numeric, so it renders as Code-128 and never enters
// the in-store EAN range.
func Alternate(id int64) string {
	if id <= 0 {
		return ""
	}
	return "NX" + strconv.FormatInt(id, 10)
}

// Candidates lists the generated codes for id in preference order.
func Candidates(id int64) []string {
	return []string{Derive(id), Alternate(id)}
}

// CheckDigit computes the EAN-13 check digit for a 12-digit payload.
func CheckDigit(payload string) (byte, bool) {
	if len(payload) != 12 || !isDigits(payload) {
		return 0, false
	}
	sum := 0
	for i := 0; i < 12; i++ {
		d := int(payload[i] - '0')
		if i%2 == 1 {
			d *= 3
		}
		sum += d
	}
	return byte('0' + (10-sum%10)%10), true
}

// ValidEAN13 reports whether code is 13 digits with a correct check digit.
func ValidEAN13(code string) bool {
	if len(code) != 13 {
		return false
	}
	check, ok := CheckDigit(code[:12])
	return ok && check == code[12]
}

func Encode(code string) (Symbol, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Symbol{}, ErrEmptyCode
	}

	if isDigits(code) && (len(code) == 12 || len(code) == 13) {
		if full, ok := completeEAN13(code); ok {
			if encoded, err := ean.Encode(full); err == nil {
				return Symbol{Code: encoded, Symbology: SymbologyEAN13, Text: full}, nil
			}
		}
		symbol, err := encodeCode128(code)
		symbol.Fallback = true
		return symbol, err
	}

	return encodeCode128(code)
}

// Render encodes the code and rasterises it to PNG.
func Render(code string) (Rendered, error) {
	symbol, err := Encode(code)
	if err != nil {
		return Rendered{}, err
	}

	width := symbol.Code.Bounds().Dx() * moduleWidth
	scaled, err := bc.Scale(symbol.Code, width, barHeight)
	if err != nil {
		return Rendered{}, fmt.Errorf("scale %s: %w", symbol.Symbology, err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, scaled); err != nil {
		return Rendered{}, fmt.Errorf("encode png: %w", err)
	}

	return Rendered{
		Symbology: symbol.Symbology,
		Text:      symbol.Text,
		Fallback:  symbol.Fallback,
		Width:     width,
		Height:    barHeight,
		PNG:       buf.Bytes(),
	}, nil
}

// Filename is the artifact name for a rendered code: the code with every
// non-alphanumeric character stripped, or prod_<id> when nothing is left.
func Filename(code string, productID int64) string {
	var b strings.Builder
	for i := 0; i < len(code); i++ {
		c := code[i]
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') {
			b.WriteByte(c)
		}
	}
	if b.Len() == 0 {
		return fmt.Sprintf("prod_%d.png", productID)
	}
	return b.String() + ".png"
}

// Save writes the rendered image under dir and returns the file path.
func Save(dir string, filename string, img Rendered) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, img.PNG, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func encodeCode128(code string) (Symbol, error) {
	encoded, err := code128.Encode(code)
	if err != nil {
		return Symbol{}, fmt.Errorf("code128 %q: %w", code, err)
	}
	return Symbol{Code: encoded, Symbology: SymbologyCode128, Text: code}, nil
}

func completeEAN13(code string) (string, bool) {
	if len(code) == 12 {
		check, ok := CheckDigit(code)
		if !ok {
			return "", false
		}
		return code + string(check), true
	}
	return code, ValidEAN13(code)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
