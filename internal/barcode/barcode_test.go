package barcode

import (
	"bytes"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	bc "github.com/boombuler/barcode"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckDigit(t *testing.T) {
	cases := map[string]byte{
		"123456789012": '8',
		"400638133393": '1',
		"200000000001": '5',
	}
	for payload, want := range cases {
		got, ok := CheckDigit(payload)
		require.True(t, ok, payload)
		assert.Equal(t, string(want), string(got), payload)
	}

	_, ok := CheckDigit("12345")
	assert.False(t, ok)
	_, ok = CheckDigit("12345678901A")
	assert.False(t, ok)
}

func TestDeriveIsDeterministicEAN13(t *testing.T) {
	assert.Equal(t, "2000000000015", Derive(1))
	assert.Equal(t, "2000000000428", Derive(42))
	assert.Equal(t, Derive(42), Derive(42))
	assert.True(t, ValidEAN13(Derive(987654)))
	assert.Equal(t, "", Derive(0))
	assert.Equal(t, "12345678901", Derive(12345678901))
}

func TestCandidatesPreferDerivedThenAlternate(t *testing.T) {
	assert.Equal(t, []string{"2000000000428", "NX42"}, Candidates(42))
	assert.Equal(t, "", Alternate(0))
	assert.NotEqual(t, Derive(7), Alternate(7))

	symbol, err := Encode(Alternate(42))
	require.NoError(t, err)
	assert.Equal(t, SymbologyCode128, symbol.Symbology)
	assert.Equal(t, "NX42", symbol.Text)
}

func TestEncodeTwelveDigitsAsEAN13(t *testing.T) {
	symbol, err := Encode("123456789012")
	require.NoError(t, err)

	assert.Equal(t, SymbologyEAN13, symbol.Symbology)
	assert.Equal(t, "1234567890128", symbol.Text)
	assert.False(t, symbol.Fallback)
	assert.Equal(t, bc.TypeEAN13, symbol.Code.Metadata().CodeKind)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "ean13_123456789012", []byte(modulePattern(symbol.Code)+"\n"))
}

func TestEncodeThirteenDigitsKeepsValidCheckDigit(t *testing.T) {
	symbol, err := Encode("4006381333931")
	require.NoError(t, err)
	assert.Equal(t, SymbologyEAN13, symbol.Symbology)
	assert.Equal(t, "4006381333931", symbol.Text)
}

func TestEncodeBadChecksumFallsBackToCode128(t *testing.T) {
	symbol, err := Encode("4006381333932")
	require.NoError(t, err)
	assert.Equal(t, SymbologyCode128, symbol.Symbology)
	assert.True(t, symbol.Fallback)
	assert.Equal(t, "4006381333932", symbol.Text)

	again, err := Encode("4006381333932")
	require.NoError(t, err)
	assert.Equal(t, modulePattern(symbol.Code), modulePattern(again.Code))
}

func TestEncodeAlphanumericAsCode128(t *testing.T) {
	symbol, err := Encode("ABC-123")
	require.NoError(t, err)
	assert.Equal(t, SymbologyCode128, symbol.Symbology)
	assert.False(t, symbol.Fallback)
	assert.Equal(t, "ABC-123", symbol.Text)
	assert.Equal(t, bc.TypeCode128, symbol.Code.Metadata().CodeKind)
}

func TestEncodeOtherDigitLengthsUseCode128(t *testing.T) {
	symbol, err := Encode("12345678")
	require.NoError(t, err)
	assert.Equal(t, SymbologyCode128, symbol.Symbology)
	assert.False(t, symbol.Fallback)
}

func TestEncodeRejectsEmptyCode(t *testing.T) {
	_, err := Encode("   ")
	assert.ErrorIs(t, err, ErrEmptyCode)
}

func TestRenderProducesPNG(t *testing.T) {
	img, err := Render("123456789012")
	require.NoError(t, err)
	assert.Equal(t, 95*moduleWidth, img.Width)

	decoded, err := png.Decode(bytes.NewReader(img.PNG))
	require.NoError(t, err)
	assert.Equal(t, img.Width, decoded.Bounds().Dx())
	assert.Equal(t, barHeight, decoded.Bounds().Dy())
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "ABC123.png", Filename("ABC-123", 9))
	assert.Equal(t, "2000000000015.png", Filename("2000000000015", 1))
	assert.Equal(t, "prod_9.png", Filename("--//", 9))
	assert.Equal(t, "prod_9.png", Filename("", 9))
	assert.Equal(t, "ab.png", Filename("../a/b", 9))
}

func TestSaveWritesFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "barcodes")
	img, err := Render("ABC-123")
	require.NoError(t, err)

	path, err := Save(dir, Filename(img.Text, 1), img)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, img.PNG, data)
}

func modulePattern(code bc.Barcode) string {
	bounds := code.Bounds()
	var b strings.Builder
	for x := bounds.Min.X; x < bounds.Max.X; x++ {
		r, _, _, _ := code.At(x, bounds.Min.Y).RGBA()
		if r == 0 {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return b.String()
}
