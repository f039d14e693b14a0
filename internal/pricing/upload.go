package pricing

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// ErrInvalidUpload indicates a spreadsheet that could not be imported.
var ErrInvalidUpload = errors.New("pricing: invalid price sheet")

// SheetRow is one parsed price line.
type SheetRow struct {
	Row         int
	ProductCode string
	Price       decimal.Decimal
}

// RowError describes a rejected spreadsheet row.
type RowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// UploadError lists every rejected row of a sheet.
type UploadError struct {
	Rows []RowError
}

func (e *UploadError) Error() string {
	msgs := make([]string, 0, len(e.Rows))
	for _, r := range e.Rows {
		msgs = append(msgs, fmt.Sprintf("row %d: %s", r.Row, r.Message))
	}
	return fmt.Sprintf("%s: %s", ErrInvalidUpload, strings.Join(msgs, "; "))
}

func (e *UploadError) Unwrap() error { return ErrInvalidUpload }

// ParseSheet reads product_code and price columns from the first sheet.
func ParseSheet(r io.Reader) ([]SheetRow, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidUpload, err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", ErrInvalidUpload)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidUpload, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: sheet is empty", ErrInvalidUpload)
	}

	codeCol, priceCol := -1, -1
	for i, h := range rows[0] {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "product_code", "product code", "code":
			codeCol = i
		case "price", "unit_price", "unit price":
			priceCol = i
		}
	}
	if codeCol < 0 || priceCol < 0 {
		return nil, fmt.Errorf("%w: header must contain product_code and price", ErrInvalidUpload)
	}

	var (
		out     []SheetRow
		rowErrs []RowError
		seen    = make(map[string]int)
	)
	for i, cols := range rows[1:] {
		rowNum := i + 2
		code := cell(cols, codeCol)
		raw := cell(cols, priceCol)
		if code == "" && raw == "" {
			continue
		}
		if code == "" {
			rowErrs = append(rowErrs, RowError{Row: rowNum, Message: "product code is empty"})
			continue
		}
		if first, dup := seen[code]; dup {
			rowErrs = append(rowErrs, RowError{Row: rowNum, Message: fmt.Sprintf("product %s already listed on row %d", code, first)})
			continue
		}
		price, err := decimal.NewFromString(raw)
		if err != nil {
			rowErrs = append(rowErrs, RowError{Row: rowNum, Message: fmt.Sprintf("price %q is not a number", raw)})
			continue
		}
		if price.IsNegative() {
			rowErrs = append(rowErrs, RowError{Row: rowNum, Message: "price must not be negative"})
			continue
		}
		seen[code] = rowNum
		out = append(out, SheetRow{Row: rowNum, ProductCode: code, Price: price.Round(2)})
	}
	if len(rowErrs) > 0 {
		return nil, &UploadError{Rows: rowErrs}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no price rows", ErrInvalidUpload)
	}
	return out, nil
}

func cell(cols []string, idx int) string {
	if idx >= len(cols) {
		return ""
	}
	return strings.TrimSpace(cols[idx])
}
