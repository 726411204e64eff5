package catalog

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kursadbilgin/placement-engine/internal/domain"
	"github.com/xuri/excelize/v2"
)

// Required roster columns.
const (
	ColumnFromName  = "from_name"
	ColumnFromEmail = "from_email"
	ColumnUserName  = "user_name"
	ColumnPassword  = "password"
	ColumnSMTPHost  = "smtp_host"
)

var requiredColumns = []string{ColumnFromName, ColumnFromEmail, ColumnUserName, ColumnPassword, ColumnSMTPHost}

var columnAliases = map[string]string{
	"username":  ColumnUserName,
	"fromemail": ColumnFromEmail,
	"fromname":  ColumnFromName,
	"smtphost":  ColumnSMTPHost,
}

// Load reads a CSV roster.
func Load(r io.Reader) ([]domain.Account, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: read csv: %v", domain.ErrMalformedInput, err)
	}
	return parseRows(rows)
}

// LoadFile reads a roster from path, choosing CSV or XLSX by extension.
// Workbooks are read from their first sheet.
func LoadFile(path string) ([]domain.Account, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return loadWorkbook(path)
	default:
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open roster: %w", err)
		}
		defer f.Close()
		return Load(f)
	}
}

func loadWorkbook(path string) ([]domain.Account, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open workbook: %v", domain.ErrMalformedInput, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", domain.ErrMalformedInput)
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: read sheet %q: %v", domain.ErrMalformedInput, sheets[0], err)
	}
	return parseRows(rows)
}

func parseRows(rows [][]string) ([]domain.Account, error) {
	header := -1
	for i, row := range rows {
		if !isBlank(row) {
			header = i
			break
		}
	}
	if header < 0 {
		return nil, fmt.Errorf("%w: roster is empty", domain.ErrMalformedInput)
	}

	index, err := columnIndex(rows[header])
	if err != nil {
		return nil, err
	}

	accounts := make([]domain.Account, 0, len(rows)-header-1)
	seen := make(map[string]int)
	for i := header + 1; i < len(rows); i++ {
		row := rows[i]
		if isBlank(row) {
			continue
		}
		line := i + 1

		account := domain.Account{
			FromName:  cell(row, index[ColumnFromName]),
			FromEmail: cell(row, index[ColumnFromEmail]),
			Username:  cell(row, index[ColumnUserName]),
			Password:  cell(row, index[ColumnPassword]),
			SMTPHost:  cell(row, index[ColumnSMTPHost]),
		}
		if err := account.Validate(); err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}

		id := account.ID()
		if first, ok := seen[id]; ok {
			return nil, fmt.Errorf("%w: row %d: duplicate from_email %q (first seen on row %d)", domain.ErrMalformedInput, line, account.FromEmail, first)
		}
		seen[id] = line
		accounts = append(accounts, account)
	}

	if len(accounts) == 0 {
		return nil, fmt.Errorf("%w: roster has no accounts", domain.ErrMalformedInput)
	}

	return accounts, nil
}

func columnIndex(header []string) (map[string]int, error) {
	index := make(map[string]int, len(requiredColumns))
	for i, raw := range header {
		name := normalizeHeader(raw)
		if alias, ok := columnAliases[name]; ok {
			name = alias
		}
		if _, dup := index[name]; !dup {
			index[name] = i
		}
	}

	var missing []string
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing required columns: %s", domain.ErrMalformedInput, strings.Join(missing, ", "))
	}

	return index, nil
}

func normalizeHeader(s string) string {
	s = strings.TrimPrefix(s, "\ufeff")
	return strings.ToLower(strings.TrimSpace(s))
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func isBlank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// Domains returns the distinct sender domains of accounts in roster order.
func Domains(accounts []domain.Account) []string {
	seen := make(map[string]struct{}, len(accounts))
	domains := make([]string, 0, len(accounts))
	for _, a := range accounts {
		d := a.Domain()
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		domains = append(domains, d)
	}
	return domains
}
