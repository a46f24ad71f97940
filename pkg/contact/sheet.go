package contact

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/matins/pkg/citation"
	"github.com/m-mizutani/matins/pkg/model"
	"github.com/m-mizutani/matins/pkg/utils/logging"
)

var (
	nameHeaders   = []string{"nome", "name", "contato", "contact"}
	phoneHeaders  = []string{"telefone", "phone", "celular", "whatsapp", "numero", "number", "fone"}
	activeHeaders = []string{"ativo", "active", "status"}

	inactiveValues = []string{"nao", "no", "n", "false", "0", "inativo", "inactive"}

	defaultHeader = []string{"nome", "telefone", "ativo"}
)

// Open returns the file backed source for path: a workbook for .xlsx, a CSV
// export otherwise
func Open(path string) Source {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return NewXLSX(path)
	}
	return NewCSV(path)
}

type columns struct {
	name, phone, active int
}

func detectColumns(header []string) (columns, error) {
	cols := columns{name: -1, phone: -1, active: -1}
	for i, h := range header {
		key := citation.Fold(strings.TrimSpace(h))
		switch {
		case cols.name < 0 && matchHeader(key, nameHeaders):
			cols.name = i
		case cols.phone < 0 && matchHeader(key, phoneHeaders):
			cols.phone = i
		case cols.active < 0 && matchHeader(key, activeHeaders):
			cols.active = i
		}
	}
	if cols.phone < 0 {
		return cols, goerr.New("phone column not found", goerr.V("header", header))
	}
	return cols, nil
}

func matchHeader(key string, candidates []string) bool {
	for _, c := range candidates {
		if strings.Contains(key, c) {
			return true
		}
	}
	return false
}

func isActive(value string) bool {
	v := citation.Fold(strings.TrimSpace(value))
	if v == "" {
		return true
	}
	for _, inactive := range inactiveValues {
		if v == inactive {
			return false
		}
	}
	return true
}

func field(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

// parseRecords turns sheet rows, header first, into contacts. Rows whose number
// is too short are skipped with a warning and repeated numbers are kept once.
func parseRecords(ctx context.Context, path string, records [][]string) ([]*model.Contact, error) {
	if len(records) == 0 {
		return nil, nil
	}

	cols, err := detectColumns(records[0])
	if err != nil {
		return nil, goerr.Wrap(err, "invalid contact file", goerr.V("path", path))
	}

	var contacts []*model.Contact
	seen := make(map[string]struct{})
	for line, record := range records[1:] {
		raw := field(record, cols.phone)
		if raw == "" {
			continue
		}
		id, err := NormalizePhone(raw)
		if err != nil {
			logging.From(ctx).Warn("skip contact with invalid phone", "line", line+2, "phone", raw)
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		contacts = append(contacts, &model.Contact{
			ID:     id,
			Name:   field(record, cols.name),
			Active: isActive(field(record, cols.active)),
		})
	}
	return contacts, nil
}

// newRow builds the row for contact laid out after header. It returns nil when
// records already hold the contact's number.
func newRow(path string, records [][]string, contact *model.Contact) ([]string, error) {
	cols, err := detectColumns(records[0])
	if err != nil {
		return nil, goerr.Wrap(err, "invalid contact file", goerr.V("path", path))
	}

	for _, record := range records[1:] {
		if id, err := NormalizePhone(field(record, cols.phone)); err == nil && id == contact.ID {
			return nil, nil
		}
	}

	row := make([]string, len(records[0]))
	row[cols.phone] = contact.ID
	if cols.name >= 0 {
		row[cols.name] = contact.Name
	}
	if cols.active >= 0 {
		row[cols.active] = "sim"
		if !contact.Active {
			row[cols.active] = "nao"
		}
	}
	return row, nil
}

// replaceFile writes path through a temporary file in the same directory so a
// concurrent reader never sees a partial file
func replaceFile(path string, write func(w io.Writer) error) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return goerr.Wrap(err, "failed to create temp file", goerr.V("dir", dir))
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	if err := write(tmp); err != nil {
		return goerr.Wrap(err, "failed to write contact file", goerr.V("path", tmp.Name()))
	}
	if err := tmp.Close(); err != nil {
		return goerr.Wrap(err, "failed to close contact file", goerr.V("path", tmp.Name()))
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return goerr.Wrap(err, "failed to replace contact file", goerr.V("path", path))
	}
	return nil
}
