package contact

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/matins/pkg/model"
	"github.com/m-mizutani/matins/pkg/utils/logging"
)

// CSV is a contact list kept in a spreadsheet export. Columns are detected by
// header name, in Portuguese or English.
type CSV struct {
	path string
	mu   sync.Mutex
}

func NewCSV(path string) *CSV {
	return &CSV{path: path}
}

func (s *CSV) read() ([][]string, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open contact file", goerr.V("path", s.path))
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to parse contact file", goerr.V("path", s.path))
	}
	return records, nil
}

// List returns every contact with a usable phone number. Rows whose number is
// too short are skipped with a warning.
func (s *CSV) List(ctx context.Context) ([]*model.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read()
	if err != nil {
		return nil, err
	}
	return parseRecords(ctx, s.path, records)
}

// Add appends a row for contact. The file is rewritten through a temporary file
// so a concurrent reader never sees a partial row. Existing ids are left alone.
func (s *CSV) Add(ctx context.Context, contact *model.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if len(records) == 0 {
		records = [][]string{defaultHeader}
	}

	row, err := newRow(s.path, records, contact)
	if err != nil {
		return err
	}
	if row == nil {
		return nil
	}
	records = append(records, row)

	if err := replaceFile(s.path, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		return cw.WriteAll(records)
	}); err != nil {
		return err
	}

	logging.From(ctx).Info("contact added", "contact_id", contact.ID, "name", contact.Name)
	return nil
}
