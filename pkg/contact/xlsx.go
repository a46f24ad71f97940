package contact

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/matins/pkg/model"
	"github.com/m-mizutani/matins/pkg/utils/logging"
	"github.com/xuri/excelize/v2"
)

// XLSX is a contact list kept in the first sheet of an Excel workbook. Columns
// are detected the same way as for CSV.
type XLSX struct {
	path string
	mu   sync.Mutex
}

func NewXLSX(path string) *XLSX {
	return &XLSX{path: path}
}

// open returns the workbook, its first sheet and that sheet's rows
func (s *XLSX) open() (*excelize.File, string, [][]string, error) {
	f, err := excelize.OpenFile(s.path)
	if err != nil {
		return nil, "", nil, goerr.Wrap(err, "failed to open contact workbook", goerr.V("path", s.path))
	}

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		_ = f.Close()
		return nil, "", nil, goerr.New("contact workbook has no sheet", goerr.V("path", s.path))
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		_ = f.Close()
		return nil, "", nil, goerr.Wrap(err, "failed to read contact sheet",
			goerr.V("path", s.path), goerr.V("sheet", sheets[0]))
	}
	return f, sheets[0], rows, nil
}

func (s *XLSX) List(ctx context.Context) ([]*model.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, _, rows, err := s.open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	return parseRecords(ctx, s.path, rows)
}

// Add appends a row for contact below the last used row, creating the workbook
// with a default header when it does not exist. Existing ids are left alone.
func (s *XLSX) Add(ctx context.Context, contact *model.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, sheet, rows, err := s.open()
	switch {
	case errors.Is(err, os.ErrNotExist):
		f = excelize.NewFile()
		sheet = f.GetSheetName(0)
		rows = nil
	case err != nil:
		return err
	}
	defer func() { _ = f.Close() }()

	if len(rows) == 0 {
		if err := setRow(f, sheet, 1, defaultHeader); err != nil {
			return err
		}
		rows = [][]string{defaultHeader}
	}

	row, err := newRow(s.path, rows, contact)
	if err != nil {
		return err
	}
	if row == nil {
		return nil
	}
	if err := setRow(f, sheet, len(rows)+1, row); err != nil {
		return err
	}

	if err := replaceFile(s.path, func(w io.Writer) error {
		return f.Write(w)
	}); err != nil {
		return err
	}

	logging.From(ctx).Info("contact added", "contact_id", contact.ID, "name", contact.Name)
	return nil
}

func setRow(f *excelize.File, sheet string, num int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, num)
	if err != nil {
		return goerr.Wrap(err, "invalid contact row", goerr.V("row", num))
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return goerr.Wrap(err, "failed to write contact row", goerr.V("sheet", sheet), goerr.V("cell", cell))
	}
	return nil
}
