// Package csvstore keeps each table as a CSV file in a local directory.
package csvstore

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"bwmon/internal/model"
	"bwmon/internal/store"
)

const ext = ".csv"

// Store maps table name to <dir>/<escaped name>.csv.
type Store struct {
	dir string
}

func New(dir string) *Store {
	return &Store{dir: dir}
}

// Path returns the file backing table name.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, url.PathEscape(name)+ext)
}

func (s *Store) TableExists(ctx context.Context, name string) (bool, error) {
	info, err := os.Stat(s.Path(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return info.Mode().IsRegular(), nil
}

func (s *Store) CreateTable(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty table name", store.ErrRejected)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	f, err := os.OpenFile(s.Path(name), os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return f.Close()
}

// AppendRows writes rows at the end of an existing table.
func (s *Store) AppendRows(ctx context.Context, name string, rows []model.Row) error {
	f, err := os.OpenFile(s.Path(name), os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: table %q does not exist", store.ErrRejected, name)
		}
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	defer f.Close()

	writer := csv.NewWriter(f)
	for _, row := range rows {
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return f.Close()
}

// ReadTable loads every row of a table, header included.
func (s *Store) ReadTable(name string) ([]model.Row, error) {
	f, err := os.Open(s.Path(name))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	out := make([]model.Row, 0, len(records))
	for _, rec := range records {
		out = append(out, model.Row(rec))
	}
	return out, nil
}

// Tables lists table names in the directory, sorted.
func (s *Store) Tables() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ext) {
			continue
		}
		name, err := url.PathUnescape(strings.TrimSuffix(e.Name(), ext))
		if err != nil {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
