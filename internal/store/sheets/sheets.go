// Package sheets stores tables as tabs of a Google Sheets spreadsheet.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"

	"bwmon/internal/model"
	"bwmon/internal/store"
)

const (
	valueInputOption          = "USER_ENTERED"
	insertDataOption          = "INSERT_ROWS"
	responseValueRenderOption = "UNFORMATTED_VALUE"
)

// Store is a TableStore over one spreadsheet. Each table is a sheet tab
// whose title equals the table name.
type Store struct {
	svc           *sheetsapi.Service
	spreadsheetID string
}

// New builds a store for spreadsheetID. Authentication comes from opts,
// typically option.WithHTTPClient with a client from ClientFromFile.
func New(ctx context.Context, spreadsheetID string, opts ...option.ClientOption) (*Store, error) {
	if spreadsheetID == "" {
		return nil, errors.New("spreadsheet id is required")
	}
	svc, err := sheetsapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return &Store{svc: svc, spreadsheetID: spreadsheetID}, nil
}

// TableExists scans the spreadsheet's tab titles for an exact match.
func (s *Store) TableExists(ctx context.Context, name string) (bool, error) {
	doc, err := s.svc.Spreadsheets.Get(s.spreadsheetID).
		Fields("sheets.properties.title").
		Context(ctx).
		Do()
	if err != nil {
		return false, classify("get spreadsheet", err)
	}
	for _, sh := range doc.Sheets {
		if sh.Properties != nil && sh.Properties.Title == name {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) CreateTable(ctx context.Context, name string) error {
	req := &sheetsapi.BatchUpdateSpreadsheetRequest{
		Requests: []*sheetsapi.Request{{
			AddSheet: &sheetsapi.AddSheetRequest{
				Properties: &sheetsapi.SheetProperties{Title: name},
			},
		}},
	}
	if _, err := s.svc.Spreadsheets.BatchUpdate(s.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return classify("add sheet", err)
	}
	return nil
}

// AppendRows appends below the last row of the tab's table, inserting new
// rows rather than overwriting.
func (s *Store) AppendRows(ctx context.Context, name string, rows []model.Row) error {
	values := make([][]interface{}, 0, len(rows))
	for _, row := range rows {
		cells := make([]interface{}, len(row))
		for i, v := range row {
			cells[i] = v
		}
		values = append(values, cells)
	}

	_, err := s.svc.Spreadsheets.Values.Append(s.spreadsheetID, A1Range(name), &sheetsapi.ValueRange{Values: values}).
		ValueInputOption(valueInputOption).
		InsertDataOption(insertDataOption).
		ResponseValueRenderOption(responseValueRenderOption).
		Context(ctx).
		Do()
	if err != nil {
		return classify("append values", err)
	}
	return nil
}

// A1Range addresses column A of the named tab. Quotes inside the title are
// doubled per A1 notation.
func A1Range(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'!A:A"
}

// classify maps API failures onto the store taxonomy: auth, server and
// transport errors are ErrUnavailable, other client errors ErrRejected.
func classify(op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusUnauthorized, apiErr.Code == http.StatusForbidden, apiErr.Code >= 500:
			return fmt.Errorf("%w: %s: %v", store.ErrUnavailable, op, err)
		case apiErr.Code >= 400:
			return fmt.Errorf("%w: %s: %v", store.ErrRejected, op, err)
		}
	}
	return fmt.Errorf("%w: %s: %v", store.ErrUnavailable, op, err)
}
