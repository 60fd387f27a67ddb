// Package export appends closed-year financial reports to a Google
// spreadsheet. Exports are queued by the year close transition and
// drained asynchronously by the Worker, so a slow or unreachable
// spreadsheet never blocks a ledger transaction.
package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"chanda/internal/core"
)

// ReportAppender is the outbound port the worker drains into.
type ReportAppender interface {
	AppendYearReport(ctx context.Context, summary core.YearSummary) error
}

// SheetsExporter appends one row per closed year to a sheet.
type SheetsExporter struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string
}

var _ ReportAppender = (*SheetsExporter)(nil)

// NewSheetsExporter builds an exporter using service-account
// credentials from the environment (GOOGLE_SERVICE_ACCOUNT_JSON,
// GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS).
func NewSheetsExporter(ctx context.Context, spreadsheetID, sheetName string) (*SheetsExporter, error) {
	if strings.TrimSpace(spreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	if strings.TrimSpace(sheetName) == "" {
		sheetName = "Reports"
	}

	svc, err := newSheetsService(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}

	return &SheetsExporter{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
	}, nil
}

func newSheetsService(ctx context.Context) (*gsheet.Service, error) {
	serviceAccountJSON := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	serviceAccountFile := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	var err error
	switch {
	case serviceAccountJSON != "":
		credentialsJSON = []byte(serviceAccountJSON)
	case serviceAccountFile != "":
		credentialsJSON, err = os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

// AppendYearReport appends the summary as one row:
// name, start, end, opening, installments, fees, donations, expenses,
// closing, warnings.
func (e *SheetsExporter) AppendYearReport(ctx context.Context, summary core.YearSummary) error {
	row := []interface{}{
		summary.Year.Name,
		summary.Year.StartDate.Format("2006-01-02"),
		summary.Year.EndDate.Format("2006-01-02"),
		cell(summary.Year.OpeningBalance),
		cell(summary.PaidSubs),
		cell(summary.Fees),
		cell(summary.Donations),
		cell(summary.ApprovedExpense),
		cell(summary.Balance),
		strings.Join(summary.Warnings, "; "),
	}

	vr := &gsheet.ValueRange{Values: [][]interface{}{row}}
	_, err := e.svc.Spreadsheets.Values.
		Append(e.spreadsheetID, e.sheetName+"!A:J", vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("append report row: %w", err)
	}
	return nil
}

// cell renders cents as an exact two-decimal value for the sheet.
func cell(m core.Money) string {
	return decimal.New(m.Cents, -2).StringFixed(2)
}
