package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"settleup/internal/core"
	"settleup/internal/log"
	"settleup/internal/ports"
)

// maxTitleRunes is the longest tab title Sheets accepts.
const maxTitleRunes = 100

var ErrMissingCredentials = errors.New("missing service account credentials")

// spreadsheet is the subset of the Sheets API the exporter needs.
type spreadsheet interface {
	SheetTitles(ctx context.Context) ([]string, error)
	AddSheet(ctx context.Context, title string) error
	Clear(ctx context.Context, rng string) error
	Update(ctx context.Context, rng string, rows [][]any) error
}

// Exporter writes settlement summaries into one tab per group.
type Exporter struct {
	sheet  spreadsheet
	logger *log.Logger
}

var _ ports.SummaryExporter = (*Exporter)(nil)

// New creates an exporter for spreadsheetID authenticated with service
// account credentials.
func New(ctx context.Context, spreadsheetID string, credentialsJSON []byte, logger *log.Logger) (*Exporter, error) {
	spreadsheetID = strings.TrimSpace(spreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	if len(credentialsJSON) == 0 {
		return nil, ErrMissingCredentials
	}

	svc, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return newExporter(&serviceSpreadsheet{svc: svc, id: spreadsheetID}, logger), nil
}

func newExporter(sheet spreadsheet, logger *log.Logger) *Exporter {
	if logger == nil {
		logger = log.Discard()
	}
	return &Exporter{sheet: sheet, logger: logger.WithComponent(log.ComponentSheets)}
}

// CredentialsFromConfig returns inline JSON when set, otherwise the content
// of file, falling back to GOOGLE_APPLICATION_CREDENTIALS.
func CredentialsFromConfig(inlineJSON, file string) ([]byte, error) {
	inlineJSON = strings.TrimSpace(inlineJSON)
	file = strings.TrimSpace(file)
	if inlineJSON == "" && file == "" {
		file = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	switch {
	case inlineJSON != "":
		return []byte(inlineJSON), nil
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return b, nil
	default:
		return nil, ErrMissingCredentials
	}
}

// ExportSummary replaces the content of the group's tab with summary.
func (e *Exporter) ExportSummary(ctx context.Context, summary core.SettlementSummary) error {
	title := sheetTitle(summary)
	if err := e.ensureSheet(ctx, title); err != nil {
		return err
	}

	rng := quoteTitle(title)
	if err := e.sheet.Clear(ctx, rng); err != nil {
		return fmt.Errorf("clear %s: %w", title, err)
	}
	rows := settlementRows(summary)
	if err := e.sheet.Update(ctx, rng+"!A1", rows); err != nil {
		return fmt.Errorf("write %s: %w", title, err)
	}

	e.logger.InfoContext(ctx, "Exported settlement summary",
		log.FieldGroupID, summary.GroupID,
		log.FieldTransfers, len(summary.Settlements),
		"sheet", title)
	return nil
}

func (e *Exporter) ensureSheet(ctx context.Context, title string) error {
	titles, err := e.sheet.SheetTitles(ctx)
	if err != nil {
		return fmt.Errorf("list sheets: %w", err)
	}
	for _, t := range titles {
		if t == title {
			return nil
		}
	}
	if err := e.sheet.AddSheet(ctx, title); err != nil {
		return fmt.Errorf("add sheet %s: %w", title, err)
	}
	e.logger.DebugContext(ctx, "Created sheet", "sheet", title)
	return nil
}

// sheetTitle names a group's tab "<name> (<id prefix>)" so groups sharing a
// name do not overwrite each other.
func sheetTitle(s core.SettlementSummary) string {
	id := s.GroupID
	if len(id) > 8 {
		id = id[:8]
	}
	name := strings.Join(strings.Fields(s.GroupName), " ")
	if name == "" {
		return id
	}
	suffix := " (" + id + ")"
	limit := maxTitleRunes - utf8.RuneCountInString(suffix)
	if utf8.RuneCountInString(name) > limit {
		name = string([]rune(name)[:limit])
	}
	return name + suffix
}

// quoteTitle returns title in A1 notation, escaping embedded quotes.
func quoteTitle(title string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'"
}

// settlementRows lays out a summary: two info rows, a blank row, the transfer
// table and a total.
func settlementRows(s core.SettlementSummary) [][]any {
	rows := [][]any{
		{"Group", textCell(s.GroupName)},
		{"Generated", s.GeneratedAt.UTC().Format(time.RFC3339)},
		{},
		{"From", "To", "Amount"},
	}
	for _, l := range s.Settlements {
		rows = append(rows, []any{textCell(l.From), textCell(l.To), core.Money{Cents: core.CentsFromUnits(l.Amount)}.Units()})
	}
	if len(s.Settlements) == 0 {
		rows = append(rows, []any{"All settled up"})
	}
	rows = append(rows, []any{"Total", "", s.Total().Units()})
	return rows
}

// textCell keeps user text literal. Values are written USER_ENTERED, so a
// leading '=', '+', '-' or '@' would otherwise be evaluated as a formula.
func textCell(v string) string {
	if v == "" {
		return v
	}
	switch v[0] {
	case '=', '+', '-', '@', '\t', '\r':
		return "'" + v
	}
	return v
}

type serviceSpreadsheet struct {
	svc *gsheet.Service
	id  string
}

func (s *serviceSpreadsheet) SheetTitles(ctx context.Context) ([]string, error) {
	resp, err := s.svc.Spreadsheets.Get(s.id).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	titles := make([]string, 0, len(resp.Sheets))
	for _, sh := range resp.Sheets {
		if sh.Properties != nil {
			titles = append(titles, sh.Properties.Title)
		}
	}
	return titles, nil
}

func (s *serviceSpreadsheet) AddSheet(ctx context.Context, title string) error {
	req := &gsheet.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheet.Request{{
			AddSheet: &gsheet.AddSheetRequest{Properties: &gsheet.SheetProperties{Title: title}},
		}},
	}
	_, err := s.svc.Spreadsheets.BatchUpdate(s.id, req).Context(ctx).Do()
	return err
}

func (s *serviceSpreadsheet) Clear(ctx context.Context, rng string) error {
	_, err := s.svc.Spreadsheets.Values.Clear(s.id, rng, &gsheet.ClearValuesRequest{}).Context(ctx).Do()
	return err
}

func (s *serviceSpreadsheet) Update(ctx context.Context, rng string, rows [][]any) error {
	vr := &gsheet.ValueRange{Values: rows}
	_, err := s.svc.Spreadsheets.Values.Update(s.id, rng, vr).
		ValueInputOption("USER_ENTERED").Context(ctx).Do()
	return err
}
