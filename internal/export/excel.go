package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"healthmate/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const (
	ledgerSheet  = "Engagements"
	summarySheet = "Summary"
	timeLayout   = "2006-01-02 15:04"
)

var ledgerHeaders = []string{
	"ID", "Requester", "Provider", "Goal", "Duration (min)", "Total", "Platform Fee", "Provider Income",
	"Currency", "Status", "Paid", "Refund Attempts", "Refund Error", "Created At", "Decided At",
}

// RangeLister returns engagements created within [start, end).
type RangeLister interface {
	ListEngagementsByCreatedRange(ctx context.Context, start, end time.Time) ([]*models.Engagement, error)
}

// Exporter writes ledger reports as xlsx workbooks.
type Exporter struct {
	store  RangeLister
	dir    string
	logger *zerolog.Logger
}

func NewExporter(store RangeLister, dir string, logger *zerolog.Logger) *Exporter {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Exporter{store: store, dir: dir, logger: logger}
}

// Summary aggregates an export period. Amounts are in minor units.
type Summary struct {
	Count      int
	ByStatus   map[string]int
	Total      models.Money
	Fees       models.Money
	Income     models.Money
	Unrefunded int
}

func Summarize(engagements []*models.Engagement) Summary {
	s := Summary{ByStatus: make(map[string]int)}
	for _, e := range engagements {
		s.Count++
		s.ByStatus[e.Status]++
		if e.NeedsRefund() {
			s.Unrefunded++
		}
		// rejected and refunded engagements earn nothing
		if e.Status == models.StatusRejected && !e.IsPaid {
			continue
		}
		s.Total += e.TotalAmount
		s.Fees += e.PlatformFee
		s.Income += e.ProviderIncome
	}
	return s
}

// Export writes engagements created between start and end (inclusive days) and
// returns the file path.
func (x *Exporter) Export(ctx context.Context, start, end time.Time) (string, error) {
	if end.Before(start) {
		return "", fmt.Errorf("invalid date range: %s - %s", start.Format("2006-01-02"), end.Format("2006-01-02"))
	}
	if err := os.MkdirAll(x.dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}

	engagements, err := x.store.ListEngagementsByCreatedRange(ctx, start, end.AddDate(0, 0, 1))
	if err != nil {
		return "", fmt.Errorf("error getting engagements: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(ledgerSheet)
	if err != nil {
		return "", fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)

	if err := writeLedger(f, engagements); err != nil {
		return "", err
	}
	if _, err := f.NewSheet(summarySheet); err != nil {
		return "", fmt.Errorf("error creating sheet: %w", err)
	}
	writeSummary(f, start, end, Summarize(engagements))

	_ = f.DeleteSheet("Sheet1")

	fileName := fmt.Sprintf("engagements_%s_to_%s.xlsx", start.Format("2006-01-02"), end.Format("2006-01-02"))
	filePath := filepath.Join(x.dir, fileName)
	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}

	x.logger.Info().Str("file_path", filePath).Int("engagements", len(engagements)).Msg("Excel file created")
	return filePath, nil
}

func writeLedger(f *excelize.File, engagements []*models.Engagement) error {
	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	refundStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#F8CBAD"}, Pattern: 1},
	})

	for i, h := range ledgerHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(ledgerSheet, cell, h)
	}
	lastCol, _ := excelize.ColumnNumberToName(len(ledgerHeaders))
	_ = f.SetCellStyle(ledgerSheet, "A1", lastCol+"1", headerStyle)

	for i, e := range engagements {
		row := i + 2
		cell, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(ledgerSheet, cell, &[]interface{}{
			e.ID,
			e.RequesterID,
			e.ProviderID,
			e.Goal,
			e.Duration,
			e.TotalAmount.Major(),
			e.PlatformFee.Major(),
			e.ProviderIncome.Major(),
			e.Currency,
			e.Status,
			e.IsPaid,
			e.RefundAttempts,
			derefString(e.RefundError),
			e.CreatedAt.UTC().Format(timeLayout),
			formatTime(e.DecidedAt),
		}); err != nil {
			return fmt.Errorf("error writing row %d: %w", row, err)
		}
		if e.NeedsRefund() {
			end, _ := excelize.CoordinatesToCellName(len(ledgerHeaders), row)
			_ = f.SetCellStyle(ledgerSheet, cell, end, refundStyle)
		}
	}

	_ = f.SetColWidth(ledgerSheet, "A", "A", 38)
	_ = f.SetColWidth(ledgerSheet, "B", lastCol, 16)
	_ = f.SetPanes(ledgerSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
	return nil
}

func writeSummary(f *excelize.File, start, end time.Time, s Summary) {
	titleStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	_ = f.SetCellValue(summarySheet, "A1", fmt.Sprintf("Period: %s - %s", start.Format("02.01.2006"), end.Format("02.01.2006")))
	_ = f.MergeCell(summarySheet, "A1", "B1")
	_ = f.SetCellStyle(summarySheet, "A1", "A1", titleStyle)

	rows := [][]interface{}{
		{"Engagements", s.Count},
		{"Pending", s.ByStatus[models.StatusPending]},
		{"Accepted", s.ByStatus[models.StatusAccepted]},
		{"Rejected", s.ByStatus[models.StatusRejected]},
		{"Awaiting refund", s.Unrefunded},
		{"Gross", s.Total.Major()},
		{"Platform fees", s.Fees.Major()},
		{"Provider income", s.Income.Major()},
	}
	for i, r := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+3)
		_ = f.SetSheetRow(summarySheet, cell, &r)
	}
	_ = f.SetColWidth(summarySheet, "A", "A", 24)
	_ = f.SetColWidth(summarySheet, "B", "B", 16)
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(timeLayout)
}
