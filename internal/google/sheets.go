package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"sync"
	"time"

	"healthmate/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

const (
	ledgerSheet   = "Engagements"
	lastColumn    = "O"
	timeLayout    = "2006-01-02 15:04:05"
	cacheRefresh  = time.Hour
	warmUpTimeout = 30 * time.Second
)

var ledgerHeaders = []interface{}{
	"ID", "Requester", "Provider", "Goal", "Duration (min)", "Total", "Platform Fee", "Provider Income",
	"Currency", "Status", "Paid", "Refund Attempts", "Refund Error", "Created At", "Updated At",
}

var errRowNotFound = errors.New("engagement row not found")

// LedgerSheet mirrors engagements into a Google spreadsheet, one row per engagement.
type LedgerSheet struct {
	service       *sheets.Service
	spreadsheetID string
	rowCache      map[string]int
	cacheMu       sync.RWMutex
	logger        *zerolog.Logger
}

// NewLedgerSheet authenticates with a service account key and keeps the row
// index warm until ctx is done.
func NewLedgerSheet(ctx context.Context, credentialsFile, spreadsheetID string, logger *zerolog.Logger) (*LedgerSheet, error) {
	credentialsJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	config, err := google.JWTConfigFromJSON(credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(config.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Sheets service: %w", err)
	}

	s := newLedgerSheet(srv, spreadsheetID, logger)
	go s.refreshLoop(ctx)
	return s, nil
}

func newLedgerSheet(srv *sheets.Service, spreadsheetID string, logger *zerolog.Logger) *LedgerSheet {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &LedgerSheet{
		service:       srv,
		spreadsheetID: spreadsheetID,
		rowCache:      make(map[string]int),
		logger:        logger,
	}
}

func (s *LedgerSheet) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(cacheRefresh)
	defer ticker.Stop()
	for {
		warmCtx, cancel := context.WithTimeout(ctx, warmUpTimeout)
		if err := s.WarmUpCache(warmCtx); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to warm up ledger sheet cache")
		}
		cancel()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// TestConnection reads the first header cell.
func (s *LedgerSheet) TestConnection(ctx context.Context) error {
	_, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, ledgerSheet+"!A1").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	return nil
}

// WarmUpCache rebuilds the id to row index from column A.
func (s *LedgerSheet) WarmUpCache(ctx context.Context) error {
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, ledgerSheet+"!A:A").Context(ctx).Do()
	if err != nil {
		return err
	}

	cache := make(map[string]int, len(resp.Values))
	for i, row := range resp.Values {
		if id := cellID(row); id != "" && id != "ID" {
			cache[id] = i + 1
		}
	}

	s.cacheMu.Lock()
	s.rowCache = cache
	s.cacheMu.Unlock()
	return nil
}

// UpsertEngagement rewrites the engagement's row or appends a new one.
func (s *LedgerSheet) UpsertEngagement(ctx context.Context, e *models.Engagement) error {
	if e == nil || e.ID == "" {
		return fmt.Errorf("engagement is required")
	}

	rowIdx, err := s.FindEngagementRow(ctx, e.ID)
	if errors.Is(err, errRowNotFound) {
		return s.AppendEngagement(ctx, e)
	}
	if err != nil {
		return err
	}

	rangeData := fmt.Sprintf("%s!A%d:%s%d", ledgerSheet, rowIdx, lastColumn, rowIdx)
	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, rangeData, &sheets.ValueRange{
		Values: [][]interface{}{engagementRowValues(e)},
	}).ValueInputOption("RAW").Context(ctx).Do()
	return err
}

func (s *LedgerSheet) AppendEngagement(ctx context.Context, e *models.Engagement) error {
	resp, err := s.service.Spreadsheets.Values.Append(s.spreadsheetID, ledgerSheet+"!A:A", &sheets.ValueRange{
		Values: [][]interface{}{engagementRowValues(e)},
	}).ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return err
	}
	if resp.Updates != nil {
		if row, ok := rowFromRange(resp.Updates.UpdatedRange); ok {
			s.setCachedRow(e.ID, row)
		}
	}
	return nil
}

// FindEngagementRow returns the 1-based row of id, consulting the cache first.
func (s *LedgerSheet) FindEngagementRow(ctx context.Context, id string) (int, error) {
	if id == "" {
		return 0, fmt.Errorf("engagement id is required")
	}
	if row, ok := s.getCachedRow(id); ok {
		return row, nil
	}

	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, ledgerSheet+"!A:A").Context(ctx).Do()
	if err != nil {
		return 0, err
	}
	for i, row := range resp.Values {
		if cellID(row) == id {
			s.setCachedRow(id, i+1)
			return i + 1, nil
		}
	}
	return 0, errRowNotFound
}

// ReplaceLedger clears the sheet and writes the header plus every engagement.
func (s *LedgerSheet) ReplaceLedger(ctx context.Context, engagements []*models.Engagement) error {
	values := make([][]interface{}, 0, len(engagements)+1)
	values = append(values, ledgerHeaders)
	for _, e := range engagements {
		values = append(values, engagementRowValues(e))
	}

	_, err := s.service.Spreadsheets.Values.Clear(s.spreadsheetID, ledgerSheet+"!A:"+lastColumn, &sheets.ClearValuesRequest{}).
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("unable to clear sheet: %w", err)
	}

	rangeData := fmt.Sprintf("%s!A1:%s%d", ledgerSheet, lastColumn, len(values))
	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, rangeData, &sheets.ValueRange{Values: values}).
		ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return err
	}

	cache := make(map[string]int, len(engagements))
	for i, e := range engagements {
		cache[e.ID] = i + 2
	}
	s.cacheMu.Lock()
	s.rowCache = cache
	s.cacheMu.Unlock()
	return nil
}

func (s *LedgerSheet) getCachedRow(id string) (int, bool) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	row, ok := s.rowCache[id]
	return row, ok
}

func (s *LedgerSheet) setCachedRow(id string, row int) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.rowCache[id] = row
}

func engagementRowValues(e *models.Engagement) []interface{} {
	refundError := ""
	if e.RefundError != nil {
		refundError = *e.RefundError
	}
	return []interface{}{
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
		refundError,
		e.CreatedAt.UTC().Format(timeLayout),
		e.UpdatedAt.UTC().Format(timeLayout),
	}
}

func cellID(row []interface{}) string {
	if len(row) == 0 {
		return ""
	}
	if v, ok := row[0].(string); ok {
		return v
	}
	return fmt.Sprint(row[0])
}

var updatedRangeRe = regexp.MustCompile(`![A-Z]+(\d+)`)

// rowFromRange extracts the first row number of an A1 range like "Engagements!A10:O10".
func rowFromRange(r string) (int, bool) {
	m := updatedRangeRe.FindStringSubmatch(r)
	if m == nil {
		return 0, false
	}
	row, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return row, true
}
