package export

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"healthmate/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type fakeStore struct {
	engagements []*models.Engagement
	err         error
	start, end  time.Time
}

func (f *fakeStore) ListEngagementsByCreatedRange(_ context.Context, start, end time.Time) ([]*models.Engagement, error) {
	f.start, f.end = start, end
	return f.engagements, f.err
}

func engagement(id, status string, paid bool) *models.Engagement {
	fee, income := models.SplitFee(100000)
	return &models.Engagement{
		ID:             id,
		RequesterID:    "u1",
		ProviderID:     "p1",
		Goal:           "mobility",
		Duration:       60,
		TotalAmount:    100000,
		PlatformFee:    fee,
		ProviderIncome: income,
		Currency:       "egp",
		IsPaid:         paid,
		Status:         status,
		CreatedAt:      time.Date(2026, 5, 2, 9, 30, 0, 0, time.UTC),
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize([]*models.Engagement{
		engagement("a", models.StatusAccepted, true),
		engagement("b", models.StatusPending, true),
		engagement("c", models.StatusRejected, false),
		engagement("d", models.StatusRejected, true),
	})

	assert.Equal(t, 4, s.Count)
	assert.Equal(t, 1, s.ByStatus[models.StatusAccepted])
	assert.Equal(t, 2, s.ByStatus[models.StatusRejected])
	assert.Equal(t, 1, s.Unrefunded)
	assert.Equal(t, models.Money(300000), s.Total)
	assert.Equal(t, models.Money(45000), s.Fees)
	assert.Equal(t, models.Money(255000), s.Income)
}

func TestExport(t *testing.T) {
	dir := t.TempDir()
	store := &fakeStore{engagements: []*models.Engagement{
		engagement("eng-1", models.StatusAccepted, true),
		engagement("eng-2", models.StatusRejected, true),
	}}
	x := NewExporter(store, dir, nil)

	start := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 5, 31, 0, 0, 0, 0, time.UTC)
	path, err := x.Export(context.Background(), start, end)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "engagements_2026-05-01_to_2026-05-31.xlsx"), path)
	assert.Equal(t, end.AddDate(0, 0, 1), store.end, "end day is inclusive")

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{ledgerSheet, summarySheet}, f.GetSheetList())

	rows, err := f.GetRows(ledgerSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "ID", rows[0][0])
	assert.Equal(t, "eng-1", rows[1][0])
	assert.Equal(t, "1000", rows[1][5])
	assert.Equal(t, "150", rows[1][6])
	assert.Equal(t, "850", rows[1][7])
	assert.Equal(t, models.StatusRejected, rows[2][9])

	count, err := f.GetCellValue(summarySheet, "B3")
	require.NoError(t, err)
	assert.Equal(t, "2", count)
	awaiting, err := f.GetCellValue(summarySheet, "B7")
	require.NoError(t, err)
	assert.Equal(t, "1", awaiting)
}

func TestExportErrors(t *testing.T) {
	start := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)

	_, err := NewExporter(&fakeStore{}, t.TempDir(), nil).Export(context.Background(), start, start.AddDate(0, 0, -1))
	assert.Error(t, err)

	_, err = NewExporter(&fakeStore{err: errors.New("db down")}, t.TempDir(), nil).Export(context.Background(), start, start)
	assert.ErrorContains(t, err, "db down")
}
