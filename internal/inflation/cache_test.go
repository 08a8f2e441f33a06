package inflation

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lazuer/tabulate-analysis-core/internal/logger"
)

type fakeScraper struct {
	table *Table
	err   error
	calls int
}

func (f *fakeScraper) Scrape(ctx context.Context) (*Table, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.table, nil
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	require.NoError(t, err)
	return log
}

func TestLoadReturnsEmptyTableWhenAbsent(t *testing.T) {
	dir := t.TempDir()
	c := New(filepath.Join(dir, "inflation.json"), 0, &fakeScraper{}, testLogger(t))

	table, err := c.Load()
	require.NoError(t, err)
	require.Empty(t, table.Years)
}

func TestRefreshFetchesAndPersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "inflation.json")
	scraper := &fakeScraper{table: &Table{Years: map[string]map[string]float64{
		"2023": {"Jan": 6.4, "Feb": 6.0},
	}}}
	c := New(path, 0, scraper, testLogger(t))

	table, err := c.Refresh(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, 1, scraper.calls)
	require.Contains(t, table.Years, "2023")
	require.FileExists(t, path)
	require.False(t, c.Stale())
}

func TestRefreshMergeIsNonShrinking(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "inflation.json")
	scraper := &fakeScraper{table: &Table{Years: map[string]map[string]float64{
		"2023": {"Jan": 6.4},
	}}}
	c := New(path, 0, scraper, testLogger(t))

	_, err := c.Refresh(context.Background(), true)
	require.NoError(t, err)

	scraper.table = &Table{Years: map[string]map[string]float64{
		"2024": {"Jan": 3.1},
	}}
	table, err := c.Refresh(context.Background(), true)
	require.NoError(t, err)

	require.Contains(t, table.Years, "2023")
	require.Contains(t, table.Years, "2024")
}

func TestRefreshFailureServesStaleCachedTable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "inflation.json")
	scraper := &fakeScraper{table: &Table{Years: map[string]map[string]float64{
		"2023": {"Jan": 6.4},
	}}}
	c := New(path, 0, scraper, testLogger(t))

	_, err := c.Refresh(context.Background(), true)
	require.NoError(t, err)

	scraper.err = context.DeadlineExceeded
	table, err := c.Refresh(context.Background(), true)
	require.NoError(t, err)
	require.Contains(t, table.Years, "2023")
	require.True(t, c.Stale())
}

func TestRefreshSkipsWhenFresh(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "inflation.json")
	scraper := &fakeScraper{table: &Table{Years: map[string]map[string]float64{"2023": {"Jan": 6.4}}}}
	c := New(path, 24*time.Hour, scraper, testLogger(t))

	_, err := c.Refresh(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, 1, scraper.calls)

	_, err = c.Refresh(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, 1, scraper.calls, "should not refetch when table is still fresh")
}

func TestAnnualRateIsMeanOfMonths(t *testing.T) {
	table := &Table{Years: map[string]map[string]float64{
		"2023": {"Jan": 6.0, "Feb": 4.0},
	}}
	rate, ok := table.AnnualRate(2023)
	require.True(t, ok)
	require.InDelta(t, 5.0, rate, 0.0001)

	_, ok = table.AnnualRate(1999)
	require.False(t, ok)
}

func TestCumulativeUsesDefaultForMissingYears(t *testing.T) {
	table := &Table{Years: map[string]map[string]float64{
		"2020": {"Jan": 10.0},
	}}
	// 2021 has no data, so it falls back to the 3% default.
	cumulative := table.Cumulative(2020, 2022, 0)
	expected := (1.10)*(1.03) - 1
	require.InDelta(t, expected, cumulative, 0.0001)
}

func TestCumulativeHonorsCallerSuppliedDefault(t *testing.T) {
	table := &Table{Years: map[string]map[string]float64{}}
	cumulative := table.Cumulative(2020, 2022, 0.05)
	expected := (1.05)*(1.05) - 1
	require.InDelta(t, expected, cumulative, 0.0001)
}

func TestSummaryIncludesOnlyYearsWithData(t *testing.T) {
	table := &Table{Years: map[string]map[string]float64{
		"2020": {"Jan": 10.0},
	}}
	summary := table.Summary(2020, 2022)
	require.Contains(t, summary, "2020: 10.00%")
	require.NotContains(t, summary, "2021:")
}

func TestPersistWritesValidJSONFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "inflation.json")
	scraper := &fakeScraper{table: &Table{Years: map[string]map[string]float64{"2023": {"Jan": 1.0}}}}
	c := New(path, 0, scraper, testLogger(t))

	_, err := c.Refresh(context.Background(), true)
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(raw), "2023")
}
