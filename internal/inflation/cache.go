package inflation

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lazuer/tabulate-analysis-core/internal/logger"
)

const refreshMaxAgeDefault = 30 * 24 * time.Hour

// defaultMissingYearRate is what cumulative() assumes for a year with no
// data, unless the caller supplies its own fallback.
const defaultMissingYearRate = 0.03

// Cache is the persistent inflation table plus the scrape-and-merge logic
// that keeps it fresh. All operations are safe for concurrent use; refresh
// serializes behind a mutex so two jobs racing to refresh don't double-fetch.
type Cache struct {
	path         string
	maxAge       time.Duration
	scraper      Scraper
	log          *logger.Logger
	mu           sync.Mutex
	cached       *Table
	cachedStale  bool
}

// Scraper fetches and parses the reference source's table. Separated from
// Cache so tests can substitute a fixture instead of hitting the network.
type Scraper interface {
	Scrape(ctx context.Context) (*Table, error)
}

func New(path string, maxAge time.Duration, scraper Scraper, log *logger.Logger) *Cache {
	if maxAge <= 0 {
		maxAge = refreshMaxAgeDefault
	}
	return &Cache{
		path:    path,
		maxAge:  maxAge,
		scraper: scraper,
		log:     log.With("component", "InflationCache"),
	}
}

// Load reads the persisted table, returning an empty one if absent. It
// does not trigger a fetch; callers that want a fresh table call Refresh.
func (c *Cache) Load() (*Table, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadLocked()
}

func (c *Cache) loadLocked() (*Table, error) {
	if c.cached != nil {
		return c.cached.Clone(), nil
	}
	raw, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		t := newTable()
		c.cached = t
		return t.Clone(), nil
	}
	if err != nil {
		return nil, err
	}
	var t Table
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("inflation: corrupt cache file %s: %w", c.path, err)
	}
	if t.Years == nil {
		t.Years = make(map[string]map[string]float64)
	}
	c.cached = &t
	return t.Clone(), nil
}

// needsRefresh reports whether the cached table is missing, older than
// maxAge, or its fetched_at year differs from the current year.
func (c *Cache) needsRefresh(t *Table, now time.Time) bool {
	if t.FetchedAt.IsZero() {
		return true
	}
	if now.Sub(t.FetchedAt) > c.maxAge {
		return true
	}
	return now.Year() != t.FetchedAt.Year()
}

// Refresh fetches fresh data when due (or when force is set), merges it
// non-destructively onto the existing table, and persists the result. A
// scrape or parse failure never loses what's already cached: it logs a
// warning and returns the previous table with Stale() reporting true.
func (c *Cache) Refresh(ctx context.Context, force bool) (*Table, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, err := c.loadLocked()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if !force && !c.needsRefresh(current, now) {
		c.cachedStale = false
		return current, nil
	}

	fresh, err := c.scraper.Scrape(ctx)
	if err != nil {
		c.log.Warn("inflation refresh failed, serving cached table", "error", err)
		c.cachedStale = true
		return current, nil
	}

	merged := mergeTables(current, fresh)
	merged.FetchedAt = now

	if err := c.persist(merged); err != nil {
		c.log.Warn("inflation cache persist failed, serving merged table in memory only", "error", err)
	}

	c.cached = merged
	c.cachedStale = false
	return merged.Clone(), nil
}

// Stale reports whether the most recent Refresh fell back to a cached
// table because the live fetch failed.
func (c *Cache) Stale() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cachedStale
}

// mergeTables merges fresh onto base: new rows overwrite, rows fresh is
// silent about are preserved from base. Never shrinks the result.
func mergeTables(base, fresh *Table) *Table {
	merged := base.Clone()
	if merged.Years == nil {
		merged.Years = make(map[string]map[string]float64)
	}
	for year, months := range fresh.Years {
		existing, ok := merged.Years[year]
		if !ok {
			existing = make(map[string]float64, len(months))
		}
		for month, rate := range months {
			existing[month] = rate
		}
		merged.Years[year] = existing
	}
	return merged
}

func (c *Cache) persist(t *Table) error {
	raw, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(c.path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, c.path)
}

// AnnualRate is the mean of available monthly percentages for year. ok is
// false if no months are present, leaving the fallback decision to the caller.
func (t *Table) AnnualRate(year int) (rate float64, ok bool) {
	months, present := t.Years[strconv.Itoa(year)]
	if !present || len(months) == 0 {
		return 0, false
	}
	sum := 0.0
	count := 0
	for _, v := range months {
		sum += v
		count++
	}
	return sum / float64(count), true
}

// Cumulative compounds (1 + annual_rate(y)/100) over [startYear, endYear);
// a year with no data contributes defaultRate instead (defaultMissingYearRate
// if defaultRate is zero and the caller didn't intend to override it with 0).
func (t *Table) Cumulative(startYear, endYear int, defaultRate float64) float64 {
	if defaultRate == 0 {
		defaultRate = defaultMissingYearRate
	}
	cumulative := 1.0
	for y := startYear; y < endYear; y++ {
		rate, ok := t.AnnualRate(y)
		if !ok {
			cumulative *= 1 + defaultRate
			continue
		}
		cumulative *= 1 + rate/100
	}
	return cumulative - 1
}

// Summary renders a human-readable inflation block for inclusion in a
// model prompt: cumulative rate plus a yearly breakdown of every year
// that has data.
func (t *Table) Summary(startYear, endYear int) string {
	cumulative := t.Cumulative(startYear, endYear, 0)

	var b strings.Builder
	fmt.Fprintf(&b, "Inflation from %d to %d:\n", startYear, endYear)
	fmt.Fprintf(&b, "Cumulative rate: %.2f%%\n", cumulative*100)
	b.WriteString("Yearly breakdown:\n")

	years := make([]int, 0, endYear-startYear)
	for y := startYear; y < endYear; y++ {
		years = append(years, y)
	}
	sort.Ints(years)
	for _, y := range years {
		if rate, ok := t.AnnualRate(y); ok {
			fmt.Fprintf(&b, "  %d: %.2f%%\n", y, rate)
		}
	}
	return b.String()
}
