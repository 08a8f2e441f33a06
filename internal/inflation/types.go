// Package inflation implements the persistent inflation-rate cache: scrape
// the reference source's historical table, parse it into a
// {year -> {month -> percentage}} table, merge it non-destructively onto
// whatever is already on disk, and serve a possibly-stale copy whenever a
// refresh fails rather than erroring out.
package inflation

import "time"

// Table is the persisted {year -> {month_abbrev -> percentage}} shape.
type Table struct {
	FetchedAt time.Time                 `json:"fetched_at"`
	Years     map[string]map[string]float64 `json:"years"`
}

func newTable() *Table {
	return &Table{Years: make(map[string]map[string]float64)}
}

// Clone deep-copies the table so callers can mutate the result of Load
// without corrupting the cache's in-memory copy.
func (t *Table) Clone() *Table {
	if t == nil {
		return newTable()
	}
	out := &Table{FetchedAt: t.FetchedAt, Years: make(map[string]map[string]float64, len(t.Years))}
	for year, months := range t.Years {
		copied := make(map[string]float64, len(months))
		for m, v := range months {
			copied[m] = v
		}
		out.Years[year] = copied
	}
	return out
}
