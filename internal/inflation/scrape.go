package inflation

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const defaultInflationURL = "https://www.usinflationcalculator.com/inflation/historical-inflation-rates/"

// HTTPScraper fetches the reference source's historical-inflation-rates
// page and parses its first table into a Table, mirroring the Python
// original's BeautifulSoup walk (header row gives month labels, each
// data row starts with a year).
type HTTPScraper struct {
	URL    string
	Client *http.Client
}

func NewHTTPScraper() *HTTPScraper {
	return &HTTPScraper{
		URL:    defaultInflationURL,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *HTTPScraper) Scrape(ctx context.Context) (*Table, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inflation: fetch %s: %w", s.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inflation: fetch %s: status %d", s.URL, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("inflation: parse html: %w", err)
	}

	table := doc.Find("table").First()
	if table.Length() == 0 {
		return nil, fmt.Errorf("inflation: no table found on page")
	}

	rows := table.Find("tr")
	if rows.Length() == 0 {
		return nil, fmt.Errorf("inflation: table has no rows")
	}

	var headers []string
	rows.First().Find("th, td").Each(func(_ int, cell *goquery.Selection) {
		headers = append(headers, strings.TrimSpace(cell.Text()))
	})

	result := newTable()
	result.FetchedAt = time.Now()

	rows.Slice(1, rows.Length()).Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("th, td")
		if cells.Length() < 2 {
			return
		}
		yearText := strings.TrimSpace(cells.First().Text())
		if _, err := strconv.Atoi(yearText); err != nil {
			return
		}

		months := make(map[string]float64)
		cells.Slice(1, cells.Length()).Each(func(i int, cell *goquery.Selection) {
			idx := i + 1
			if idx >= len(headers) {
				return
			}
			month := headers[idx]
			text := strings.TrimSpace(strings.ReplaceAll(cell.Text(), "%", ""))
			if text == "" || text == "-" {
				return
			}
			rate, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return
			}
			months[month] = rate
		})
		if len(months) > 0 {
			result.Years[yearText] = months
		}
	})

	if len(result.Years) == 0 {
		return nil, fmt.Errorf("inflation: no year rows parsed from table")
	}
	return result, nil
}
