package ingest

import (
	"strconv"
	"strings"
	"time"

	"github.com/rangeatlas/occurrence-cli/internal/mapping"
)

// dateLayouts are tried in order against a single mapped date field.
// Providers disagree on formatting, so the list is deliberately broad.
var dateLayouts = []string{
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"2006-01",
	"2006",
}

// parseDates extracts the observation date range from a mapped row.
// It prefers a single date field, falling back to separate year/month/day
// fields with month and day defaulting to 1 when absent. A year before
// minYear is treated as unparsed. Returns nil when no date can be read.
func parseDates(row *mapping.Row, minYear int) (*time.Time, *time.Time) {
	if raw := strings.TrimSpace(row.Get(mapping.AttrDate)); raw != "" {
		for _, layout := range dateLayouts {
			t, err := time.Parse(layout, raw)
			if err != nil {
				continue
			}
			if t.Year() < minYear {
				return nil, nil
			}
			t = t.UTC()
			return &t, &t
		}
	}

	yearRaw := strings.TrimSpace(row.Get(mapping.AttrYear))
	if yearRaw == "" {
		return nil, nil
	}
	year, err := strconv.Atoi(yearRaw)
	if err != nil || year < minYear {
		return nil, nil
	}
	month := intField(row, mapping.AttrMonth, 1)
	day := intField(row, mapping.AttrDay, 1)
	if month < 1 || month > 12 {
		month = 1
	}
	if day < 1 || day > 31 {
		day = 1
	}

	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	return &t, &t
}

func intField(row *mapping.Row, attr string, def int) int {
	raw := strings.TrimSpace(row.Get(attr))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
