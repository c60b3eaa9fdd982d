package analytics

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/olist-insight/server/internal/agent/model"
	errx "github.com/olist-insight/server/internal/core/error"
)

const (
	maxSummaryColumns  = 200
	maxMissingEntries  = 10
	maxNumericColumns  = 12
	maxCategoryEntries = 10
	maxCategoryColumns = 4
)

// categoricalCandidates is the fixed set of columns worth value-counting.
// Free-text and identifier columns are intentionally excluded.
var categoricalCandidates = []string{
	"product_category_name",
	"product_category_en",
	"seller_city",
	"customer_state",
	"order_status",
}

// MissingStat reports the null fraction of one column.
type MissingStat struct {
	Column      string  `json:"column"`
	MissingRate float64 `json:"missing_rate"`
}

// DescribeRow holds the eight-number summary of one numeric column.
type DescribeRow struct {
	Column string  `json:"column"`
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
	Min    float64 `json:"min"`
	P25    float64 `json:"25%"`
	P50    float64 `json:"50%"`
	P75    float64 `json:"75%"`
	Max    float64 `json:"max"`
}

// CategoryCount holds the top values of one categorical column.
type CategoryCount struct {
	Column string           `json:"column"`
	Values []CategoryBucket `json:"values"`
}

// CategoryBucket is a single value-count pair. Nulls appear as "NULL".
type CategoryBucket struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// TimeRange reports the observed span of one datetime column.
type TimeRange struct {
	Column string `json:"column"`
	Min    string `json:"min"`
	Max    string `json:"max"`
}

// Summary is the compact profile fed to the insight stage. Every section is
// bounded so the serialized form stays small no matter how large the dataset.
type Summary struct {
	Shape           [2]int          `json:"shape"`
	Columns         []string        `json:"columns"`
	MissingTop      []MissingStat   `json:"missing_top"`
	NumericDescribe []DescribeRow   `json:"numeric_describe"`
	CategoryTop     []CategoryCount `json:"category_top"`
	TimeRanges      []TimeRange     `json:"time_ranges"`
}

// Summarize profiles the merged table. A nil table indicates a stage-ordering
// bug and yields an internal error rather than an empty summary.
func Summarize(t *model.Table) (*Summary, error) {
	if t == nil {
		return nil, errx.Internal(errors.New("eda stage ran before the merged dataset was loaded"))
	}

	s := &Summary{
		Shape:   [2]int{t.NumRows(), len(t.Columns)},
		Columns: t.Columns,
	}
	if len(s.Columns) > maxSummaryColumns {
		s.Columns = s.Columns[:maxSummaryColumns]
	}

	s.MissingTop = topMissing(t)
	s.NumericDescribe = numericDescribe(t)
	s.CategoryTop = topCategories(t)
	s.TimeRanges = timeRanges(t)
	return s, nil
}

func topMissing(t *model.Table) []MissingStat {
	n := t.NumRows()
	if n == 0 {
		return nil
	}
	stats := make([]MissingStat, 0, len(t.Columns))
	for i, col := range t.Columns {
		missing := 0
		for _, row := range t.Rows {
			if row[i] == nil {
				missing++
			}
		}
		if missing > 0 {
			stats = append(stats, MissingStat{Column: col, MissingRate: float64(missing) / float64(n)})
		}
	}
	sort.SliceStable(stats, func(a, b int) bool {
		return stats[a].MissingRate > stats[b].MissingRate
	})
	if len(stats) > maxMissingEntries {
		stats = stats[:maxMissingEntries]
	}
	return stats
}

// numericColumn collects the non-null values of column i when every non-null
// cell is numeric.
func numericColumn(t *model.Table, i int) ([]float64, bool) {
	var vals []float64
	for _, row := range t.Rows {
		if row[i] == nil {
			continue
		}
		v, ok := asFloat(row[i])
		if !ok {
			return nil, false
		}
		vals = append(vals, v)
	}
	return vals, len(vals) > 0
}

func numericDescribe(t *model.Table) []DescribeRow {
	var rows []DescribeRow
	for i, col := range t.Columns {
		if len(rows) >= maxNumericColumns {
			break
		}
		vals, ok := numericColumn(t, i)
		if !ok {
			continue
		}
		sorted := append([]float64{}, vals...)
		sort.Float64s(sorted)
		rows = append(rows, DescribeRow{
			Column: col,
			Count:  len(vals),
			Mean:   mean(vals),
			Std:    std(vals),
			Min:    sorted[0],
			P25:    quantile(sorted, 0.25),
			P50:    quantile(sorted, 0.50),
			P75:    quantile(sorted, 0.75),
			Max:    sorted[len(sorted)-1],
		})
	}
	return rows
}

func mean(vals []float64) float64 {
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// std is the sample standard deviation; zero for a single observation.
func std(vals []float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	m := mean(vals)
	var sum float64
	for _, v := range vals {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(vals)-1))
}

// quantile interpolates linearly over sorted values.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func topCategories(t *model.Table) []CategoryCount {
	var out []CategoryCount
	for _, col := range categoricalCandidates {
		if len(out) >= maxCategoryColumns {
			break
		}
		idx := t.ColumnIndex(col)
		if idx < 0 {
			continue
		}
		counts := make(map[string]int)
		for _, row := range t.Rows {
			key := "NULL"
			if row[idx] != nil {
				key = fmt.Sprint(row[idx])
			}
			counts[key]++
		}
		buckets := make([]CategoryBucket, 0, len(counts))
		for v, c := range counts {
			buckets = append(buckets, CategoryBucket{Value: v, Count: c})
		}
		sort.SliceStable(buckets, func(a, b int) bool {
			if buckets[a].Count != buckets[b].Count {
				return buckets[a].Count > buckets[b].Count
			}
			return buckets[a].Value < buckets[b].Value
		})
		if len(buckets) > maxCategoryEntries {
			buckets = buckets[:maxCategoryEntries]
		}
		out = append(out, CategoryCount{Column: col, Values: buckets})
	}
	return out
}

func timeRanges(t *model.Table) []TimeRange {
	var out []TimeRange
	for i, col := range t.Columns {
		var min, max time.Time
		seen := false
		datetime := true
		for _, row := range t.Rows {
			if row[i] == nil {
				continue
			}
			ts, ok := row[i].(time.Time)
			if !ok {
				datetime = false
				break
			}
			if !seen || ts.Before(min) {
				min = ts
			}
			if !seen || ts.After(max) {
				max = ts
			}
			seen = true
		}
		if datetime && seen {
			out = append(out, TimeRange{
				Column: col,
				Min:    min.Format(time.RFC3339),
				Max:    max.Format(time.RFC3339),
			})
		}
	}
	return out
}
