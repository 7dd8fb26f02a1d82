package history

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/welldanyogia/steel-scrap-yard/internal/repository"
)

// ErrInvalidRange is returned for an unknown analytics window
var ErrInvalidRange = errors.New("range must be one of 7d, 30d, 90d, all")

// UnknownClass labels records without scrap predictions
const UnknownClass = "Unknown"

// Range is an analytics time window
type Range string

const (
	Range7Days  Range = "7d"
	Range30Days Range = "30d"
	Range90Days Range = "90d"
	RangeAll    Range = "all"
)

// DefaultRange is used when the caller names none
const DefaultRange = Range30Days

// ParseRange validates s; empty selects DefaultRange
func ParseRange(s string) (Range, error) {
	switch r := Range(strings.ToLower(strings.TrimSpace(s))); r {
	case "":
		return DefaultRange, nil
	case Range7Days, Range30Days, Range90Days, RangeAll:
		return r, nil
	}
	return "", ErrInvalidRange
}

// Since returns the start of the window ending at now, or nil for all time
func (r Range) Since(now time.Time) *time.Time {
	var days int
	switch r {
	case Range7Days:
		days = 7
	case Range30Days:
		days = 30
	case Range90Days:
		days = 90
	default:
		return nil
	}
	since := now.AddDate(0, 0, -days)
	return &since
}

// TypeCount is the number of records classified as one scrap type
type TypeCount struct {
	Type  string `json:"_id"`
	Count int    `json:"count"`
}

// DayTypeCount is a per-day count for one scrap type
type DayTypeCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// DailyBucket groups one calendar day (UTC)
type DailyBucket struct {
	Date  string         `json:"_id"`
	Types []DayTypeCount `json:"types"`
}

// Analytics is the dashboard summary of a window of history
type Analytics struct {
	TotalRecords int           `json:"total_records"`
	UniqueTrucks int           `json:"unique_trucks"`
	TypeCounts   []TypeCount   `json:"type_counts"`
	DailyData    []DailyBucket `json:"daily_data"`
	TimeRange    Range         `json:"time_range"`
}

// DetectedClass is the record's highest-confidence scrap class
func DetectedClass(rec *repository.AnalysisRecord) string {
	if top, ok := rec.ScrapPredictions.Top(); ok && top.Class != "" {
		return top.Class
	}
	return UnknownClass
}

// Aggregate summarises records. Type counts are ordered by count, highest
// first; days are ordered oldest first.
func Aggregate(records []repository.AnalysisRecord, r Range) *Analytics {
	out := &Analytics{
		TotalRecords: len(records),
		TypeCounts:   []TypeCount{},
		DailyData:    []DailyBucket{},
		TimeRange:    r,
	}

	trucks := make(map[string]struct{})
	totals := make(map[string]int)
	days := make(map[string]map[string]int)

	for i := range records {
		rec := &records[i]
		trucks[rec.TruckNumber] = struct{}{}

		class := DetectedClass(rec)
		totals[class]++

		day := rec.Timestamp.UTC().Format(time.DateOnly)
		if days[day] == nil {
			days[day] = make(map[string]int)
		}
		days[day][class]++
	}
	out.UniqueTrucks = len(trucks)

	for class, n := range totals {
		out.TypeCounts = append(out.TypeCounts, TypeCount{Type: class, Count: n})
	}
	sort.Slice(out.TypeCounts, func(i, j int) bool {
		a, b := out.TypeCounts[i], out.TypeCounts[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Type < b.Type
	})

	for day, classes := range days {
		bucket := DailyBucket{Date: day, Types: make([]DayTypeCount, 0, len(classes))}
		for class, n := range classes {
			bucket.Types = append(bucket.Types, DayTypeCount{Type: class, Count: n})
		}
		sort.Slice(bucket.Types, func(i, j int) bool {
			a, b := bucket.Types[i], bucket.Types[j]
			if a.Count != b.Count {
				return a.Count > b.Count
			}
			return a.Type < b.Type
		})
		out.DailyData = append(out.DailyData, bucket)
	}
	sort.Slice(out.DailyData, func(i, j int) bool {
		return out.DailyData[i].Date < out.DailyData[j].Date
	})

	return out
}
