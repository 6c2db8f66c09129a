package retention

import (
	"fmt"
	"sort"
	"time"

	"packrat/internal/snapshot"
)

type Bucketing int

const (
	BucketNone Bucketing = iota
	BucketDay
	BucketISOWeek
	BucketMonth
)

// Tier is one retention window. Windows are cumulative upper bounds on
// entry age: a tier covers ages from the previous tier's window (inclusive)
// up to its own (exclusive). Entries older than every window are deletion
// candidates.
type Tier struct {
	Name      string
	Window    time.Duration
	KeepAll   bool
	Bucketing Bucketing
}

const day = 24 * time.Hour

// DefaultTiers is the standard ladder: keep everything for a day, one per
// day for a week, one per ISO week for four weeks, one per month for a year.
func DefaultTiers() []Tier {
	return []Tier{
		{Name: "hourly", Window: day, KeepAll: true},
		{Name: "daily", Window: 7 * day, Bucketing: BucketDay},
		{Name: "weekly", Window: 28 * day, Bucketing: BucketISOWeek},
		{Name: "monthly", Window: 365 * day, Bucketing: BucketMonth},
	}
}

// tierIndex returns which tier an age falls in, or -1 beyond all windows.
// Boundaries are half-open; an age exactly at a window belongs to the next
// (older) tier.
func tierIndex(age time.Duration, tiers []Tier) int {
	if age < 0 {
		age = 0
	}
	for i, t := range tiers {
		if age < t.Window {
			return i
		}
	}
	return -1
}

func bucketKey(b Bucketing, ts time.Time) string {
	switch b {
	case BucketDay:
		return ts.Format("2006-01-02")
	case BucketISOWeek:
		year, week := ts.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week)
	case BucketMonth:
		return ts.Format("2006-01")
	default:
		return ts.Format(time.RFC3339Nano)
	}
}

// Plan is a keep/delete partition of an entry set. It is a preview; nothing
// is deleted until the caller explicitly applies it.
type Plan struct {
	Keep       []snapshot.Entry
	Delete     []snapshot.Entry
	FreedBytes int64
}

// BuildPlan partitions entries under the tier ladder. Keep-all tiers retain
// every in-window entry. Keep-one tiers bucket entries per relative path by
// the tier's granularity and keep the earliest entry in each bucket, so
// repeated runs over an unchanged set converge on the same partition.
func BuildPlan(entries []snapshot.Entry, now time.Time, tiers []Tier) Plan {
	var plan Plan
	winners := make(map[string]struct{})

	ordered := make([]snapshot.Entry, len(entries))
	copy(ordered, entries)
	sort.Slice(ordered, func(i, j int) bool {
		if !ordered[i].Timestamp.Equal(ordered[j].Timestamp) {
			return ordered[i].Timestamp.Before(ordered[j].Timestamp)
		}
		return ordered[i].RelPath < ordered[j].RelPath
	})

	for _, e := range ordered {
		idx := tierIndex(now.Sub(e.Timestamp), tiers)
		if idx < 0 {
			plan.Delete = append(plan.Delete, e)
			continue
		}

		tier := tiers[idx]
		if tier.KeepAll {
			plan.Keep = append(plan.Keep, e)
			continue
		}

		key := fmt.Sprintf("%d|%s|%s", idx, e.RelPath, bucketKey(tier.Bucketing, e.Timestamp))
		if _, taken := winners[key]; taken {
			// Earliest-in-bucket wins; ordered iteration makes the
			// first entry seen the representative.
			plan.Delete = append(plan.Delete, e)
			continue
		}

		winners[key] = struct{}{}
		plan.Keep = append(plan.Keep, e)
	}

	for _, e := range plan.Delete {
		plan.FreedBytes += e.Size
	}

	return plan
}

// Stats reports how many entries are retained in each tier. The zero value
// of a field means the tier holds nothing.
type Stats struct {
	Hourly  int `json:"hourly"`
	Daily   int `json:"daily"`
	Weekly  int `json:"weekly"`
	Monthly int `json:"monthly"`
}

// Count computes per-tier retained counts over the keep partition.
func Count(entries []snapshot.Entry, now time.Time, tiers []Tier) Stats {
	plan := BuildPlan(entries, now, tiers)

	var stats Stats
	for _, e := range plan.Keep {
		idx := tierIndex(now.Sub(e.Timestamp), tiers)
		if idx < 0 || idx >= len(tiers) {
			continue
		}

		switch tiers[idx].Name {
		case "hourly":
			stats.Hourly++
		case "daily":
			stats.Daily++
		case "weekly":
			stats.Weekly++
		case "monthly":
			stats.Monthly++
		}
	}

	return stats
}
