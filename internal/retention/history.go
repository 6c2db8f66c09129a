package retention

import (
	"sort"
	"time"

	"packrat/internal/snapshot"
)

// CurrentLabel marks the synthetic entry standing in for the live working
// copy in version history output.
const CurrentLabel = "CURRENT"

type Version struct {
	RelPath    string
	Timestamp  time.Time
	Size       int64
	Generation snapshot.Generation
	Current    bool
}

// History merges the mirror and archived generations of one relative path
// into a newest-first, deduplicated version list with the synthetic CURRENT
// entry prepended. Duplicates are versions sharing the same second-precision
// timestamp; the newer generation wins.
func History(rel string, mirror *snapshot.Entry, archived []snapshot.Entry) []Version {
	merged := make([]snapshot.Entry, 0, len(archived)+1)
	if mirror != nil {
		merged = append(merged, *mirror)
	}
	merged = append(merged, archived...)

	sort.Slice(merged, func(i, j int) bool {
		if !merged[i].Timestamp.Equal(merged[j].Timestamp) {
			return merged[i].Timestamp.After(merged[j].Timestamp)
		}
		// Mirror sorts ahead of archive at the same instant.
		return merged[i].Generation < merged[j].Generation
	})

	versions := []Version{{RelPath: rel, Current: true}}

	var lastUnix int64 = -1
	for _, e := range merged {
		ts := e.Timestamp.Unix()
		if ts == lastUnix {
			continue
		}
		lastUnix = ts

		versions = append(versions, Version{
			RelPath:    e.RelPath,
			Timestamp:  e.Timestamp,
			Size:       e.Size,
			Generation: e.Generation,
		})
	}

	return versions
}
