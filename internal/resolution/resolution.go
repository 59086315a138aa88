// Package resolution picks the sampling resolution for a collection
// window. It is pure: no clocks, no I/O — everything is a function of
// its inputs, so the boundary math is directly testable.
package resolution

import (
	"fmt"
	"time"

	"github.com/arraybeat/arraybeat/internal/model"
)

// DefaultSampleLimit is the maximum number of samples the array REST
// API returns for a single historical query.
const DefaultSampleLimit = 1000

// Catalog is the ascending list of resolutions an endpoint serves.
type Catalog []time.Duration

// Contains reports whether r is a member of the catalog.
func (c Catalog) Contains(r time.Duration) bool {
	for _, v := range c {
		if v == r {
			return true
		}
	}
	return false
}

// retention maps each resolution to how far back the array can serve
// it. Requests older than the retention for a resolution return no
// data, so the policy escalates past such resolutions.
var retention = map[time.Duration]time.Duration{
	time.Second:      3 * time.Hour,
	30 * time.Second: 3 * time.Hour,
	5 * time.Minute:  24 * time.Hour,
	30 * time.Minute: 7 * 24 * time.Hour,
	2 * time.Hour:    30 * 24 * time.Hour,
	8 * time.Hour:    90 * 24 * time.Hour,
	24 * time.Hour:   0, // unbounded
}

// servable reports whether resolution r can still serve a window that
// starts age before now.
func servable(r, age time.Duration) bool {
	keep, ok := retention[r]
	if !ok || keep == 0 {
		return true
	}
	return age <= keep
}

// Plan computes the window(s) covering [start, end) for one fetch
// cycle. preferred is the configured resolution and must belong to the
// catalog; anything finer is never considered. The chosen resolution
// is the finest catalog member that (a) the array still retains for
// start and (b) keeps the sample count within limit. When even the
// coarsest eligible resolution exceeds the limit the span is split
// into consecutive sub-windows, each within the limit.
func Plan(start, end, now time.Time, catalog Catalog, preferred time.Duration, limit int) ([]model.Window, error) {
	if !end.After(start) {
		return nil, fmt.Errorf("window end %s not after start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	if !catalog.Contains(preferred) {
		return nil, model.Configf("resolution", "%s is not in the catalog %v", preferred, catalog)
	}
	if limit <= 0 {
		limit = DefaultSampleLimit
	}

	age := now.Sub(start)
	span := end.Sub(start)

	eligible := make(Catalog, 0, len(catalog))
	for _, r := range catalog {
		if r < preferred || !servable(r, age) {
			continue
		}
		eligible = append(eligible, r)
	}
	if len(eligible) == 0 {
		// Start lies beyond every resolution's retention; the coarsest
		// catalog entry is the best the array can do.
		eligible = Catalog{catalog[len(catalog)-1]}
	}

	for _, r := range eligible {
		if int(span/r) <= limit {
			return []model.Window{{Start: start, End: end, Resolution: r}}, nil
		}
	}

	// Span too wide even at the coarsest eligible resolution. Split
	// into consecutive sub-windows at that resolution.
	coarsest := eligible[len(eligible)-1]
	step := coarsest * time.Duration(limit)
	windows := make([]model.Window, 0, int(span/step)+1)
	for ws := start; ws.Before(end); ws = ws.Add(step) {
		we := ws.Add(step)
		if we.After(end) {
			we = end
		}
		windows = append(windows, model.Window{Start: ws, End: we, Resolution: coarsest})
	}
	return windows, nil
}

// Choose is the single-window form of Plan for callers that only need
// the resolution decision.
func Choose(span time.Duration, catalog Catalog, preferred time.Duration, limit int) (time.Duration, error) {
	now := time.Unix(0, 0).Add(span)
	windows, err := Plan(time.Unix(0, 0), now, now, catalog, preferred, limit)
	if err != nil {
		return 0, err
	}
	return windows[0].Resolution, nil
}
