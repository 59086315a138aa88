package collect

import (
	"sort"
	"time"

	"github.com/arraybeat/arraybeat/internal/model"
	"github.com/arraybeat/arraybeat/internal/resolution"
)

// Tier assigns a family to one of the two collection schedules: the
// fast metrics interval or the slower main collection interval.
type Tier int

const (
	TierMetrics Tier = iota
	TierSpace
)

// ConvertFunc maps vendor rows to point records. Rows missing their
// identity fields are dropped, and one error per dropped row is
// returned so the collector can log them. Dropped rows are never
// fatal.
type ConvertFunc func(host string, rows []model.Row, now time.Time) (model.Batch, []error)

// Family describes one metric family: its measurement name, which
// schedule it collects on, the resolutions the endpoint serves and how
// its rows become points. A nil catalog means the endpoint only serves
// current values (no historical range).
type Family struct {
	Measurement string
	Description string
	Tier        Tier
	Catalog     resolution.Catalog
	Convert     ConvertFunc
}

// DefaultResolution is the finest resolution the family serves, used
// when no override is configured.
func (f Family) DefaultResolution() time.Duration {
	if len(f.Catalog) == 0 {
		return 0
	}
	return f.Catalog[0]
}

// Snapshot reports whether the family serves only current values.
func (f Family) Snapshot() bool {
	return len(f.Catalog) == 0
}

var (
	// Array-level performance additionally serves 1s resolution.
	arrayPerfCatalog = resolution.Catalog{
		time.Second, 30 * time.Second, 5 * time.Minute, 30 * time.Minute,
		2 * time.Hour, 8 * time.Hour, 24 * time.Hour,
	}
	perfCatalog = resolution.Catalog{
		30 * time.Second, 5 * time.Minute, 30 * time.Minute,
		2 * time.Hour, 8 * time.Hour, 24 * time.Hour,
	}
	spaceCatalog = resolution.Catalog{
		5 * time.Minute, 30 * time.Minute,
		2 * time.Hour, 8 * time.Hour, 24 * time.Hour,
	}
)

// Families is the registry of supported metric families, keyed by
// measurement name.
var Families = map[string]Family{
	"arrays_performance": {
		Measurement: "arrays_performance",
		Description: "Array-level latency, bandwidth, IOPS, average I/O size and queue depth.",
		Tier:        TierMetrics,
		Catalog:     arrayPerfCatalog,
		Convert:     convertSimple("id", "name"),
	},
	"volumes_performance": {
		Measurement: "volumes_performance",
		Description: "Per-volume latency and average I/O sizes, plus an all-volumes total.",
		Tier:        TierMetrics,
		Catalog:     perfCatalog,
		Convert:     convertSimple("id", "name"),
	},
	"volume_groups_performance": {
		Measurement: "volume_groups_performance",
		Description: "Per-volume-group latency and average I/O sizes.",
		Tier:        TierMetrics,
		Catalog:     perfCatalog,
		Convert:     convertSimple("id", "name"),
	},
	"network_interfaces_performance": {
		Measurement: "network_interfaces_performance",
		Description: "Network interface bandwidth and error counters.",
		Tier:        TierMetrics,
		Catalog:     perfCatalog,
		Convert:     convertNetworkInterfaces,
	},
	"hosts_performance": {
		Measurement: "hosts_performance",
		Description: "Current I/O performance per host and as a total across all hosts.",
		Tier:        TierMetrics,
		Catalog:     nil, // endpoint serves current values only
		Convert:     convertSnapshot("name"),
	},
	"volumes_space": {
		Measurement: "volumes_space",
		Description: "Provisioned size and physical consumption per volume.",
		Tier:        TierSpace,
		Catalog:     spaceCatalog,
		Convert:     convertFieldKey("space", "id", "name"),
	},
	"arrays_space": {
		Measurement: "arrays_space",
		Description: "Array space, data reduction, capacity and parity.",
		Tier:        TierSpace,
		Catalog:     spaceCatalog,
		Convert:     convertArraysSpace,
	},
	"controllers": {
		Measurement: "controllers",
		Description: "Controller name, mode, model, software version and status.",
		Tier:        TierSpace,
		Catalog:     nil,
		Convert:     convertControllers,
	},
	"pods_performance_replication_by_array": {
		Measurement: "pods_performance_replication_by_array",
		Description: "Pod replication throughput per replication type, organized by array.",
		Tier:        TierMetrics,
		Catalog:     perfCatalog,
		Convert:     convertPodsReplication,
	},
}

// FamilyNames returns all registered measurement names, sorted.
func FamilyNames() []string {
	names := make([]string, 0, len(Families))
	for name := range Families {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
