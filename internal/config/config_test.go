package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/arraybeat/arraybeat/internal/model"
	"github.com/stretchr/testify/require"
)

const validConfig = `
sink = "influxdb"

[influxdb]
host = "influx.example.com"
database = "arrays"
user = "metrics"
password = "secret"

[[array]]
host = "fa1.example.com"
name = "fa-main"
user = "svc"
client-id = "cid"
key-id = "kid"
issuer = "svc"
private-key-file = "/etc/arraybeat/fa1.pem"
metrics-interval = "30s"

[collector.arrays_performance]
resolution = "30s"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "arraybeat.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Valid(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	require.Equal(t, "influxdb", cfg.Sink)
	require.Equal(t, "influx.example.com", cfg.InfluxDB.Host)
	require.Equal(t, 8086, cfg.InfluxDB.Port)

	require.Len(t, cfg.Arrays, 1)
	a := cfg.Arrays[0]
	require.Equal(t, "fa-main", a.ID())
	require.Equal(t, 30*time.Second, a.MetricsInterval)
	require.Equal(t, 5*time.Minute, a.SpaceInterval)
	require.NotEmpty(t, a.Collectors, "defaults to every family")

	require.Equal(t, 30*time.Second, cfg.Resolution("arrays_performance"))
	require.Equal(t, time.Duration(0), cfg.Resolution("volumes_performance"))
}

func TestLoad_MeasurementPrefixIsSinkNeutral(t *testing.T) {
	// The prefix applies to whichever sink is configured, so it lives
	// at the top level rather than under a sink section.
	duck := `
sink = "duckdb"
measurement-prefix = "pure_"

[duckdb]
path = "/var/lib/arraybeat/points.db"

[[array]]
host = "fa1.example.com"
user = "svc"
client-id = "cid"
key-id = "kid"
issuer = "svc"
private-key-file = "/etc/arraybeat/fa1.pem"
`
	cfg, err := Load(writeConfig(t, duck))
	require.NoError(t, err)
	require.Equal(t, "duckdb", cfg.Sink)
	require.Equal(t, "pure_", cfg.MeasurementPrefix)
}

func TestValidate_DuplicateIdentifier(t *testing.T) {
	dup := validConfig + `
[[array]]
host = "fa2.example.com"
name = "fa-main"
user = "svc"
client-id = "cid"
key-id = "kid"
issuer = "svc"
private-key-file = "/etc/arraybeat/fa2.pem"
`
	_, err := Load(writeConfig(t, dup))
	requireConfigError(t, err, "duplicate")
}

func TestValidate_ResolutionOutsideCatalog(t *testing.T) {
	bad := validConfig + `
[collector.volumes_performance]
resolution = "42s"
`
	_, err := Load(writeConfig(t, bad))
	requireConfigError(t, err, "catalog")
}

func TestValidate_UnknownCollector(t *testing.T) {
	bad := validConfig + `
[collector.nonexistent_family]
resolution = "30s"
`
	_, err := Load(writeConfig(t, bad))
	requireConfigError(t, err, "unknown collector")
}

func TestValidate_IntervalBelowMinimum(t *testing.T) {
	bad := `
[influxdb]
host = "h"
database = "d"

[[array]]
host = "fa1"
private-key-file = "/k.pem"
metrics-interval = "5s"
`
	_, err := Load(writeConfig(t, bad))
	requireConfigError(t, err, "below the minimum")
}

func TestValidate_KeyMaterialExclusive(t *testing.T) {
	bad := `
[influxdb]
host = "h"
database = "d"

[[array]]
host = "fa1"
private-key = "inline"
private-key-file = "/also/a/file.pem"
`
	_, err := Load(writeConfig(t, bad))
	requireConfigError(t, err, "exactly one")
}

func TestValidate_UnknownSink(t *testing.T) {
	_, err := Load(writeConfig(t, `sink = "kafka"`))
	requireConfigError(t, err, "unknown sink")
}

func TestValidate_NoArrays(t *testing.T) {
	_, err := Load(writeConfig(t, "[influxdb]\nhost = \"h\"\ndatabase = \"d\"\n"))
	requireConfigError(t, err, "at least one array")
}

func requireConfigError(t *testing.T, err error, substr string) {
	t.Helper()
	require.Error(t, err)
	var cfgErr *model.ConfigError
	require.True(t, errors.As(err, &cfgErr), "want ConfigError, got %T: %v", err, err)
	require.Contains(t, err.Error(), substr)
}
