package collect

import (
	"fmt"
	"time"

	"github.com/arraybeat/arraybeat/internal/model"
)

// hostTagKey carries the stable source identifier on every point.
const hostTagKey = "host"

// convertSimple handles the common row layout: identity fields named
// by tagKeys, an embedded ms timestamp under "time", and every other
// scalar entry a field value.
func convertSimple(tagKeys ...string) ConvertFunc {
	return func(host string, rows []model.Row, _ time.Time) (model.Batch, []error) {
		var batch model.Batch
		var dropped []error
		for i, row := range rows {
			tags, ok := rowTags(row, host, tagKeys)
			if !ok {
				dropped = append(dropped, fmt.Errorf("row %d: missing identity tag %v", i, tagKeys))
				continue
			}
			ts, ok := rowTime(row)
			if !ok {
				dropped = append(dropped, fmt.Errorf("row %d: missing timestamp", i))
				continue
			}
			batch = append(batch, model.PointRecord{
				Tags:      tags,
				Fields:    scalarFields(row, tagKeys...),
				Timestamp: ts,
			})
		}
		return batch, dropped
	}
}

// convertSnapshot is convertSimple for endpoints without embedded
// timestamps; points are stamped at collection time.
func convertSnapshot(tagKeys ...string) ConvertFunc {
	return func(host string, rows []model.Row, now time.Time) (model.Batch, []error) {
		var batch model.Batch
		var dropped []error
		for i, row := range rows {
			tags, ok := rowTags(row, host, tagKeys)
			if !ok {
				dropped = append(dropped, fmt.Errorf("row %d: missing identity tag %v", i, tagKeys))
				continue
			}
			batch = append(batch, model.PointRecord{
				Tags:      tags,
				Fields:    scalarFields(row, tagKeys...),
				Timestamp: now,
			})
		}
		return batch, dropped
	}
}

// convertFieldKey handles rows whose field values sit in one nested
// entry (for example "space") instead of at the top level.
func convertFieldKey(fieldKey string, tagKeys ...string) ConvertFunc {
	return func(host string, rows []model.Row, _ time.Time) (model.Batch, []error) {
		var batch model.Batch
		var dropped []error
		for i, row := range rows {
			tags, ok := rowTags(row, host, tagKeys)
			if !ok {
				dropped = append(dropped, fmt.Errorf("row %d: missing identity tag %v", i, tagKeys))
				continue
			}
			ts, ok := rowTime(row)
			if !ok {
				dropped = append(dropped, fmt.Errorf("row %d: missing timestamp", i))
				continue
			}
			nested, ok := row[fieldKey].(map[string]any)
			if !ok {
				dropped = append(dropped, fmt.Errorf("row %d: missing %q field group", i, fieldKey))
				continue
			}
			batch = append(batch, model.PointRecord{
				Tags:      tags,
				Fields:    scalarFields(nested),
				Timestamp: ts,
			})
		}
		return batch, dropped
	}
}

// convertNetworkInterfaces handles the interface layout: no "id" tag,
// an "interface_type" tag, and the field values nested under an entry
// named after the interface type ("eth", "fc", ...).
func convertNetworkInterfaces(host string, rows []model.Row, _ time.Time) (model.Batch, []error) {
	var batch model.Batch
	var dropped []error
	for i, row := range rows {
		tags, ok := rowTags(row, host, []string{"name", "interface_type"})
		if !ok {
			dropped = append(dropped, fmt.Errorf("row %d: missing name or interface_type", i))
			continue
		}
		ts, ok := rowTime(row)
		if !ok {
			dropped = append(dropped, fmt.Errorf("row %d: missing timestamp", i))
			continue
		}
		nested, ok := row[tags["interface_type"]].(map[string]any)
		if !ok {
			dropped = append(dropped, fmt.Errorf("row %d: no field group for interface type %q", i, tags["interface_type"]))
			continue
		}
		batch = append(batch, model.PointRecord{
			Tags:      tags,
			Fields:    scalarFields(nested),
			Timestamp: ts,
		})
	}
	return batch, dropped
}

// convertArraysSpace handles array space rows: fields live under
// "space" with capacity and parity alongside at the top level.
func convertArraysSpace(host string, rows []model.Row, _ time.Time) (model.Batch, []error) {
	var batch model.Batch
	var dropped []error
	for i, row := range rows {
		tags, ok := rowTags(row, host, []string{"id", "name"})
		if !ok {
			dropped = append(dropped, fmt.Errorf("row %d: missing id or name", i))
			continue
		}
		ts, ok := rowTime(row)
		if !ok {
			dropped = append(dropped, fmt.Errorf("row %d: missing timestamp", i))
			continue
		}
		nested, ok := row["space"].(map[string]any)
		if !ok {
			dropped = append(dropped, fmt.Errorf("row %d: missing space field group", i))
			continue
		}
		fields := scalarFields(nested)
		for _, key := range []string{"capacity", "parity"} {
			if v, present := row[key]; present {
				if scalar, isScalar := scalarValue(v); isScalar {
					fields[key] = scalar
				}
			}
		}
		batch = append(batch, model.PointRecord{
			Tags:      tags,
			Fields:    fields,
			Timestamp: ts,
		})
	}
	return batch, dropped
}

// convertControllers maps controller inventory rows, stamped at
// collection time since the endpoint reports current state only.
func convertControllers(host string, rows []model.Row, now time.Time) (model.Batch, []error) {
	return convertSnapshot("name", "type")(host, rows, now)
}

var podReplicationTypes = []string{"continuous", "periodic", "resync", "sync"}
var podReplicationDirections = []string{"from_remote", "to_remote", "total"}

// convertPodsReplication flattens the per-type, per-direction nested
// replication throughput layout into one field per combination.
func convertPodsReplication(host string, rows []model.Row, _ time.Time) (model.Batch, []error) {
	var batch model.Batch
	var dropped []error
	for i, row := range rows {
		tags := map[string]string{hostTagKey: host}
		complete := true
		for _, entity := range []string{"array", "pod"} {
			nested, ok := row[entity].(map[string]any)
			if !ok {
				complete = false
				break
			}
			for _, key := range []string{"id", "name"} {
				v, ok := nested[key].(string)
				if !ok || v == "" {
					complete = false
					break
				}
				tags[entity+"_"+key] = v
			}
		}
		if !complete {
			dropped = append(dropped, fmt.Errorf("row %d: missing array/pod identity", i))
			continue
		}
		ts, ok := rowTime(row)
		if !ok {
			dropped = append(dropped, fmt.Errorf("row %d: missing timestamp", i))
			continue
		}
		fields := make(map[string]any)
		for _, repl := range podReplicationTypes {
			group, ok := row[repl+"_bytes_per_sec"].(map[string]any)
			if !ok {
				continue
			}
			for _, dir := range podReplicationDirections {
				if v, isScalar := scalarValue(group[dir+"_bytes_per_sec"]); isScalar {
					fields[repl+"_"+dir+"_bytes_per_sec"] = v
				}
			}
		}
		batch = append(batch, model.PointRecord{
			Tags:      tags,
			Fields:    fields,
			Timestamp: ts,
		})
	}
	return batch, dropped
}

// rowTags extracts the identity tags and adds the source tag. Returns
// false when any identity value is absent or empty.
func rowTags(row model.Row, host string, tagKeys []string) (map[string]string, bool) {
	tags := make(map[string]string, len(tagKeys)+1)
	tags[hostTagKey] = host
	for _, key := range tagKeys {
		v, ok := row[key].(string)
		if !ok || v == "" {
			return nil, false
		}
		tags[key] = v
	}
	return tags, true
}

// rowTime reads the embedded ms-precision timestamp.
func rowTime(row model.Row) (time.Time, bool) {
	switch v := row["time"].(type) {
	case float64:
		return time.UnixMilli(int64(v)).UTC(), true
	case int64:
		return time.UnixMilli(v).UTC(), true
	case int:
		return time.UnixMilli(int64(v)).UTC(), true
	default:
		return time.Time{}, false
	}
}

// scalarFields collects the scalar entries of a row, skipping nested
// documents, the timestamp and the given excluded keys.
func scalarFields(row map[string]any, exclude ...string) map[string]any {
	fields := make(map[string]any)
	for key, value := range row {
		if key == "time" || contains(exclude, key) {
			continue
		}
		if v, ok := scalarValue(value); ok {
			fields[key] = v
		}
	}
	return fields
}

func scalarValue(v any) (any, bool) {
	switch v.(type) {
	case float64, int, int64, bool, string:
		return v, true
	default:
		return nil, false
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
