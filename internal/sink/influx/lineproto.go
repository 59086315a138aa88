package influx

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/arraybeat/arraybeat/internal/model"
)

// encodeBatch renders a batch in InfluxDB 1.x line protocol with
// millisecond timestamps. Points without fields are skipped; the
// server would reject the whole request over them.
func encodeBatch(batch model.Batch, measurementPrefix string) string {
	var b strings.Builder
	for _, p := range batch {
		if len(p.Fields) == 0 {
			continue
		}
		encodePoint(&b, p, measurementPrefix)
	}
	return b.String()
}

func encodePoint(b *strings.Builder, p model.PointRecord, prefix string) {
	b.WriteString(escapeKey(prefix + p.Measurement))

	for _, key := range sortedKeys(p.Tags) {
		value := p.Tags[key]
		if value == "" {
			continue
		}
		b.WriteByte(',')
		b.WriteString(escapeKey(key))
		b.WriteByte('=')
		b.WriteString(escapeKey(value))
	}

	b.WriteByte(' ')
	fieldKeys := make([]string, 0, len(p.Fields))
	for key := range p.Fields {
		fieldKeys = append(fieldKeys, key)
	}
	sort.Strings(fieldKeys)
	for i, key := range fieldKeys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(escapeKey(key))
		b.WriteByte('=')
		b.WriteString(fieldValue(p.Fields[key]))
	}

	b.WriteByte(' ')
	b.WriteString(strconv.FormatInt(p.Timestamp.UnixMilli(), 10))
	b.WriteByte('\n')
}

func fieldValue(v any) string {
	switch v := v.(type) {
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v) + "i"
	case int64:
		return strconv.FormatInt(v, 10) + "i"
	case bool:
		return strconv.FormatBool(v)
	case string:
		return `"` + strings.NewReplacer(`"`, `\"`, `\`, `\\`).Replace(v) + `"`
	default:
		return fmt.Sprintf("%v", v)
	}
}

// escapeKey escapes the characters line protocol reserves in
// measurements, tag keys/values and field keys.
func escapeKey(s string) string {
	return strings.NewReplacer(",", `\,`, " ", `\ `, "=", `\=`).Replace(s)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
