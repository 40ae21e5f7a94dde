package audit

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
)

// canonicalEncode produces the fixed, length-prefixed serialization ordered by
// field name that the node hash is computed over. It accepts the JSON-like
// value shapes decision node input/output snapshots are built from: nil,
// bool, numeric, string, []interface{}, map[string]interface{}.
//
// Every scalar is length-prefixed so that, e.g., the two-field map
// {"a": "bc", "d": "e"} can never collide with {"a": "bcd", "e": ""} —
// length prefixes make the boundary between fields unambiguous.
func canonicalEncode(v interface{}) []byte {
	var buf bytes.Buffer
	writeValue(&buf, v)
	return buf.Bytes()
}

func writeValue(buf *bytes.Buffer, v interface{}) {
	switch t := v.(type) {
	case nil:
		buf.WriteByte('n')
	case bool:
		if t {
			buf.WriteByte('T')
		} else {
			buf.WriteByte('F')
		}
	case string:
		writeString(buf, t)
	case int:
		writeNumber(buf, float64(t))
	case int32:
		writeNumber(buf, float64(t))
	case int64:
		writeNumber(buf, float64(t))
	case float32:
		writeNumber(buf, float64(t))
	case float64:
		writeNumber(buf, t)
	case []interface{}:
		buf.WriteByte('[')
		for _, e := range t {
			writeValue(buf, e)
		}
		buf.WriteByte(']')
	case []string:
		buf.WriteByte('[')
		for _, e := range t {
			writeValue(buf, e)
		}
		buf.WriteByte(']')
	case map[string]interface{}:
		writeMap(buf, t)
	default:
		writeString(buf, fmt.Sprintf("%v", t))
	}
}

func writeMap(buf *bytes.Buffer, m map[string]interface{}) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	buf.WriteByte('{')
	for _, k := range keys {
		writeString(buf, k)
		writeValue(buf, m[k])
	}
	buf.WriteByte('}')
}

func writeString(buf *bytes.Buffer, s string) {
	buf.WriteString(strconv.Itoa(len(s)))
	buf.WriteByte(':')
	buf.WriteString(s)
}

func writeNumber(buf *bytes.Buffer, f float64) {
	writeString(buf, strconv.FormatFloat(f, 'g', -1, 64))
}
