package toolexecutor

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"strings"
	"time"
	"unicode/utf8"
)

// sanitize converts a catalog value into something encoding/json renders
// faithfully: times become RFC 3339 strings, decimals become float64, byte
// slices become UTF-8 text and NaN or infinite floats become null.
func sanitize(v interface{}) interface{} {
	switch t := v.(type) {
	case nil, bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return t
	case float32:
		return finite(float64(t))
	case float64:
		return finite(t)
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return finite(f)
		}
		return t.String()
	case time.Time:
		return t.Format(time.RFC3339Nano)
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.Format(time.RFC3339Nano)
	case time.Duration:
		return t.String()
	case *big.Rat:
		if t == nil {
			return nil
		}
		f, _ := t.Float64()
		return finite(f)
	case *big.Float:
		if t == nil {
			return nil
		}
		f, _ := t.Float64()
		return finite(f)
	case *big.Int:
		if t == nil {
			return nil
		}
		if t.IsInt64() {
			return t.Int64()
		}
		return t.String()
	case []byte:
		return decodeBytes(t)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = sanitize(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = sanitize(val)
		}
		return out
	case []map[string]interface{}:
		out := make([]interface{}, len(t))
		for i, row := range t {
			out[i] = sanitize(row)
		}
		return out
	case json.Marshaler:
		return t
	case fmt.Stringer:
		return t.String()
	}

	return sanitizeReflect(v)
}

func sanitizeReflect(v interface{}) interface{} {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		return sanitize(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		out := make([]interface{}, rv.Len())
		for i := range out {
			out[i] = sanitize(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		out := make(map[string]interface{}, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key().Interface())] = sanitize(iter.Value().Interface())
		}
		return out
	case reflect.Func, reflect.Chan, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128:
		return fmt.Sprint(v)
	}
	return v
}

func finite(f float64) interface{} {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}

func decodeBytes(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return strings.ToValidUTF8(string(b), "�")
}

// sanitizeRows applies sanitize to every cell.
func sanitizeRows(rows []map[string]interface{}) []map[string]interface{} {
	out := make([]map[string]interface{}, len(rows))
	for i, row := range rows {
		clean := make(map[string]interface{}, len(row))
		for k, v := range row {
			clean[k] = sanitize(v)
		}
		out[i] = clean
	}
	return out
}

// SanitizeRows returns a copy of rows with every cell converted to a
// JSON-friendly value, as the tools render them.
func SanitizeRows(rows []map[string]interface{}) []map[string]interface{} {
	return sanitizeRows(rows)
}
