// Package sanitize converts arbitrary tool-output values into a JSON-safe
// tree. The conversion is total: whatever shape a tool emits, the result can
// always be marshalled, so no downstream serialization ever fails.
package sanitize

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/olist-insight/server/internal/agent/model"
	logx "github.com/olist-insight/server/pkg/logger"
)

const (
	// dataframePreviewRows bounds how many rows of a table cross the
	// sanitizer; callers never see the full table through this path.
	dataframePreviewRows = 30
	seriesPreviewValues  = 50
)

// Value sanitizes v into a JSON-safe tree. It never panics and never returns
// a value json.Marshal would reject: NaN/Infinity become nil, tables and
// series become bounded previews, timestamps become ISO-8601 strings, and
// anything unrecognised degrades to its string form.
func Value(v any) (out any) {
	defer func() {
		if r := recover(); r != nil {
			logx.Error().Str("component", "sanitize").Msgf("panic recovered: %v", r)
			out = fmt.Sprint(v)
		}
	}()
	return value(v)
}

// PayloadText renders the sanitized form of v as compact JSON, the shape
// prompts embed tool outputs in.
func PayloadText(v any) string {
	b, err := json.Marshal(Value(v))
	if err != nil {
		// Value guarantees marshallable output; this is belt only.
		return fmt.Sprint(v)
	}
	return string(b)
}

func value(v any) any {
	if v == nil {
		return nil
	}

	switch x := v.(type) {
	case float64:
		return safeFloat(x)
	case float32:
		return safeFloat(float64(x))
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return x
	case bool, string:
		return x
	case json.Number:
		return x.String()
	case time.Time:
		return x.Format(time.RFC3339)
	case *time.Time:
		if x == nil {
			return nil
		}
		return x.Format(time.RFC3339)
	case time.Duration:
		return x.String()
	case *model.Table:
		return tablePreview(x)
	case model.Table:
		return tablePreview(&x)
	case *model.Series:
		return seriesPreview(x)
	case model.Series:
		return seriesPreview(&x)
	case model.TableResult:
		return map[string]any{
			"columns": x.Columns,
			"rows":    value(x.Rows),
		}
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = value(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = value(e)
		}
		return out
	case error:
		return x.Error()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return value(rv.Elem().Interface())
	case reflect.Map:
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key().Interface())] = value(iter.Value().Interface())
		}
		return out
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = value(rv.Index(i).Interface())
		}
		return out
	}

	// Last resort: probe JSON encodability, else fall back to a string form.
	if b, err := json.Marshal(v); err == nil {
		var probe any
		if json.Unmarshal(b, &probe) == nil {
			return value(probe)
		}
	}
	return fmt.Sprint(v)
}

func safeFloat(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}

func tablePreview(t *model.Table) any {
	if t == nil {
		return nil
	}
	preview := t.Head(dataframePreviewRows)
	rows := make([]map[string]any, 0, preview.NumRows())
	for _, rec := range preview.Records() {
		clean := make(map[string]any, len(rec))
		for k, cell := range rec {
			clean[k] = value(cell)
		}
		rows = append(rows, clean)
	}
	return map[string]any{
		"_type":   "dataframe",
		"shape":   []int{len(t.Rows), len(t.Columns)},
		"columns": t.Columns,
		"rows":    rows,
	}
}

func seriesPreview(s *model.Series) any {
	if s == nil {
		return nil
	}
	n := len(s.Values)
	if n > seriesPreviewValues {
		n = seriesPreviewValues
	}
	vals := make([]any, n)
	for i := 0; i < n; i++ {
		vals[i] = value(s.Values[i])
	}
	return map[string]any{
		"_type":  "series",
		"name":   s.Name,
		"values": vals,
	}
}
