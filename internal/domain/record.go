package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Record is a single JSON object returned by a list endpoint.
// The backend resources have no shared schema, so records stay untyped.
type Record map[string]any

// ID returns the record's "id" field as a string, or "" when absent.
func (r Record) ID() string {
	v, ok := r["id"]
	if !ok || v == nil {
		return ""
	}
	return FormatValue(v)
}

// Value returns the display form of the named field.
func (r Record) Value(key string) string {
	return FormatValue(r[key])
}

// Matches reports whether any string field, or any custom_fields value, contains query
// (case-insensitive). An empty query matches everything.
func (r Record) Matches(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	for _, v := range r {
		if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), q) {
			return true
		}
	}
	custom, ok := r["custom_fields"].(map[string]any)
	if !ok {
		return false
	}
	for _, v := range custom {
		if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), q) {
			return true
		}
	}
	return false
}

// FormatValue renders a decoded JSON value for a table cell.
func FormatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}

// Filter returns the records matching query, preserving order.
func Filter(records []Record, query string) []Record {
	if strings.TrimSpace(query) == "" {
		return records
	}
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if r.Matches(query) {
			out = append(out, r)
		}
	}
	return out
}

// Page returns the 1-based page of records and the total page count.
// page is clamped into range; an empty input yields one empty page.
func Page(records []Record, page, perPage int) ([]Record, int) {
	if perPage <= 0 {
		perPage = len(records)
		if perPage == 0 {
			perPage = 1
		}
	}
	total := (len(records) + perPage - 1) / perPage
	if total == 0 {
		total = 1
	}
	if page < 1 {
		page = 1
	}
	if page > total {
		page = total
	}
	start := (page - 1) * perPage
	if start >= len(records) {
		return nil, total
	}
	end := start + perPage
	if end > len(records) {
		end = len(records)
	}
	return records[start:end], total
}

// Columns returns the union of keys across records, "id" first and the rest sorted.
func Columns(records []Record) []string {
	seen := make(map[string]struct{})
	for _, r := range records {
		for k := range r {
			seen[k] = struct{}{}
		}
	}
	cols := make([]string, 0, len(seen))
	_, hasID := seen["id"]
	for k := range seen {
		if k != "id" {
			cols = append(cols, k)
		}
	}
	sort.Strings(cols)
	if hasID {
		cols = append([]string{"id"}, cols...)
	}
	return cols
}
