package permitwatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// LabelExtractor turns a response body into the labels it lists as
// available.
//
// A LabelExtractor should be a pure function of its input. Errors wrapping
// [ErrPathNotFound] mean the document no longer has the expected shape;
// other errors mean it could not be decoded at all.
type LabelExtractor func(body []byte) ([]Label, error)

// ErrPathNotFound is returned when a JSON path does not resolve.
var ErrPathNotFound = errors.New("json path not found")

// JSONListSpec describes where availability lives in a JSON document.
//
// Two shapes are supported. An array of entries, each with a label field:
//
//	{"sailings": [{"departs": "2025-07-16T15:30:00-07:00", "seats": 4}]}
//
// and an object keyed by label (set KeyAsLabel):
//
//	{"availability": {"2025-07-16": {"remaining": 3}}}
type JSONListSpec struct {
	// ItemsPath is a dot path to the array or object of entries. Empty
	// means the document root.
	ItemsPath string

	// LabelField is a dot path inside each entry. Ignored with KeyAsLabel.
	LabelField string

	// KeyAsLabel takes labels from the object keys at ItemsPath.
	KeyAsLabel bool

	// CountField is a dot path inside each entry holding the number of open
	// places. Empty means every listed entry is available.
	CountField string

	// MinCount is the smallest count treated as available. Zero means 1.
	MinCount int

	// TimeLayout, when set, parses the raw label as a time, and LabelLayout
	// formats it again. Location converts the time before formatting.
	TimeLayout  string
	LabelLayout string
	Location    *time.Location
}

// JSONListExtractor returns a [LabelExtractor] for documents shaped as
// described by spec. Labels come back in document order (key order for
// objects) without duplicates.
//
// Example:
//
//	// {"sailings": [{"departs": "2025-07-16T15:30:00-07:00", "seats": 4}]}
//	extract := permitwatch.JSONListExtractor(permitwatch.JSONListSpec{
//	    ItemsPath:   "sailings",
//	    LabelField:  "departs",
//	    CountField:  "seats",
//	    TimeLayout:  time.RFC3339,
//	    LabelLayout: "3:04 PM",
//	})
func JSONListExtractor(spec JSONListSpec) LabelExtractor {
	itemsPath := splitPath(spec.ItemsPath)
	labelPath := splitPath(spec.LabelField)
	countPath := splitPath(spec.CountField)
	minCount := spec.MinCount
	if minCount < 1 {
		minCount = 1
	}

	return func(body []byte) ([]Label, error) {
		var data interface{}
		if err := json.Unmarshal(body, &data); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}

		items, ok := lookupJSONPath(data, itemsPath)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrPathNotFound, spec.ItemsPath)
		}

		type entry struct {
			raw   string
			value interface{}
		}
		var entries []entry

		switch v := items.(type) {
		case []interface{}:
			if spec.KeyAsLabel {
				return nil, fmt.Errorf("%w: %q is an array, not an object", ErrPathNotFound, spec.ItemsPath)
			}
			for i, item := range v {
				raw, ok := lookupJSONPath(item, labelPath)
				s := scalarString(raw)
				if !ok || s == "" {
					return nil, fmt.Errorf("%w: item %d has no %q", ErrPathNotFound, i, spec.LabelField)
				}
				entries = append(entries, entry{raw: s, value: item})
			}
		case map[string]interface{}:
			keys := make([]string, 0, len(v))
			for k := range v {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				if spec.KeyAsLabel {
					entries = append(entries, entry{raw: k, value: v[k]})
					continue
				}
				raw, ok := lookupJSONPath(v[k], labelPath)
				s := scalarString(raw)
				if !ok || s == "" {
					return nil, fmt.Errorf("%w: entry %q has no %q", ErrPathNotFound, k, spec.LabelField)
				}
				entries = append(entries, entry{raw: s, value: v[k]})
			}
		default:
			return nil, fmt.Errorf("%w: %q is not an array or object", ErrPathNotFound, spec.ItemsPath)
		}

		seen := make(map[Label]bool, len(entries))
		labels := make([]Label, 0, len(entries))
		for _, e := range entries {
			if len(countPath) > 0 {
				raw, ok := lookupJSONPath(e.value, countPath)
				if !ok {
					continue
				}
				n, ok := ParseCount(scalarString(raw))
				if !ok || n < minCount {
					continue
				}
			}

			l, err := formatLabel(e.raw, spec)
			if err != nil {
				return nil, err
			}
			if !seen[l] {
				seen[l] = true
				labels = append(labels, l)
			}
		}
		return labels, nil
	}
}

func formatLabel(raw string, spec JSONListSpec) (Label, error) {
	if spec.TimeLayout == "" {
		return Label(strings.TrimSpace(raw)), nil
	}
	t, err := time.Parse(spec.TimeLayout, strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse label %q: %w", raw, err)
	}
	if spec.Location != nil {
		t = t.In(spec.Location)
	}
	layout := spec.LabelLayout
	if layout == "" {
		layout = spec.TimeLayout
	}
	return Label(t.Format(layout)), nil
}

func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// lookupJSONPath walks a decoded JSON value using dot notation parts.
func lookupJSONPath(data interface{}, parts []string) (interface{}, bool) {
	current := data
	for _, part := range parts {
		obj, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// scalarString renders a JSON scalar as text. Objects, arrays and null give "".
func scalarString(v interface{}) string {
	switch v := v.(type) {
	case string:
		return v
	case bool:
		if v {
			return "1"
		}
		return "0"
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

// ParseCount reads a count of open places as shown on a reservation page:
// "3", " 12 ", "3 available", "1,204". Text without a leading number is not
// a count, and a fractional part is dropped.
func ParseCount(s string) (int, bool) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	end := 0
	if strings.HasPrefix(s, "-") {
		end = 1
	}
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}

// RegexExtractor returns a [LabelExtractor] that collects every match of
// pattern in the body. With a capture group, the first group is the label;
// otherwise the whole match is.
//
// Returns an error if the pattern is invalid.
//
// Example:
//
//	// <td class="open">07/16</td>
//	extract, err := permitwatch.RegexExtractor(`<td class="open">([^<]+)</td>`)
func RegexExtractor(pattern string) (LabelExtractor, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}

	return func(body []byte) ([]Label, error) {
		var labels []Label
		seen := make(map[Label]bool)
		for _, m := range re.FindAllSubmatch(body, -1) {
			text := m[0]
			if len(m) > 1 {
				text = m[1]
			}
			l := Label(strings.TrimSpace(string(text)))
			if l == "" || seen[l] {
				continue
			}
			seen[l] = true
			labels = append(labels, l)
		}
		return labels, nil
	}, nil
}

// MustRegexExtractor is like [RegexExtractor] but panics if the pattern is
// invalid.
func MustRegexExtractor(pattern string) LabelExtractor {
	extract, err := RegexExtractor(pattern)
	if err != nil {
		panic("permitwatch: invalid regex pattern: " + err.Error())
	}
	return extract
}
