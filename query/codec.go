package query

import (
	"net/url"
	"sort"
	"strconv"
	"strings"
)

const (
	qKey               = "q"
	pageKey            = "page"
	sortDirectionKey   = "sortDirection"
	sortByKey          = "sortBy"
	limitKey           = "limit"
	classFiltersKey    = "classFilters"
	dataTypeFiltersKey = "dataTypeFilters"
	collectionKey      = "collection"
)

// Parse reads list-view parameters from a raw query string. Absent or
// malformed values fall back to their defaults instead of failing; page and
// limit above MaxPage and MaxLimit are clamped.
func Parse(rawQuery string) Params {
	p := Defaults()
	fields := parseFields(rawQuery)

	if v, ok := fields.scalar(qKey); ok {
		p.Q = v
	}
	if v, ok := fields.scalar(pageKey); ok {
		p.Page = boundedOr(v, DefaultPage, MaxPage)
	}
	if v, ok := fields.scalar(sortDirectionKey); ok && SortDirection(v).Valid() {
		p.SortDirection = SortDirection(v)
	}
	if v, ok := fields.scalar(sortByKey); ok && SortField(v).Valid() {
		p.SortBy = SortField(v)
	}
	if v, ok := fields.scalar(limitKey); ok {
		p.Limit = boundedOr(v, DefaultLimit, MaxLimit)
	}
	if v := fields.list(classFiltersKey); v != nil {
		p.ClassFilters = v
	}
	if v := fields.list(dataTypeFiltersKey); v != nil {
		p.DataTypeFilters = v
	}
	if v, ok := fields.scalar(collectionKey); ok {
		p.Collection = v
	}
	return p
}

// Build merges o onto base (see Params.Merge) and encodes the result.
func Build(base Params, o Override) string {
	return Encode(base.Merge(o))
}

// BuildURL returns the location for path with the merged parameters.
func BuildURL(path string, base Params, o Override) string {
	return path + "?" + Build(base, o)
}

// Encode serializes p using the bracketed indices convention of the qs
// library (classFilters%5B0%5D=...), which the web client and the backend expect.
func Encode(p Params) string {
	var parts []string
	add := func(key, value string) {
		parts = append(parts, escape(key)+"="+escape(value))
	}

	add(qKey, p.Q)
	add(pageKey, itoa(p.Page))
	add(sortDirectionKey, string(p.SortDirection))
	add(sortByKey, string(p.SortBy))
	add(limitKey, itoa(p.Limit))
	for i, v := range p.ClassFilters {
		add(classFiltersKey+"["+itoa(i)+"]", v)
	}
	for i, v := range p.DataTypeFilters {
		add(dataTypeFiltersKey+"["+itoa(i)+"]", v)
	}
	if p.Collection != "" {
		add(collectionKey, p.Collection)
	}
	return strings.Join(parts, "&")
}

type indexedValue struct {
	index int
	order int
	value string
}

type parsedFields map[string][]indexedValue

func (f parsedFields) scalar(key string) (string, bool) {
	values, ok := f[key]
	if !ok || len(values) == 0 {
		return "", false
	}
	return values[0].value, true
}

func (f parsedFields) list(key string) []string {
	values, ok := f[key]
	if !ok {
		return nil
	}
	sorted := make([]indexedValue, len(values))
	copy(sorted, values)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].index != sorted[j].index {
			return sorted[i].index < sorted[j].index
		}
		return sorted[i].order < sorted[j].order
	})
	out := make([]string, 0, len(sorted))
	for _, v := range sorted {
		out = append(out, v.value)
	}
	return out
}

// parseFields accepts k=v, repeated k=v, k[]=v and k[N]=v. Values without an
// explicit index keep their position relative to each other.
func parseFields(rawQuery string) parsedFields {
	fields := parsedFields{}
	order := 0
	for _, pair := range strings.Split(strings.TrimPrefix(rawQuery, "?"), "&") {
		if pair == "" {
			continue
		}
		rawKey, rawValue, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			continue
		}
		value, err := url.QueryUnescape(rawValue)
		if err != nil {
			continue
		}

		index := order
		if open := strings.IndexByte(key, '['); open > 0 && strings.HasSuffix(key, "]") {
			inner := key[open+1 : len(key)-1]
			key = key[:open]
			if inner != "" {
				n, err := strconv.Atoi(inner)
				if err != nil || n < 0 {
					continue
				}
				index = n
			}
		}
		fields[key] = append(fields[key], indexedValue{index: index, order: order, value: value})
		order++
	}
	return fields
}

func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// boundedOr parses a positive integer no greater than upper. Larger values are
// clamped; anything else yields fallback.
func boundedOr(s string, fallback int, upper int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 {
		return fallback
	}
	if n > upper {
		return upper
	}
	return n
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
