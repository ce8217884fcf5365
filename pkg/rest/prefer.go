package rest

import (
	"slices"
	"strings"
)

// Prefer holds the Prefer header (RFC 7240) preferences the pipeline acts on.
type Prefer struct {
	Return     string
	Count      string
	Resolution string
	Missing    string
}

// preferValues lists the accepted values of each preference.
var preferValues = map[string][]string{
	"return":     {"minimal", "representation", "headers-only"},
	"count":      {string(CountExact), string(CountPlanned), string(CountEstimated)},
	"resolution": {"merge-duplicates", "ignore-duplicates"},
	"missing":    {"default", "null"},
}

// ParsePrefer parses a Prefer header value. It returns nil for an empty
// header. Unknown preferences and values are ignored, and return defaults
// to minimal.
func ParsePrefer(header string) *Prefer {
	if strings.TrimSpace(header) == "" {
		return nil
	}

	p := &Prefer{Return: "minimal"}
	for directive := range strings.SplitSeq(header, ",") {
		key, value, ok := strings.Cut(directive, "=")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.ToLower(strings.Trim(strings.TrimSpace(value), `"`))
		if !slices.Contains(preferValues[key], value) {
			continue
		}
		switch key {
		case "return":
			p.Return = value
		case "count":
			p.Count = value
		case "resolution":
			p.Resolution = value
		case "missing":
			p.Missing = value
		}
	}
	return p
}

// CountMode returns the requested count strategy, CountNone when absent.
func (p *Prefer) CountMode() CountMode {
	if p == nil {
		return CountNone
	}
	return CountMode(p.Count)
}

// WriteOptions maps the write preferences. columns and onConflict come from
// the columns and on_conflict query parameters. Rows are returned only for
// return=representation, or when no header was sent.
func (p *Prefer) WriteOptions(columns, onConflict []string) WriteOptions {
	opts := WriteOptions{Columns: columns, OnConflict: onConflict, Returning: true}
	if p == nil {
		return opts
	}
	opts.Returning = p.Return == "representation"
	if p.Missing == "null" {
		opts.Missing = MissingNull
	}
	if p.Resolution == "ignore-duplicates" {
		opts.Resolution = IgnoreDuplicates
	}
	return opts
}
