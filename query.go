package xdmod

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"
)

// dateFormat is the calendar-date layout accepted for duration bounds.
const dateFormat = "2006-01-02"

// Duration bounds a query in time: either two inclusive calendar dates
// or a named alias from the server's vocabulary (see DescribeDurations).
// The zero value is invalid.
type Duration struct {
	alias string
	start string
	end   string
}

// Dates returns a Duration spanning start through end inclusive, both in
// YYYY-MM-DD form.
func Dates(start, end string) Duration {
	return Duration{start: start, end: end}
}

// DurationAlias returns a Duration using a server-defined named range
// such as "Previous month". Aliases are resolved server-side.
func DurationAlias(name string) Duration {
	return Duration{alias: name}
}

// IsAlias reports whether the duration is a named range.
func (d Duration) IsAlias() bool { return d.alias != "" }

func (d Duration) validate() error {
	if d.alias != "" {
		return nil
	}
	if d.start == "" || d.end == "" {
		return invalidArgument("duration requires two dates or a named alias")
	}
	start, err := time.Parse(dateFormat, d.start)
	if err != nil {
		return invalidArgument("start date %q is not a YYYY-MM-DD date", d.start)
	}
	end, err := time.Parse(dateFormat, d.end)
	if err != nil {
		return invalidArgument("end date %q is not a YYYY-MM-DD date", d.end)
	}
	if start.After(end) {
		return invalidArgument("start date %s is after end date %s", d.start, d.end)
	}
	return nil
}

// QuerySpec describes one raw-data fetch. Fields is the ordered list of
// requested field names; an empty list requests every field the realm
// defines. Filters maps a dimension to one or more admissible values; a
// row must match at least one value per listed dimension.
type QuerySpec struct {
	Duration Duration
	Realm    string
	Fields   []string
	Filters  map[string][]string

	// ShowProgress enables periodic progress reporting while rows are
	// retrieved. It has no effect on the result.
	ShowProgress bool
}

// validate performs the checks that need no server metadata. It runs
// before any network traffic so a malformed spec never reaches the wire.
func (q QuerySpec) validate() error {
	if err := q.Duration.validate(); err != nil {
		return err
	}
	if q.Realm == "" {
		return invalidArgument("realm is required")
	}
	for _, f := range q.Fields {
		if f == "" {
			return invalidArgument("field names must be non-empty")
		}
	}
	for dim, values := range q.Filters {
		if dim == "" {
			return invalidArgument("filter dimension names must be non-empty")
		}
		if len(values) == 0 {
			return invalidArgument("filter %q has no values", dim)
		}
	}
	return nil
}

// cacheKey derives a stable identifier for the spec, independent of
// filter map iteration order. ShowProgress is excluded: it does not
// change the result.
func (q QuerySpec) cacheKey() string {
	type filterEntry struct {
		Dimension string   `json:"dimension"`
		Values    []string `json:"values"`
	}
	filters := make([]filterEntry, 0, len(q.Filters))
	for dim, values := range q.Filters {
		sorted := append([]string(nil), values...)
		sort.Strings(sorted)
		filters = append(filters, filterEntry{Dimension: dim, Values: sorted})
	}
	sort.Slice(filters, func(i, j int) bool { return filters[i].Dimension < filters[j].Dimension })

	canonical, _ := json.Marshal(struct {
		Alias   string        `json:"alias,omitempty"`
		Start   string        `json:"start,omitempty"`
		End     string        `json:"end,omitempty"`
		Realm   string        `json:"realm"`
		Fields  []string      `json:"fields"`
		Filters []filterEntry `json:"filters"`
	}{
		Alias:   q.Duration.alias,
		Start:   q.Duration.start,
		End:     q.Duration.end,
		Realm:   q.Realm,
		Fields:  q.Fields,
		Filters: filters,
	})
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// rawDataRequest is the wire format for POST /warehouse/export/raw-data.
type rawDataRequest struct {
	DurationAlias string              `json:"duration,omitempty"`
	StartDate     string              `json:"start_date,omitempty"`
	EndDate       string              `json:"end_date,omitempty"`
	Realm         string              `json:"realm"`
	Fields        []string            `json:"fields,omitempty"`
	Filters       map[string][]string `json:"filters,omitempty"`
	Offset        int                 `json:"offset"`
	Limit         int                 `json:"limit"`
}

func buildRawDataRequest(q QuerySpec, offset, limit int) rawDataRequest {
	return rawDataRequest{
		DurationAlias: q.Duration.alias,
		StartDate:     q.Duration.start,
		EndDate:       q.Duration.end,
		Realm:         q.Realm,
		Fields:        q.Fields,
		Filters:       q.Filters,
		Offset:        offset,
		Limit:         limit,
	}
}

// rawDataPage is one page of the raw-data response. A nil cell marks a
// missing value; absence of measurement is not an error.
type rawDataPage struct {
	Fields    []string    `json:"fields"`
	Rows      [][]*string `json:"rows"`
	TotalRows int         `json:"total_rows"`
	Offset    int         `json:"offset"`
}
