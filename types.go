package xdmod

// Realm is a named category of raw job/task performance data available
// for export, e.g. "SUPREMM" or "Jobs".
type Realm struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// Field is a measurable quantity available within a realm.
type Field struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
	Unit        string `json:"unit,omitempty"`
}

// Dimension is a categorical grouping usable for filtering raw data,
// e.g. "Resource" or "Field of Science".
type Dimension struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// FilterValue is one admissible value for a filter dimension.
type FilterValue struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// DurationRange describes one server-defined duration alias together
// with the calendar dates it currently resolves to.
type DurationRange struct {
	Name      string `json:"name"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}
