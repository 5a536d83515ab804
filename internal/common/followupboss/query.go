package followupboss

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"crm-assistant/internal/common/timeframe"
	"crm-assistant/internal/models"
)

// Resource paths relative to the API base URL.
const (
	PathPeople = "people"
	PathTasks  = "tasks"
	PathEvents = "events"
)

// Filter keys set by timeframe expansion.
const (
	FilterDueDate    = "dueDate"
	FilterDueDateEnd = "dueDateEnd"
	FilterStatus     = "status"
	FilterFromDate   = "fromDate"
	FilterToDate     = "toDate"
	ParamTimeframe   = "timeframe"
	ParamLeadID      = "leadId"
	StatusActive     = "active"
)

// Filters is a flat query filter set.
type Filters map[string]models.Value

// Query is a fully shaped read request.
type Query struct {
	Path    string
	Method  string
	Filters Filters
}

// MergeFilters combines classifier-supplied filters with derived ones.
// Explicit values win; a derived value only fills a key the explicit set
// leaves absent or null.
func MergeFilters(explicit, derived Filters) Filters {
	out := make(Filters, len(explicit)+len(derived))
	for k, v := range derived {
		out[k] = v
	}
	for k, v := range explicit {
		if v.IsNull() {
			continue
		}
		out[k] = v
	}
	return out
}

// EncodeQuery flattens filters into URL values, one pair per key. Lists, maps
// and nulls have no flat form and are returned as dropped, sorted.
func EncodeQuery(filters Filters) (url.Values, []string) {
	values := url.Values{}
	var dropped []string
	for k, v := range filters {
		s, ok := v.QueryString()
		if !ok {
			dropped = append(dropped, k)
			continue
		}
		values.Set(k, s)
	}
	sort.Strings(dropped)
	return values, dropped
}

// Flat returns the encoded filters as a plain map.
func (q Query) Flat() map[string]string {
	values, _ := EncodeQuery(q.Filters)
	out := make(map[string]string, len(values))
	for k := range values {
		out[k] = values.Get(k)
	}
	return out
}

// Key identifies the request for caching and logs: "GET people?limit=5".
func (q Query) Key() string {
	values, _ := EncodeQuery(q.Filters)
	var b strings.Builder
	b.WriteString(q.Method)
	b.WriteByte(' ')
	b.WriteString(q.Path)
	if enc := values.Encode(); enc != "" {
		b.WriteByte('?')
		b.WriteString(enc)
	}
	return b.String()
}

func without(filters Filters, keys ...string) Filters {
	out := make(Filters, len(filters))
	for k, v := range filters {
		out[k] = v
	}
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

// LeadsQuery lists people with the given filters.
func LeadsQuery(filters Filters) Query {
	return Query{Path: PathPeople, Method: "GET", Filters: without(filters)}
}

// LeadDetailsQuery fetches a single person.
func LeadDetailsQuery(leadID int64) Query {
	return Query{Path: fmt.Sprintf("%s/%d", PathPeople, leadID), Method: "GET", Filters: Filters{}}
}

// TasksQuery lists tasks with the given filters.
func TasksQuery(filters Filters) Query {
	return Query{Path: PathTasks, Method: "GET", Filters: without(filters)}
}

// UpcomingTasksQuery lists active tasks due within the timeframe window.
func UpcomingTasksQuery(tf string, filters Filters, now time.Time) Query {
	start, end := timeframe.Range(tf, now).Format()
	derived := Filters{
		FilterDueDate:    models.String(start),
		FilterDueDateEnd: models.String(end),
		FilterStatus:     models.String(StatusActive),
	}
	return Query{
		Path:    PathTasks,
		Method:  "GET",
		Filters: MergeFilters(without(filters, ParamTimeframe), derived),
	}
}

// AppointmentsQuery lists events within the timeframe window.
func AppointmentsQuery(tf string, filters Filters, now time.Time) Query {
	start, end := timeframe.Range(tf, now).Format()
	derived := Filters{
		FilterFromDate: models.String(start),
		FilterToDate:   models.String(end),
	}
	return Query{
		Path:    PathEvents,
		Method:  "GET",
		Filters: MergeFilters(without(filters, ParamTimeframe), derived),
	}
}

// RecordCount is the size of the top-level record list of a response, 1 for
// a single record, 0 otherwise.
func RecordCount(v models.Value) int {
	if _, ok := v.AsMap(); !ok {
		return 0
	}
	for _, key := range []string{PathPeople, PathTasks, PathEvents} {
		if list, ok := v.Get(key).AsList(); ok {
			return len(list)
		}
	}
	if !v.Get("id").IsNull() {
		return 1
	}
	return 0
}
