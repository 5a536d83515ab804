package followupboss

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"crm-assistant/internal/models"
)

var fixedNow = time.Date(2024, time.May, 6, 10, 30, 0, 0, time.UTC)

func TestMergeFilters_ExplicitWins(t *testing.T) {
	explicit := Filters{
		"status": models.String("completed"),
		"limit":  models.Number(5),
		"sort":   models.Null(),
	}
	derived := Filters{
		"status": models.String("active"),
		"sort":   models.String("dueDate"),
		"from":   models.String("2024-05-06"),
	}

	got := MergeFilters(explicit, derived)

	assert.Equal(t, models.String("completed"), got["status"])
	assert.Equal(t, models.Number(5), got["limit"])
	assert.Equal(t, models.String("dueDate"), got["sort"], "null explicit value must not clobber derived")
	assert.Equal(t, models.String("2024-05-06"), got["from"])
}

func TestEncodeQuery(t *testing.T) {
	values, dropped := EncodeQuery(Filters{
		"limit":  models.Number(10),
		"ratio":  models.Number(0.5),
		"active": models.Bool(true),
		"name":   models.String("Jane Doe"),
		"tags":   models.List(models.String("a")),
		"meta":   models.Map(map[string]models.Value{"x": models.Number(1)}),
		"empty":  models.Null(),
	})

	assert.Equal(t, "active=true&limit=10&name=Jane+Doe&ratio=0.5", values.Encode())
	assert.Equal(t, []string{"empty", "meta", "tags"}, dropped)
}

func TestUpcomingTasksQuery(t *testing.T) {
	q := UpcomingTasksQuery("this_week", Filters{"timeframe": models.String("this_week")}, fixedNow)

	assert.Equal(t, PathTasks, q.Path)
	assert.Equal(t, map[string]string{
		"dueDate":    "2024-05-06",
		"dueDateEnd": "2024-05-13",
		"status":     "active",
	}, q.Flat())
}

func TestUpcomingTasksQuery_ExplicitStatusAndDates(t *testing.T) {
	q := UpcomingTasksQuery("today", Filters{
		"status":  models.String("completed"),
		"dueDate": models.String("2024-01-01"),
	}, fixedNow)

	flat := q.Flat()
	assert.Equal(t, "completed", flat["status"])
	assert.Equal(t, "2024-01-01", flat["dueDate"])
	assert.Equal(t, "2024-05-07", flat["dueDateEnd"])
}

func TestAppointmentsQuery(t *testing.T) {
	tests := []struct {
		timeframe string
		wantFrom  string
		wantTo    string
	}{
		{"today", "2024-05-06", "2024-05-07"},
		{"tomorrow", "2024-05-07", "2024-05-08"},
		{"this_week", "2024-05-06", "2024-05-13"},
		{"this_month", "2024-05-06", "2024-06-06"},
		{"someday", "2024-05-06", "2024-05-07"},
	}

	for _, tt := range tests {
		t.Run(tt.timeframe, func(t *testing.T) {
			q := AppointmentsQuery(tt.timeframe, Filters{"timeframe": models.String(tt.timeframe), "limit": models.Number(3)}, fixedNow)
			assert.Equal(t, PathEvents, q.Path)
			assert.Equal(t, map[string]string{
				"fromDate": tt.wantFrom,
				"toDate":   tt.wantTo,
				"limit":    "3",
			}, q.Flat())
		})
	}
}

func TestQueryKey_Deterministic(t *testing.T) {
	a := LeadsQuery(Filters{"limit": models.Number(5), "sort": models.String("created")})
	b := LeadsQuery(Filters{"sort": models.String("created"), "limit": models.Number(5)})
	assert.Equal(t, a.Key(), b.Key())
	assert.Equal(t, "GET people?limit=5&sort=created", a.Key())
	assert.Equal(t, "GET people/42", LeadDetailsQuery(42).Key())
}

func TestRecordCount(t *testing.T) {
	list := models.List(models.Map(map[string]models.Value{"id": models.Number(1)}), models.Map(map[string]models.Value{"id": models.Number(2)}))

	assert.Equal(t, 2, RecordCount(models.Map(map[string]models.Value{"people": list})))
	assert.Equal(t, 2, RecordCount(models.Map(map[string]models.Value{"tasks": list, "_metadata": models.Map(nil)})))
	assert.Equal(t, 0, RecordCount(models.Map(map[string]models.Value{"events": models.List()})))
	assert.Equal(t, 1, RecordCount(models.Map(map[string]models.Value{"id": models.Number(7), "name": models.String("Jane")})))
	assert.Equal(t, 0, RecordCount(models.List()))
}
