package projection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRelativeTime(t *testing.T) {
	// Wednesday
	now := time.Date(2024, 5, 15, 18, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		age  time.Duration
		want string
	}{
		{"just now", 30 * time.Second, "now"},
		{"future", -5 * time.Minute, "now"},
		{"one minute", time.Minute, "1m"},
		{"minutes", 45 * time.Minute, "45m"},
		{"hours", 5 * time.Hour, "5h"},
		{"almost a day", 23*time.Hour + 59*time.Minute, "23h"},
		{"exactly a day", 24 * time.Hour, "yesterday"},
		{"day and a half", 36 * time.Hour, "yesterday"},
		{"three days", 3 * 24 * time.Hour, "Sunday"},
		{"six days", 6 * 24 * time.Hour, "Thursday"},
		{"ten days", 10 * 24 * time.Hour, "May 5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RelativeTime(now.Add(-tt.age), now, nil))
		})
	}
}

func TestRelativeTime_ZeroAndCustomLabels(t *testing.T) {
	now := time.Now()
	assert.Empty(t, RelativeTime(time.Time{}, now, nil))

	upper := LabelFunc(func(id string, data map[string]any) string {
		if id == LabelMinutes {
			return "minutes"
		}
		return English(id, data)
	})
	assert.Equal(t, "minutes", RelativeTime(now.Add(-10*time.Minute), now, upper))
	assert.Equal(t, "now", RelativeTime(now, now, upper))
}

func TestEnglish(t *testing.T) {
	assert.Equal(t, "Monday", English(WeekdayLabel(time.Monday), nil))
	assert.Equal(t, "weekday.someday", English("weekday.someday", nil))
	assert.Equal(t, "unknown.id", English("unknown.id", nil))
	assert.Equal(t, "Jan 2", English(LabelMonthDay, map[string]any{"MonthName": "Jan", "Day": 2}))
}
