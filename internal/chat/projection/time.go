package projection

import "time"

// RelativeTime renders t relative to now using fixed buckets: under a minute
// is "now", then minutes, hours, "yesterday" for one whole day, the weekday
// name within a week and month/day beyond that. Future timestamps render as "now".
func RelativeTime(t, now time.Time, labels Labels) string {
	if labels == nil {
		labels = DefaultLabels
	}
	if t.IsZero() {
		return ""
	}
	age := now.Sub(t)
	switch {
	case age < time.Minute:
		return labels.Label(LabelNow, nil)
	case age < time.Hour:
		return labels.Label(LabelMinutes, map[string]any{"Count": int(age / time.Minute)})
	case age < 24*time.Hour:
		return labels.Label(LabelHours, map[string]any{"Count": int(age / time.Hour)})
	}

	days := int(age / (24 * time.Hour))
	switch {
	case days == 1:
		return labels.Label(LabelYesterday, nil)
	case days < 7:
		return labels.Label(WeekdayLabel(t.Weekday()), nil)
	default:
		return labels.Label(LabelMonthDay, map[string]any{
			"Month":     int(t.Month()),
			"MonthName": t.Month().String()[:3],
			"Day":       t.Day(),
		})
	}
}
