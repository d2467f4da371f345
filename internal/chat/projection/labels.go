package projection

import (
	"fmt"
	"strings"
	"time"
)

// Label ids. Weekday labels use WeekdayLabelPrefix followed by the English
// weekday name, e.g. "weekday.monday".
const (
	LabelNow           = "time.now"
	LabelMinutes       = "time.minutes"   // data: Count
	LabelHours         = "time.hours"     // data: Count
	LabelYesterday     = "time.yesterday"
	LabelMonthDay      = "time.month_day" // data: Month, MonthName, Day
	LabelAttachment    = "preview.attachment"
	LabelNoMessages    = "preview.empty"
	WeekdayLabelPrefix = "weekday."
)

// Labels renders the human-readable strings produced by derivation.
type Labels interface {
	Label(id string, data map[string]any) string
}

// LabelFunc adapts a function to Labels.
type LabelFunc func(id string, data map[string]any) string

func (f LabelFunc) Label(id string, data map[string]any) string { return f(id, data) }

// DefaultLabels are the built-in English labels.
var DefaultLabels Labels = LabelFunc(English)

// English renders id in English. Unknown ids are returned unchanged.
func English(id string, data map[string]any) string {
	switch id {
	case LabelNow:
		return "now"
	case LabelMinutes:
		return fmt.Sprintf("%vm", data["Count"])
	case LabelHours:
		return fmt.Sprintf("%vh", data["Count"])
	case LabelYesterday:
		return "yesterday"
	case LabelMonthDay:
		return fmt.Sprintf("%v %v", data["MonthName"], data["Day"])
	case LabelAttachment:
		return "sent an attachment"
	case LabelNoMessages:
		return "No messages yet"
	}
	if day, ok := strings.CutPrefix(id, WeekdayLabelPrefix); ok {
		for d := time.Sunday; d <= time.Saturday; d++ {
			if strings.EqualFold(d.String(), day) {
				return d.String()
			}
		}
	}
	return id
}

// WeekdayLabel returns the label id for d.
func WeekdayLabel(d time.Weekday) string {
	return WeekdayLabelPrefix + strings.ToLower(d.String())
}
