package warehouse

import (
	"time"

	"github.com/mauv0809/rmef-warehouse/internal/models"
)

// DateKey formats t as the integer YYYYMMDD. Fact loaders and the date
// dimension must agree on this scheme.
func DateKey(t time.Time) int {
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}

// NewDate derives the calendar and fiscal attributes of one day. The fiscal
// year is labelled with the calendar year and its first quarter runs
// October through December.
func NewDate(t time.Time) models.Date {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	m := int(day.Month())
	_, week := day.ISOWeek()
	dow := (int(day.Weekday()) + 6) % 7

	return models.Date{
		DateKey:       DateKey(day),
		FullDate:      day,
		Year:          day.Year(),
		Quarter:       (m-1)/3 + 1,
		Month:         m,
		MonthName:     day.Month().String(),
		Week:          week,
		DayOfMonth:    day.Day(),
		DayOfWeek:     dow,
		DayName:       day.Weekday().String(),
		IsWeekend:     dow >= 5,
		FiscalYear:    day.Year(),
		FiscalQuarter: ((m-10)%12+12)%12/3 + 1,
	}
}

// GenerateDates returns one row per day from start to end inclusive.
func GenerateDates(start, end time.Time) []models.Date {
	start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	end = time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)
	if end.Before(start) {
		return nil
	}
	out := make([]models.Date, 0, int(end.Sub(start).Hours()/24)+1)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		out = append(out, NewDate(d))
	}
	return out
}
