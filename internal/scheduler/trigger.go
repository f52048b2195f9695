package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Trigger computes the next nominal fire time strictly after the given
// instant. cron.Schedule has the same shape, so cron-backed triggers
// satisfy this directly.
type Trigger interface {
	Next(after time.Time) time.Time
}

// Interval fires every fixed duration.
func Interval(every time.Duration) Trigger {
	return cron.Every(every)
}

// IntervalHours is the config-facing interval helper.
func IntervalHours(hours int) Trigger {
	if hours <= 0 {
		hours = 1
	}
	return Interval(time.Duration(hours) * time.Hour)
}

// DailyAt fires once a day at the given hour.
func DailyAt(hour int) (Trigger, error) {
	if hour < 0 || hour > 23 {
		return nil, fmt.Errorf("daily trigger: hour %d out of range", hour)
	}
	return cron.ParseStandard(fmt.Sprintf("0 %d * * *", hour))
}

// WeeklyAt fires once a week on the given weekday at the given hour.
func WeeklyAt(weekday time.Weekday, hour int) (Trigger, error) {
	if hour < 0 || hour > 23 {
		return nil, fmt.Errorf("weekly trigger: hour %d out of range", hour)
	}
	return cron.ParseStandard(fmt.Sprintf("0 %d * * %d", hour, int(weekday)))
}

// MonthlyAt fires once a month on the given day at the given hour. A day
// the month does not have clamps to the month's last day, so day 31 fires
// on Apr 30 and Feb 28/29 instead of silently skipping those months (a
// plain cron day-of-month spec would skip them).
func MonthlyAt(day, hour int) (Trigger, error) {
	if day < 1 || day > 31 {
		return nil, fmt.Errorf("monthly trigger: day %d out of range", day)
	}
	if hour < 0 || hour > 23 {
		return nil, fmt.Errorf("monthly trigger: hour %d out of range", hour)
	}
	return monthlyTrigger{day: day, hour: hour}, nil
}

type monthlyTrigger struct {
	day  int
	hour int
}

func (m monthlyTrigger) Next(after time.Time) time.Time {
	// Walk month by month from the current one until the fire time is
	// strictly in the future.
	year, month := after.Year(), after.Month()
	for i := 0; i < 13; i++ {
		t := m.fireTime(year, month, after.Location())
		if t.After(after) {
			return t
		}
		month++
		if month > time.December {
			month = time.January
			year++
		}
	}
	// Unreachable: every 13-month span contains a future fire time.
	return time.Time{}
}

func (m monthlyTrigger) fireTime(year int, month time.Month, loc *time.Location) time.Time {
	day := m.day
	if last := lastDayOfMonth(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, m.hour, 0, 0, 0, loc)
}

func lastDayOfMonth(year int, month time.Month) int {
	// Day 0 of the next month normalizes to the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
