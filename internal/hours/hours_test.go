package hours

import (
	"strings"
	"testing"
	"time"
)

func mexico(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(DefaultTimezone)
	if err != nil {
		t.Skipf("timezone data not available: %v", err)
	}
	return loc
}

func TestIsOpen(t *testing.T) {
	loc := mexico(t)
	s := New()
	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"monday morning", time.Date(2024, 6, 10, 9, 30, 0, 0, loc), true},
		{"monday opening", time.Date(2024, 6, 10, 8, 0, 0, 0, loc), true},
		{"monday before open", time.Date(2024, 6, 10, 7, 59, 0, 0, loc), false},
		{"thursday closing", time.Date(2024, 6, 13, 17, 0, 0, 0, loc), false},
		{"thursday last minute", time.Date(2024, 6, 13, 16, 59, 0, 0, loc), true},
		{"friday afternoon", time.Date(2024, 6, 14, 15, 30, 0, 0, loc), false},
		{"friday lunch", time.Date(2024, 6, 14, 13, 0, 0, 0, loc), true},
		{"saturday", time.Date(2024, 6, 15, 10, 0, 0, 0, loc), false},
		{"sunday", time.Date(2024, 6, 16, 10, 0, 0, 0, loc), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.IsOpen(tt.at); got != tt.want {
				t.Errorf("IsOpen(%v) = %v, want %v", tt.at, got, tt.want)
			}
		})
	}
}

func TestIsOpen_ConvertsTimezone(t *testing.T) {
	loc := mexico(t)
	s := New()
	// 15:00 UTC on a Monday in June is 09:00 in Mexico City
	at := time.Date(2024, 6, 10, 15, 0, 0, 0, time.UTC)
	if !s.IsOpen(at) {
		t.Errorf("expected open at %v (%v local)", at, at.In(loc))
	}
}

func TestIsOpen_Disabled(t *testing.T) {
	loc := mexico(t)
	s := New(WithDisabled(true))
	if !s.IsOpen(time.Date(2024, 6, 15, 3, 0, 0, 0, loc)) {
		t.Error("disabled schedule must always be open")
	}
}

func TestIsOpen_BadTimezoneIsOpen(t *testing.T) {
	s := New(WithTimezone("Mars/Olympus_Mons"))
	if !s.IsOpen(time.Now()) {
		t.Error("schedule with an unknown timezone must be open")
	}
}

func TestOutOfHoursMessage_NamesNextBusinessDay(t *testing.T) {
	loc := mexico(t)
	s := New()
	msg := s.OutOfHoursMessage(time.Date(2024, 6, 14, 16, 0, 0, 0, loc))
	if !strings.Contains(msg, "lunes a las 08:00") {
		t.Errorf("expected next opening on monday, got %q", msg)
	}
	msg = s.OutOfHoursMessage(time.Date(2024, 6, 11, 6, 0, 0, 0, loc))
	if !strings.Contains(msg, "martes a las 08:00") {
		t.Errorf("expected same-day opening, got %q", msg)
	}
}

func TestWithWindow(t *testing.T) {
	loc := mexico(t)
	s := New(WithWindow(time.Saturday, 9, 13))
	if !s.IsOpen(time.Date(2024, 6, 15, 10, 0, 0, 0, loc)) {
		t.Error("expected saturday window to be open")
	}
}
