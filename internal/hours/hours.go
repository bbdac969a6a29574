// Package hours decides whether support is inside business hours.
package hours

import (
	"fmt"
	"log/slog"
	"time"
)

// DefaultTimezone is the timezone the schedule is expressed in.
const DefaultTimezone = "America/Mexico_City"

const outOfHoursMessage = "Gracias por tu mensaje. En este momento no podemos responder, pero lo haremos lo antes posible.🥺🤞🏼\n\n" +
	"Te recordamos qué nuestro horario 🕐 de atención es de Lunes a Jueves 08:00 a.m a 05:00 p.m y Viernes 08:00 a.m a 03:00 p.m."

var weekdayNames = [...]string{"domingo", "lunes", "martes", "miércoles", "jueves", "viernes", "sábado"}

// Window is an opening interval within a day, in whole hours [Start, End).
type Window struct {
	Start int
	End   int
}

// Opts holds schedule configuration.
type Opts struct {
	Timezone string
	Windows  map[time.Weekday]Window
	Disabled bool
}

// Option configures a Schedule.
type Option func(*Opts)

// WithTimezone sets the IANA timezone of the schedule.
func WithTimezone(tz string) Option {
	return func(o *Opts) { o.Timezone = tz }
}

// WithWindow replaces the opening interval of a weekday.
func WithWindow(day time.Weekday, start, end int) Option {
	return func(o *Opts) { o.Windows[day] = Window{Start: start, End: end} }
}

// WithDisabled makes the schedule always open.
func WithDisabled(disabled bool) Option {
	return func(o *Opts) { o.Disabled = disabled }
}

// DefaultWindows is Monday to Thursday 08-17 and Friday 08-15.
func DefaultWindows() map[time.Weekday]Window {
	return map[time.Weekday]Window{
		time.Monday:    {8, 17},
		time.Tuesday:   {8, 17},
		time.Wednesday: {8, 17},
		time.Thursday:  {8, 17},
		time.Friday:    {8, 15},
	}
}

// Schedule is the weekly support schedule.
type Schedule struct {
	loc      *time.Location
	windows  map[time.Weekday]Window
	disabled bool
}

// New builds a schedule. A timezone that cannot be loaded leaves the
// schedule always open.
func New(opts ...Option) *Schedule {
	cfg := Opts{Timezone: DefaultTimezone, Windows: DefaultWindows()}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Schedule{windows: cfg.Windows, disabled: cfg.Disabled}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		slog.Error("hours.New failed to load timezone, treating as always open", "timezone", cfg.Timezone, "error", err)
		return s
	}
	s.loc = loc
	return s
}

// IsOpen reports whether now falls inside an opening window.
func (s *Schedule) IsOpen(now time.Time) bool {
	if s.disabled || s.loc == nil {
		return true
	}
	local := now.In(s.loc)
	w, ok := s.windows[local.Weekday()]
	if !ok {
		return false
	}
	hour := float64(local.Hour()) + float64(local.Minute())/60
	return hour >= float64(w.Start) && hour < float64(w.End)
}

// NextOpening returns the start of the next opening window after now.
func (s *Schedule) NextOpening(now time.Time) (time.Time, bool) {
	if s.loc == nil || len(s.windows) == 0 {
		return time.Time{}, false
	}
	local := now.In(s.loc)
	for i := 0; i <= 7; i++ {
		day := local.AddDate(0, 0, i)
		w, ok := s.windows[day.Weekday()]
		if !ok {
			continue
		}
		open := time.Date(day.Year(), day.Month(), day.Day(), w.Start, 0, 0, 0, s.loc)
		if open.After(local) {
			return open, true
		}
	}
	return time.Time{}, false
}

// OutOfHoursMessage is the reply sent outside business hours.
func (s *Schedule) OutOfHoursMessage(now time.Time) string {
	next, ok := s.NextOpening(now)
	if !ok {
		return outOfHoursMessage
	}
	return outOfHoursMessage + fmt.Sprintf("\n\nTe atenderemos a partir del %s a las %02d:00.", weekdayNames[next.Weekday()], next.Hour())
}
