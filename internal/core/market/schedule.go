package market

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/quotelens/quotelens/internal/core"
)

// Exchange describes trading hours in exchange-local wall time.
type Exchange struct {
	Name            string
	Timezone        string
	StandardOffset  time.Duration
	DaylightOffset  time.Duration
	PreMarketOpen   string
	RegularOpen     string
	RegularClose    string
	AfterHoursClose string
}

// DefaultExchange returns US equity hours in Eastern time.
func DefaultExchange() Exchange {
	return Exchange{
		Name:            "NYSE",
		Timezone:        "America/New_York",
		StandardOffset:  -5 * time.Hour,
		DaylightOffset:  -4 * time.Hour,
		PreMarketOpen:   "04:00",
		RegularOpen:     "09:30",
		RegularClose:    "16:00",
		AfterHoursClose: "20:00",
	}
}

// Schedule maps instants to market sessions.
type Schedule struct {
	exchange Exchange
	calendar *Calendar
	clock    func() time.Time

	preOpen  int
	open     int
	close    int
	postEnd  int
	stdZone  *time.Location
	dstZone  *time.Location
	maxScans int
}

// NewSchedule validates the exchange boundaries. A nil clock uses time.Now.
func NewSchedule(exchange Exchange, calendar *Calendar, clock func() time.Time) (*Schedule, error) {
	bounds := make([]int, 0, 4)
	for _, raw := range []string{exchange.PreMarketOpen, exchange.RegularOpen, exchange.RegularClose, exchange.AfterHoursClose} {
		minute, err := parseClock(raw)
		if err != nil {
			return nil, err
		}
		bounds = append(bounds, minute)
	}
	for i := 1; i < len(bounds); i++ {
		if bounds[i] <= bounds[i-1] {
			return nil, fmt.Errorf("market boundaries must be increasing: pre=%s open=%s close=%s after=%s",
				exchange.PreMarketOpen, exchange.RegularOpen, exchange.RegularClose, exchange.AfterHoursClose)
		}
	}
	if strings.TrimSpace(exchange.Timezone) == "" {
		exchange.Timezone = "UTC"
	}

	return &Schedule{
		exchange: exchange,
		calendar: calendar,
		clock:    clock,
		preOpen:  bounds[0],
		open:     bounds[1],
		close:    bounds[2],
		postEnd:  bounds[3],
		stdZone:  time.FixedZone(exchange.Timezone, int(exchange.StandardOffset/time.Second)),
		dstZone:  time.FixedZone(exchange.Timezone, int(exchange.DaylightOffset/time.Second)),
		maxScans: 370,
	}, nil
}

// Exchange returns the configured exchange.
func (s *Schedule) Exchange() Exchange {
	return s.exchange
}

// Calendar returns the holiday calendar, which may be nil.
func (s *Schedule) Calendar() *Calendar {
	return s.calendar
}

// Session returns the session for the schedule's clock.
func (s *Schedule) Session() core.MarketSession {
	return s.SessionAt(s.now())
}

// SessionAt classifies t. Bands are half-open, so exactly RegularClose is after-hours.
func (s *Schedule) SessionAt(t time.Time) core.MarketSession {
	local := s.LocalTime(t)
	minute := local.Hour()*60 + local.Minute()
	trading := s.isTradingDay(local)

	status := core.SessionClosed
	if trading {
		switch {
		case minute >= s.open && minute < s.close:
			status = core.SessionOpen
		case minute >= s.preOpen && minute < s.open:
			status = core.SessionPreMarket
		case minute >= s.close && minute < s.postEnd:
			status = core.SessionAfterHours
		}
	}

	session := core.MarketSession{
		IsOpen:   status == core.SessionOpen,
		Status:   status,
		Timezone: s.exchange.Timezone,
	}
	if status != core.SessionOpen {
		next := s.nextBoundary(local, minute, s.open)
		session.NextOpen = &next
	}
	nextClose := s.nextBoundary(local, minute, s.close)
	session.NextClose = &nextClose
	return session
}

// LocalTime converts t to exchange wall time using the two-rule DST window.
func (s *Schedule) LocalTime(t time.Time) time.Time {
	if s.inDST(t) {
		return t.In(s.dstZone)
	}
	return t.In(s.stdZone)
}

// IsTradingDay reports whether the exchange-local date of t is a weekday and not a holiday.
func (s *Schedule) IsTradingDay(t time.Time) bool {
	return s.isTradingDay(s.LocalTime(t))
}

// nextBoundary returns the next instant at boundary minutes on a trading day,
// using today when it is a trading day and the boundary is still ahead.
func (s *Schedule) nextBoundary(local time.Time, minute, boundary int) time.Time {
	day := civilDate(local)
	if !(s.isTradingDay(day) && minute < boundary) {
		day = day.AddDate(0, 0, 1)
		for i := 0; i < s.maxScans && !s.isTradingDay(day); i++ {
			day = day.AddDate(0, 0, 1)
		}
	}
	return s.at(day, boundary)
}

// at builds the instant for a civil date and minute-of-day in exchange time.
func (s *Schedule) at(day time.Time, minute int) time.Time {
	wall := time.Date(day.Year(), day.Month(), day.Day(), minute/60, minute%60, 0, 0, time.UTC)
	candidate := wall.Add(-s.exchange.DaylightOffset)
	if s.inDST(candidate) {
		return candidate.In(s.dstZone)
	}
	return wall.Add(-s.exchange.StandardOffset).In(s.stdZone)
}

// inDST applies the US rule: second Sunday of March 02:00 standard time
// through first Sunday of November 02:00 daylight time.
func (s *Schedule) inDST(t time.Time) bool {
	if s.exchange.StandardOffset == s.exchange.DaylightOffset {
		return false
	}
	year := t.UTC().Add(s.exchange.StandardOffset).Year()
	startDay := nthWeekday(year, time.March, time.Sunday, 2)
	endDay := nthWeekday(year, time.November, time.Sunday, 1)
	start := startDay.Add(2 * time.Hour).Add(-s.exchange.StandardOffset)
	end := endDay.Add(2 * time.Hour).Add(-s.exchange.DaylightOffset)
	return !t.Before(start) && t.Before(end)
}

func (s *Schedule) isTradingDay(local time.Time) bool {
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !s.calendar.IsHoliday(local)
}

func (s *Schedule) now() time.Time {
	if s.clock != nil {
		return s.clock()
	}
	return time.Now().UTC()
}

func civilDate(local time.Time) time.Time {
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

// nthWeekday returns midnight UTC of the nth weekday of month.
func nthWeekday(year int, month time.Month, weekday time.Weekday, n int) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	offset := (int(weekday) - int(first.Weekday()) + 7) % 7
	return first.AddDate(0, 0, offset+7*(n-1))
}

func parseClock(raw string) (int, error) {
	value := strings.TrimSpace(raw)
	parts := strings.Split(value, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid market time %q: expected HH:MM", raw)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("invalid market time %q: bad hour", raw)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid market time %q: bad minute", raw)
	}
	return hour*60 + minute, nil
}
