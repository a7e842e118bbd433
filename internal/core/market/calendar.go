package market

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

const dateLayout = "2006-01-02"

// Holiday is a full-day exchange closure.
type Holiday struct {
	Date string `yaml:"date" json:"date"`
	Name string `yaml:"name,omitempty" json:"name,omitempty"`
}

// Calendar is the injectable set of exchange holidays. A nil Calendar has no holidays.
type Calendar struct {
	mu   sync.RWMutex
	days map[string]string
}

type calendarFile struct {
	Holidays []Holiday `yaml:"holidays"`
}

// NewCalendar builds a calendar from YYYY-MM-DD dates.
func NewCalendar(dates ...string) (*Calendar, error) {
	cal := &Calendar{days: make(map[string]string, len(dates))}
	for _, date := range dates {
		if err := cal.Add(date, ""); err != nil {
			return nil, err
		}
	}
	return cal, nil
}

// LoadCalendarFile reads a YAML holiday file of the form `holidays: [{date, name}]`.
func LoadCalendarFile(path string) (*Calendar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read holiday calendar: %w", err)
	}

	var file calendarFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse holiday calendar %s: %w", path, err)
	}

	cal := &Calendar{days: make(map[string]string, len(file.Holidays))}
	for _, h := range file.Holidays {
		if err := cal.Add(h.Date, h.Name); err != nil {
			return nil, fmt.Errorf("holiday calendar %s: %w", path, err)
		}
	}
	return cal, nil
}

// Add registers a holiday date.
func (c *Calendar) Add(date, name string) error {
	date = strings.TrimSpace(date)
	if _, err := time.Parse(dateLayout, date); err != nil {
		return fmt.Errorf("invalid holiday date %q: expected YYYY-MM-DD", date)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.days == nil {
		c.days = make(map[string]string)
	}
	c.days[date] = strings.TrimSpace(name)
	return nil
}

// IsHoliday reports whether the civil date of t is a holiday.
func (c *Calendar) IsHoliday(t time.Time) bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.days[t.Format(dateLayout)]
	return ok
}

// Holidays returns the registered holidays sorted by date.
func (c *Calendar) Holidays() []Holiday {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Holiday, 0, len(c.days))
	for date, name := range c.days {
		out = append(out, Holiday{Date: date, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

// Len returns the number of registered holidays.
func (c *Calendar) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.days)
}
