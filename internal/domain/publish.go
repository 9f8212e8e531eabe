package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// PublishPayload is the request that started a task, retained for replay.
// Field names follow the publish API wire format.
type PublishPayload struct {
	Type         Platform   `json:"type"`
	Title        string     `json:"title"`
	Tags         []string   `json:"tags"`
	FileList     []string   `json:"fileList"`
	AccountList  []string   `json:"accountList"`
	Category     int        `json:"category,omitempty"`
	EnableTimer  bool       `json:"enableTimer,omitempty"`
	VideosPerDay int        `json:"videosPerDay,omitempty"`
	DailyTimes   []TimeSlot `json:"dailyTimes"`
	StartDays    int        `json:"startDays,omitempty"`
	ProductLink  string     `json:"productLink,omitempty"`
	ProductTitle string     `json:"productTitle,omitempty"`
	Thumbnail    string     `json:"thumbnail,omitempty"`
	IsDraft      bool       `json:"isDraft,omitempty"`
}

func (p PublishPayload) Schedule() ScheduleConfig {
	return ScheduleConfig{
		EnableTimer:  p.EnableTimer,
		VideosPerDay: p.VideosPerDay,
		DailyTimes:   p.DailyTimes,
		StartDays:    p.StartDays,
	}
}

// ScheduleConfig controls timed publishing: items per day, the time-of-day
// slots used within a day, and how many days to skip before the first one.
type ScheduleConfig struct {
	EnableTimer  bool       `json:"enableTimer"`
	VideosPerDay int        `json:"videosPerDay,omitempty"`
	DailyTimes   []TimeSlot `json:"dailyTimes"`
	StartDays    int        `json:"startDays,omitempty"`
}

var DefaultDailyTimes = []TimeSlot{{Hour: 6}, {Hour: 11}, {Hour: 14}, {Hour: 16}, {Hour: 22}}

// PublishTimes returns one publish time per file. A zero time means publish
// immediately. File i is placed on day i/perDay+StartDays+1 (counting from
// the midnight of now) at slot i%perDay.
func (s ScheduleConfig) PublishTimes(n int, now time.Time) ([]time.Time, error) {
	out := make([]time.Time, n)
	if !s.EnableTimer || n == 0 {
		return out, nil
	}
	perDay := s.VideosPerDay
	if perDay == 0 {
		perDay = 1
	}
	if perDay < 0 {
		return nil, &ValidationError{Field: "videosPerDay", Reason: "must be positive"}
	}
	slots := s.DailyTimes
	if len(slots) == 0 {
		slots = DefaultDailyTimes
	}
	if perDay > len(slots) {
		return nil, &ValidationError{Field: "videosPerDay", Reason: fmt.Sprintf("%d per day needs at least %d daily times, got %d", perDay, perDay, len(slots))}
	}
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	for i := range out {
		day := i/perDay + s.StartDays + 1
		slot := slots[i%perDay]
		out[i] = midnight.AddDate(0, 0, day).Add(time.Duration(slot.Hour)*time.Hour + time.Duration(slot.Minute)*time.Minute)
	}
	return out, nil
}

// TimeSlot is a time of day. On the wire it is "HH:MM", though a bare hour
// (10 or "10") is accepted too.
type TimeSlot struct {
	Hour   int
	Minute int
}

func (t TimeSlot) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

func (t TimeSlot) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TimeSlot) UnmarshalJSON(b []byte) error {
	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		return t.set(n, 0)
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("time slot: %w", err)
	}
	hh, mm, hasMinute := strings.Cut(strings.TrimSpace(s), ":")
	h, err := strconv.Atoi(hh)
	if err != nil {
		return fmt.Errorf("time slot %q: %w", s, err)
	}
	m := 0
	if hasMinute {
		if m, err = strconv.Atoi(mm); err != nil {
			return fmt.Errorf("time slot %q: %w", s, err)
		}
	}
	return t.set(h, m)
}

func (t *TimeSlot) set(h, m int) error {
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return fmt.Errorf("time slot %02d:%02d out of range", h, m)
	}
	t.Hour, t.Minute = h, m
	return nil
}
