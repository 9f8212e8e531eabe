package domain

import "time"

type TaskStatus string

const (
	StatusWaiting   TaskStatus = "waiting"
	StatusUploading TaskStatus = "uploading"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case StatusWaiting, StatusUploading, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further writes may happen to a task in s.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task is a persisted publish job. Platforms holds at most one tag; it is a
// list only because that is how the column has always been stored.
type Task struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	Status       TaskStatus      `json:"status"`
	Progress     int             `json:"progress"`
	Priority     int             `json:"priority"`
	Platforms    []Platform      `json:"platform"`
	FileList     []string        `json:"file_list"`
	AccountList  []string        `json:"account_list"`
	Schedule     ScheduleConfig  `json:"schedule_config"`
	Payload      *PublishPayload `json:"publish_payload"`
	ErrorMessage *string         `json:"error_message"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Platform returns the task's single platform tag.
func (t Task) Platform() (Platform, bool) {
	if len(t.Platforms) == 0 {
		return 0, false
	}
	return t.Platforms[0], true
}

// ReplayPayload returns the stored payload, or rebuilds one from the task's
// own columns when none was retained.
func (t Task) ReplayPayload() PublishPayload {
	if t.Payload != nil {
		return *t.Payload
	}
	p := PublishPayload{
		Title:        t.Title,
		FileList:     append([]string(nil), t.FileList...),
		AccountList:  append([]string(nil), t.AccountList...),
		EnableTimer:  t.Schedule.EnableTimer,
		VideosPerDay: t.Schedule.VideosPerDay,
		DailyTimes:   append([]TimeSlot(nil), t.Schedule.DailyTimes...),
		StartDays:    t.Schedule.StartDays,
	}
	if pl, ok := t.Platform(); ok {
		p.Type = pl
	} else {
		p.Type = PlatformXiaohongshu
	}
	return p
}

// NewTask is the input of create_task.
type NewTask struct {
	Title    string
	Platform Platform
	Files    []string
	Accounts []string
	Schedule ScheduleConfig
	Payload  *PublishPayload
	Priority int
}

// TaskUpdate is a partial status write. Nil fields are left untouched.
type TaskUpdate struct {
	Status       TaskStatus
	Progress     *int
	ErrorMessage *string
}
