package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"omnipost/internal/domain"
	"omnipost/internal/ports"
)

type TaskStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ ports.TaskStore = (*TaskStore)(nil)

func NewTaskStore(db *sql.DB) *TaskStore {
	return &TaskStore{db: db, now: time.Now}
}

func newTaskID(now time.Time) string {
	return fmt.Sprintf("task_%d_%s", now.Unix(), uuid.NewString()[:8])
}

func (s *TaskStore) Create(ctx context.Context, t domain.NewTask) (string, error) {
	if !t.Platform.Valid() {
		return "", &domain.ValidationError{Field: "type", Reason: fmt.Sprintf("unknown platform %d", t.Platform)}
	}
	priority := t.Priority
	if priority == 0 {
		priority = 1
	}
	platforms, err := encodeJSON([]domain.Platform{t.Platform})
	if err != nil {
		return "", errors.Wrap(err, "encode platform")
	}
	files, err := encodeJSON(nonNil(t.Files))
	if err != nil {
		return "", errors.Wrap(err, "encode file list")
	}
	accounts, err := encodeJSON(nonNil(t.Accounts))
	if err != nil {
		return "", errors.Wrap(err, "encode account list")
	}
	schedule, err := encodeJSON(t.Schedule)
	if err != nil {
		return "", errors.Wrap(err, "encode schedule")
	}
	var payload sql.NullString
	if t.Payload != nil {
		raw, err := encodeJSON(t.Payload)
		if err != nil {
			return "", errors.Wrap(err, "encode payload")
		}
		payload = sql.NullString{String: raw, Valid: true}
	}

	now := s.now()
	id := newTaskID(now)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, title, status, progress, priority, platform_tags, file_list,
		                   account_list, schedule_config, publish_payload, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, t.Title, domain.StatusWaiting, priority, platforms, files, accounts, schedule, payload,
		millis(now), millis(now))
	if err != nil {
		return "", persistErr("create task", err)
	}
	return id, nil
}

const taskColumns = `id, title, status, progress, priority, platform_tags, file_list, account_list,
	schedule_config, publish_payload, error_message, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		t                                          domain.Task
		status                                     string
		platforms, files, accounts, sched, payload sql.NullString
		errMsg                                     sql.NullString
		created, updated                           int64
	)
	if err := row.Scan(&t.ID, &t.Title, &status, &t.Progress, &t.Priority, &platforms, &files,
		&accounts, &sched, &payload, &errMsg, &created, &updated); err != nil {
		return nil, err
	}
	t.Status = domain.TaskStatus(status)
	t.CreatedAt = fromMillis(created)
	t.UpdatedAt = fromMillis(updated)
	if errMsg.Valid {
		t.ErrorMessage = &errMsg.String
	}
	decodeField(t.ID, "platform_tags", platforms, &t.Platforms)
	decodeField(t.ID, "file_list", files, &t.FileList)
	decodeField(t.ID, "account_list", accounts, &t.AccountList)
	decodeField(t.ID, "schedule_config", sched, &t.Schedule)
	var p domain.PublishPayload
	if decodeField(t.ID, "publish_payload", payload, &p) {
		t.Payload = &p
	}
	if t.Platforms == nil {
		t.Platforms = []domain.Platform{}
	}
	if t.FileList == nil {
		t.FileList = []string{}
	}
	if t.AccountList == nil {
		t.AccountList = []string{}
	}
	return &t, nil
}

func (s *TaskStore) Get(ctx context.Context, id string) (*domain.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.NotFoundError{Kind: "task", ID: id}
	}
	if err != nil {
		return nil, persistErr("get task", err)
	}
	return t, nil
}

func (s *TaskStore) UpdateStatus(ctx context.Context, id string, u domain.TaskUpdate) error {
	if !u.Status.Valid() {
		return &domain.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", u.Status)}
	}
	sets := []string{"status = ?", "updated_at = ?"}
	args := []any{u.Status, millis(s.now())}
	if u.Progress != nil {
		sets = append(sets, "progress = ?")
		args = append(args, *u.Progress)
	}
	if u.ErrorMessage != nil {
		sets = append(sets, "error_message = ?")
		args = append(args, *u.ErrorMessage)
	}
	args = append(args, id, domain.StatusCompleted, domain.StatusFailed)

	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET `+strings.Join(sets, ", ")+` WHERE id = ? AND status NOT IN (?, ?)`, args...)
	if err != nil {
		return persistErr("update task", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return persistErr("update task", err)
	}
	if n > 0 {
		return nil
	}

	var status string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.NotFoundError{Kind: "task", ID: id}
	}
	if err != nil {
		return persistErr("update task", err)
	}
	return errors.Wrapf(domain.ErrTerminal, "task %s is %s", id, status)
}

func (s *TaskStore) List(ctx context.Context) ([]domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, persistErr("list tasks", err)
	}
	defer rows.Close()

	out := []domain.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, persistErr("list tasks", err)
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list tasks", err)
	}
	return out, nil
}

func (s *TaskStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
		return persistErr("delete task", err)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
