package sqlstore

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"omnipost/internal/domain"
	"omnipost/internal/ports"
)

type GroupStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ ports.GroupStore = (*GroupStore)(nil)

func NewGroupStore(db *sql.DB) *GroupStore {
	return &GroupStore{db: db, now: time.Now}
}

const groupSelect = `
	SELECT g.id, g.name, g.description, g.created_at, g.updated_at, COUNT(c.id)
	FROM account_groups g
	LEFT JOIN credentials c ON c.group_id = g.id`

func scanGroup(row rowScanner) (*domain.Group, error) {
	var (
		g                domain.Group
		created, updated int64
	)
	if err := row.Scan(&g.ID, &g.Name, &g.Description, &created, &updated, &g.AccountCount); err != nil {
		return nil, err
	}
	g.CreatedAt = fromMillis(created)
	g.UpdatedAt = fromMillis(updated)
	return &g, nil
}

func (s *GroupStore) List(ctx context.Context) ([]domain.Group, error) {
	rows, err := s.db.QueryContext(ctx, groupSelect+` GROUP BY g.id ORDER BY g.created_at DESC, g.id DESC`)
	if err != nil {
		return nil, persistErr("list groups", err)
	}
	defer rows.Close()

	out := []domain.Group{}
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, persistErr("list groups", err)
		}
		out = append(out, *g)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list groups", err)
	}
	return out, nil
}

func (s *GroupStore) Get(ctx context.Context, id int64) (*domain.Group, error) {
	g, err := scanGroup(s.db.QueryRowContext(ctx, groupSelect+` WHERE g.id = ? GROUP BY g.id`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, groupNotFound(id)
	}
	if err != nil {
		return nil, persistErr("get group", err)
	}
	return g, nil
}

func (s *GroupStore) Create(ctx context.Context, name, description string) (*domain.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &domain.ValidationError{Field: "name", Reason: "group name is required"}
	}
	now := millis(s.now())
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO account_groups (name, description, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		name, description, now, now)
	if isUniqueViolation(err) {
		return nil, errors.Wrapf(domain.ErrConflict, "group %q already exists", name)
	}
	if err != nil {
		return nil, persistErr("create group", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, persistErr("create group", err)
	}
	return s.Get(ctx, id)
}

func (s *GroupStore) Ensure(ctx context.Context, name string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, &domain.ValidationError{Field: "group", Reason: "group name is required"}
	}
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM account_groups WHERE name = ?`, name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, persistErr("ensure group", err)
	}
	g, err := s.Create(ctx, name, "created by login")
	if errors.Is(err, domain.ErrConflict) {
		// lost a race with another login naming the same group
		err = s.db.QueryRowContext(ctx, `SELECT id FROM account_groups WHERE name = ?`, name).Scan(&id)
		if err != nil {
			return 0, persistErr("ensure group", err)
		}
		return id, nil
	}
	if err != nil {
		return 0, err
	}
	return g.ID, nil
}

func (s *GroupStore) Update(ctx context.Context, id int64, name, description string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return &domain.ValidationError{Field: "name", Reason: "group name is required"}
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE account_groups SET name = ?, description = ?, updated_at = ? WHERE id = ?`,
		name, description, millis(s.now()), id)
	if isUniqueViolation(err) {
		return errors.Wrapf(domain.ErrConflict, "group %q already exists", name)
	}
	if err != nil {
		return persistErr("update group", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return persistErr("update group", err)
	} else if n == 0 {
		return groupNotFound(id)
	}
	return nil
}

func (s *GroupStore) Delete(ctx context.Context, id int64) error {
	var members int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM credentials WHERE group_id = ?`, id).Scan(&members); err != nil {
		return persistErr("delete group", err)
	}
	if members > 0 {
		return errors.Wrapf(domain.ErrGroupInUse, "group %d has %d accounts", id, members)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM account_groups WHERE id = ?`, id)
	if err != nil {
		return persistErr("delete group", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return persistErr("delete group", err)
	} else if n == 0 {
		return groupNotFound(id)
	}
	return nil
}

func groupNotFound(id int64) error {
	return &domain.NotFoundError{Kind: "group", ID: strconv.FormatInt(id, 10)}
}
