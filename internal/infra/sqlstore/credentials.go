package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"omnipost/internal/domain"
	"omnipost/internal/ports"
)

type CredentialStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ ports.CredentialStore = (*CredentialStore)(nil)

func NewCredentialStore(db *sql.DB) *CredentialStore {
	return &CredentialStore{db: db, now: time.Now}
}

const credentialColumns = `id, platform_type, credential_ref, label, status, group_id, created_at, last_validated_at`

func scanCredential(row rowScanner) (*domain.Credential, error) {
	var (
		c         domain.Credential
		status    string
		groupID   sql.NullInt64
		created   int64
		validated sql.NullInt64
	)
	if err := row.Scan(&c.ID, &c.Platform, &c.Ref, &c.Label, &status, &groupID, &created, &validated); err != nil {
		return nil, err
	}
	c.Status = domain.CredentialStatus(status)
	if groupID.Valid {
		id := groupID.Int64
		c.GroupID = &id
	}
	c.CreatedAt = fromMillis(created)
	c.LastValidatedAt = timePtr(validated)
	return &c, nil
}

func (s *CredentialStore) queryOne(ctx context.Context, op, id, where string, args ...any) (*domain.Credential, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE `+where, args...)
	c, err := scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.NotFoundError{Kind: "credential", ID: id}
	}
	if err != nil {
		return nil, persistErr(op, err)
	}
	return c, nil
}

func (s *CredentialStore) queryMany(ctx context.Context, op, query string, args ...any) ([]domain.Credential, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistErr(op, err)
	}
	defer rows.Close()

	out := []domain.Credential{}
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, persistErr(op, err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr(op, err)
	}
	return out, nil
}

func (s *CredentialStore) Get(ctx context.Context, id int64) (*domain.Credential, error) {
	return s.queryOne(ctx, "get credential", strconv.FormatInt(id, 10), `id = ?`, id)
}

func (s *CredentialStore) GetByRef(ctx context.Context, ref string) (*domain.Credential, error) {
	return s.queryOne(ctx, "get credential by ref", ref, `credential_ref = ? ORDER BY id DESC LIMIT 1`, ref)
}

func (s *CredentialStore) List(ctx context.Context, platform *domain.Platform) ([]domain.Credential, error) {
	if platform != nil {
		return s.queryMany(ctx, "list credentials",
			`SELECT `+credentialColumns+` FROM credentials WHERE platform_type = ? ORDER BY id`, *platform)
	}
	return s.queryMany(ctx, "list credentials", `SELECT `+credentialColumns+` FROM credentials ORDER BY id`)
}

func (s *CredentialStore) ListByGroup(ctx context.Context, groupID int64) ([]domain.Credential, error) {
	return s.queryMany(ctx, "list group credentials",
		`SELECT `+credentialColumns+` FROM credentials WHERE group_id = ? ORDER BY id`, groupID)
}

// ListStale orders never-validated rows first; SQLite sorts NULL below any value.
func (s *CredentialStore) ListStale(ctx context.Context, olderThan time.Time) ([]domain.Credential, error) {
	return s.queryMany(ctx, "list stale credentials", `
		SELECT `+credentialColumns+` FROM credentials
		WHERE last_validated_at IS NULL OR last_validated_at < ?
		ORDER BY last_validated_at ASC, id ASC`, millis(olderThan))
}

func (s *CredentialStore) Upsert(ctx context.Context, c domain.IssuedCredential) (*domain.Credential, error) {
	if !c.Platform.Valid() {
		return nil, &domain.ValidationError{Field: "type", Reason: fmt.Sprintf("unknown platform %d", c.Platform)}
	}
	if c.Label == "" {
		return nil, &domain.ValidationError{Field: "id", Reason: "label is required"}
	}
	var group sql.NullInt64
	if c.GroupID != nil {
		group = sql.NullInt64{Int64: *c.GroupID, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (platform_type, credential_ref, label, status, group_id, created_at, last_validated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (platform_type, label) DO UPDATE SET
			credential_ref    = excluded.credential_ref,
			status            = excluded.status,
			group_id          = COALESCE(excluded.group_id, credentials.group_id),
			last_validated_at = excluded.last_validated_at`,
		c.Platform, c.Ref, c.Label, domain.CredentialValid, group, millis(s.now()), millis(c.ValidatedAt))
	if err != nil {
		return nil, persistErr("upsert credential", err)
	}
	return s.queryOne(ctx, "upsert credential", c.Label, `platform_type = ? AND label = ?`, c.Platform, c.Label)
}

func (s *CredentialStore) SetValidation(ctx context.Context, id int64, status domain.CredentialStatus, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE credentials SET status = ?, last_validated_at = ? WHERE id = ?`, status, millis(at), id)
	return s.checkAffected("set credential validation", id, res, err)
}

func (s *CredentialStore) Rename(ctx context.Context, id int64, platform domain.Platform, label string) error {
	if !platform.Valid() {
		return &domain.ValidationError{Field: "type", Reason: fmt.Sprintf("unknown platform %d", platform)}
	}
	if label == "" {
		return &domain.ValidationError{Field: "userName", Reason: "label is required"}
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE credentials SET platform_type = ?, label = ? WHERE id = ?`, platform, label, id)
	if isUniqueViolation(err) {
		return errors.Wrapf(domain.ErrConflict, "%s account %q already exists", platform, label)
	}
	return s.checkAffected("rename credential", id, res, err)
}

// Delete removes the row and returns it so the caller can drop the blob.
func (s *CredentialStore) Delete(ctx context.Context, id int64) (*domain.Credential, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE id = ?`, id)
	if err := s.checkAffected("delete credential", id, res, err); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *CredentialStore) checkAffected(op string, id int64, res sql.Result, err error) error {
	if err != nil {
		return persistErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return persistErr(op, err)
	}
	if n == 0 {
		return &domain.NotFoundError{Kind: "credential", ID: strconv.FormatInt(id, 10)}
	}
	return nil
}

func (s *CredentialStore) Counts(ctx context.Context) ([]domain.CredentialCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT platform_type, status, COUNT(*) FROM credentials GROUP BY platform_type, status ORDER BY platform_type, status`)
	if err != nil {
		return nil, persistErr("count credentials", err)
	}
	defer rows.Close()

	out := []domain.CredentialCount{}
	for rows.Next() {
		var (
			c      domain.CredentialCount
			status string
		)
		if err := rows.Scan(&c.Platform, &status, &c.N); err != nil {
			return nil, persistErr("count credentials", err)
		}
		c.Status = domain.CredentialStatus(status)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("count credentials", err)
	}
	return out, nil
}
