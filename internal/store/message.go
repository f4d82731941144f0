package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

const messageColumns = `id, session_id, phone, message, direction, status, provider_id, error, metadata, created_at, updated_at`

// InsertMessage stores a new record. Zero timestamps are set to now.
func (db *DB) InsertMessage(ctx context.Context, m *Message) error {
	now := time.Now().UnixMilli()
	if m.CreatedAt == 0 {
		m.CreatedAt = now
	}
	if m.UpdatedAt == 0 {
		m.UpdatedAt = m.CreatedAt
	}
	if m.Metadata == nil {
		m.Metadata = Metadata{}
	}
	_, err := db.NamedExecContext(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES (:id, :session_id, :phone, :message, :direction, :status, :provider_id, :error, :metadata, :created_at, :updated_at)`, m)
	return err
}

// MarkSent moves a record to sent and records the transport's message id.
// It reports false when the record is already past sent.
func (db *DB) MarkSent(ctx context.Context, id, providerID string) (bool, error) {
	return db.advance(ctx, id, StatusSent, "provider_id = ?", providerID)
}

// MarkFailed moves a record to failed with the given reason.
// It reports false when the record can no longer fail.
func (db *DB) MarkFailed(ctx context.Context, id, reason string) (bool, error) {
	return db.advance(ctx, id, StatusFailed, "error = ?", reason)
}

// AdvanceStatus moves a record forward to status. Backward moves are ignored.
func (db *DB) AdvanceStatus(ctx context.Context, id string, status Status) (bool, error) {
	return db.advance(ctx, id, status, "")
}

// advance runs a guarded UPDATE: the WHERE clause only matches rows whose
// current status may move to `to`.
func (db *DB) advance(ctx context.Context, id string, to Status, extraSet string, extraArgs ...any) (bool, error) {
	from := predecessors(to)
	if len(from) == 0 {
		return false, nil
	}
	set := "status = ?, updated_at = ?"
	args := []any{to, time.Now().UnixMilli()}
	if extraSet != "" {
		set += ", " + extraSet
		args = append(args, extraArgs...)
	}
	args = append(args, id, from)

	query, inArgs, err := sqlx.In(`UPDATE messages SET `+set+` WHERE id = ? AND status IN (?)`, args...)
	if err != nil {
		return false, err
	}
	res, err := db.ExecContext(ctx, db.Rebind(query), inArgs...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	if _, err := db.GetMessage(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// AdvanceStatusByProviderID applies a transport receipt to every outgoing
// record carrying providerID and returns the ids of records that moved.
func (db *DB) AdvanceStatusByProviderID(ctx context.Context, providerID string, to Status) ([]string, error) {
	if providerID == "" {
		return nil, nil
	}
	var ids []string
	err := db.SelectContext(ctx, &ids, db.Rebind(`
		SELECT id FROM messages WHERE provider_id = ? AND direction = ?`), providerID, Outgoing)
	if err != nil {
		return nil, err
	}
	var moved []string
	for _, id := range ids {
		ok, err := db.AdvanceStatus(ctx, id, to)
		if err != nil {
			return moved, err
		}
		if ok {
			moved = append(moved, id)
		}
	}
	return moved, nil
}

// GetMessage returns the record with the exact id, or ErrNotFound.
func (db *DB) GetMessage(ctx context.Context, id string) (*Message, error) {
	var m Message
	err := db.GetContext(ctx, &m, db.Rebind(`SELECT `+messageColumns+` FROM messages WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMessages returns the records matching ids. Unknown ids are skipped.
func (db *DB) GetMessages(ctx context.Context, ids []string) ([]Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT `+messageColumns+` FROM messages WHERE id IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	var msgs []Message
	if err := db.SelectContext(ctx, &msgs, db.Rebind(query), args...); err != nil {
		return nil, err
	}
	return msgs, nil
}

// ListMessages returns the newest records matching f, at most MaxListLimit.
func (db *DB) ListMessages(ctx context.Context, f ListFilter) ([]Message, error) {
	limit := f.Limit
	if limit <= 0 || limit > MaxListLimit {
		limit = MaxListLimit
	}
	var (
		where []string
		args  []any
	)
	if f.Phone != "" {
		where = append(where, "phone = ?")
		args = append(args, f.Phone)
	}
	if f.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, f.SessionID)
	}
	query := `SELECT ` + messageColumns + ` FROM messages`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	var msgs []Message
	if err := db.SelectContext(ctx, &msgs, db.Rebind(query), args...); err != nil {
		return nil, err
	}
	return msgs, nil
}

// SearchByPartialID returns up to limit records whose id contains fragment.
// It exists for diagnostics (a caller holding a truncated id) and is never
// consulted by the exact lookup.
func (db *DB) SearchByPartialID(ctx context.Context, fragment string, limit int) ([]Message, error) {
	if fragment == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}
	pattern := "%" + escapeLike(fragment) + "%"
	var msgs []Message
	err := db.SelectContext(ctx, &msgs, db.Rebind(`
		SELECT `+messageColumns+` FROM messages
		WHERE id LIKE ? ESCAPE '\'
		ORDER BY created_at DESC
		LIMIT ?`), pattern, limit)
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// FailStalePending marks outgoing records still pending since before as
// failed and returns them.
func (db *DB) FailStalePending(ctx context.Context, before time.Time, reason string) ([]Message, error) {
	var stale []Message
	err := db.SelectContext(ctx, &stale, db.Rebind(`
		SELECT `+messageColumns+` FROM messages
		WHERE status = ? AND direction = ? AND created_at < ?`), StatusPending, Outgoing, before.UnixMilli())
	if err != nil {
		return nil, err
	}
	var failed []Message
	for _, m := range stale {
		ok, err := db.MarkFailed(ctx, m.ID, reason)
		if err != nil {
			return failed, err
		}
		if ok {
			m.Status = StatusFailed
			m.Error = reason
			failed = append(failed, m)
		}
	}
	return failed, nil
}

// CountByStatus returns the number of records per status.
func (db *DB) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := db.QueryxContext(ctx, `SELECT status, COUNT(*) FROM messages GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[Status]int, len(AllStatuses))
	for rows.Next() {
		var (
			s Status
			n int
		)
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		counts[s] = n
	}
	return counts, rows.Err()
}
