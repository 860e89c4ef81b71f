package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/apprise/tracksync/internal/schema"
)

const selectRecord = `
	SELECT r.local_id, r.kind, r.remote_id, r.guid,
	       r.dirty, r.deleted, r.stamp, r.updated_at,
	       r.name, r.retention_days,
	       r.client_local_id, c.remote_id, r.client_project_name,
	       r.description, r.duration, r.start_at,
	       r.project_local_id, p.remote_id, p.client_project_name
	FROM records r
	LEFT JOIN records c ON c.local_id = r.client_local_id
	LEFT JOIN records p ON p.local_id = r.project_local_id
`

// refreshLabels recomputes the composite label of the project with the
// given id, or of every project of the client with the given id.
const refreshLabels = `
	UPDATE records SET client_project_name = CASE
		WHEN COALESCE((SELECT c.name FROM records c WHERE c.local_id = records.client_local_id), '') = ''
		THEN name
		ELSE (SELECT c.name FROM records c WHERE c.local_id = records.client_local_id) || ' - ' || name
	END
	WHERE kind = 'project' AND (local_id = ?1 OR client_local_id = ?1)
`

// Create inserts a new locally created record. The record is dirty, gets a
// fresh local id and GUID, and is returned as stored.
func (db *DB) Create(ctx context.Context, rec *schema.Record) (*schema.Record, error) {
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid record: %w", err)
	}

	var localID int64
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		if err := checkParent(ctx, tx, rec); err != nil {
			return err
		}
		id, err := insertRecord(ctx, tx, rec, uuid.NewString(), true, db.timestamp())
		if err != nil {
			return err
		}
		localID = id
		return refreshProjectLabels(ctx, tx, rec.Kind, id)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", rec.Kind, err)
	}

	return db.FindByLocalID(ctx, rec.Kind, localID)
}

// Update stores a local edit. The record becomes dirty with a fresh stamp,
// even if a sync pass is currently pushing an older version of it.
func (db *DB) Update(ctx context.Context, rec *schema.Record) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}

	return db.withTx(ctx, func(tx *sql.Tx) error {
		changed, err := parentChanged(ctx, tx, rec)
		if err != nil {
			return err
		}
		if changed {
			if err := checkParent(ctx, tx, rec); err != nil {
				return err
			}
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE records SET
				name = ?, retention_days = ?, client_local_id = ?,
				description = ?, duration = ?, start_at = ?, project_local_id = ?,
				dirty = 1, stamp = stamp + 1, updated_at = ?
			WHERE local_id = ? AND kind = ? AND deleted = 0
		`,
			rec.Name, rec.RetentionDays, nullID(rec.ClientLocalID),
			nullString(rec.Description), rec.Duration, nullTime(rec.Start), nullID(rec.ProjectLocalID),
			db.timestamp(),
			rec.LocalID, string(rec.Kind),
		)
		if err != nil {
			return fmt.Errorf("failed to update %s %d: %w", rec.Kind, rec.LocalID, err)
		}
		if err := expectRow(res, rec.Kind, rec.LocalID); err != nil {
			return err
		}
		return refreshProjectLabels(ctx, tx, rec.Kind, rec.LocalID)
	})
}

// MarkDeleted deletes a record on behalf of the user.
//
// A record that was never synced is removed immediately, with no remote
// interaction. A synced record becomes a dirty tombstone until a sync pass
// confirms the remote delete. Returns true when a tombstone was left behind.
//
// A client or project that active records still reference is refused with
// ErrHasChildren.
func (db *DB) MarkDeleted(ctx context.Context, kind schema.Kind, localID int64) (bool, error) {
	rec, err := db.FindByLocalID(ctx, kind, localID)
	if err != nil {
		return false, err
	}

	if kind == schema.KindClient || kind == schema.KindProject {
		var children int
		err := db.conn.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM records
			WHERE deleted = 0 AND (client_local_id = ?1 OR project_local_id = ?1)
		`, localID).Scan(&children)
		if err != nil {
			return false, fmt.Errorf("failed to count children of %s %d: %w", kind, localID, err)
		}
		if children > 0 {
			return false, fmt.Errorf("%s %d has %d active record(s): %w", kind, localID, children, ErrHasChildren)
		}
	}

	if !rec.HasRemoteID() {
		if err := db.Delete(ctx, kind, localID); err != nil {
			return false, err
		}
		return false, nil
	}

	_, err = db.conn.ExecContext(ctx, `
		UPDATE records SET deleted = 1, dirty = 1, stamp = stamp + 1, updated_at = ?
		WHERE local_id = ? AND kind = ?
	`, db.timestamp(), localID, string(kind))
	if err != nil {
		return false, fmt.Errorf("failed to tombstone %s %d: %w", kind, localID, err)
	}
	return true, nil
}

// Apply upserts remote state into the store.
//
// With rec.LocalID == 0 a new clean row is inserted and its local id is
// returned. Otherwise the existing row is overwritten, but only while it is
// still clean: a row that became dirty in the meantime keeps the local edit
// and Apply reports applied == false.
func (db *DB) Apply(ctx context.Context, rec *schema.Record) (localID int64, applied bool, err error) {
	if err := rec.Validate(); err != nil {
		return 0, false, fmt.Errorf("invalid record: %w", err)
	}

	err = db.withTx(ctx, func(tx *sql.Tx) error {
		if rec.LocalID == 0 {
			guid := rec.GUID
			if guid == "" {
				guid = uuid.NewString()
			}
			id, err := insertRecord(ctx, tx, rec, guid, false, db.timestamp())
			if err != nil {
				return err
			}
			localID, applied = id, true
			return refreshProjectLabels(ctx, tx, rec.Kind, id)
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE records SET
				remote_id = ?, name = ?, retention_days = ?, client_local_id = ?,
				description = ?, duration = ?, start_at = ?, project_local_id = ?,
				deleted = 0, updated_at = ?
			WHERE local_id = ? AND kind = ? AND dirty = 0
			  AND (remote_id IS NULL OR remote_id = ?)
		`,
			nullID(rec.RemoteID), rec.Name, rec.RetentionDays, nullID(rec.ClientLocalID),
			nullString(rec.Description), rec.Duration, nullTime(rec.Start), nullID(rec.ProjectLocalID),
			db.timestamp(),
			rec.LocalID, string(rec.Kind), rec.RemoteID,
		)
		if err != nil {
			return fmt.Errorf("failed to apply %s %d: %w", rec.Kind, rec.LocalID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read rows affected: %w", err)
		}
		localID, applied = rec.LocalID, n > 0
		if !applied {
			return nil
		}
		return refreshProjectLabels(ctx, tx, rec.Kind, rec.LocalID)
	})
	if err != nil {
		return 0, false, err
	}
	return localID, applied, nil
}

// Delete removes a row outright. It is used for never-synced records and
// for tombstones whose remote delete has been confirmed.
// Returns nil if the record doesn't exist (idempotent).
func (db *DB) Delete(ctx context.Context, kind schema.Kind, localID int64) error {
	_, err := db.conn.ExecContext(ctx, `DELETE FROM records WHERE local_id = ? AND kind = ?`, localID, string(kind))
	if err != nil {
		return fmt.Errorf("failed to delete %s %d: %w", kind, localID, err)
	}
	return nil
}

// InsertTombstone records a remote record that has no local row and must be
// deleted remotely by the next sync pass.
func (db *DB) InsertTombstone(ctx context.Context, kind schema.Kind, remoteID int64) error {
	if remoteID <= 0 {
		return fmt.Errorf("invalid remote id %d for %s tombstone", remoteID, kind)
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO records (kind, remote_id, guid, dirty, deleted, stamp, updated_at)
		VALUES (?, ?, ?, 1, 1, 1, ?)
		ON CONFLICT DO NOTHING
	`, string(kind), remoteID, uuid.NewString(), db.timestamp())
	if err != nil {
		return fmt.Errorf("failed to insert %s tombstone for remote %d: %w", kind, remoteID, err)
	}
	return nil
}

// BindRemoteID stores the server-assigned id of a record. Binding the same
// id twice is a no-op; binding a different id is an error.
func (db *DB) BindRemoteID(ctx context.Context, kind schema.Kind, localID, remoteID int64) error {
	if remoteID <= 0 {
		return fmt.Errorf("invalid remote id %d for %s %d", remoteID, kind, localID)
	}

	res, err := db.conn.ExecContext(ctx, `
		UPDATE records SET remote_id = ?, updated_at = ?
		WHERE local_id = ? AND kind = ? AND (remote_id IS NULL OR remote_id = ?)
	`, remoteID, db.timestamp(), localID, string(kind), remoteID)
	if err != nil {
		return fmt.Errorf("failed to bind remote id for %s %d: %w", kind, localID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		if _, err := db.FindByLocalID(ctx, kind, localID); err != nil {
			return err
		}
		return fmt.Errorf("%s %d already bound to a different remote id", kind, localID)
	}
	return nil
}

// ClearDirty marks a record as accepted by the remote service, provided no
// local edit happened since the pass read it (stamp unchanged).
// Returns false when a newer edit kept the record dirty.
func (db *DB) ClearDirty(ctx context.Context, kind schema.Kind, localID, stamp int64) (bool, error) {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE records SET dirty = 0, updated_at = ?
		WHERE local_id = ? AND kind = ? AND stamp = ? AND dirty = 1
	`, db.timestamp(), localID, string(kind), stamp)
	if err != nil {
		return false, fmt.Errorf("failed to clear dirty flag for %s %d: %w", kind, localID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

// FindByLocalID retrieves a single record, tombstones included.
// Returns ErrNotFound if no such record exists.
func (db *DB) FindByLocalID(ctx context.Context, kind schema.Kind, localID int64) (*schema.Record, error) {
	row := db.conn.QueryRowContext(ctx, selectRecord+` WHERE r.local_id = ? AND r.kind = ?`, localID, string(kind))
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %d: %w", kind, localID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s %d: %w", kind, localID, err)
	}
	return rec, nil
}

// FindByRemoteID retrieves the record bound to a server id.
// Returns ErrNotFound if no local record carries that id.
func (db *DB) FindByRemoteID(ctx context.Context, kind schema.Kind, remoteID int64) (*schema.Record, error) {
	row := db.conn.QueryRowContext(ctx, selectRecord+` WHERE r.remote_id = ? AND r.kind = ?`, remoteID, string(kind))
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s remote %d: %w", kind, remoteID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s remote %d: %w", kind, remoteID, err)
	}
	return rec, nil
}

// FindDirty returns every dirty record of a kind, tombstones included,
// ordered by ascending local id.
func (db *DB) FindDirty(ctx context.Context, kind schema.Kind) ([]*schema.Record, error) {
	return db.query(ctx, selectRecord+`
		WHERE r.kind = ? AND r.dirty = 1
		ORDER BY r.local_id ASC
	`, string(kind))
}

// FindChangedSince returns records of a kind written after the given time,
// tombstones included, ordered by ascending local id.
func (db *DB) FindChangedSince(ctx context.Context, kind schema.Kind, since time.Time) ([]*schema.Record, error) {
	return db.query(ctx, selectRecord+`
		WHERE r.kind = ? AND r.updated_at > ?
		ORDER BY r.local_id ASC
	`, string(kind), formatTime(since))
}

// ListActive returns all non-deleted records of a kind.
// Projects are ordered by label, everything else by local id.
func (db *DB) ListActive(ctx context.Context, kind schema.Kind) ([]*schema.Record, error) {
	order := "r.local_id ASC"
	if kind == schema.KindProject {
		order = "r.client_project_name ASC, r.local_id ASC"
	}
	return db.query(ctx, selectRecord+`
		WHERE r.kind = ? AND r.deleted = 0
		ORDER BY `+order, string(kind))
}

// TasksForDay returns the non-deleted tasks that started on the calendar day
// of day (in day's location), newest first.
func (db *DB) TasksForDay(ctx context.Context, day time.Time) ([]*schema.Record, error) {
	y, m, d := day.Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, day.Location())
	to := from.AddDate(0, 0, 1)

	return db.query(ctx, selectRecord+`
		WHERE r.kind = 'task' AND r.deleted = 0
		  AND r.start_at >= ? AND r.start_at < ?
		ORDER BY r.start_at DESC, r.local_id DESC
	`, formatTime(from), formatTime(to))
}

// CurrentUser returns the signed-in user, or nil when there is none.
func (db *DB) CurrentUser(ctx context.Context) (*schema.Record, error) {
	users, err := db.query(ctx, selectRecord+`
		WHERE r.kind = 'user' AND r.deleted = 0
		ORDER BY r.local_id ASC LIMIT 1
	`)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, nil
	}
	return users[0], nil
}

// CountDirty returns the number of dirty records of a kind.
func (db *DB) CountDirty(ctx context.Context, kind schema.Kind) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE kind = ? AND dirty = 1`, string(kind)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count dirty %s records: %w", kind, err)
	}
	return count, nil
}

// Count returns the number of non-deleted records of a kind.
func (db *DB) Count(ctx context.Context, kind schema.Kind) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE kind = ? AND deleted = 0`, string(kind)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s records: %w", kind, err)
	}
	return count, nil
}

// SyncMark returns the remote change mark recorded by the last successful
// reconciliation of a kind, or 0 if the kind was never synced.
func (db *DB) SyncMark(ctx context.Context, kind schema.Kind) (int64, error) {
	var mark int64
	err := db.conn.QueryRowContext(ctx, `SELECT mark FROM sync_marks WHERE kind = ?`, string(kind)).Scan(&mark)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get sync mark for %s: %w", kind, err)
	}
	return mark, nil
}

// SetSyncMark records the remote change mark for a kind.
func (db *DB) SetSyncMark(ctx context.Context, kind schema.Kind, mark int64) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO sync_marks (kind, mark, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(kind) DO UPDATE SET mark = excluded.mark, updated_at = excluded.updated_at
	`, string(kind), mark, db.timestamp())
	if err != nil {
		return fmt.Errorf("failed to set sync mark for %s: %w", kind, err)
	}
	return nil
}

func insertRecord(ctx context.Context, tx *sql.Tx, rec *schema.Record, guid string, dirty bool, now string) (int64, error) {
	stamp := 0
	if dirty {
		stamp = 1
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO records (
			kind, remote_id, guid, dirty, deleted, stamp, updated_at,
			name, retention_days, client_local_id,
			description, duration, start_at, project_local_id
		) VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		string(rec.Kind), nullID(rec.RemoteID), guid, boolToInt(dirty), stamp, now,
		rec.Name, rec.RetentionDays, nullID(rec.ClientLocalID),
		nullString(rec.Description), rec.Duration, nullTime(rec.Start), nullID(rec.ProjectLocalID),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert %s: %w", rec.Kind, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read inserted id: %w", err)
	}
	return id, nil
}

// checkParent verifies that the parent a local edit points at exists and is
// not deleted.
func checkParent(ctx context.Context, tx *sql.Tx, rec *schema.Record) error {
	parentKind := rec.Kind.Parent()
	parentID, _ := rec.ParentRef()
	if parentKind == "" || parentID == 0 {
		return nil
	}

	var deleted int
	err := tx.QueryRowContext(ctx, `SELECT deleted FROM records WHERE local_id = ? AND kind = ?`, parentID, string(parentKind)).Scan(&deleted)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && deleted != 0) {
		return fmt.Errorf("%s %d: %w", parentKind, parentID, ErrInvalidParent)
	}
	if err != nil {
		return fmt.Errorf("failed to look up %s %d: %w", parentKind, parentID, err)
	}
	return nil
}

// parentChanged reports whether an update moves the record to another parent.
func parentChanged(ctx context.Context, tx *sql.Tx, rec *schema.Record) (bool, error) {
	if rec.Kind.Parent() == "" {
		return false, nil
	}
	var client, project sql.NullInt64
	err := tx.QueryRowContext(ctx, `SELECT client_local_id, project_local_id FROM records WHERE local_id = ? AND kind = ?`,
		rec.LocalID, string(rec.Kind)).Scan(&client, &project)
	if errors.Is(err, sql.ErrNoRows) {
		// The UPDATE reports the missing row.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s %d: %w", rec.Kind, rec.LocalID, err)
	}
	parentID, _ := rec.ParentRef()
	if rec.Kind == schema.KindProject {
		return client.Int64 != parentID, nil
	}
	return project.Int64 != parentID, nil
}

func refreshProjectLabels(ctx context.Context, tx *sql.Tx, kind schema.Kind, localID int64) error {
	if kind != schema.KindProject && kind != schema.KindClient {
		return nil
	}
	if _, err := tx.ExecContext(ctx, refreshLabels, localID); err != nil {
		return fmt.Errorf("failed to refresh project labels: %w", err)
	}
	return nil
}

func expectRow(res sql.Result, kind schema.Kind, localID int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", kind, localID, ErrNotFound)
	}
	return nil
}

func (db *DB) query(ctx context.Context, query string, args ...interface{}) ([]*schema.Record, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []*schema.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}
	return records, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(s scanner) (*schema.Record, error) {
	var (
		rec                                 schema.Record
		kind, updatedAt                     string
		remoteID, clientLocal, clientRemote sql.NullInt64
		projectLocal, projectRemote         sql.NullInt64
		description, startAt, projectLabel  sql.NullString
		dirty, deleted                      int
	)

	err := s.Scan(
		&rec.LocalID, &kind, &remoteID, &rec.GUID,
		&dirty, &deleted, &rec.Stamp, &updatedAt,
		&rec.Name, &rec.RetentionDays,
		&clientLocal, &clientRemote, &rec.ClientProjectName,
		&description, &rec.Duration, &startAt,
		&projectLocal, &projectRemote, &projectLabel,
	)
	if err != nil {
		return nil, err
	}

	rec.Kind = schema.Kind(kind)
	rec.RemoteID = remoteID.Int64
	rec.Dirty = dirty != 0
	rec.Deleted = deleted != 0
	rec.UpdatedAt = parseTime(updatedAt)
	rec.ClientLocalID = clientLocal.Int64
	rec.ClientRemoteID = clientRemote.Int64
	rec.ProjectLocalID = projectLocal.Int64
	rec.ProjectRemoteID = projectRemote.Int64
	if description.Valid {
		rec.Description = schema.StringPtr(description.String)
	}
	if startAt.Valid {
		rec.Start = parseTime(startAt.String)
	}
	// Tasks display the label of their project.
	if rec.Kind == schema.KindTask && projectLabel.Valid {
		rec.ClientProjectName = projectLabel.String
	}

	return &rec, nil
}

func nullID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
