package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/artpar/bulwark/domain/audit"
	"github.com/artpar/bulwark/ports"
)

// AuditStore implements ports.AuditStore on SQL.
type AuditStore struct {
	db *DB
}

// NewAuditStore creates an audit store. Migrate must have run.
func NewAuditStore(db *DB) *AuditStore {
	return &AuditStore{db: db}
}

type auditRow struct {
	ID        string `db:"id"`
	Action    string `db:"action"`
	ActorID   string `db:"actor_id"`
	Result    string `db:"result"`
	Details   string `db:"details"`
	CreatedAt int64  `db:"created_at"`
}

// Append stores one record.
func (s *AuditStore) Append(ctx context.Context, rec audit.Record) error {
	details, err := json.Marshal(rec.Details)
	if err != nil {
		return fmt.Errorf("encode audit details: %w", err)
	}
	if rec.Details == nil {
		details = []byte("{}")
	}

	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO audit_records (id, action, actor_id, result, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), rec.ID, rec.Action, rec.ActorID, string(rec.Result), string(details), rec.Timestamp.UTC().UnixMicro())
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

// List returns matching records, newest first.
func (s *AuditStore) List(ctx context.Context, f audit.Filter) ([]audit.Record, error) {
	var (
		where []string
		args  []any
	)
	if f.Action != "" {
		where = append(where, "action = ?")
		args = append(args, f.Action)
	}
	if f.ActorID != "" {
		where = append(where, "actor_id = ?")
		args = append(args, f.ActorID)
	}
	if f.Result != "" {
		where = append(where, "result = ?")
		args = append(args, string(f.Result))
	}
	if !f.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, f.Since.UTC().UnixMicro())
	}
	if !f.Until.IsZero() {
		where = append(where, "created_at < ?")
		args = append(args, f.Until.UTC().UnixMicro())
	}

	q := "SELECT id, action, actor_id, result, details, created_at FROM audit_records"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, f.EffectiveLimit())

	var rows []auditRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}

	out := make([]audit.Record, 0, len(rows))
	for _, r := range rows {
		rec := audit.Record{
			ID:        r.ID,
			Action:    r.Action,
			ActorID:   r.ActorID,
			Result:    audit.Result(r.Result),
			Timestamp: time.UnixMicro(r.CreatedAt).UTC(),
		}
		if err := json.Unmarshal([]byte(r.Details), &rec.Details); err != nil {
			return nil, fmt.Errorf("decode audit details %s: %w", r.ID, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Prune deletes records older than before.
func (s *AuditStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind("DELETE FROM audit_records WHERE created_at < ?"), before.UTC().UnixMicro())
	if err != nil {
		return 0, fmt.Errorf("prune audit records: %w", err)
	}
	return res.RowsAffected()
}

// Ensure interface compliance.
var _ ports.AuditStore = (*AuditStore)(nil)
