package sqlxrepos

import (
	"context"

	"github.com/ampayon/gradebook/core"
	"github.com/ampayon/gradebook/core/audit"
)

const logEntrySelect = `
	SELECT a.id, a.user_id, a.action, a.table_name, a.record_id, a.old_values, a.new_values, a.metadata,
		a.created_at, u.first_name AS user_first_name, u.last_name AS user_last_name, u.email AS user_email
	FROM audit_logs a
	LEFT JOIN users u ON u.id = a.user_id`

type auditRepository struct {
	db *DB
}

var _ audit.Repository = (*auditRepository)(nil)

func NewAuditRepository(db *DB) audit.Repository {
	return &auditRepository{db: db}
}

func (repo *auditRepository) CreateEntry(ctx context.Context, e audit.Entry) error {
	const q = `
		INSERT INTO audit_logs (id, user_id, action, table_name, record_id, old_values, new_values, metadata, created_at)
		VALUES (:id, :user_id, :action, :table_name, :record_id, :old_values, :new_values, :metadata, :created_at)`
	_, err := repo.db.namedExec(ctx, q, e)
	return core.TranslateDBError(err, "inserting audit entry")
}

func (repo *auditRepository) QueryEntries(ctx context.Context, filter audit.Filter, page core.Page) ([]audit.LogEntry, int, error) {
	var w where
	if filter.UserID != "" {
		w.add("a.user_id::text = ?", filter.UserID)
	}
	if filter.Action != "" {
		w.add("a.action = ?", filter.Action)
	}
	if filter.TableName != "" {
		w.add("a.table_name = ?", filter.TableName)
	}
	if filter.RecordID != "" {
		w.add("a.record_id = ?", filter.RecordID)
	}

	q, args, err := build("SELECT COUNT(*) FROM audit_logs a"+w.String(), w.args...)
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err = repo.db.get(ctx, &total, q, args...); err != nil {
		return nil, 0, core.TranslateDBError(err, "counting audit entries")
	}

	q, args, err = build(
		logEntrySelect+w.String()+" ORDER BY a.created_at DESC LIMIT ? OFFSET ?",
		append(w.args, page.Size, page.Offset())...,
	)
	if err != nil {
		return nil, 0, err
	}
	entries := make([]audit.LogEntry, 0)
	if err = repo.db.selectAll(ctx, &entries, q, args...); err != nil {
		return nil, 0, core.TranslateDBError(err, "selecting audit entries")
	}
	return entries, total, nil
}

func (repo *auditRepository) GetEntry(ctx context.Context, id string) (audit.LogEntry, error) {
	var le audit.LogEntry
	err := repo.db.get(ctx, &le, logEntrySelect+" WHERE a.id = $1", id)
	return le, core.TranslateDBError(err, "selecting audit entry")
}
