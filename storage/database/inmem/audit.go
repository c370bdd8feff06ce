package inmemdb

import (
	"context"
	"sort"

	"github.com/volatiletech/null/v8"

	"github.com/ampayon/gradebook/core"
	"github.com/ampayon/gradebook/core/audit"
)

type auditRepository struct {
	db *DB
}

var _ audit.Repository = (*auditRepository)(nil)

func NewAuditRepository(db *DB) audit.Repository {
	return &auditRepository{db: db}
}

func (repo *auditRepository) CreateEntry(ctx context.Context, e audit.Entry) error {
	return repo.db.write(ctx, func(t *tables) error {
		t.auditLogs[e.ID] = e
		return nil
	})
}

func logEntry(t *tables, e audit.Entry) audit.LogEntry {
	le := audit.LogEntry{Entry: e}
	if e.UserID.Valid {
		if usr, ok := t.users[e.UserID.String]; ok {
			le.UserFirstName = null.StringFrom(usr.FirstName)
			le.UserLastName = null.StringFrom(usr.LastName)
			le.UserEmail = null.StringFrom(usr.Email)
		}
	}
	return le
}

func (repo *auditRepository) QueryEntries(_ context.Context, filter audit.Filter, page core.Page) ([]audit.LogEntry, int, error) {
	entries := make([]audit.LogEntry, 0)
	repo.db.read(func(t *tables) {
		for _, e := range t.auditLogs {
			if filter.UserID != "" && e.UserID.String != filter.UserID {
				continue
			}
			if filter.Action != "" && e.Action != filter.Action {
				continue
			}
			if filter.TableName != "" && e.TableName != filter.TableName {
				continue
			}
			if filter.RecordID != "" && e.RecordID != filter.RecordID {
				continue
			}
			entries = append(entries, logEntry(t, e))
		}
	})
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].CreatedAt.After(entries[j].CreatedAt) })

	total := len(entries)
	start := page.Offset()
	if start < 0 || start > total {
		start = total
	}
	end := start + page.Size
	if end > total {
		end = total
	}
	return entries[start:end], total, nil
}

func (repo *auditRepository) GetEntry(_ context.Context, id string) (audit.LogEntry, error) {
	var (
		le audit.LogEntry
		ok bool
	)
	repo.db.read(func(t *tables) {
		var e audit.Entry
		if e, ok = t.auditLogs[id]; ok {
			le = logEntry(t, e)
		}
	})
	if !ok {
		return audit.LogEntry{}, core.ErrNotFound
	}
	return le, nil
}
