// Package inmemdb is an in-process implementation of the repositories, used by tests and local demos.
package inmemdb

import (
	"context"
	"maps"
	"sync"

	"github.com/pkg/errors"

	"github.com/ampayon/gradebook/core"
	"github.com/ampayon/gradebook/core/audit"
	"github.com/ampayon/gradebook/core/certificate"
	"github.com/ampayon/gradebook/core/class"
	"github.com/ampayon/gradebook/core/document"
	"github.com/ampayon/gradebook/core/grade"
	"github.com/ampayon/gradebook/core/school"
	"github.com/ampayon/gradebook/core/student"
	"github.com/ampayon/gradebook/core/user"
)

var (
	errDuplicate = core.NewConflictError("a record with these values already exists")
	errRestrict  = core.NewValidationError(errors.New("record is still referenced by other records"))
)

type tables struct {
	users        map[string]user.User
	schoolYears  map[string]school.SchoolYear
	periods      map[string]school.GradingPeriod
	subjects     map[string]school.Subject
	settings     map[string]string
	students     map[string]student.Student
	classes      map[string]class.Class
	enrollments  map[string]class.Enrollment
	grades       map[string]grade.Grade
	finalGrades  map[string]grade.FinalGrade
	statuses     map[string]grade.FinalizationStatus
	unlocks      map[string]grade.UnlockRequest
	metadata     map[string]document.Metadata
	edits        map[string]document.Edit
	documents    map[string]document.Document
	certificates map[string]certificate.Certificate
	auditLogs    map[string]audit.Entry
}

func newTables() tables {
	return tables{
		users:        make(map[string]user.User),
		schoolYears:  make(map[string]school.SchoolYear),
		periods:      make(map[string]school.GradingPeriod),
		subjects:     make(map[string]school.Subject),
		settings:     make(map[string]string),
		students:     make(map[string]student.Student),
		classes:      make(map[string]class.Class),
		enrollments:  make(map[string]class.Enrollment),
		grades:       make(map[string]grade.Grade),
		finalGrades:  make(map[string]grade.FinalGrade),
		statuses:     make(map[string]grade.FinalizationStatus),
		unlocks:      make(map[string]grade.UnlockRequest),
		metadata:     make(map[string]document.Metadata),
		edits:        make(map[string]document.Edit),
		documents:    make(map[string]document.Document),
		certificates: make(map[string]certificate.Certificate),
		auditLogs:    make(map[string]audit.Entry),
	}
}

func (t tables) clone() tables {
	return tables{
		users:        maps.Clone(t.users),
		schoolYears:  maps.Clone(t.schoolYears),
		periods:      maps.Clone(t.periods),
		subjects:     maps.Clone(t.subjects),
		settings:     maps.Clone(t.settings),
		students:     maps.Clone(t.students),
		classes:      maps.Clone(t.classes),
		enrollments:  maps.Clone(t.enrollments),
		grades:       maps.Clone(t.grades),
		finalGrades:  maps.Clone(t.finalGrades),
		statuses:     maps.Clone(t.statuses),
		unlocks:      maps.Clone(t.unlocks),
		metadata:     maps.Clone(t.metadata),
		edits:        maps.Clone(t.edits),
		documents:    maps.Clone(t.documents),
		certificates: maps.Clone(t.certificates),
		auditLogs:    maps.Clone(t.auditLogs),
	}
}

// DB holds every table in memory. Transactions are serialized: a transaction (or a write made
// outside of one) holds the write lock until it ends, and failed transactions are rolled back.
type DB struct {
	txMu sync.Mutex   // held by the running transaction
	mu   sync.RWMutex // guards tables
	t    tables
}

var _ core.Transactor = (*DB)(nil)

func NewDB() *DB {
	return &DB{t: newTables()}
}

type txKey struct{}

func inTx(ctx context.Context) bool {
	return ctx.Value(txKey{}) != nil
}

func (db *DB) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if inTx(ctx) {
		return fn(ctx)
	}

	db.txMu.Lock()
	defer db.txMu.Unlock()

	db.mu.RLock()
	snapshot := db.t.clone()
	db.mu.RUnlock()

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		db.mu.Lock()
		db.t = snapshot
		db.mu.Unlock()
		return err
	}
	return nil
}

func (db *DB) read(fn func(t *tables)) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	fn(&db.t)
}

func (db *DB) write(ctx context.Context, fn func(t *tables) error) error {
	if !inTx(ctx) {
		db.txMu.Lock()
		defer db.txMu.Unlock()
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	return fn(&db.t)
}

// Flush empties every table.
func (db *DB) Flush() {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.t = newTables()
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func excluded(id string, ids []string) bool {
	return len(ids) > 0 && contains(ids, id)
}
