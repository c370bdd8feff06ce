package sqlxrepos

import (
	"context"

	"github.com/ampayon/gradebook/core"
	"github.com/ampayon/gradebook/core/document"
)

const (
	metadataColumns = "id, student_id, document_type, school_year_id, metadata, updated_by, created_at, updated_at"
	editColumns     = "id, metadata_id, field_name, old_value, new_value, edited_by, edited_at"
	documentColumns = `id, student_id, school_year_id, document_type, file_path, file_url, file_size, generated_by,
	created_at, updated_at`
)

type documentRepository struct {
	db *DB
}

var _ document.Repository = (*documentRepository)(nil)

func NewDocumentRepository(db *DB) document.Repository {
	return &documentRepository{db: db}
}

// Metadata

func (repo *documentRepository) GetMetadata(ctx context.Context, studentID, docType, schoolYearID string) (document.Metadata, error) {
	var m document.Metadata
	err := repo.db.get(
		ctx, &m,
		`SELECT `+metadataColumns+` FROM document_metadata
		WHERE student_id = $1 AND document_type = $2 AND COALESCE(school_year_id::text, '') = $3`,
		studentID, docType, schoolYearID,
	)
	return m, core.TranslateDBError(err, "selecting document metadata")
}

func (repo *documentRepository) CreateMetadata(ctx context.Context, m document.Metadata) (document.Metadata, error) {
	const q = `
		INSERT INTO document_metadata (` + metadataColumns + `)
		VALUES (:id, :student_id, :document_type, :school_year_id, :metadata, :updated_by, :created_at, :updated_at)`
	_, err := repo.db.namedExec(ctx, q, m)
	return m, core.TranslateDBError(err, "inserting document metadata")
}

func (repo *documentRepository) UpdateMetadata(ctx context.Context, m document.Metadata) (document.Metadata, error) {
	const q = `
		UPDATE document_metadata SET metadata = :metadata, updated_by = :updated_by, updated_at = :updated_at
		WHERE id = :id`
	n, err := repo.db.namedExec(ctx, q, m)
	if err != nil {
		return document.Metadata{}, core.TranslateDBError(err, "updating document metadata")
	}
	if n == 0 {
		return document.Metadata{}, core.ErrNotFound
	}
	return m, nil
}

func (repo *documentRepository) CreateEdits(ctx context.Context, edits ...document.Edit) error {
	if len(edits) == 0 {
		return nil
	}
	const q = `
		INSERT INTO document_edits (` + editColumns + `)
		VALUES (:id, :metadata_id, :field_name, :old_value, :new_value, :edited_by, :edited_at)`
	_, err := repo.db.namedExec(ctx, q, edits)
	return core.TranslateDBError(err, "inserting document edits")
}

func (repo *documentRepository) QueryEdits(ctx context.Context, metadataID string) ([]document.Edit, error) {
	edits := make([]document.Edit, 0)
	err := repo.db.selectAll(
		ctx, &edits,
		"SELECT "+editColumns+" FROM document_edits WHERE metadata_id = $1 ORDER BY edited_at DESC, field_name",
		metadataID,
	)
	return edits, core.TranslateDBError(err, "selecting document edits")
}

// Documents

func (repo *documentRepository) CreateDocument(ctx context.Context, d document.Document) (document.Document, error) {
	const q = `
		INSERT INTO documents (` + documentColumns + `)
		VALUES (:id, :student_id, :school_year_id, :document_type, :file_path, :file_url, :file_size, :generated_by,
			:created_at, :updated_at)`
	_, err := repo.db.namedExec(ctx, q, d)
	return d, core.TranslateDBError(err, "inserting document")
}

func (repo *documentRepository) GetDocument(ctx context.Context, id string) (document.Document, error) {
	var d document.Document
	err := repo.db.get(ctx, &d, "SELECT "+documentColumns+" FROM documents WHERE id = $1", id)
	return d, core.TranslateDBError(err, "selecting document")
}

func (repo *documentRepository) QueryDocuments(ctx context.Context, filter document.Filter) ([]document.Document, error) {
	var w where
	if filter.StudentID != "" {
		w.add("student_id::text = ?", filter.StudentID)
	}
	if filter.DocumentType != "" {
		w.add("document_type = ?", filter.DocumentType)
	}
	if filter.SchoolYearID != "" {
		w.add("school_year_id::text = ?", filter.SchoolYearID)
	}

	q, args, err := build("SELECT "+documentColumns+" FROM documents"+w.String()+" ORDER BY created_at DESC", w.args...)
	if err != nil {
		return nil, err
	}
	docs := make([]document.Document, 0)
	err = repo.db.selectAll(ctx, &docs, q, args...)
	return docs, core.TranslateDBError(err, "selecting documents")
}

func (repo *documentRepository) UpdateDocument(ctx context.Context, d document.Document) (document.Document, error) {
	const q = `
		UPDATE documents SET
			file_path = :file_path, file_url = :file_url, file_size = :file_size,
			generated_by = :generated_by, updated_at = :updated_at
		WHERE id = :id`
	n, err := repo.db.namedExec(ctx, q, d)
	if err != nil {
		return document.Document{}, core.TranslateDBError(err, "updating document")
	}
	if n == 0 {
		return document.Document{}, core.ErrNotFound
	}
	return d, nil
}

func (repo *documentRepository) DeleteDocument(ctx context.Context, id string) error {
	n, err := repo.db.exec(ctx, "DELETE FROM documents WHERE id = $1", id)
	if err != nil {
		return core.TranslateDBError(err, "deleting document")
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}
