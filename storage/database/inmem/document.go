package inmemdb

import (
	"context"
	"sort"

	"github.com/ampayon/gradebook/core"
	"github.com/ampayon/gradebook/core/document"
)

type documentRepository struct {
	db *DB
}

var _ document.Repository = (*documentRepository)(nil)

func NewDocumentRepository(db *DB) document.Repository {
	return &documentRepository{db: db}
}

func sameMetadata(m document.Metadata, studentID, docType, schoolYearID string) bool {
	return m.StudentID == studentID && m.DocumentType == docType && m.SchoolYearID.String == schoolYearID
}

func (repo *documentRepository) GetMetadata(_ context.Context, studentID, docType, schoolYearID string) (document.Metadata, error) {
	var (
		m  document.Metadata
		ok bool
	)
	repo.db.read(func(t *tables) {
		for _, o := range t.metadata {
			if sameMetadata(o, studentID, docType, schoolYearID) {
				m, ok = o, true
				return
			}
		}
	})
	if !ok {
		return document.Metadata{}, core.ErrNotFound
	}
	return m, nil
}

func (repo *documentRepository) CreateMetadata(ctx context.Context, m document.Metadata) (document.Metadata, error) {
	err := repo.db.write(ctx, func(t *tables) error {
		for _, o := range t.metadata {
			if sameMetadata(o, m.StudentID, m.DocumentType, m.SchoolYearID.String) {
				return errDuplicate
			}
		}
		t.metadata[m.ID] = m
		return nil
	})
	return m, err
}

func (repo *documentRepository) UpdateMetadata(ctx context.Context, m document.Metadata) (document.Metadata, error) {
	err := repo.db.write(ctx, func(t *tables) error {
		if _, ok := t.metadata[m.ID]; !ok {
			return core.ErrNotFound
		}
		t.metadata[m.ID] = m
		return nil
	})
	return m, err
}

func (repo *documentRepository) CreateEdits(ctx context.Context, edits ...document.Edit) error {
	return repo.db.write(ctx, func(t *tables) error {
		for _, e := range edits {
			if _, ok := t.metadata[e.MetadataID]; !ok {
				return core.ErrNotFound
			}
			t.edits[e.ID] = e
		}
		return nil
	})
}

func (repo *documentRepository) QueryEdits(_ context.Context, metadataID string) ([]document.Edit, error) {
	edits := make([]document.Edit, 0)
	repo.db.read(func(t *tables) {
		for _, e := range t.edits {
			if e.MetadataID == metadataID {
				edits = append(edits, e)
			}
		}
	})
	sort.SliceStable(edits, func(i, j int) bool {
		if !edits[i].EditedAt.Equal(edits[j].EditedAt) {
			return edits[i].EditedAt.After(edits[j].EditedAt)
		}
		return edits[i].FieldName < edits[j].FieldName
	})
	return edits, nil
}

func (repo *documentRepository) CreateDocument(ctx context.Context, d document.Document) (document.Document, error) {
	err := repo.db.write(ctx, func(t *tables) error {
		t.documents[d.ID] = d
		return nil
	})
	return d, err
}

func (repo *documentRepository) GetDocument(_ context.Context, id string) (document.Document, error) {
	var (
		d  document.Document
		ok bool
	)
	repo.db.read(func(t *tables) { d, ok = t.documents[id] })
	if !ok {
		return document.Document{}, core.ErrNotFound
	}
	return d, nil
}

func (repo *documentRepository) QueryDocuments(_ context.Context, filter document.Filter) ([]document.Document, error) {
	docs := make([]document.Document, 0)
	repo.db.read(func(t *tables) {
		for _, d := range t.documents {
			if filter.StudentID != "" && d.StudentID != filter.StudentID {
				continue
			}
			if filter.DocumentType != "" && d.DocumentType != filter.DocumentType {
				continue
			}
			if filter.SchoolYearID != "" && d.SchoolYearID.String != filter.SchoolYearID {
				continue
			}
			docs = append(docs, d)
		}
	})
	sort.Slice(docs, func(i, j int) bool { return docs[i].CreatedAt.After(docs[j].CreatedAt) })
	return docs, nil
}

func (repo *documentRepository) UpdateDocument(ctx context.Context, d document.Document) (document.Document, error) {
	err := repo.db.write(ctx, func(t *tables) error {
		if _, ok := t.documents[d.ID]; !ok {
			return core.ErrNotFound
		}
		t.documents[d.ID] = d
		return nil
	})
	return d, err
}

func (repo *documentRepository) DeleteDocument(ctx context.Context, id string) error {
	return repo.db.write(ctx, func(t *tables) error {
		if _, ok := t.documents[id]; !ok {
			return core.ErrNotFound
		}
		delete(t.documents, id)
		return nil
	})
}
