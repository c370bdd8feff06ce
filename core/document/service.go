// Package document assembles the SF9 (report card) and SF10 (permanent record) data, keeps their
// editable metadata with an edit log, and stores the PDFs rendered by the client.
package document

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
	"golang.org/x/sync/errgroup"

	"github.com/ampayon/gradebook/core"
	"github.com/ampayon/gradebook/core/audit"
	"github.com/ampayon/gradebook/core/grade"
	"github.com/ampayon/gradebook/core/school"
	"github.com/ampayon/gradebook/core/student"
)

var ErrInvalidType = core.NewFieldError("document_type", "document type must be one of SF9 or SF10")

type (
	Repository interface {
		// GetMetadata selects by student, type and year. An empty schoolYearID matches a NULL year.
		GetMetadata(ctx context.Context, studentID, docType, schoolYearID string) (Metadata, error)
		CreateMetadata(ctx context.Context, m Metadata) (Metadata, error)
		UpdateMetadata(ctx context.Context, m Metadata) (Metadata, error)
		CreateEdits(ctx context.Context, edits ...Edit) error
		QueryEdits(ctx context.Context, metadataID string) ([]Edit, error)

		CreateDocument(ctx context.Context, d Document) (Document, error)
		GetDocument(ctx context.Context, id string) (Document, error)
		QueryDocuments(ctx context.Context, filter Filter) ([]Document, error)
		UpdateDocument(ctx context.Context, d Document) (Document, error)
		DeleteDocument(ctx context.Context, id string) error
	}

	GradeReader interface {
		YearStanding(ctx context.Context, studentID, schoolYearID string) (grade.YearStanding, error)
		FinalGrades(ctx context.Context, studentID, schoolYearID string) ([]grade.FinalGradeView, error)
	}

	StudentReader interface {
		GetByID(ctx context.Context, id string) (student.Student, error)
	}

	SchoolReader interface {
		Settings(ctx context.Context) (school.Settings, error)
		GetSchoolYear(ctx context.Context, id string) (school.SchoolYear, error)
		QuerySchoolYears(ctx context.Context) ([]school.SchoolYear, error)
	}

	Service struct {
		repo     Repository
		tx       core.Transactor
		blob     core.BlobStore
		grades   GradeReader
		students StudentReader
		school   SchoolReader
		audit    audit.Recorder
	}
)

func NewService(
	repo Repository,
	tx core.Transactor,
	blob core.BlobStore,
	grades GradeReader,
	students StudentReader,
	schoolSvc SchoolReader,
	auditor audit.Recorder,
) *Service {
	return &Service{repo: repo, tx: tx, blob: blob, grades: grades, students: students, school: schoolSvc, audit: auditor}
}

// SF9 assembles a report card. The school year must be finalized.
func (svc *Service) SF9(ctx context.Context, studentID, schoolYearID string) (SF9, error) {
	s, err := svc.students.GetByID(ctx, studentID)
	if err != nil {
		return SF9{}, err
	}
	sy, err := svc.school.GetSchoolYear(ctx, schoolYearID)
	if err != nil {
		return SF9{}, err
	}
	standing, err := svc.grades.YearStanding(ctx, s.ID, sy.ID)
	if err != nil {
		return SF9{}, err
	}
	if !standing.Finalized {
		return SF9{}, core.ErrNotFinalized
	}
	finals, err := svc.grades.FinalGrades(ctx, s.ID, sy.ID)
	if err != nil {
		return SF9{}, err
	}
	settings, err := svc.school.Settings(ctx)
	if err != nil {
		return SF9{}, err
	}
	meta, err := svc.metadataValues(ctx, s.ID, TypeSF9, sy.ID)
	if err != nil {
		return SF9{}, err
	}
	return SF9{
		Header:     headerOf(settings),
		Student:    s,
		SchoolYear: sy,
		Subjects:   finals,
		Standing:   standing,
		Metadata:   meta,
	}, nil
}

// finalizedYears returns the finalized school years of a student, oldest first, with their standing.
func (svc *Service) finalizedYears(ctx context.Context, studentID string) ([]school.SchoolYear, map[string]grade.YearStanding, error) {
	years, err := svc.school.QuerySchoolYears(ctx)
	if err != nil {
		return nil, nil, errors.Wrap(err, "querying school years")
	}

	standings := make([]grade.YearStanding, len(years))
	g, gctx := errgroup.WithContext(ctx)
	for i, sy := range years {
		i, sy := i, sy
		g.Go(func() error {
			st, err := svc.grades.YearStanding(gctx, studentID, sy.ID)
			standings[i] = st
			return err
		})
	}
	if err = g.Wait(); err != nil {
		return nil, nil, err
	}

	var finalized []school.SchoolYear
	byYear := make(map[string]grade.YearStanding)
	for i, sy := range years {
		if standings[i].Finalized {
			finalized = append(finalized, sy)
			byYear[sy.ID] = standings[i]
		}
	}
	sort.Slice(finalized, func(i, j int) bool { return finalized[i].StartDate.Before(finalized[j].StartDate) })
	return finalized, byYear, nil
}

// SF10 assembles the permanent record over every finalized school year.
func (svc *Service) SF10(ctx context.Context, studentID string) (SF10, error) {
	s, err := svc.students.GetByID(ctx, studentID)
	if err != nil {
		return SF10{}, err
	}
	years, standings, err := svc.finalizedYears(ctx, s.ID)
	if err != nil {
		return SF10{}, err
	}
	if len(years) == 0 {
		return SF10{}, core.ErrNotFinalized
	}

	record := make([]SF10Year, len(years))
	g, gctx := errgroup.WithContext(ctx)
	for i, sy := range years {
		i, sy := i, sy
		g.Go(func() error {
			finals, err := svc.grades.FinalGrades(gctx, s.ID, sy.ID)
			if err != nil {
				return err
			}
			record[i] = SF10Year{SchoolYear: sy, Subjects: finals, Standing: standings[sy.ID]}
			return nil
		})
	}
	if err = g.Wait(); err != nil {
		return SF10{}, err
	}

	settings, err := svc.school.Settings(ctx)
	if err != nil {
		return SF10{}, err
	}
	meta, err := svc.metadataValues(ctx, s.ID, TypeSF10, "")
	if err != nil {
		return SF10{}, err
	}
	return SF10{Header: headerOf(settings), Student: s, Years: record, Metadata: meta}, nil
}

// AvailableDocuments lists an SF9 per finalized year, plus the SF10 once any year is finalized.
func (svc *Service) AvailableDocuments(ctx context.Context, studentID string) ([]Available, error) {
	years, _, err := svc.finalizedYears(ctx, studentID)
	if err != nil {
		return nil, err
	}
	docs := make([]Available, 0, len(years)+1)
	for _, sy := range years {
		docs = append(docs, Available{DocumentType: TypeSF9, SchoolYearID: sy.ID, YearCode: sy.YearCode})
	}
	if len(years) > 0 {
		docs = append(docs, Available{DocumentType: TypeSF10})
	}
	return docs, nil
}

func (svc *Service) metadataValues(ctx context.Context, studentID, docType, schoolYearID string) (map[string]string, error) {
	m, err := svc.repo.GetMetadata(ctx, studentID, docType, schoolYearID)
	if err != nil {
		if errors.Cause(err) == core.ErrNotFound {
			return map[string]string{}, nil
		}
		return nil, errors.Wrap(err, "getting document metadata")
	}
	return m.Values(), nil
}

// MetadataHistory returns the metadata of a document and its edit log.
func (svc *Service) MetadataHistory(ctx context.Context, studentID, docType, schoolYearID string) (MetadataHistory, error) {
	if !IsValidType(docType) {
		return MetadataHistory{}, ErrInvalidType
	}
	m, err := svc.repo.GetMetadata(ctx, studentID, docType, schoolYearID)
	if err != nil {
		if errors.Cause(err) == core.ErrNotFound {
			return MetadataHistory{
				Metadata: Metadata{StudentID: studentID, DocumentType: docType, SchoolYearID: null.NewString(schoolYearID, schoolYearID != "")},
				Edits:    []Edit{},
			}, nil
		}
		return MetadataHistory{}, err
	}
	edits, err := svc.repo.QueryEdits(ctx, m.ID)
	if err != nil {
		return MetadataHistory{}, errors.Wrap(err, "querying metadata edits")
	}
	return MetadataHistory{Metadata: m, Edits: edits}, nil
}

// UpdateMetadata merges um into the stored metadata, logging one edit per changed field.
func (svc *Service) UpdateMetadata(ctx context.Context, studentID string, um UpdateMetadata, actorID string) (Metadata, error) {
	if _, err := svc.students.GetByID(ctx, studentID); err != nil {
		return Metadata{}, err
	}
	if um.DocumentType == TypeSF10 {
		um.SchoolYearID = ""
	}

	var m Metadata
	err := svc.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		now := time.Now().UTC()
		m, err = svc.repo.GetMetadata(ctx, studentID, um.DocumentType, um.SchoolYearID)
		isNew := errors.Cause(err) == core.ErrNotFound
		if err != nil && !isNew {
			return errors.Wrap(err, "getting document metadata")
		}
		if isNew {
			m = Metadata{
				ID:           uuid.New().String(),
				StudentID:    studentID,
				DocumentType: um.DocumentType,
				SchoolYearID: null.NewString(um.SchoolYearID, um.SchoolYearID != ""),
				CreatedAt:    now,
			}
		}

		values := m.Values()
		old := make(map[string]string, len(values))
		for k, v := range values {
			old[k] = v
		}

		keys := make([]string, 0, len(um.Values))
		for k := range um.Values {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var edits []Edit
		for _, k := range keys {
			newVal := core.CleanString(um.Values[k])
			oldVal, existed := values[k]
			if existed && oldVal == newVal {
				continue
			}
			edits = append(edits, Edit{
				ID:         uuid.New().String(),
				MetadataID: m.ID,
				FieldName:  k,
				OldValue:   null.NewString(oldVal, existed),
				NewValue:   null.StringFrom(newVal),
				EditedBy:   null.NewString(actorID, actorID != ""),
				EditedAt:   now,
			})
			values[k] = newVal
		}
		if len(edits) == 0 && !isNew {
			return nil
		}

		m.setValues(values)
		m.UpdatedBy = null.NewString(actorID, actorID != "")
		m.UpdatedAt = now
		if isNew {
			m, err = svc.repo.CreateMetadata(ctx, m)
		} else {
			m, err = svc.repo.UpdateMetadata(ctx, m)
		}
		if err != nil {
			return errors.Wrap(err, "saving document metadata")
		}
		if err = svc.repo.CreateEdits(ctx, edits...); err != nil {
			return errors.Wrap(err, "saving metadata edits")
		}
		return svc.audit.Record(ctx, audit.NewEntry(actorID, audit.ActionMetadataUpdated, "document_metadata", m.ID).
			WithOld(old).WithNew(values))
	})
	return m, err
}

// Upload stores a client rendered PDF. A document of the same student, type and year is replaced.
func (svc *Service) Upload(ctx context.Context, studentID, docType, schoolYearID string, r io.Reader, actorID string) (Document, error) {
	if !IsValidType(docType) {
		return Document{}, ErrInvalidType
	}
	if docType == TypeSF10 {
		schoolYearID = ""
	} else if schoolYearID == "" {
		return Document{}, core.NewFieldError("school_year_id", "this field is required")
	}
	if err := svc.checkFinalized(ctx, studentID, docType, schoolYearID); err != nil {
		return Document{}, err
	}

	now := time.Now().UTC()
	dir := studentID
	if schoolYearID != "" {
		dir += "/" + schoolYearID
	}
	// the suffix keeps a re-upload within the same second off the current file
	path := fmt.Sprintf("%s/%s_%d_%s.pdf", dir, docType, now.Unix(), uuid.New().String()[:8])
	obj, err := svc.blob.Put(ctx, core.BucketDocuments, path, r, "application/pdf")
	if err != nil {
		return Document{}, errors.Wrap(err, "storing document")
	}

	var (
		doc     Document
		oldPath string
	)
	err = svc.tx.WithinTx(ctx, func(ctx context.Context) error {
		existing, err := svc.repo.QueryDocuments(ctx, Filter{StudentID: studentID, DocumentType: docType, SchoolYearID: schoolYearID})
		if err != nil {
			return errors.Wrap(err, "querying documents")
		}
		if len(existing) > 0 {
			doc = existing[0]
			oldPath = doc.FilePath
		} else {
			doc = Document{
				ID:           uuid.New().String(),
				StudentID:    studentID,
				SchoolYearID: null.NewString(schoolYearID, schoolYearID != ""),
				DocumentType: docType,
				CreatedAt:    now,
			}
		}
		doc.FilePath = obj.Path
		doc.FileURL = obj.URL
		doc.FileSize = obj.Size
		doc.GeneratedBy = null.NewString(actorID, actorID != "")
		doc.UpdatedAt = now

		if oldPath != "" {
			doc, err = svc.repo.UpdateDocument(ctx, doc)
		} else {
			doc, err = svc.repo.CreateDocument(ctx, doc)
		}
		if err != nil {
			return errors.Wrap(err, "saving document")
		}
		return svc.audit.Record(ctx, audit.NewEntry(actorID, audit.ActionDocumentUploaded, "documents", doc.ID).WithNew(doc))
	})
	if err != nil {
		_ = svc.blob.Remove(ctx, core.BucketDocuments, obj.Path)
		return Document{}, err
	}
	if oldPath != "" && oldPath != obj.Path {
		_ = svc.blob.Remove(ctx, core.BucketDocuments, oldPath)
	}
	return doc, nil
}

func (svc *Service) checkFinalized(ctx context.Context, studentID, docType, schoolYearID string) error {
	if docType == TypeSF9 {
		standing, err := svc.grades.YearStanding(ctx, studentID, schoolYearID)
		if err != nil {
			return err
		}
		if !standing.Finalized {
			return core.ErrNotFinalized
		}
		return nil
	}
	years, _, err := svc.finalizedYears(ctx, studentID)
	if err != nil {
		return err
	}
	if len(years) == 0 {
		return core.ErrNotFinalized
	}
	return nil
}

func (svc *Service) Query(ctx context.Context, filter Filter) ([]Document, error) {
	return svc.repo.QueryDocuments(ctx, filter)
}

func (svc *Service) Get(ctx context.Context, id string) (Document, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Document{}, core.ErrNotFound
	}
	return svc.repo.GetDocument(ctx, id)
}

// Delete removes a document and its file.
func (svc *Service) Delete(ctx context.Context, id, actorID string) error {
	doc, err := svc.Get(ctx, id)
	if err != nil {
		return err
	}
	err = svc.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := svc.repo.DeleteDocument(ctx, doc.ID); err != nil {
			return err
		}
		return svc.audit.Record(ctx, audit.NewEntry(actorID, audit.ActionDocumentDeleted, "documents", doc.ID).WithOld(doc))
	})
	if err != nil {
		return err
	}
	return errors.Wrap(svc.blob.Remove(ctx, core.BucketDocuments, doc.FilePath), "removing document file")
}
