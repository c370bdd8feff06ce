package document_test

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ampayon/gradebook/core"
	"github.com/ampayon/gradebook/core/document"
	"github.com/ampayon/gradebook/tests"
)

func TestService_Documents(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()

	admin := testutil.CreateAdmin(t, env)
	teacher := testutil.CreateTeacher(t, env, "Jose", "Rizal")
	sy1, _ := testutil.CreateSchoolYear(t, env, "2023-2024", false)
	sy2, _ := testutil.CreateSchoolYear(t, env, "2024-2025", true)
	sub := testutil.CreateSubject(t, env, "MATH11", "General Mathematics")
	s := testutil.CreateStudent(t, env, "123456789012", "Maria", "Clara")

	_, err := env.Documents.SF9(ctx, s.ID, sy1.ID)
	assert.Equal(t, core.ErrNotFinalized, err)
	_, err = env.Documents.SF10(ctx, s.ID)
	assert.Equal(t, core.ErrNotFinalized, err)
	_, err = env.Documents.Upload(ctx, s.ID, document.TypeSF9, sy1.ID, strings.NewReader("%PDF-1.4"), admin.ID)
	assert.Equal(t, core.ErrNotFinalized, err)

	available, err := env.Documents.AvailableDocuments(ctx, s.ID)
	require.NoError(t, err)
	assert.Empty(t, available)

	testutil.FinalizeYear(t, env, teacher, sy2, sub, s, 88)
	testutil.FinalizeYear(t, env, teacher, sy1, sub, s, 84)

	sf9, err := env.Documents.SF9(ctx, s.ID, sy1.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, sf9.Student.ID)
	assert.Len(t, sf9.Subjects, 2)
	assert.True(t, sf9.Standing.Finalized)
	assert.Empty(t, sf9.Metadata)

	sf10, err := env.Documents.SF10(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, sf10.Years, 2)
	assert.Equal(t, sy1.ID, sf10.Years[0].SchoolYear.ID, "oldest year first")
	assert.Equal(t, 84.0, sf10.Years[0].Standing.GeneralAverage.Float64)

	available, err = env.Documents.AvailableDocuments(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, []document.Available{
		{DocumentType: document.TypeSF9, SchoolYearID: sy1.ID, YearCode: "2023-2024"},
		{DocumentType: document.TypeSF9, SchoolYearID: sy2.ID, YearCode: "2024-2025"},
		{DocumentType: document.TypeSF10},
	}, available)

	t.Run("upload", func(t *testing.T) {
		_, err := env.Documents.Upload(ctx, s.ID, "SF1", sy1.ID, strings.NewReader("x"), admin.ID)
		assert.Equal(t, document.ErrInvalidType, err)
		_, err = env.Documents.Upload(ctx, s.ID, document.TypeSF9, "", strings.NewReader("x"), admin.ID)
		assert.Error(t, err)

		doc, err := env.Documents.Upload(ctx, s.ID, document.TypeSF9, sy1.ID, strings.NewReader("%PDF-1.4 v1"), admin.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(11), doc.FileSize)
		assert.True(t, strings.HasPrefix(doc.FileURL, "http://files.test/documents/"+s.ID+"/"+sy1.ID+"/SF9_"))

		again, err := env.Documents.Upload(ctx, s.ID, document.TypeSF9, sy1.ID, strings.NewReader("%PDF-1.4 v2!"), admin.ID)
		require.NoError(t, err)
		assert.Equal(t, doc.ID, again.ID, "uploads replace the previous document")
		assert.NotEqual(t, doc.FilePath, again.FilePath)
		_, err = env.Blob.Open(ctx, core.BucketDocuments, doc.FilePath)
		assert.Equal(t, core.ErrNotFound, err, "the replaced file is removed")

		docs, err := env.Documents.Query(ctx, document.Filter{StudentID: s.ID})
		require.NoError(t, err)
		require.Len(t, docs, 1)

		rc, err := env.Blob.Open(ctx, core.BucketDocuments, again.FilePath)
		require.NoError(t, err)
		content, err := io.ReadAll(rc)
		_ = rc.Close()
		require.NoError(t, err)
		assert.Equal(t, "%PDF-1.4 v2!", string(content))

		require.NoError(t, env.Documents.Delete(ctx, again.ID, admin.ID))
		_, err = env.Blob.Open(ctx, core.BucketDocuments, again.FilePath)
		assert.Equal(t, core.ErrNotFound, err)
	})
}

func TestService_UpdateMetadata(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()

	admin := testutil.CreateAdmin(t, env)
	sy, _ := testutil.CreateSchoolYear(t, env, "2024-2025", true)
	s := testutil.CreateStudent(t, env, "123456789012", "Maria", "Clara")

	hist, err := env.Documents.MetadataHistory(ctx, s.ID, document.TypeSF9, sy.ID)
	require.NoError(t, err)
	assert.Empty(t, hist.Edits)
	assert.Empty(t, hist.Metadata.ID)

	_, err = env.Documents.MetadataHistory(ctx, s.ID, "SF1", sy.ID)
	assert.Equal(t, document.ErrInvalidType, err)

	m, err := env.Documents.UpdateMetadata(ctx, s.ID, document.UpdateMetadata{
		DocumentType: document.TypeSF9,
		SchoolYearID: sy.ID,
		Values:       map[string]string{"adviser": "Jose Rizal", "days_present": "180"},
	}, admin.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"adviser": "Jose Rizal", "days_present": "180"}, m.Values())

	m2, err := env.Documents.UpdateMetadata(ctx, s.ID, document.UpdateMetadata{
		DocumentType: document.TypeSF9,
		SchoolYearID: sy.ID,
		Values:       map[string]string{"adviser": "Jose Rizal", "days_present": " 178 "},
	}, admin.ID)
	require.NoError(t, err)
	assert.Equal(t, m.ID, m2.ID)

	hist, err = env.Documents.MetadataHistory(ctx, s.ID, document.TypeSF9, sy.ID)
	require.NoError(t, err)
	assert.Equal(t, "178", hist.Metadata.Values()["days_present"])
	require.Len(t, hist.Edits, 3, "unchanged fields are not logged")
	assert.Equal(t, "days_present", hist.Edits[0].FieldName)
	assert.Equal(t, "180", hist.Edits[0].OldValue.String)
	assert.Equal(t, "178", hist.Edits[0].NewValue.String)
	assert.False(t, hist.Edits[1].OldValue.Valid, "first edits have no old value")

	// SF10 metadata is not tied to a school year
	_, err = env.Documents.UpdateMetadata(ctx, s.ID, document.UpdateMetadata{
		DocumentType: document.TypeSF10,
		SchoolYearID: sy.ID,
		Values:       map[string]string{"remarks": "Transferred in"},
	}, admin.ID)
	require.NoError(t, err)
	hist, err = env.Documents.MetadataHistory(ctx, s.ID, document.TypeSF10, "")
	require.NoError(t, err)
	assert.Equal(t, "Transferred in", hist.Metadata.Values()["remarks"])
	assert.False(t, hist.Metadata.SchoolYearID.Valid)
}
