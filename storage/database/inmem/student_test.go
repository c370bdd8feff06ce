package inmemdb

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ampayon/gradebook/core"
	"github.com/ampayon/gradebook/core/student"
)

func TestStudentRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewStudentRepository(NewDB())

	create := func(lrn, first, last string) student.Student {
		s, err := repo.CreateStudent(ctx, student.Student{ID: uuid.NewString(), LRN: lrn, FirstName: first, LastName: last, GradeLevel: 11})
		require.NoError(t, err)
		return s
	}
	luna := create("123456789013", "Juan", "Luna")
	clara := create("123456789012", "Maria", "Clara")
	antonio := create("223456789012", "Antonio", "Luna")

	_, err := repo.CreateStudent(ctx, student.Student{ID: uuid.NewString(), LRN: clara.LRN, FirstName: "X", LastName: "Y"})
	assert.True(t, core.IsConflict(err), "LRN is unique")

	tests := []struct {
		name   string
		filter student.QueryFilter
		want   []student.Student
	}{
		{name: "all, by last then first name", want: []student.Student{clara, antonio, luna}},
		{name: "LRN prefix", filter: student.QueryFilter{Search: "1234"}, want: []student.Student{clara, luna}},
		{name: "name", filter: student.QueryFilter{Search: "LUNA"}, want: []student.Student{antonio, luna}},
		{name: "ids", filter: student.QueryFilter{IDs: []string{luna.ID}}, want: []student.Student{luna}},
		{name: "none", filter: student.QueryFilter{Search: "rizal"}, want: []student.Student{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.QueryStudents(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	got, err := repo.GetStudentByLRN(ctx, antonio.LRN)
	require.NoError(t, err)
	assert.Equal(t, antonio, got)
	_, err = repo.GetStudent(ctx, uuid.NewString())
	assert.Equal(t, core.ErrNotFound, err)
}
