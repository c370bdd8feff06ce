package audit_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ampayon/gradebook/core"
	"github.com/ampayon/gradebook/core/audit"
	"github.com/ampayon/gradebook/tests"
)

func TestService_Query(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	admin := testutil.CreateAdmin(t, env)

	start := time.Now().UTC()
	for i := 0; i < 5; i++ {
		e := audit.NewEntry(admin.ID, audit.ActionStudentCreated, "students", "").
			WithNew(map[string]int{"n": i})
		e.CreatedAt = start.Add(time.Duration(i) * time.Second)
		require.NoError(t, env.Audit.Record(ctx, e))
	}
	require.NoError(t, env.Audit.Record(ctx, audit.NewEntry("", audit.ActionSettingsUpdated, "system_settings", "")))

	page, err := env.Audit.Query(ctx, audit.Filter{Action: audit.ActionStudentCreated}, core.Page{Number: 2, Size: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	require.Len(t, page.Data, 2)
	assert.JSONEq(t, `{"n":2}`, string(page.Data[0].NewValues.JSON), "newest first")
	assert.Equal(t, admin.Email, page.Data[0].UserEmail.String)

	page, err = env.Audit.Query(ctx, audit.Filter{UserID: admin.ID, Action: "lol"}, core.Page{})
	require.NoError(t, err)
	assert.Equal(t, 0, page.Total)
	assert.NotNil(t, page.Data)

	tests := []struct {
		name     string
		page     core.Page
		wantData int
	}{
		{name: "defaults", page: core.Page{}, wantData: 6},
		{name: "negative", page: core.Page{Number: -3, Size: -1}, wantData: 6},
		{name: "past the end", page: core.Page{Number: 4, Size: 2}, wantData: 0},
		{name: "huge page number", page: core.Page{Number: math.MaxInt / 100, Size: 200}, wantData: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := env.Audit.Query(ctx, audit.Filter{}, tt.page)
			require.NoError(t, err)
			assert.Equal(t, 6, page.Total)
			assert.Len(t, page.Data, tt.wantData)
		})
	}

	_, err = env.Audit.Get(ctx, "00000000-0000-0000-0000-000000000000")
	assert.True(t, errors.Is(err, core.ErrNotFound))
}

// Entries recorded inside a failed transaction are rolled back with it.
func TestRecord_WithinTx(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := env.DB.WithinTx(ctx, func(ctx context.Context) error {
		if err := env.Audit.Record(ctx, audit.NewEntry("", audit.ActionSettingsUpdated, "system_settings", "")); err != nil {
			return err
		}
		return boom
	})
	assert.Equal(t, boom, err)

	page, err := env.Audit.Query(ctx, audit.Filter{}, core.Page{})
	require.NoError(t, err)
	assert.Equal(t, 0, page.Total)
}
