package core

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPage_Clean(t *testing.T) {
	tests := []struct {
		name       string
		page       Page
		want       Page
		wantOffset int
	}{
		{name: "defaults", page: Page{}, want: Page{Number: 1, Size: DefaultPageSize}, wantOffset: 0},
		{name: "second page", page: Page{Number: 2, Size: 20}, want: Page{Number: 2, Size: 20}, wantOffset: 20},
		{name: "size capped", page: Page{Number: 1, Size: 1000}, want: Page{Number: 1, Size: MaxPageSize}, wantOffset: 0},
		{
			name:       "number capped",
			page:       Page{Number: math.MaxInt, Size: MaxPageSize},
			want:       Page{Number: math.MaxInt32/MaxPageSize + 1, Size: MaxPageSize},
			wantOffset: math.MaxInt32 / MaxPageSize * MaxPageSize,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.page.Clean()
			assert.Equal(t, tt.want, tt.page)
			assert.Equal(t, tt.wantOffset, tt.page.Offset())
			assert.GreaterOrEqual(t, tt.page.Offset(), 0)
		})
	}
}
