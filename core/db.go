package core

import (
	"context"
	"math"
	"strings"
)

// Transactor runs functions inside a single database transaction.
// Repositories pick the transaction up from the context passed to fn.
// Nested calls join the outer transaction.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type DBOrdering struct {
	Field     string
	Ascending bool
}

func (ord DBOrdering) String() string {
	direction := "DESC"
	if ord.Ascending {
		direction = "ASC"
	}
	return ord.Field + " " + direction
}

// OrderBy renders orderings whose fields are in allowed, falling back to def.
func OrderBy(orderings []DBOrdering, allowed map[string]string, def string) string {
	parts := make([]string, 0, len(orderings))
	for _, ord := range orderings {
		col, ok := allowed[ord.Field]
		if !ok {
			continue
		}
		parts = append(parts, DBOrdering{Field: col, Ascending: ord.Ascending}.String())
	}
	if len(parts) == 0 {
		return def
	}
	return strings.Join(parts, ", ")
}

// Page holds pagination parameters.
type Page struct {
	Number int `query:"page"`
	Size   int `query:"page_size"`
}

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

func (p *Page) Clean() {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	// keeps Offset within an int32
	if maxNumber := math.MaxInt32/p.Size + 1; p.Number > maxNumber {
		p.Number = maxNumber
	}
}

func (p Page) Offset() int { return (p.Number - 1) * p.Size }
