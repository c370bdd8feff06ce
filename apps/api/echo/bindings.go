package echoapi

import (
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ampayon/gradebook/core"
)

const (
	orderingParam = "ordering"
	semesterParam = "semester"
)

type Ordering struct {
	Orderings []core.DBOrdering
}

func (ord *Ordering) Bind(ctx echo.Context) {
	val := ctx.QueryParam(orderingParam)
	if val == "" {
		return
	}

	for _, field := range strings.Split(val, ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		if field != "" {
			ord.Orderings = append(ord.Orderings, core.DBOrdering{Field: field, Ascending: !descending})
		}
	}
}

// bindPage reads the page and page_size query params. Invalid values fall back to the defaults.
func bindPage(ctx echo.Context) core.Page {
	var page core.Page
	page.Number, _ = strconv.Atoi(ctx.QueryParam("page"))
	page.Size, _ = strconv.Atoi(ctx.QueryParam("page_size"))
	page.Clean()
	return page
}

// bindSemester reads an optional semester (1 or 2) query param. 0 means both.
func bindSemester(ctx echo.Context) (int, error) {
	raw := ctx.QueryParam(semesterParam)
	if raw == "" {
		return 0, nil
	}
	sem, err := strconv.Atoi(raw)
	if err != nil || (sem != 1 && sem != 2) {
		return 0, core.NewFieldError(semesterParam, "semester must be 1 or 2")
	}
	return sem, nil
}

type (
	SuccessResponse struct {
		Success string `json:"success"`
	}

	DestroyMultipleRequest struct {
		IDs []string `query:"id"`
	}
)
