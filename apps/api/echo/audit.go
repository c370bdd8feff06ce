package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/ampayon/gradebook/core/audit"
)

type auditApi struct {
	svc *audit.Service
}

func (s *Server) registerAuditAPI(g *echo.Group) {
	api := auditApi{svc: s.deps.AuditSvc}

	ag := g.Group("/audit-logs", s.with(adminMiddleware)...)
	ag.GET("", api.query)
	ag.GET("/:id", api.retrieve)
}

func (api *auditApi) query(ctx echo.Context) error {
	var filter audit.Filter
	if err := ctx.Bind(&filter); err != nil {
		return ctx.JSON(http.StatusOK, audit.Page{Data: []audit.LogEntry{}})
	}

	page, err := api.svc.Query(ctx.Request().Context(), filter, bindPage(ctx))
	if err != nil {
		return errors.Wrap(err, "querying audit logs")
	}
	return ctx.JSON(http.StatusOK, page)
}

func (api *auditApi) retrieve(ctx echo.Context) error {
	entry, err := api.svc.Get(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting audit log")
	}
	return ctx.JSON(http.StatusOK, entry)
}
