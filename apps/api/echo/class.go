package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/ampayon/gradebook/core/class"
	"github.com/ampayon/gradebook/core/grade"
)

const contextClassKey = "class"

type EnrollRequest struct {
	StudentID string `json:"student_id" validate:"required,uuid"`
}

type classApi struct {
	svc      *class.Service
	grades   *grade.Service
	validate *validator.Validate
}

func (s *Server) registerClassAPI(g *echo.Group) {
	api := classApi{svc: s.deps.ClassSvc, grades: s.deps.GradeSvc, validate: s.deps.Validate}

	cg := g.Group("/classes", s.with(staffMiddleware)...)
	cg.GET("", api.query)
	cg.POST("", api.create)

	// detail endpoints
	dg := cg.Group("/:id", api.objectMiddleware)
	dg.GET("", api.retrieve)
	dg.PUT("", api.update)
	dg.DELETE("", api.destroy)
	dg.GET("/students", api.students)
	dg.POST("/enroll", api.enroll)
	dg.POST("/unenroll", api.unenroll)
	dg.GET("/sheet", api.sheet)
	dg.POST("/finalize", api.finalize)
	dg.GET("/statuses", api.statuses)
}

// objectMiddleware loads the class when the context user may manage it.
func (api *classApi) objectMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		usr, err := getContextUser(ctx)
		if err != nil {
			return err
		}
		c, err := api.svc.GetFor(ctx.Request().Context(), ctx.Param("id"), usr)
		if err != nil {
			return errors.Wrap(err, "getting class")
		}
		ctx.Set(contextClassKey, c)
		return next(ctx)
	}
}

func (api *classApi) query(ctx echo.Context) error {
	var filter class.Filter
	if err := ctx.Bind(&filter); err != nil {
		return ctx.JSON(http.StatusOK, []class.Detail{})
	}
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}

	classes, err := api.svc.Query(ctx.Request().Context(), filter, usr)
	if err != nil {
		return errors.Wrap(err, "querying classes")
	}
	if classes == nil {
		classes = []class.Detail{}
	}
	return ctx.JSON(http.StatusOK, classes)
}

func (api *classApi) create(ctx echo.Context) error {
	var data class.NewClass
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewClass")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}

	c, err := api.svc.Create(ctx.Request().Context(), data, usr)
	if err != nil {
		return errors.Wrap(err, "creating class")
	}
	return api.detail(ctx, http.StatusCreated, c)
}

func (api *classApi) detail(ctx echo.Context, code int, c class.Class) error {
	details, err := api.svc.Details(ctx.Request().Context(), c)
	if err != nil {
		return errors.Wrap(err, "getting class details")
	}
	return ctx.JSON(code, details[0])
}

func (api *classApi) retrieve(ctx echo.Context) error {
	return api.detail(ctx, http.StatusOK, ctx.Get(contextClassKey).(class.Class))
}

func (api *classApi) update(ctx echo.Context) error {
	c := ctx.Get(contextClassKey).(class.Class)

	var data class.NewClass
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewClass")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}

	c, err = api.svc.Update(ctx.Request().Context(), c, data, usr)
	if err != nil {
		return errors.Wrap(err, "updating class")
	}
	return api.detail(ctx, http.StatusOK, c)
}

func (api *classApi) destroy(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	if err = api.svc.Delete(ctx.Request().Context(), ctx.Get(contextClassKey).(class.Class), usr.ID); err != nil {
		return errors.Wrap(err, "deleting class")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *classApi) students(ctx echo.Context) error {
	students, err := api.svc.Students(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "querying class students")
	}
	return ctx.JSON(http.StatusOK, students)
}

func (api *classApi) bindEnroll(ctx echo.Context) (EnrollRequest, error) {
	var data EnrollRequest
	if err := ctx.Bind(&data); err != nil {
		return data, errors.Wrap(err, "binding to EnrollRequest")
	}
	return data, api.validate.Struct(data)
}

func (api *classApi) enroll(ctx echo.Context) error {
	data, err := api.bindEnroll(ctx)
	if err != nil {
		return err
	}
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}

	e, err := api.svc.Enroll(ctx.Request().Context(), ctx.Get(contextClassKey).(class.Class), data.StudentID, usr.ID)
	if err != nil {
		return errors.Wrap(err, "enrolling student")
	}
	return ctx.JSON(http.StatusCreated, e)
}

func (api *classApi) unenroll(ctx echo.Context) error {
	data, err := api.bindEnroll(ctx)
	if err != nil {
		return err
	}
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}

	if err = api.svc.Unenroll(ctx.Request().Context(), ctx.Get(contextClassKey).(class.Class), data.StudentID, usr.ID); err != nil {
		return errors.Wrap(err, "unenrolling student")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Grades

func (api *classApi) sheet(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	entries, err := api.grades.ClassSheet(ctx.Request().Context(), ctx.Param("id"), usr)
	if err != nil {
		return errors.Wrap(err, "getting grade sheet")
	}
	if entries == nil {
		entries = []grade.SheetEntry{}
	}
	return ctx.JSON(http.StatusOK, entries)
}

func (api *classApi) finalize(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	res, err := api.grades.FinalizeClass(ctx.Request().Context(), ctx.Param("id"), usr)
	if err != nil {
		return errors.Wrap(err, "finalizing class")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *classApi) statuses(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	statuses, err := api.grades.ClassStatuses(ctx.Request().Context(), ctx.Param("id"), usr)
	if err != nil {
		return errors.Wrap(err, "getting finalization statuses")
	}
	if statuses == nil {
		statuses = []grade.StudentStatus{}
	}
	return ctx.JSON(http.StatusOK, statuses)
}
