package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/ampayon/gradebook/core"
	"github.com/ampayon/gradebook/core/grade"
	"github.com/ampayon/gradebook/core/school"
)

// SaveGradeRequest holds the component scores of a student in a class.
type SaveGradeRequest struct {
	ClassID string `json:"class_id"`
	grade.SaveGrade
}

type gradeApi struct {
	svc      *grade.Service
	school   *school.Service
	validate *validator.Validate
}

func (s *Server) registerGradeAPI(g *echo.Group) {
	api := gradeApi{svc: s.deps.GradeSvc, school: s.deps.SchoolSvc, validate: s.deps.Validate}

	gg := g.Group("/grades", s.with(staffMiddleware)...)
	gg.POST("", api.save)
	gg.GET("/status", api.status)
	gg.GET("/students/:id", api.studentReport)
	gg.GET("/unlock-requests", api.queryUnlockRequests)
	gg.POST("/unlock-requests", api.requestUnlock)
	gg.POST("/unlock-requests/:id/review", api.reviewUnlock, adminMiddleware)
}

func (api *gradeApi) save(ctx echo.Context) error {
	var data SaveGradeRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SaveGradeRequest")
	}
	if err := core.RequireIDs([]string{"class_id"}, data.ClassID); err != nil {
		return err
	}
	if err := data.SaveGrade.Validate(api.validate); err != nil {
		return err
	}
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}

	g, err := api.svc.SaveGrade(ctx.Request().Context(), data.ClassID, data.SaveGrade, usr)
	if err != nil {
		return errors.Wrap(err, "saving grade")
	}
	return ctx.JSON(http.StatusOK, g)
}

// schoolYearID returns ?school_year_id, the active school year by default.
func schoolYearID(ctx echo.Context, svc *school.Service) (string, error) {
	if id := ctx.QueryParam("school_year_id"); id != "" {
		return id, nil
	}
	sy, err := svc.ActiveSchoolYear(ctx.Request().Context())
	if err != nil {
		return "", errors.Wrap(err, "getting active school year")
	}
	return sy.ID, nil
}

func (api *gradeApi) status(ctx echo.Context) error {
	studentID := ctx.QueryParam("student_id")
	if err := core.RequireIDs([]string{"student_id"}, studentID); err != nil {
		return err
	}
	syID, err := schoolYearID(ctx, api.school)
	if err != nil {
		return err
	}
	sem, err := bindSemester(ctx)
	if err != nil {
		return err
	}
	if sem == 0 {
		return core.NewFieldError(semesterParam, "this field is required")
	}

	status, err := api.svc.Status(ctx.Request().Context(), studentID, syID, sem)
	if err != nil {
		return errors.Wrap(err, "getting finalization status")
	}
	return ctx.JSON(http.StatusOK, status)
}

func (api *gradeApi) studentReport(ctx echo.Context) error {
	syID, err := schoolYearID(ctx, api.school)
	if err != nil {
		return err
	}
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	report, err := api.svc.ReportFor(ctx.Request().Context(), ctx.Param("id"), syID, usr)
	if err != nil {
		return errors.Wrap(err, "getting year report")
	}
	return ctx.JSON(http.StatusOK, report)
}

func (api *gradeApi) queryUnlockRequests(ctx echo.Context) error {
	var filter grade.UnlockFilter
	if err := ctx.Bind(&filter); err != nil {
		return ctx.JSON(http.StatusOK, []grade.UnlockRequestView{})
	}
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}

	reqs, err := api.svc.UnlockRequests(ctx.Request().Context(), filter, usr)
	if err != nil {
		return errors.Wrap(err, "querying unlock requests")
	}
	return ctx.JSON(http.StatusOK, reqs)
}

func (api *gradeApi) requestUnlock(ctx echo.Context) error {
	var data grade.NewUnlockRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewUnlockRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}

	ur, err := api.svc.RequestUnlock(ctx.Request().Context(), data, usr)
	if err != nil {
		return errors.Wrap(err, "requesting unlock")
	}
	return ctx.JSON(http.StatusCreated, ur)
}

func (api *gradeApi) reviewUnlock(ctx echo.Context) error {
	var data grade.ReviewUnlock
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ReviewUnlock")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}

	ur, err := api.svc.ReviewUnlock(ctx.Request().Context(), ctx.Param("id"), data, usr.ID)
	if err != nil {
		return errors.Wrap(err, "reviewing unlock request")
	}
	return ctx.JSON(http.StatusOK, ur)
}
