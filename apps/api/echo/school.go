package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/ampayon/gradebook/core/school"
)

type schoolApi struct {
	svc      *school.Service
	validate *validator.Validate
}

func (s *Server) registerSchoolAPI(g *echo.Group) {
	api := schoolApi{svc: s.deps.SchoolSvc, validate: s.deps.Validate}

	yg := g.Group("/school-years", s.authed...)
	yg.GET("", api.querySchoolYears)
	yg.GET("/active", api.activeSchoolYear)
	yg.GET("/:id", api.retrieveSchoolYear)
	yg.POST("", api.createSchoolYear, adminMiddleware)
	yg.PUT("/:id", api.updateSchoolYear, adminMiddleware)
	yg.DELETE("/:id", api.destroySchoolYear, adminMiddleware)
	yg.POST("/:id/activate", api.activateSchoolYear, adminMiddleware)

	pg := g.Group("/grading-periods", s.authed...)
	pg.GET("", api.queryGradingPeriods)
	pg.GET("/:id", api.retrieveGradingPeriod)
	pg.POST("", api.createGradingPeriod, adminMiddleware)
	pg.POST("/:id/activate", api.activateGradingPeriod, adminMiddleware)

	sg := g.Group("/subjects", s.authed...)
	sg.GET("", api.querySubjects)
	sg.GET("/:id", api.retrieveSubject)
	sg.POST("", api.createSubject, adminMiddleware)
	sg.PUT("/:id", api.updateSubject, adminMiddleware)
	sg.DELETE("/:id", api.destroySubject, adminMiddleware)

	stg := g.Group("/settings", s.authed...)
	stg.GET("", api.settings)
	stg.PUT("", api.updateSettings, adminMiddleware)
}

// School years

func (api *schoolApi) querySchoolYears(ctx echo.Context) error {
	years, err := api.svc.QuerySchoolYears(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "querying school years")
	}
	if years == nil {
		years = []school.SchoolYear{}
	}
	return ctx.JSON(http.StatusOK, years)
}

func (api *schoolApi) activeSchoolYear(ctx echo.Context) error {
	sy, err := api.svc.ActiveSchoolYear(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "getting active school year")
	}
	return ctx.JSON(http.StatusOK, sy)
}

func (api *schoolApi) retrieveSchoolYear(ctx echo.Context) error {
	sy, err := api.svc.GetSchoolYear(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting school year")
	}
	return ctx.JSON(http.StatusOK, sy)
}

func (api *schoolApi) createSchoolYear(ctx echo.Context) error {
	var data school.NewSchoolYear
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewSchoolYear")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}

	sy, err := api.svc.CreateSchoolYear(ctx.Request().Context(), data, usr.ID)
	if err != nil {
		return errors.Wrap(err, "creating school year")
	}
	return ctx.JSON(http.StatusCreated, sy)
}

func (api *schoolApi) updateSchoolYear(ctx echo.Context) error {
	sy, err := api.svc.GetSchoolYear(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting school year")
	}
	var data school.UpdateSchoolYear
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateSchoolYear")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}

	sy, err = api.svc.UpdateSchoolYear(ctx.Request().Context(), sy, data, usr.ID)
	if err != nil {
		return errors.Wrap(err, "updating school year")
	}
	return ctx.JSON(http.StatusOK, sy)
}

func (api *schoolApi) destroySchoolYear(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	if err = api.svc.DeleteSchoolYear(ctx.Request().Context(), ctx.Param("id"), usr.ID); err != nil {
		return errors.Wrap(err, "deleting school year")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *schoolApi) activateSchoolYear(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	sy, err := api.svc.SetActiveSchoolYear(ctx.Request().Context(), ctx.Param("id"), usr.ID)
	if err != nil {
		return errors.Wrap(err, "activating school year")
	}
	return ctx.JSON(http.StatusOK, sy)
}

// Grading periods

// queryGradingPeriods lists the periods of ?school_year_id, the active school year by default.
func (api *schoolApi) queryGradingPeriods(ctx echo.Context) error {
	syID := ctx.QueryParam("school_year_id")
	if syID == "" {
		sy, err := api.svc.ActiveSchoolYear(ctx.Request().Context())
		if err != nil {
			return errors.Wrap(err, "getting active school year")
		}
		syID = sy.ID
	}

	periods, err := api.svc.QueryGradingPeriods(ctx.Request().Context(), syID)
	if err != nil {
		return errors.Wrap(err, "querying grading periods")
	}
	if periods == nil {
		periods = []school.GradingPeriod{}
	}
	return ctx.JSON(http.StatusOK, periods)
}

func (api *schoolApi) retrieveGradingPeriod(ctx echo.Context) error {
	gp, err := api.svc.GetGradingPeriod(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting grading period")
	}
	return ctx.JSON(http.StatusOK, gp)
}

func (api *schoolApi) createGradingPeriod(ctx echo.Context) error {
	var data school.NewGradingPeriod
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewGradingPeriod")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}

	gp, err := api.svc.CreateGradingPeriod(ctx.Request().Context(), data, usr.ID)
	if err != nil {
		return errors.Wrap(err, "creating grading period")
	}
	return ctx.JSON(http.StatusCreated, gp)
}

func (api *schoolApi) activateGradingPeriod(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	gp, err := api.svc.SetActiveGradingPeriod(ctx.Request().Context(), ctx.Param("id"), usr.ID)
	if err != nil {
		return errors.Wrap(err, "activating grading period")
	}
	return ctx.JSON(http.StatusOK, gp)
}

// Subjects

func (api *schoolApi) querySubjects(ctx echo.Context) error {
	var filter school.SubjectFilter
	if err := ctx.Bind(&filter); err != nil {
		return ctx.JSON(http.StatusOK, []school.Subject{})
	}
	subjects, err := api.svc.QuerySubjects(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying subjects")
	}
	if subjects == nil {
		subjects = []school.Subject{}
	}
	return ctx.JSON(http.StatusOK, subjects)
}

func (api *schoolApi) retrieveSubject(ctx echo.Context) error {
	sub, err := api.svc.GetSubject(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting subject")
	}
	return ctx.JSON(http.StatusOK, sub)
}

func (api *schoolApi) createSubject(ctx echo.Context) error {
	var data school.NewSubject
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewSubject")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	sub, err := api.svc.CreateSubject(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating subject")
	}
	return ctx.JSON(http.StatusCreated, sub)
}

func (api *schoolApi) updateSubject(ctx echo.Context) error {
	sub, err := api.svc.GetSubject(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting subject")
	}
	var data school.NewSubject
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewSubject")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	sub, err = api.svc.UpdateSubject(ctx.Request().Context(), sub, data)
	if err != nil {
		return errors.Wrap(err, "updating subject")
	}
	return ctx.JSON(http.StatusOK, sub)
}

func (api *schoolApi) destroySubject(ctx echo.Context) error {
	if err := api.svc.DeleteSubject(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting subject")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Settings

func (api *schoolApi) settings(ctx echo.Context) error {
	settings, err := api.svc.Settings(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "getting settings")
	}
	return ctx.JSON(http.StatusOK, settings)
}

func (api *schoolApi) updateSettings(ctx echo.Context) error {
	data := make(school.UpdateSettings)
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateSettings")
	}
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}

	settings, err := api.svc.UpdateSettings(ctx.Request().Context(), data, usr.ID)
	if err != nil {
		return errors.Wrap(err, "updating settings")
	}
	return ctx.JSON(http.StatusOK, settings)
}
