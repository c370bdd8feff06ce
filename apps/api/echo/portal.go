package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/ampayon/gradebook/core"
	"github.com/ampayon/gradebook/core/certificate"
	"github.com/ampayon/gradebook/core/document"
	"github.com/ampayon/gradebook/core/grade"
	"github.com/ampayon/gradebook/core/school"
	"github.com/ampayon/gradebook/core/student"
)

const contextStudentKey = "student"

type (
	// PortalYear is a school year the student has grades in, with its standing.
	PortalYear struct {
		SchoolYear school.SchoolYear  `json:"school_year"`
		Standing   grade.YearStanding `json:"standing"`
	}

	PortalDocuments struct {
		Available []document.Available `json:"available"`
		Stored    []document.Document  `json:"stored"`
	}
)

// portalApi is the student portal: read-only views of the logged-in student's own records.
type portalApi struct {
	students     *student.Service
	school       *school.Service
	grades       *grade.Service
	documents    *document.Service
	certificates *certificate.Service
}

func (s *Server) registerPortalAPI(g *echo.Group) {
	api := portalApi{
		students:     s.deps.StudentSvc,
		school:       s.deps.SchoolSvc,
		grades:       s.deps.GradeSvc,
		documents:    s.deps.DocumentSvc,
		certificates: s.deps.CertificateSvc,
	}

	pg := g.Group("/me", s.with(studentMiddleware, api.studentMiddleware)...)
	pg.GET("", api.record)
	pg.GET("/years", api.years)
	pg.GET("/grades", api.myGrades)
	pg.GET("/documents", api.myDocuments)
	pg.GET("/certificates", api.myCertificates)
}

// studentMiddleware loads the student record linked to the context user.
func (api *portalApi) studentMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		usr, err := getContextUser(ctx)
		if err != nil {
			return err
		}
		s, err := api.students.GetByUser(ctx.Request().Context(), usr.ID)
		if err != nil {
			if errors.Cause(err) == core.ErrNotFound {
				return echo.NewHTTPError(http.StatusNotFound, "no student record is linked to this account")
			}
			return errors.Wrap(err, "getting student by user")
		}
		ctx.Set(contextStudentKey, s)
		return next(ctx)
	}
}

func ctxStudent(ctx echo.Context) student.Student {
	return ctx.Get(contextStudentKey).(student.Student)
}

func (api *portalApi) record(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, ctxStudent(ctx))
}

// years lists the school years with a finalization record, newest first, with their general average.
func (api *portalApi) years(ctx echo.Context) error {
	s := ctxStudent(ctx)
	years, err := api.school.QuerySchoolYears(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "querying school years")
	}

	res := make([]PortalYear, 0, len(years))
	for _, sy := range years {
		standing, err := api.grades.YearStanding(ctx.Request().Context(), s.ID, sy.ID)
		if err != nil {
			return errors.Wrap(err, "getting year standing")
		}
		if len(standing.Semesters) > 0 {
			res = append(res, PortalYear{SchoolYear: sy, Standing: standing})
		}
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *portalApi) myGrades(ctx echo.Context) error {
	syID, err := schoolYearID(ctx, api.school)
	if err != nil {
		return err
	}
	report, err := api.grades.YearReport(ctx.Request().Context(), ctxStudent(ctx).ID, syID)
	if err != nil {
		return errors.Wrap(err, "getting year report")
	}
	return ctx.JSON(http.StatusOK, report)
}

func (api *portalApi) myDocuments(ctx echo.Context) error {
	s := ctxStudent(ctx)
	available, err := api.documents.AvailableDocuments(ctx.Request().Context(), s.ID)
	if err != nil {
		return errors.Wrap(err, "listing available documents")
	}
	stored, err := api.documents.Query(ctx.Request().Context(), document.Filter{StudentID: s.ID})
	if err != nil {
		return errors.Wrap(err, "querying documents")
	}

	res := PortalDocuments{Available: available, Stored: stored}
	if res.Available == nil {
		res.Available = []document.Available{}
	}
	if res.Stored == nil {
		res.Stored = []document.Document{}
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *portalApi) myCertificates(ctx echo.Context) error {
	certs, err := api.certificates.List(ctx.Request().Context(), certificate.Filter{StudentID: ctxStudent(ctx).ID})
	if err != nil {
		return errors.Wrap(err, "listing certificates")
	}
	return ctx.JSON(http.StatusOK, certs)
}
