package echoapi

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/ampayon/gradebook/core"
	"github.com/ampayon/gradebook/core/document"
	"github.com/ampayon/gradebook/core/school"
)

const uploadField = "file"

var (
	pdfMagic  = []byte("%PDF-")
	errNotPDF = core.NewFieldError(uploadField, "file must be a PDF document")
)

type documentApi struct {
	svc      *document.Service
	school   *school.Service
	validate *validator.Validate
}

func (s *Server) registerDocumentAPI(g *echo.Group) {
	api := documentApi{svc: s.deps.DocumentSvc, school: s.deps.SchoolSvc, validate: s.deps.Validate}

	dg := g.Group("/documents", s.with(staffMiddleware)...)
	dg.GET("", api.query)
	dg.GET("/:id", api.retrieve)
	dg.DELETE("/:id", api.destroy, adminMiddleware)

	sg := dg.Group("/students/:studentId")
	sg.GET("/sf9", api.sf9)
	sg.GET("/sf10", api.sf10)
	sg.GET("/available", api.available)
	sg.GET("/metadata", api.metadataHistory)
	sg.PUT("/metadata", api.updateMetadata)
	sg.POST("/upload", api.upload)
}

func (api *documentApi) sf9(ctx echo.Context) error {
	syID, err := schoolYearID(ctx, api.school)
	if err != nil {
		return err
	}
	data, err := api.svc.SF9(ctx.Request().Context(), ctx.Param("studentId"), syID)
	if err != nil {
		return errors.Wrap(err, "getting SF9 data")
	}
	return ctx.JSON(http.StatusOK, data)
}

func (api *documentApi) sf10(ctx echo.Context) error {
	data, err := api.svc.SF10(ctx.Request().Context(), ctx.Param("studentId"))
	if err != nil {
		return errors.Wrap(err, "getting SF10 data")
	}
	return ctx.JSON(http.StatusOK, data)
}

func (api *documentApi) available(ctx echo.Context) error {
	docs, err := api.svc.AvailableDocuments(ctx.Request().Context(), ctx.Param("studentId"))
	if err != nil {
		return errors.Wrap(err, "listing available documents")
	}
	if docs == nil {
		docs = []document.Available{}
	}
	return ctx.JSON(http.StatusOK, docs)
}

func (api *documentApi) metadataHistory(ctx echo.Context) error {
	docType := ctx.QueryParam("document_type")
	if !document.IsValidType(docType) {
		return document.ErrInvalidType
	}
	history, err := api.svc.MetadataHistory(
		ctx.Request().Context(), ctx.Param("studentId"), docType, ctx.QueryParam("school_year_id"),
	)
	if err != nil {
		return errors.Wrap(err, "getting metadata history")
	}
	return ctx.JSON(http.StatusOK, history)
}

func (api *documentApi) updateMetadata(ctx echo.Context) error {
	var data document.UpdateMetadata
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateMetadata")
	}
	if err := api.validate.Struct(data); err != nil {
		return err
	}
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}

	m, err := api.svc.UpdateMetadata(ctx.Request().Context(), ctx.Param("studentId"), data, usr.ID)
	if err != nil {
		return errors.Wrap(err, "updating metadata")
	}
	return ctx.JSON(http.StatusOK, m)
}

// upload stores a client rendered PDF sent as multipart form data.
func (api *documentApi) upload(ctx echo.Context) error {
	fh, err := ctx.FormFile(uploadField)
	if err != nil {
		return core.NewFieldError(uploadField, "this field is required")
	}
	r, closeFn, err := openPDF(fh)
	if err != nil {
		return err
	}
	defer closeFn()

	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	doc, err := api.svc.Upload(
		ctx.Request().Context(),
		ctx.Param("studentId"),
		ctx.FormValue("document_type"),
		ctx.FormValue("school_year_id"),
		r,
		usr.ID,
	)
	if err != nil {
		return errors.Wrap(err, "uploading document")
	}
	return ctx.JSON(http.StatusCreated, doc)
}

// openPDF opens an uploaded file and checks its PDF signature.
func openPDF(fh *multipart.FileHeader) (io.Reader, func(), error) {
	f, err := fh.Open()
	if err != nil {
		return nil, nil, errors.Wrap(err, "opening uploaded file")
	}
	closeFn := func() { _ = f.Close() }

	head := make([]byte, len(pdfMagic))
	if _, err = io.ReadFull(f, head); err != nil || !bytes.Equal(head, pdfMagic) {
		closeFn()
		return nil, nil, errNotPDF
	}
	return io.MultiReader(bytes.NewReader(head), f), closeFn, nil
}

func (api *documentApi) query(ctx echo.Context) error {
	var filter document.Filter
	if err := ctx.Bind(&filter); err != nil {
		return ctx.JSON(http.StatusOK, []document.Document{})
	}
	filter.StudentID = ctx.QueryParam("student_id")

	docs, err := api.svc.Query(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying documents")
	}
	if docs == nil {
		docs = []document.Document{}
	}
	return ctx.JSON(http.StatusOK, docs)
}

func (api *documentApi) retrieve(ctx echo.Context) error {
	doc, err := api.svc.Get(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting document")
	}
	return ctx.JSON(http.StatusOK, doc)
}

func (api *documentApi) destroy(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	if err = api.svc.Delete(ctx.Request().Context(), ctx.Param("id"), usr.ID); err != nil {
		return errors.Wrap(err, "deleting document")
	}
	return ctx.NoContent(http.StatusNoContent)
}
