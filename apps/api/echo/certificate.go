package echoapi

import (
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/ampayon/gradebook/core"
	"github.com/ampayon/gradebook/core/certificate"
)

type certificateApi struct {
	svc      *certificate.Service
	validate *validator.Validate
}

func (s *Server) registerCertificateAPI(g *echo.Group) {
	api := certificateApi{svc: s.deps.CertificateSvc, validate: s.deps.Validate}

	// public endpoints
	g.GET("/verify/:code", api.verify)
	g.GET("/verify/:code/qr", api.codeQR)

	cg := g.Group("/certificates", s.with(staffMiddleware)...)
	cg.GET("", api.query)
	cg.POST("", api.generate)
	cg.GET("/:id", api.retrieve)
	cg.POST("/:id/pdf", api.attachPDF)
	cg.GET("/:id/render", api.render)
	cg.GET("/:id/qr", api.qr)
	cg.POST("/:id/revoke", api.revoke, adminMiddleware)
	cg.DELETE("/:id", api.destroy, adminMiddleware)
}

func (api *certificateApi) query(ctx echo.Context) error {
	var filter certificate.Filter
	if err := ctx.Bind(&filter); err != nil {
		return ctx.JSON(http.StatusOK, []certificate.View{})
	}
	certs, err := api.svc.List(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "listing certificates")
	}
	return ctx.JSON(http.StatusOK, certs)
}

func (api *certificateApi) generate(ctx echo.Context) error {
	var data certificate.NewCertificate
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewCertificate")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}

	c, err := api.svc.Generate(ctx.Request().Context(), data, usr.ID)
	if err != nil {
		return errors.Wrap(err, "generating certificate")
	}
	return ctx.JSON(http.StatusCreated, c)
}

func (api *certificateApi) retrieve(ctx echo.Context) error {
	c, err := api.svc.Get(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting certificate")
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *certificateApi) attachPDF(ctx echo.Context) error {
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
	c, err := api.svc.AttachPDF(ctx.Request().Context(), ctx.Param("id"), r, usr.ID)
	if err != nil {
		return errors.Wrap(err, "attaching certificate PDF")
	}
	return ctx.JSON(http.StatusOK, c)
}

// render returns the printable HTML page the client turns into a PDF.
func (api *certificateApi) render(ctx echo.Context) error {
	page, err := api.svc.Render(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "rendering certificate")
	}
	return ctx.HTMLBlob(http.StatusOK, page)
}

func (api *certificateApi) qr(ctx echo.Context) error {
	c, err := api.svc.Get(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting certificate")
	}
	return api.qrPNG(ctx, c.VerificationCode)
}

func (api *certificateApi) codeQR(ctx echo.Context) error {
	return api.qrPNG(ctx, ctx.Param("code"))
}

func (api *certificateApi) qrPNG(ctx echo.Context, code string) error {
	size, _ := strconv.Atoi(ctx.QueryParam("size"))
	png, err := api.svc.QRCode(code, size)
	if err != nil {
		return err
	}
	return ctx.Blob(http.StatusOK, "image/png", png)
}

func (api *certificateApi) verify(ctx echo.Context) error {
	res, err := api.svc.Verify(ctx.Request().Context(), ctx.Param("code"))
	if err != nil {
		return errors.Wrap(err, "verifying certificate")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *certificateApi) revoke(ctx echo.Context) error {
	var data certificate.Revoke
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Revoke")
	}
	data.Reason = core.CleanString(data.Reason)
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}

	c, err := api.svc.Revoke(ctx.Request().Context(), ctx.Param("id"), data, usr.ID)
	if err != nil {
		return errors.Wrap(err, "revoking certificate")
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *certificateApi) destroy(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	if err = api.svc.Delete(ctx.Request().Context(), ctx.Param("id"), usr.ID); err != nil {
		return errors.Wrap(err, "deleting certificate")
	}
	return ctx.NoContent(http.StatusNoContent)
}
