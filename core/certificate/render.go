package certificate

import (
	"bytes"
	"context"
	"encoding/base64"
	"html/template"
	"strconv"
	texttmpl "text/template"

	"github.com/pkg/errors"
	"github.com/skip2/go-qrcode"
	"github.com/yuin/goldmark"

	appfs "github.com/ampayon/gradebook/fs"
)

const (
	DefaultQRSize = 256
	templatePath  = "templates/certificate/certificate.gohtml"
)

var (
	pageTmpl = template.Must(template.ParseFS(appfs.FS, templatePath))

	defaultBodies = map[string]string{
		TypeHonors: "This certifies that **{{.StudentName}}** (LRN {{.LRN}}) has been recognized " +
			"**{{.Honors}}** for School Year {{.YearCode}}, with a general average of **{{.GeneralAverage}}**.",
		TypeGoodMoral: "This certifies that **{{.StudentName}}** (LRN {{.LRN}}) has shown good moral " +
			"character during School Year {{.YearCode}}.",
		TypeCompletion: "This certifies that **{{.StudentName}}** (LRN {{.LRN}}) has satisfactorily " +
			"completed the requirements of School Year {{.YearCode}}.",
	}
)

// VerificationURL is the public page a certificate QR code points to.
func (svc *Service) VerificationURL(code string) string {
	return svc.frontendBaseURL + "/verify/" + code
}

// QRCode encodes the verification URL of code as a PNG.
func (svc *Service) QRCode(code string, size int) ([]byte, error) {
	if size <= 0 || size > 1024 {
		size = DefaultQRSize
	}
	png, err := qrcode.Encode(svc.VerificationURL(code), qrcode.Medium, size)
	return png, errors.Wrap(err, "encoding QR code")
}

type bodyData struct {
	StudentName    string
	LRN            string
	YearCode       string
	Honors         string
	GeneralAverage string
}

type pageData struct {
	Title            string
	StudentName      string
	SchoolName       string
	SchoolID         string
	SchoolLogo       string
	PrincipalName    string
	Body             template.HTML
	IssuedDate       string
	VerificationCode string
	QRCode           template.URL
	Revoked          bool
}

// Render returns the printable HTML page of a certificate. The body is Markdown: the
// certificate_body setting when set, a default text per type otherwise.
func (svc *Service) Render(ctx context.Context, id string) ([]byte, error) {
	c, err := svc.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	v, err := svc.view(ctx, c)
	if err != nil {
		return nil, err
	}
	settings, err := svc.school.Settings(ctx)
	if err != nil {
		return nil, err
	}

	src := settings.CertificateBody
	if src == "" {
		src = defaultBodies[c.CertificateType]
	}
	body, err := renderBody(src, v)
	if err != nil {
		return nil, err
	}

	png, err := svc.QRCode(c.VerificationCode, DefaultQRSize)
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	err = pageTmpl.Execute(&out, pageData{
		Title:            typeTitles[c.CertificateType],
		StudentName:      v.StudentName,
		SchoolName:       settings.SchoolName,
		SchoolID:         settings.SchoolID,
		SchoolLogo:       settings.SchoolLogo,
		PrincipalName:    settings.PrincipalName,
		Body:             body,
		IssuedDate:       c.IssuedDate.Format("January 2, 2006"),
		VerificationCode: c.VerificationCode,
		QRCode:           template.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(png)),
		Revoked:          c.IsRevoked,
	})
	if err != nil {
		return nil, errors.Wrap(err, "rendering certificate")
	}
	return out.Bytes(), nil
}

// renderBody fills the Markdown template src, then converts it to HTML.
func renderBody(src string, v View) (template.HTML, error) {
	tmpl, err := texttmpl.New("body").Option("missingkey=zero").Parse(src)
	if err != nil {
		return "", errors.Wrap(err, "parsing certificate body")
	}
	data := bodyData{
		StudentName:    v.StudentName,
		LRN:            v.LRN,
		YearCode:       v.YearCode,
		Honors:         v.Honors,
	}
	if v.GeneralAverage.Valid {
		data.GeneralAverage = strconv.FormatFloat(v.GeneralAverage.Float64, 'f', 2, 64)
	}

	var md bytes.Buffer
	if err = tmpl.Execute(&md, data); err != nil {
		return "", errors.Wrap(err, "executing certificate body")
	}
	var html bytes.Buffer
	if err = goldmark.Convert(md.Bytes(), &html); err != nil {
		return "", errors.Wrap(err, "converting certificate body")
	}
	// goldmark escapes raw HTML by default
	return template.HTML(html.String()), nil
}
