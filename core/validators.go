package core

import (
	"database/sql/driver"
	"math"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/volatiletech/null/v8"
)

var (
	// custom validation tags & texts
	alphaNumUnderTag   = "alphanum_"
	alphaNumUnderText  = "only alphanumeric characters and underscores are allowed"
	alphaNumUnderRegex = regexp.MustCompile(`^[\w\s]+$`)

	lrnTag   = "lrn"
	lrnText  = "LRN must be exactly 12 digits"
	lrnRegex = regexp.MustCompile(`^\d{12}$`)

	gradeTag  = "grade"
	gradeText = "grade must be a number between 0 and 100 with at most 2 decimal places"

	scoreTag  = "score"
	scoreText = "score must be a non-negative number with at most 2 decimal places"

	schoolYearTag   = "schoolyear"
	schoolYearText  = "school year must be formatted as YYYY-YYYY with consecutive years"
	schoolYearRegex = regexp.MustCompile(`^(\d{4})-(\d{4})$`)

	requiredTag     = "required"
	requiredWithTag = "required_with"
	requiredText    = "this field is required"
)

// InitValidators instantiates the validator for use.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = en_translations.RegisterDefaultTranslations(validate, translator)

	// Use JSON tag names for errors instead of Go struct names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// validate null.* fields by their underlying value
	validate.RegisterCustomTypeFunc(nullValuer, null.Float64{}, null.String{}, null.Int{}, null.Time{}, null.Bool{})

	// register custom validators
	_ = validate.RegisterValidation(alphaNumUnderTag, alphaNumUnderValidation)
	RegisterCustomTranslation(validate, translator, alphaNumUnderTag, alphaNumUnderText)

	_ = validate.RegisterValidation(lrnTag, lrnValidation)
	RegisterCustomTranslation(validate, translator, lrnTag, lrnText)

	_ = validate.RegisterValidation(gradeTag, gradeValidation)
	RegisterCustomTranslation(validate, translator, gradeTag, gradeText)

	_ = validate.RegisterValidation(scoreTag, scoreValidation)
	RegisterCustomTranslation(validate, translator, scoreTag, scoreText)

	_ = validate.RegisterValidation(schoolYearTag, schoolYearValidation)
	RegisterCustomTranslation(validate, translator, schoolYearTag, schoolYearText)

	RegisterCustomTranslation(validate, translator, requiredTag, requiredText, true)
	RegisterCustomTranslation(validate, translator, requiredWithTag, requiredText, true)
}

// RegisterCustomTranslation registers a custom translation for the specified validation tag.
func RegisterCustomTranslation(validate *validator.Validate, translator ut.Translator, tag, text string, override ...bool) {
	var ovrd bool
	if len(override) > 0 {
		ovrd = override[0]
	}
	_ = validate.RegisterTranslation(
		tag, translator,
		func(t ut.Translator) error { return t.Add(tag, text, ovrd) },
		func(t ut.Translator, fe validator.FieldError) string {
			s, _ := t.T(tag, fe.Field())
			return s
		},
	)
}

// IsValidLRN reports whether s is a 12 digit Learner Reference Number.
func IsValidLRN(s string) bool {
	return lrnRegex.MatchString(s)
}

// HasAtMostTwoDecimals reports whether f has no more than 2 decimal places.
func HasAtMostTwoDecimals(f float64) bool {
	scaled := f * 100
	return math.Abs(scaled-math.Round(scaled)) < 1e-6
}

// IsValidSchoolYear reports whether code looks like "2024-2025".
func IsValidSchoolYear(code string) bool {
	m := schoolYearRegex.FindStringSubmatch(code)
	if m == nil {
		return false
	}
	from, _ := strconv.Atoi(m[1])
	to, _ := strconv.Atoi(m[2])
	return to == from+1
}

func nullValuer(field reflect.Value) interface{} {
	if valuer, ok := field.Interface().(driver.Valuer); ok {
		if val, err := valuer.Value(); err == nil {
			return val
		}
	}
	return nil
}

// Custom Global Validators

// alphaNumUnderValidation only allows alphanumeric characters and underscores.
func alphaNumUnderValidation(fl validator.FieldLevel) bool {
	return alphaNumUnderRegex.MatchString(fl.Field().String())
}

func lrnValidation(fl validator.FieldLevel) bool {
	return IsValidLRN(fl.Field().String())
}

// numericField reads numeric fields. Nulls report false.
func numericField(fl validator.FieldLevel) (float64, bool) {
	fld := fl.Field()
	switch fld.Kind() {
	case reflect.Float32, reflect.Float64:
		return fld.Float(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(fld.Int()), true
	}
	return 0, false
}

func gradeValidation(fl validator.FieldLevel) bool {
	f, ok := numericField(fl)
	if !ok {
		return true // nulls are handled by `required`
	}
	return f >= 0 && f <= 100 && HasAtMostTwoDecimals(f)
}

func scoreValidation(fl validator.FieldLevel) bool {
	f, ok := numericField(fl)
	if !ok {
		return true
	}
	return f >= 0 && HasAtMostTwoDecimals(f)
}

func schoolYearValidation(fl validator.FieldLevel) bool {
	return IsValidSchoolYear(fl.Field().String())
}
