package http

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report fields by their wire names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"json", "query"} {
			name, _, _ := strings.Cut(f.Tag.Get(tag), ",")
			if name != "" && name != "-" {
				return name
			}
		}
		return f.Name
	})
	return v
}

var bounds = map[string]string{
	"gt":  "greater than",
	"gte": "at least",
	"min": "at least",
	"lt":  "less than",
	"lte": "at most",
	"max": "at most",
	"len": "exactly",
}

// Bind decodes the request into req, applies `default` tags and validates it.
// A nil result means req is ready to use.
func Bind(c echo.Context, req any) []Problem {
	if err := c.Bind(req); err != nil {
		msg := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			msg = fmt.Sprint(he.Message)
		}
		return []Problem{{Code: "ERR_DECODE", Message: msg}}
	}
	if err := defaults.Set(req); err != nil {
		return []Problem{{Code: "ERR_DEFAULTS", Message: err.Error()}}
	}

	err := validate.StructCtx(c.Request().Context(), req)
	if err == nil {
		return nil
	}
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) {
		return []Problem{{Code: "ERR_INVALID", Message: err.Error()}}
	}
	out := make([]Problem, 0, len(fields))
	for _, fe := range fields {
		out = append(out, fieldProblem(fe))
	}
	return out
}

func fieldProblem(fe validator.FieldError) Problem {
	p := Problem{Code: "ERR_" + strings.ToUpper(fe.Tag()), Field: fe.Field()}
	switch tag := fe.Tag(); {
	case tag == "required":
		p.Message = fe.Field() + " is required"
	case tag == "oneof":
		opts := strings.Fields(fe.Param())
		p.Message = fmt.Sprintf("%s must be one of %s", fe.Field(), strings.Join(opts, ", "))
		p.Params = map[string]any{"options": opts}
	case bounds[tag] != "":
		unit := ""
		if k := fe.Kind(); k == reflect.String || k == reflect.Slice {
			unit = " long"
		}
		p.Message = fmt.Sprintf("%s must be %s %s%s", fe.Field(), bounds[tag], fe.Param(), unit)
		p.Params = map[string]any{"limit": fe.Param()}
	default:
		p.Message = fmt.Sprintf("%s failed %s", fe.Field(), tag)
	}
	return p
}
