package common

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
)

// GenericEchoValidator plugs struct tag validation into echo's ctx.Validate.
type GenericEchoValidator struct {
	Validator *validator.Validate
}

func (gv *GenericEchoValidator) Validate(i interface{}) error {
	if gv.Validator == nil {
		gv.Validator = validator.New()
	}
	if err := gv.Validator.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, DescribeValidationError(err)).SetInternal(err)
	}
	return nil
}

// DescribeValidationError turns validator field errors into one readable line,
// e.g. "ServiceConfig.Port must satisfy gt=0".
func DescribeValidationError(err error) string {
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return err.Error()
	}
	parts := make([]string, 0, len(fieldErrors))
	for _, fieldError := range fieldErrors {
		rule := fieldError.Tag()
		if fieldError.Param() != "" {
			rule += "=" + fieldError.Param()
		}
		parts = append(parts, fmt.Sprintf("%s must satisfy %s", fieldError.Namespace(), rule))
	}
	return strings.Join(parts, "; ")
}
