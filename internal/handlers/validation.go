package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/kerucko/scheduler/internal/models"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("isodate", func(fl validator.FieldLevel) bool {
		_, err := models.ParseDate(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("nonblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

var messages = map[string]string{
	"required": "is required",
	"nonblank": "must not be blank",
	"email":    "must be a valid email address",
	"isodate":  "must be an ISO 8601 date",
	"gt":       "must be greater than %s",
	"min":      "must be at least %s characters long",
	"max":      "must be no longer than %s characters",
}

// fieldErrors turns validator output into messages keyed by JSON field name.
func fieldErrors(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		msg, ok := messages[fe.Tag()]
		if !ok {
			msg = "is invalid"
		}
		if strings.Contains(msg, "%s") {
			msg = fmt.Sprintf(msg, fe.Param())
		}
		out[fe.Field()] = msg
	}
	return out
}

// bind decodes and validates the request body into dst, writing a 400 and
// returning false on failure.
func bind(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decode(r, dst); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid input")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:  "Validation failed",
			Fields: fieldErrors(err),
		})
		return false
	}
	return true
}
