package httpx

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
)

// FieldProblem is a problem response carrying per-field validation messages.
type FieldProblem struct {
	ProblemDetail
	Fields map[string]string `json:"fields"`
}

// ValidateStruct runs v against s and returns field messages keyed by field name.
func ValidateStruct(v *validator.Validate, s any) map[string]string {
	err := v.Struct(s)
	if err == nil {
		return nil
	}
	fields := make(map[string]string)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		fields["_"] = err.Error()
		return fields
	}
	for _, fieldErr := range verrs {
		fields[fieldErr.Field()] = fieldErr.Error()
	}
	return fields
}

// ValidationProblem sends a 400 response listing fields.
func ValidationProblem(w http.ResponseWriter, fields map[string]string) {
	JSON(w, http.StatusBadRequest, FieldProblem{
		ProblemDetail: ProblemDetail{Title: "Validation Failed", Status: http.StatusBadRequest},
		Fields:        fields,
	})
}
