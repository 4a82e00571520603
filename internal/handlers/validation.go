package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/tripmarket/settlement-backend/internal/services"
)

func init() {
	// Report request fields by their JSON names
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name == "" {
				return f.Name
			}
			return name
		})
	}
}

// bindingError turns a gin binding failure into a ValidationError with one
// entry per offending field. It returns nil for errors that are not about a
// specific field, such as malformed JSON.
func bindingError(err error) *services.ValidationError {
	var (
		fieldErrs validator.ValidationErrors
		typeErr   *json.UnmarshalTypeError
	)

	switch {
	case errors.As(err, &fieldErrs):
		verr := &services.ValidationError{}
		for _, fe := range fieldErrs {
			verr.Add(fieldPath(fe), fieldMessage(fe))
		}
		return verr
	case errors.As(err, &typeErr) && typeErr.Field != "":
		return services.NewValidationError(typeErr.Field, fmt.Sprintf("must be of type %s", typeErr.Type))
	default:
		return nil
	}
}

// fieldPath drops the request type name: HotelBookingRequest.guest.email -> guest.email
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "uuid":
		return "must be a valid UUID"
	case "email":
		return "must be a valid email address"
	case "oneof":
		return "must be one of: " + fe.Param()
	default:
		return fmt.Sprintf("failed the %q check", fe.Tag())
	}
}
