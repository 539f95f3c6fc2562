package handler

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

const accountIDTag = "account_id"

var accountIDRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{2,63}$`)

// RegisterValidators installs the custom binding rules on gin's validator.
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return errors.New("unexpected binding validator engine")
	}
	InitValidators(v)
	return nil
}

// InitValidators reports JSON field names and registers custom tags.
func InitValidators(validate *validator.Validate) {
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		for _, tag := range []string{"json", "form"} {
			name := strings.SplitN(fld.Tag.Get(tag), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name != "" {
				return name
			}
		}
		return fld.Name
	})
	_ = validate.RegisterValidation(accountIDTag, accountIDValidation)
}

// accountIDValidation allows 3 to 64 letters, digits, dots, dashes and
// underscores, starting with a letter or digit.
func accountIDValidation(fl validator.FieldLevel) bool {
	return accountIDRegex.MatchString(fl.Field().String())
}

// describeBindError turns a binding failure into a client message.
func describeBindError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Invalid payload."
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required.", fe.Field())
	case "email":
		return fmt.Sprintf("%s must be a valid email.", fe.Field())
	case "min":
		if isNumber(fe.Kind()) {
			return fmt.Sprintf("%s must be at least %s.", fe.Field(), fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s characters.", fe.Field(), fe.Param())
	case "max":
		if isNumber(fe.Kind()) {
			return fmt.Sprintf("%s must be at most %s.", fe.Field(), fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s characters.", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s.", fe.Field(), fe.Param())
	case accountIDTag:
		return fmt.Sprintf("%s may contain only letters, digits, '.', '-' and '_' (3-64 characters).", fe.Field())
	default:
		return fmt.Sprintf("%s is invalid.", fe.Field())
	}
}

func isNumber(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
