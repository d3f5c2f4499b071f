// Package validate wraps go-playground/validator/v10 the way
// auth-service/app/handlers/validation.go does: one shared *validator.Validate
// with custom tag registrations, formatting field errors into messages an
// admin HTTP handler can hand back as-is instead of leaking Go's default
// ValidationErrors text.
package validate

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

var v *validator.Validate

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

func init() {
	v = validator.New()
	if err := v.RegisterValidation("cron_expression", validateCronExpression); err != nil {
		panic(err)
	}
}

// validateCronExpression checks the same five-field grammar
// scheduler.Materializer parses job definitions with, so a bad cron
// expression is rejected at the admin API boundary instead of surfacing
// later as a silent "skipping" log line during materialization.
func validateCronExpression(fl validator.FieldLevel) bool {
	_, err := cronParser.Parse(fl.Field().String())
	return err == nil
}

// Struct validates req against its `validate` tags and returns a single
// semicolon-joined message summarizing every failing field, or nil if req
// is valid.
func Struct(req interface{}) error {
	err := v.Struct(req)
	if err == nil {
		return nil
	}
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	messages := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		messages = append(messages, formatFieldError(fe))
	}
	return fmt.Errorf("%s", strings.Join(messages, "; "))
}

func formatFieldError(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "lt":
		return fmt.Sprintf("%s must be less than %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	case "cron_expression":
		return fmt.Sprintf("%s is not a valid 5-field cron expression", field)
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
