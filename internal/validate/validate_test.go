package validate

import (
	"reflect"
	"testing"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
)

// mockFieldError implements validator.FieldError, grounded on
// auth-service/app/handlers/validation_test.go's mockFieldError, so
// formatFieldError can be exercised per-tag without round-tripping
// through a real validation failure for every case.
type mockFieldError struct {
	field string
	tag   string
	param string
}

func (m *mockFieldError) Tag() string             { return m.tag }
func (m *mockFieldError) ActualTag() string        { return m.tag }
func (m *mockFieldError) Namespace() string        { return "" }
func (m *mockFieldError) StructNamespace() string   { return "" }
func (m *mockFieldError) Field() string             { return m.field }
func (m *mockFieldError) StructField() string       { return m.field }
func (m *mockFieldError) Value() interface{}        { return "" }
func (m *mockFieldError) Param() string             { return m.param }
func (m *mockFieldError) Kind() reflect.Kind        { return reflect.String }
func (m *mockFieldError) Type() reflect.Type        { return reflect.TypeOf("") }
func (m *mockFieldError) Translate(ut.Translator) string { return "" }
func (m *mockFieldError) Error() string             { return "" }

func TestFormatFieldError_AllTags(t *testing.T) {
	cases := []struct {
		tag, field, param, expected string
	}{
		{"required", "Name", "", "Name is required"},
		{"gt", "BatchSize", "0", "BatchSize must be greater than 0"},
		{"gte", "RenewPercent", "0", "RenewPercent must be at least 0"},
		{"lt", "RenewPercent", "1", "RenewPercent must be less than 1"},
		{"oneof", "Backend", "postgres sqlite", "Backend must be one of: postgres sqlite"},
		{"cron_expression", "CronExpr", "", "CronExpr is not a valid 5-field cron expression"},
		{"unknown", "Field", "", "Field is invalid"},
	}

	for _, tc := range cases {
		t.Run(tc.tag, func(t *testing.T) {
			fe := &mockFieldError{field: tc.field, tag: tc.tag, param: tc.param}
			got := formatFieldError(fe)
			if got != tc.expected {
				t.Fatalf("formatFieldError(%+v) = %q, want %q", tc, got, tc.expected)
			}
		})
	}
}

type jobRequest struct {
	Name     string `validate:"required"`
	CronExpr string `validate:"required,cron_expression"`
}

func TestStruct_ValidRequestReturnsNil(t *testing.T) {
	req := jobRequest{Name: "nightly-rollup", CronExpr: "0 2 * * *"}
	if err := Struct(&req); err != nil {
		t.Fatalf("expected valid request to pass, got %v", err)
	}
}

func TestStruct_InvalidCronExpressionReported(t *testing.T) {
	req := jobRequest{Name: "nightly-rollup", CronExpr: "not a cron expression"}
	err := Struct(&req)
	if err == nil {
		t.Fatal("expected invalid cron expression to fail validation")
	}
}

func TestStruct_MissingRequiredFieldsJoinsMessages(t *testing.T) {
	req := jobRequest{}
	err := Struct(&req)
	if err == nil {
		t.Fatal("expected missing required fields to fail validation")
	}
	msg := err.Error()
	if !contains(msg, "Name") || !contains(msg, "CronExpr") {
		t.Fatalf("expected message to mention both failing fields, got %q", msg)
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (func() bool {
		for i := 0; i+len(substr) <= len(s); i++ {
			if s[i:i+len(substr)] == substr {
				return true
			}
		}
		return false
	})()
}

func TestValidateCronExpression_RejectsGarbage(t *testing.T) {
	fv := validator.New()
	if err := fv.RegisterValidation("cron_expression", validateCronExpression); err != nil {
		t.Fatal(err)
	}
	type s struct {
		Expr string `validate:"cron_expression"`
	}
	if err := fv.Struct(s{Expr: "* * * * * *"}); err == nil {
		t.Fatal("expected a six-field expression to be rejected by the five-field parser")
	}
	if err := fv.Struct(s{Expr: "*/5 * * * *"}); err != nil {
		t.Fatalf("expected a valid five-field expression to pass, got %v", err)
	}
}
