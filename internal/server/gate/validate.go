package gate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrSchema marks payloads that do not match the endpoint's declared shape.
var ErrSchema = errors.New("API schema validation failed")

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return v
}

type schemaError struct {
	issues []string
}

func (e *schemaError) Error() string {
	return ErrSchema.Error() + ":\n" + strings.Join(e.issues, "\n")
}

func (e *schemaError) Unwrap() error { return ErrSchema }

// decodePayload fills dst from data and validates it, reporting every
// violation rather than the first.
func decodePayload(v *validator.Validate, data []byte, dst any) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		data = []byte("{}")
	}

	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Pointer || rv.Elem().Kind() != reflect.Struct {
		if err := json.Unmarshal(data, dst); err != nil {
			return &schemaError{issues: []string{decodeIssue("", err)}}
		}
		return nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return &schemaError{issues: []string{rootIssue(err)}}
	}

	byName := jsonFields(rv.Elem())
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var issues []string
	bad := make(map[string]bool)
	for _, name := range names {
		fv, ok := byName[name]
		if !ok {
			issues = append(issues, name+" is not an accepted field")
			continue
		}
		if err := json.Unmarshal(fields[name], fv.Addr().Interface()); err != nil {
			fv.Set(reflect.Zero(fv.Type()))
			issues = append(issues, decodeIssue(name, err))
			bad[name] = true
		}
	}

	if err := v.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return &schemaError{issues: append(issues, err.Error())}
		}
		for _, fe := range verrs {
			path := fieldPath(fe)
			top, _, _ := strings.Cut(path, ".")
			if bad[top] {
				continue
			}
			issues = append(issues, path+" "+fieldMessage(fe))
		}
	}

	if len(issues) > 0 {
		return &schemaError{issues: issues}
	}
	return nil
}

// jsonFields indexes the settable top-level fields of a struct by JSON name.
func jsonFields(sv reflect.Value) map[string]reflect.Value {
	st := sv.Type()
	out := make(map[string]reflect.Value, st.NumField())
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		if !f.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			continue
		}
		if name == "" {
			name = f.Name
		}
		out[name] = sv.Field(i)
	}
	return out
}

func rootIssue(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return "(root) expected object, received " + typeErr.Value
	}
	return decodeIssue("", err)
}

func decodeIssue(field string, err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		path := field
		if typeErr.Field != "" {
			if path != "" {
				path += "."
			}
			path += typeErr.Field
		}
		if path == "" {
			path = "(root)"
		}
		return fmt.Sprintf("%s expected %s, received %s", path, typeErr.Type, typeErr.Value)
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return fmt.Sprintf("(root) malformed JSON at offset %d", syntaxErr.Offset)
	}
	if field == "" {
		field = "(root)"
	}
	return field + " " + err.Error()
}

// fieldPath drops the payload type name from the namespace.
func fieldPath(fe validator.FieldError) string {
	_, path, ok := strings.Cut(fe.Namespace(), ".")
	if !ok {
		return fe.Field()
	}
	return path
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + fe.Param() + unit(fe.Kind())
	case "max":
		return "must be at most " + fe.Param() + unit(fe.Kind())
	case "oneof":
		return "must be one of [" + fe.Param() + "]"
	case "alphanum":
		return "must contain only letters and digits"
	case "printascii":
		return "must contain only printable ASCII"
	default:
		return "failed the " + fe.Tag() + " check"
	}
}

func unit(k reflect.Kind) string {
	switch k {
	case reflect.String:
		return " characters long"
	case reflect.Slice, reflect.Array, reflect.Map:
		return " items long"
	}
	return ""
}
