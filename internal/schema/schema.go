// Package schema decodes marketplace responses into typed structs, checks
// required fields and reports fields the structs do not know about.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
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
	return v
}

// ValidationError means a response did not have the shape the collector
// depends on. Retrying will not help.
type ValidationError struct {
	API string
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("schema %s: %v", e.API, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Decode unmarshals raw into out and validates it. It returns the sorted
// top-level keys of raw that out does not declare. Unknown keys are not an
// error.
func Decode(api string, raw []byte, out any) ([]string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, &ValidationError{API: api, Err: fmt.Errorf("empty body")}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, &ValidationError{API: api, Err: err}
	}
	if err := Validate(api, out); err != nil {
		return nil, err
	}
	return UnknownFields(raw, out), nil
}

// DecodeArray splits a JSON array body into its elements. A body that is
// not an array is a ValidationError; null is an empty list.
func DecodeArray(api string, raw []byte) ([]json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, &ValidationError{API: api, Err: fmt.Errorf("empty body")}
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, &ValidationError{API: api, Err: err}
	}
	return items, nil
}

// Validate runs the struct's validate tags.
func Validate(api string, v any) error {
	if err := validate.Struct(v); err != nil {
		return &ValidationError{API: api, Err: err}
	}
	return nil
}

// UnknownFields lists the top-level object keys of raw that have no json
// field in out. Non-object payloads report nothing.
func UnknownFields(raw []byte, out any) []string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil
	}
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		return nil
	}
	known := knownFields(reflect.TypeOf(out))
	var extra []string
	for k := range keys {
		if _, ok := known[k]; !ok {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	return extra
}

var fieldCache sync.Map

func knownFields(t reflect.Type) map[string]struct{} {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return map[string]struct{}{}
	}
	if cached, ok := fieldCache.Load(t); ok {
		return cached.(map[string]struct{})
	}
	out := map[string]struct{}{}
	collectFields(t, out)
	fieldCache.Store(t, out)
	return out
}

func collectFields(t reflect.Type, out map[string]struct{}) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		name := strings.SplitN(tag, ",", 2)[0]
		if name == "-" {
			continue
		}
		if f.Anonymous && name == "" {
			ft := f.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				collectFields(ft, out)
				continue
			}
		}
		if !f.IsExported() {
			continue
		}
		if name == "" {
			name = f.Name
		}
		out[name] = struct{}{}
	}
}

// MergeFields returns the sorted union of a and b.
func MergeFields(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, f := range list {
			if _, ok := seen[f]; ok {
				continue
			}
			seen[f] = struct{}{}
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}
