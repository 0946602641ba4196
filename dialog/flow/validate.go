package flow

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

type (
	// Validator checks a slot value after type coercion. The returned
	// error is shown to the user as part of the reprompt, so keep it
	// free of internal identifiers.
	Validator interface {
		Validate(value any) error
	}

	// ValidatorFunc adapts a function to the Validator interface.
	ValidatorFunc func(value any) error

	// Validators is a named registry of validators. NewValidators
	// seeds it with the built-ins; register custom ones before
	// compiling flows that reference them.
	Validators struct {
		byName map[string]Validator
	}
)

// Validate calls f.
func (f ValidatorFunc) Validate(value any) error { return f(value) }

// NewValidators returns a registry seeded with the built-in
// validators: nonempty, integer, positive_integer, positive_number
// and iso_date.
func NewValidators() *Validators {
	v := &Validators{byName: make(map[string]Validator)}
	v.byName["nonempty"] = ValidatorFunc(validateNonempty)
	v.byName["integer"] = ValidatorFunc(validateInteger)
	v.byName["positive_integer"] = ValidatorFunc(validatePositiveInteger)
	v.byName["positive_number"] = ValidatorFunc(validatePositiveNumber)
	v.byName["iso_date"] = ValidatorFunc(validateISODate)
	return v
}

// Register adds a named validator. Names must be unique; registering
// over an existing name is an error.
func (v *Validators) Register(name string, validator Validator) error {
	if name == "" {
		return fmt.Errorf("validator name is required")
	}
	if validator == nil {
		return fmt.Errorf("validator %q: nil validator", name)
	}
	if _, ok := v.byName[name]; ok {
		return fmt.Errorf("validator %q already registered", name)
	}
	v.byName[name] = validator
	return nil
}

// RegisterSchema compiles a JSON schema document and registers it as a
// named validator for structured values.
func (v *Validators) RegisterSchema(name string, schema map[string]any) error {
	validator, err := compileSchema(name, schema)
	if err != nil {
		return err
	}
	return v.Register(name, validator)
}

// Lookup returns the validator registered under name.
func (v *Validators) Lookup(name string) (Validator, bool) {
	val, ok := v.byName[name]
	return val, ok
}

// Names returns the registered validator names, sorted.
func (v *Validators) Names() []string {
	out := make([]string, 0, len(v.byName))
	for name := range v.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// compileSchema builds a Validator from a JSON schema document. The
// document is round-tripped through JSON so YAML-decoded numbers and
// nested maps take their JSON-native forms before compilation.
func compileSchema(name string, schema map[string]any) (Validator, error) {
	if len(schema) == 0 {
		return nil, fmt.Errorf("schema %q: empty document", name)
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("schema %q: %w", name, err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("schema %q: %w", name, err)
	}
	c := jsonschema.NewCompiler()
	resource := name + ".schema.json"
	if err := c.AddResource(resource, doc); err != nil {
		return nil, fmt.Errorf("schema %q: %w", name, err)
	}
	compiled, err := c.Compile(resource)
	if err != nil {
		return nil, fmt.Errorf("schema %q: %w", name, err)
	}
	return ValidatorFunc(func(value any) error {
		// The schema library expects JSON-decoded values.
		b, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("value is not valid JSON: %w", err)
		}
		var doc any
		if err := json.Unmarshal(b, &doc); err != nil {
			return fmt.Errorf("value is not valid JSON: %w", err)
		}
		if err := compiled.Validate(doc); err != nil {
			return fmt.Errorf("value does not match the expected structure")
		}
		return nil
	}), nil
}

// CoerceValue converts a raw value to the stored form for a slot's
// declared type. Coercion is strict about shape but lenient about
// input encoding: numbers arrive as strings from user text and as
// float64 from decoded JSON, and both are accepted.
func CoerceValue(spec SlotSpec, raw any) (any, error) {
	switch effectiveType(spec) {
	case SlotString:
		return coerceString(raw)
	case SlotNumber:
		return coerceNumber(raw)
	case SlotBoolean:
		return coerceBoolean(raw)
	case SlotEnum:
		return coerceEnum(spec, raw)
	case SlotDate:
		return coerceDate(raw)
	case SlotStructured:
		return coerceStructured(raw)
	default:
		return nil, fmt.Errorf("slot %q has unsupported type %q", spec.Name, spec.Type)
	}
}

func effectiveType(spec SlotSpec) SlotType {
	if spec.Type == "" {
		return SlotString
	}
	return spec.Type
}

func coerceString(raw any) (any, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case json.Number:
		return v.String(), nil
	default:
		return nil, fmt.Errorf("expected a text value")
	}
}

func coerceNumber(raw any) (any, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return nil, fmt.Errorf("expected a number")
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("expected a number")
		}
		return f, nil
	default:
		return nil, fmt.Errorf("expected a number")
	}
}

func coerceBoolean(raw any) (any, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "y", "1":
			return true, nil
		case "false", "no", "n", "0":
			return false, nil
		}
		return nil, fmt.Errorf("expected yes or no")
	default:
		return nil, fmt.Errorf("expected yes or no")
	}
}

func coerceEnum(spec SlotSpec, raw any) (any, error) {
	s, err := coerceString(raw)
	if err != nil {
		return nil, fmt.Errorf("expected one of: %s", strings.Join(spec.Values, ", "))
	}
	text := strings.TrimSpace(s.(string))
	for _, allowed := range spec.Values {
		if text == allowed {
			return allowed, nil
		}
	}
	// Tolerate case mismatches but store the canonical value.
	for _, allowed := range spec.Values {
		if strings.EqualFold(text, allowed) {
			return allowed, nil
		}
	}
	return nil, fmt.Errorf("expected one of: %s", strings.Join(spec.Values, ", "))
}

func coerceDate(raw any) (any, error) {
	switch v := raw.(type) {
	case time.Time:
		return v.Format("2006-01-02"), nil
	case string:
		t, err := time.Parse("2006-01-02", strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("expected a date in YYYY-MM-DD form")
		}
		return t.Format("2006-01-02"), nil
	default:
		return nil, fmt.Errorf("expected a date in YYYY-MM-DD form")
	}
}

func coerceStructured(raw any) (any, error) {
	switch v := raw.(type) {
	case string:
		var doc any
		if err := json.Unmarshal([]byte(v), &doc); err != nil {
			return nil, fmt.Errorf("expected a JSON value")
		}
		return doc, nil
	case map[string]any, []any:
		return v, nil
	case json.RawMessage:
		var doc any
		if err := json.Unmarshal(v, &doc); err != nil {
			return nil, fmt.Errorf("expected a JSON value")
		}
		return doc, nil
	default:
		return nil, fmt.Errorf("expected a JSON value")
	}
}

func validateNonempty(value any) error {
	s, ok := value.(string)
	if !ok {
		return nil
	}
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("a value is required")
	}
	return nil
}

func validateInteger(value any) error {
	f, err := asFloat(value)
	if err != nil {
		return fmt.Errorf("expected a whole number")
	}
	if f != math.Trunc(f) {
		return fmt.Errorf("expected a whole number")
	}
	return nil
}

func validatePositiveInteger(value any) error {
	f, err := asFloat(value)
	if err != nil {
		return fmt.Errorf("expected a positive whole number")
	}
	if f != math.Trunc(f) || f <= 0 {
		return fmt.Errorf("expected a positive whole number")
	}
	return nil
}

func validatePositiveNumber(value any) error {
	f, err := asFloat(value)
	if err != nil {
		return fmt.Errorf("expected a positive number")
	}
	if f <= 0 {
		return fmt.Errorf("expected a positive number")
	}
	return nil
}

func validateISODate(value any) error {
	s, ok := value.(string)
	if !ok {
		return fmt.Errorf("expected a date in YYYY-MM-DD form")
	}
	if _, err := time.Parse("2006-01-02", s); err != nil {
		return fmt.Errorf("expected a date in YYYY-MM-DD form")
	}
	return nil
}

func asFloat(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, err
		}
		return f, nil
	default:
		return 0, fmt.Errorf("not a number")
	}
}

func errUnknownSlot(flow, slot string) error {
	return fmt.Errorf("flow %q declares no slot %q", flow, slot)
}
