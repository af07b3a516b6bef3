package endpoint

import (
	"fmt"
	"reflect"
)

// ParamType enumerates the declared input parameter kinds.
type ParamType string

const (
	TypeString ParamType = "string"
	TypeNumber ParamType = "number"
	TypeBool   ParamType = "boolean"
	TypeArray  ParamType = "array"
	TypeObject ParamType = "object"
)

// InputParameter describes one declared request parameter.
type InputParameter struct {
	Name      string
	Type      ParamType
	Required  bool
	Default   any
	Options   []any    // if non-empty, the value must be one of these
	Aliases   []string // alternate request keys accepted for this parameter
	DependsOn []string // other parameter names that must also be present
	Exclusive []string // other parameter names that must NOT be present
}

// validateSpec checks the invariants of the declaration itself, independent
// of any request: a parameter cannot be both required and carry a default,
// and dependsOn/exclusive must name parameters that actually exist.
func validateSpec(params []InputParameter) error {
	byName := make(map[string]InputParameter, len(params))
	for _, p := range params {
		byName[p.Name] = p
	}
	for _, p := range params {
		if p.Required && p.Default != nil {
			return fmt.Errorf("parameter %q cannot be both required and carry a default", p.Name)
		}
		for _, dep := range p.DependsOn {
			if _, ok := byName[dep]; !ok {
				return fmt.Errorf("parameter %q dependsOn unknown parameter %q", p.Name, dep)
			}
		}
		for _, ex := range p.Exclusive {
			if _, ok := byName[ex]; !ok {
				return fmt.Errorf("parameter %q exclusive with unknown parameter %q", p.Name, ex)
			}
		}
	}
	return nil
}

// ValidationError is a 400-equivalent: the caller's request was malformed
// or failed a declared constraint.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// invalidInput builds a ValidationError, the 400 returned for a malformed
// or constraint-violating request.
func invalidInput(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// Validate applies aliasing, required/default/options/dependsOn/exclusive
// checks, and type coercion to a raw request body against a parameter
// declaration set. It returns the validated, defaulted parameter map.
func Validate(params []InputParameter, data map[string]any) (map[string]any, error) {
	if err := validateSpec(params); err != nil {
		return nil, err
	}
	if data == nil {
		return nil, invalidInput("request body must not be empty")
	}

	resolved := make(map[string]any, len(params))
	for _, p := range params {
		value, present := data[p.Name]
		if !present {
			for _, alias := range p.Aliases {
				if v, ok := data[alias]; ok {
					value, present = v, true
					break
				}
			}
		}

		if !present {
			if p.Required {
				return nil, invalidInput("missing required parameter %q", p.Name)
			}
			if p.Default != nil {
				resolved[p.Name] = p.Default
			}
			continue
		}

		typed, err := coerce(p, value)
		if err != nil {
			return nil, err
		}
		if len(p.Options) > 0 && !oneOf(typed, p.Options) {
			return nil, invalidInput("parameter %q must be one of %v, got %v", p.Name, p.Options, typed)
		}
		resolved[p.Name] = typed
	}

	for _, p := range params {
		if _, present := resolved[p.Name]; !present {
			continue
		}
		for _, dep := range p.DependsOn {
			if _, ok := resolved[dep]; !ok {
				return nil, invalidInput("parameter %q requires %q to also be present", p.Name, dep)
			}
		}
		for _, ex := range p.Exclusive {
			if _, ok := resolved[ex]; ok {
				return nil, invalidInput("parameter %q is mutually exclusive with %q", p.Name, ex)
			}
		}
	}

	return resolved, nil
}

func oneOf(v any, options []any) bool {
	for _, o := range options {
		if reflect.DeepEqual(v, o) {
			return true
		}
	}
	return false
}

// coerce converts a decoded JSON value to the declared parameter type.
// JSON numbers arrive as float64; everything else must already match.
func coerce(p InputParameter, value any) (any, error) {
	switch p.Type {
	case TypeString:
		s, ok := value.(string)
		if !ok {
			return nil, invalidInput("parameter %q must be a string, got %T", p.Name, value)
		}
		return s, nil
	case TypeNumber:
		switch n := value.(type) {
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		default:
			return nil, invalidInput("parameter %q must be a number, got %T", p.Name, value)
		}
	case TypeBool:
		b, ok := value.(bool)
		if !ok {
			return nil, invalidInput("parameter %q must be a boolean, got %T", p.Name, value)
		}
		return b, nil
	case TypeArray:
		a, ok := value.([]any)
		if !ok {
			return nil, invalidInput("parameter %q must be an array, got %T", p.Name, value)
		}
		return a, nil
	case TypeObject:
		o, ok := value.(map[string]any)
		if !ok {
			return nil, invalidInput("parameter %q must be an object, got %T", p.Name, value)
		}
		return o, nil
	default:
		return nil, invalidInput("parameter %q has unknown declared type %q", p.Name, p.Type)
	}
}
