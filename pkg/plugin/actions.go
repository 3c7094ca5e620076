package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// CodeActionNotFound is reported when no registered provider exposes the requested action.
const CodeActionNotFound = "ACTION_NOT_FOUND"

// ErrActionNotFound is returned by Manager.Invoke for unknown action names.
var ErrActionNotFound = errors.New(CodeActionNotFound)

// Args carries validated action arguments keyed by field name.
type Args map[string]string

// Get returns the trimmed value of a field.
func (a Args) Get(name string) string {
	return strings.TrimSpace(a[name])
}

// Field describes a single argument of an action.
type Field struct {
	Name        string
	Description string
	Required    bool
	// Check validates a present value. A nil Check accepts any string.
	Check func(value string) error
}

// Schema lists the arguments an action accepts.
type Schema struct {
	Fields []Field
}

// ValidationError reports an argument that failed schema validation.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid argument %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Parse decodes a JSON object and validates it against the schema.
// String and number values are accepted; unknown fields are ignored.
func (s Schema) Parse(raw json.RawMessage) (Args, error) {
	values := map[string]any{}
	if len(bytes.TrimSpace(raw)) > 0 && string(bytes.TrimSpace(raw)) != "null" {
		decoder := json.NewDecoder(bytes.NewReader(raw))
		decoder.UseNumber()
		if err := decoder.Decode(&values); err != nil {
			return nil, &ValidationError{Field: "$", Err: fmt.Errorf("arguments must be a JSON object: %w", err)}
		}
	}

	args := make(Args, len(s.Fields))
	for _, field := range s.Fields {
		value, present := values[field.Name]
		if !present || value == nil {
			if field.Required {
				return nil, &ValidationError{Field: field.Name, Err: errors.New("field is required")}
			}
			continue
		}
		var text string
		switch v := value.(type) {
		case string:
			text = v
		case json.Number:
			text = v.String()
		default:
			return nil, &ValidationError{Field: field.Name, Err: fmt.Errorf("expected string, got %T", value)}
		}
		if field.Required && strings.TrimSpace(text) == "" {
			return nil, &ValidationError{Field: field.Name, Err: errors.New("field is required")}
		}
		if field.Check != nil {
			if err := field.Check(text); err != nil {
				return nil, &ValidationError{Field: field.Name, Err: err}
			}
		}
		args[field.Name] = text
	}
	return args, nil
}

// Action is a named operation a provider exposes to an agent.
type Action struct {
	Name        string
	Description string
	Schema      Schema
	Invoke      func(ctx context.Context, args Args) (string, error)
}

// ActionProvider is implemented by plugins that expose actions.
type ActionProvider interface {
	Actions() []Action
	SupportsNetwork(network Network) bool
}

// FieldDescriptor is the serialisable form of a Field.
type FieldDescriptor struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required"`
}

// Descriptor is the serialisable form of an Action.
type Descriptor struct {
	Provider    string            `json:"provider"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Fields      []FieldDescriptor `json:"fields"`
}

// Describe converts an action into its descriptor.
func Describe(provider string, action Action) Descriptor {
	fields := make([]FieldDescriptor, 0, len(action.Schema.Fields))
	for _, f := range action.Schema.Fields {
		fields = append(fields, FieldDescriptor{Name: f.Name, Description: f.Description, Required: f.Required})
	}
	return Descriptor{Provider: provider, Name: action.Name, Description: action.Description, Fields: fields}
}
