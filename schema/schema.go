// Package schema decodes and validates every JSON object that crosses the
// agent boundary. Agent responses are untyped trees validated against a
// JSON Schema before anything reaches the store; violations surface as
// *ParseError and never enter a Task or Finding row unvalidated.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ParseError reports agent output that is not valid JSON or does not
// conform to the expected schema. Raw carries the text for diagnostics.
type ParseError struct {
	Schema string
	Reason string
	Raw    string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("schema %s: %s: %v", e.Schema, e.Reason, e.Err)
	}
	return fmt.Sprintf("schema %s: %s", e.Schema, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// mustCompile compiles an embedded schema document at package init.
func mustCompile(name, doc string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(doc))
	if err != nil {
		panic(fmt.Sprintf("schema %s: %v", name, err))
	}
	if err := c.AddResource(name, parsed); err != nil {
		panic(fmt.Sprintf("schema %s: %v", name, err))
	}
	compiled, err := c.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("schema %s: %v", name, err))
	}
	return compiled
}

// decodeValidated extracts the JSON object from raw agent output, validates
// it against the compiled schema, and unmarshals it into out.
func decodeValidated(name string, compiled *jsonschema.Schema, raw string, out any) error {
	extracted := ExtractJSON(raw)
	if extracted == "" {
		return &ParseError{Schema: name, Reason: "no JSON object in output", Raw: raw}
	}

	parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(extracted))
	if err != nil {
		return &ParseError{Schema: name, Reason: "invalid JSON", Raw: raw, Err: err}
	}
	if err := compiled.Validate(parsed); err != nil {
		return &ParseError{Schema: name, Reason: "schema violation", Raw: raw, Err: err}
	}

	if err := json.Unmarshal([]byte(extracted), out); err != nil {
		return &ParseError{Schema: name, Reason: "decode", Raw: raw, Err: err}
	}
	return nil
}
