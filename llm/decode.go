package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrNoJSONObject means the model output contained no {...} span
var ErrNoJSONObject = errors.New("no JSON object found in model output")

// ParseError reports an LLM response that does not satisfy its JSON contract
type ParseError struct {
	Purpose string
	Raw     string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: unparseable model output: %v", e.Purpose, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

var validate = validator.New()

// ExtractJSON returns the outermost {...} span of raw, ignoring markdown fences and prose
func ExtractJSON(raw string) (string, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return raw[start : end+1], true
}

// DecodeJSON extracts the JSON object from raw model output, decodes it into T and
// validates T's `validate` tags. Any failure is a *ParseError; callers decide whether
// that is fatal for their stage.
func DecodeJSON[T any](purpose, raw string) (T, error) {
	var out T

	body, ok := ExtractJSON(raw)
	if !ok {
		return out, &ParseError{Purpose: purpose, Raw: raw, Err: ErrNoJSONObject}
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	if err := dec.Decode(&out); err != nil {
		return out, &ParseError{Purpose: purpose, Raw: raw, Err: err}
	}

	if err := validate.Struct(out); err != nil {
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			// T is not a struct (e.g. a map); nothing to validate
			return out, nil
		}
		return out, &ParseError{Purpose: purpose, Raw: raw, Err: err}
	}

	return out, nil
}
