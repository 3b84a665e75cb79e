// Package extract pulls a JSON payload out of free-text model responses.
//
// Responses may be wrapped in markdown fences and surrounded by prose. The
// extractor is a best-effort heuristic, not a repair parser:
//
//   - the first fenced block (```json or bare ```) wins over the rest of the text;
//   - the payload starts at the first '{' or '[', whichever comes first;
//   - an object payload ends at the LAST '}' in the text, an array at the LAST ']'.
//
// The outermost-span rule mis-extracts when the payload's closing character
// also appears later in trailing prose ("{...} see note }"). Such input fails
// to decode and is reported as an extraction error.
package extract

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	perrors "github.com/p-blackswan/infragen/internal/errors"
)

var fenceRe = regexp.MustCompile("(?s)```[a-zA-Z0-9_-]*[ \t]*\\r?\\n?(.*?)```")

// Clean returns the JSON substring located in raw.
func Clean(raw string) (string, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", &perrors.ExtractionError{Original: raw, Err: fmt.Errorf("%w: empty input", perrors.ErrExtraction)}
	}

	if m := fenceRe.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}

	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return "", &perrors.ExtractionError{Original: raw, Cleaned: text, Err: fmt.Errorf("%w: no opening delimiter", perrors.ErrExtraction)}
	}

	closing := "}"
	if text[start] == '[' {
		closing = "]"
	}
	end := strings.LastIndex(text, closing)
	if end < start {
		return "", &perrors.ExtractionError{Original: raw, Cleaned: text, Err: fmt.Errorf("%w: no closing %q", perrors.ErrExtraction, closing)}
	}
	return text[start : end+1], nil
}

// Into decodes the payload found in raw into dst.
func Into(raw string, dst any) error {
	cleaned, err := Clean(raw)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(cleaned), dst); err != nil {
		return &perrors.ExtractionError{Original: raw, Cleaned: cleaned, Err: fmt.Errorf("%w: %v", perrors.ErrExtraction, err)}
	}
	return nil
}

// Parse decodes the payload found in raw as a T.
func Parse[T any](raw string) (T, error) {
	var v T
	if err := Into(raw, &v); err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}

// ParseOr is Parse with a fallback: any failure returns def unchanged.
func ParseOr[T any](raw string, def T) T {
	v, err := Parse[T](raw)
	if err != nil {
		return def
	}
	return v
}
