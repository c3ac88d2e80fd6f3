package guard

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"pushguard/src/internal/dom"
)

var ErrInvalidID = errors.New("invalid task id")

const idAttr = "data-id"

// ResolveID finds the task id a control acts on: its own data-id, then the
// enclosing row's data-id, then the text of that row's first cell.
func ResolveID(el dom.Element) (string, bool) {
	if el == nil {
		return "", false
	}
	if v, ok := el.Attr(idAttr); ok && v != "" {
		return v, true
	}
	row := el.Closest("tr")
	if row == nil {
		return "", false
	}
	if v, ok := row.Attr(idAttr); ok && v != "" {
		return v, true
	}
	if cell := row.FirstCell(); cell != nil {
		if v := strings.TrimSpace(cell.Text()); v != "" {
			return v, true
		}
	}
	return "", false
}

// ValidateID rejects ids that must never reach a task endpoint: missing,
// empty, the placeholders "undefined" and "null", and negative numbers.
func ValidateID(id string, ok bool) error {
	s := strings.TrimSpace(id)
	if !ok || s == "" {
		return fmt.Errorf("%w: missing", ErrInvalidID)
	}
	if s == "undefined" || s == "null" {
		return fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil && n < 0 {
		return fmt.Errorf("%w: negative %s", ErrInvalidID, s)
	}
	return nil
}

// ValidateTaskID is ValidateID for ids held as integers.
func ValidateTaskID(id *int64) error {
	if id == nil {
		return ValidateID("", false)
	}
	return ValidateID(strconv.FormatInt(*id, 10), true)
}
