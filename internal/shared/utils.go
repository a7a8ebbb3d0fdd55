// Package shared
package shared

import (
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

func ExtractAPIKey(c echo.Context) (string, error) {
	auth := c.Request().Header.Get("Authorization")
	if auth == "" {
		return "", ErrMissingAuth
	}

	parts := strings.Split(auth, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", ErrInvalidFormat
	}

	return parts[1], nil
}

// SplitTrimmed splits a comma separated parameter into trimmed tokens.
// An empty input yields nil so callers can distinguish absent parameters.
func SplitTrimmed(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

// ParseBool parses a form boolean, falling back to def when the value is
// absent or not parsable. Accepts the same spellings as strconv.ParseBool.
func ParseBool(s string, def bool) bool {
	if s == "" {
		return def
	}
	v, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return def
	}
	return v
}
