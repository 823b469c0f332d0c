package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/lunaria-app/lunaria/internal/offline/schema"
)

var dateParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// parseDate accepts YYYY-MM-DD or phrases like "yesterday" and
// "last friday", relative to now. Empty means today.
func parseDate(s string, now time.Time) (schema.Date, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "today") {
		return schema.DateOf(now), nil
	}
	if d, err := schema.ParseDate(s); err == nil {
		return d, nil
	}
	r, err := dateParser.Parse(s, now)
	if err != nil {
		return "", fmt.Errorf("invalid date %q: %w", s, err)
	}
	if r == nil {
		return "", fmt.Errorf("invalid date %q: use YYYY-MM-DD or a phrase like \"yesterday\"", s)
	}
	return schema.DateOf(r.Time), nil
}
