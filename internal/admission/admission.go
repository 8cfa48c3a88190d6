// Package admission gates job submission before anything is persisted or
// dispatched. Two independent controls apply: operators can pause a named
// queue, and each route class carries a sliding-window rate rule.
package admission

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Rule is a parsed rate expression such as "60/m": at most Limit admissions
// inside any window of Window length.
type Rule struct {
	Limit  int
	Window time.Duration
}

func (r Rule) String() string {
	switch r.Window {
	case time.Second:
		return fmt.Sprintf("%d/s", r.Limit)
	case time.Minute:
		return fmt.Sprintf("%d/m", r.Limit)
	case time.Hour:
		return fmt.Sprintf("%d/h", r.Limit)
	}
	return fmt.Sprintf("%d per %s", r.Limit, r.Window)
}

// ParseRule parses expressions of the form "<limit>/<unit>" where unit is
// one of s, m or h.
func ParseRule(expr string) (Rule, error) {
	parts := strings.SplitN(strings.TrimSpace(expr), "/", 2)
	if len(parts) != 2 {
		return Rule{}, fmt.Errorf("invalid rate rule %q", expr)
	}

	limit, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || limit <= 0 {
		return Rule{}, fmt.Errorf("invalid rate limit in rule %q", expr)
	}

	var window time.Duration
	switch strings.TrimSpace(parts[1]) {
	case "s":
		window = time.Second
	case "m":
		window = time.Minute
	case "h":
		window = time.Hour
	default:
		return Rule{}, fmt.Errorf("invalid rate window in rule %q", expr)
	}

	return Rule{Limit: limit, Window: window}, nil
}

// ParseRules parses a route-class to expression map as found in the
// configuration.
func ParseRules(exprs map[string]string) (map[string]Rule, error) {
	rules := make(map[string]Rule, len(exprs))
	for class, expr := range exprs {
		rule, err := ParseRule(expr)
		if err != nil {
			return nil, err
		}
		rules[class] = rule
	}
	return rules, nil
}

// Identity is the caller behind a submission. It widens the rate bucket
// key so one noisy client cannot drain the window for everyone else on the
// same route class.
type Identity struct {
	Addr   string
	UserID string
}

// BucketKey renders the window key for a class and identity. The rule
// itself stays keyed by class alone.
func BucketKey(class string, id Identity) string {
	user := id.UserID
	if user == "" {
		user = "-"
	}
	return class + ":" + id.Addr + ":" + user
}

// Controller is the admission state shared by all API instances.
type Controller interface {
	// Pause stops admission for a queue until Resume is called.
	Pause(ctx context.Context, queue string) error
	Resume(ctx context.Context, queue string) error
	IsPaused(ctx context.Context, queue string) (bool, error)
	PausedQueues(ctx context.Context) ([]string, error)

	// Allow records one admission attempt for the route class and identity
	// and reports whether it fits the class rule. A rejected attempt is not
	// recorded.
	Allow(ctx context.Context, class string, id Identity) (bool, error)
}
