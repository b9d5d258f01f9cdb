package missionmodel

import (
	"fmt"

	"github.com/roach88/merlin/internal/ir"
)

// DurationArg reads a duration argument. Strings are parsed with
// ir.ParseDuration ("90s", "5m"); integers are microseconds.
func DurationArg(args ir.ValueMap, key string, def ir.Duration) (ir.Duration, error) {
	v, ok := args[key]
	if !ok {
		return def, nil
	}
	switch val := v.(type) {
	case ir.String:
		d, err := ir.ParseDuration(string(val))
		if err != nil {
			return 0, fmt.Errorf("argument %q: %w", key, err)
		}
		return d, nil
	case ir.Int:
		return ir.Duration(val), nil
	default:
		return 0, fmt.Errorf("argument %q: expected duration, got %T", key, v)
	}
}

// ArgCheck collects argument problems for one directive.
type ArgCheck struct {
	args ir.ValueMap
	errs []ValidationError
}

// CheckArgs starts validating args.
func CheckArgs(args ir.ValueMap) *ArgCheck {
	return &ArgCheck{args: args}
}

// Int requires key, if present, to be an integer no less than min.
func (c *ArgCheck) Int(key string, min int64) *ArgCheck {
	n, err := c.args.Int(key, min)
	switch {
	case err != nil:
		c.fail(key, err.Error())
	case n < min:
		c.fail(key, fmt.Sprintf("must be at least %d, got %d", min, n))
	}
	return c
}

// Duration requires key, if present, to be a non-negative duration.
func (c *ArgCheck) Duration(key string) *ArgCheck {
	d, err := DurationArg(c.args, key, 0)
	switch {
	case err != nil:
		c.fail(key, err.Error())
	case d.Negative():
		c.fail(key, fmt.Sprintf("must not be negative, got %s", d))
	}
	return c
}

// Only rejects keys outside known.
func (c *ArgCheck) Only(known ...string) *ArgCheck {
	allowed := make(map[string]bool, len(known))
	for _, k := range known {
		allowed[k] = true
	}
	for _, k := range c.args.SortedKeys() {
		if !allowed[k] {
			c.fail(k, "unknown argument")
		}
	}
	return c
}

// Errors returns the problems found.
func (c *ArgCheck) Errors() []ValidationError {
	return c.errs
}

func (c *ArgCheck) fail(key, msg string) {
	c.errs = append(c.errs, ValidationError{Field: "args." + key, Message: msg, Code: ErrInvalidArgument})
}
