package compiler

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/merlin/internal/ir"
)

// DefaultHorizon is used when a plan does not set one.
const DefaultHorizon = 24 * ir.Hour

// CompilePlan parses a CUE value into a Plan.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value should be the plan struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`plan: { name: "demo", activities: [...] }`)
//	p, err := CompilePlan(v.LookupPath(cue.ParsePath("plan")))
//
// Activities are either a list of {id, type, start, args} structs or a
// struct keyed by id. Durations are strings ("90s", "1h30m") or integer
// microseconds.
func CompilePlan(v cue.Value) (*ir.Plan, error) {
	if !v.Exists() {
		return nil, &CompileError{Field: "plan", Message: "plan is required"}
	}
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	p := &ir.Plan{Horizon: DefaultHorizon, Config: ir.ValueMap{}}

	nameVal := v.LookupPath(cue.ParsePath("name"))
	if !nameVal.Exists() {
		return nil, &CompileError{Field: "name", Message: "name is required", Pos: v.Pos()}
	}
	name, err := nameVal.String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	p.Name = name

	if hv := v.LookupPath(cue.ParsePath("horizon")); hv.Exists() {
		if p.Horizon, err = parseDuration(hv, "horizon"); err != nil {
			return nil, err
		}
	}

	if cv := v.LookupPath(cue.ParsePath("config")); cv.Exists() {
		cfg, err := parseValue(cv, "config")
		if err != nil {
			return nil, err
		}
		m, ok := cfg.(ir.ValueMap)
		if !ok {
			return nil, &CompileError{Field: "config", Message: "config must be a struct", Pos: cv.Pos()}
		}
		p.Config = m
	}

	p.Activities, err = parseActivities(v.LookupPath(cue.ParsePath("activities")))
	if err != nil {
		return nil, err
	}
	return p, nil
}

// LoadPlanFile compiles the plan declared at the top-level "plan" field of
// a single CUE file.
func LoadPlanFile(path string) (*ir.Plan, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan file: %w", err)
	}
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(path))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return CompilePlan(v.LookupPath(cue.ParsePath("plan")))
}

func parseActivities(v cue.Value) ([]ir.ActivityDirective, error) {
	if !v.Exists() {
		return nil, nil
	}

	var dirs []ir.ActivityDirective
	switch v.IncompleteKind() {
	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for i := 0; iter.Next(); i++ {
			d, err := parseDirective(iter.Value(), fmt.Sprintf("activities[%d]", i), "")
			if err != nil {
				return nil, err
			}
			dirs = append(dirs, d)
		}
	case cue.StructKind:
		iter, err := v.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			d, err := parseDirective(iter.Value(), "activities."+iter.Selector().String(), iter.Label())
			if err != nil {
				return nil, err
			}
			dirs = append(dirs, d)
		}
	default:
		return nil, &CompileError{
			Field:   "activities",
			Message: "activities must be a list or a struct keyed by id",
			Pos:     v.Pos(),
		}
	}
	return dirs, nil
}

// parseDirective parses one activity. label is the struct key when
// activities are keyed by id; an explicit id field must agree with it.
func parseDirective(v cue.Value, field, label string) (ir.ActivityDirective, error) {
	d := ir.ActivityDirective{ID: label, Args: ir.ValueMap{}}

	if idVal := v.LookupPath(cue.ParsePath("id")); idVal.Exists() {
		id, err := idVal.String()
		if err != nil {
			return d, formatCUEError(err)
		}
		if label != "" && id != label {
			return d, &CompileError{
				Field:   field + ".id",
				Message: fmt.Sprintf("id %q does not match key %q", id, label),
				Pos:     idVal.Pos(),
			}
		}
		d.ID = id
	}
	if d.ID == "" {
		return d, &CompileError{Field: field + ".id", Message: "id is required", Pos: v.Pos()}
	}

	typeVal := v.LookupPath(cue.ParsePath("type"))
	if !typeVal.Exists() {
		return d, &CompileError{Field: field + ".type", Message: "type is required", Pos: v.Pos()}
	}
	typ, err := typeVal.String()
	if err != nil {
		return d, formatCUEError(err)
	}
	d.Type = typ

	if sv := v.LookupPath(cue.ParsePath("start")); sv.Exists() {
		if d.StartOffset, err = parseDuration(sv, field+".start"); err != nil {
			return d, err
		}
		if d.StartOffset.Negative() {
			return d, &CompileError{Field: field + ".start", Message: "start must not be negative", Pos: sv.Pos()}
		}
	}

	if av := v.LookupPath(cue.ParsePath("args")); av.Exists() {
		args, err := parseValue(av, field+".args")
		if err != nil {
			return d, err
		}
		m, ok := args.(ir.ValueMap)
		if !ok {
			return d, &CompileError{Field: field + ".args", Message: "args must be a struct", Pos: av.Pos()}
		}
		d.Args = m
	}
	return d, nil
}

func parseDuration(v cue.Value, field string) (ir.Duration, error) {
	if err := v.Err(); err != nil {
		return 0, formatCUEError(err)
	}
	switch v.IncompleteKind() {
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return 0, formatCUEError(err)
		}
		d, err := ir.ParseDuration(s)
		if err != nil {
			return 0, &CompileError{Field: field, Message: err.Error(), Pos: v.Pos()}
		}
		return d, nil
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return 0, formatCUEError(err)
		}
		return ir.Duration(n), nil
	default:
		return 0, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("expected duration string or integer microseconds, got %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}

// parseValue converts a concrete CUE value into an ir.Value.
// Floats are forbidden: simulated quantities are integers.
func parseValue(v cue.Value, field string) (ir.Value, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	if !v.IsConcrete() && v.IncompleteKind() != cue.StructKind && v.IncompleteKind() != cue.ListKind {
		return nil, &CompileError{Field: field, Message: "value must be concrete", Pos: v.Pos()}
	}

	switch v.IncompleteKind() {
	case cue.NullKind:
		return ir.Null{}, nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.Bool(b), nil
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.Int(n), nil
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.String(s), nil
	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		var out ir.List
		for i := 0; iter.Next(); i++ {
			elem, err := parseValue(iter.Value(), fmt.Sprintf("%s[%d]", field, i))
			if err != nil {
				return nil, err
			}
			out = append(out, elem)
		}
		if out == nil {
			out = ir.List{}
		}
		return out, nil
	case cue.StructKind:
		iter, err := v.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out := ir.ValueMap{}
		for iter.Next() {
			elem, err := parseValue(iter.Value(), field+"."+iter.Label())
			if err != nil {
				return nil, err
			}
			out[iter.Label()] = elem
		}
		return out, nil
	case cue.FloatKind, cue.NumberKind:
		return nil, &CompileError{
			Field:   field,
			Message: "float values are forbidden - use int instead",
			Pos:     v.Pos(),
		}
	default:
		return nil, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("unsupported value kind: %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}
