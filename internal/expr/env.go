// Package expr compiles the CEL predicates used to mute alert creation. A
// mute expression sees the latest snapshot's headline numbers and yields a
// boolean; true suppresses new alerts for the configured metric type.
package expr

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
)

// Environment builds and compiles CEL programs against snapshot-derived variables.
type Environment struct {
	env *cel.Env
}

// NewEnvironment declares the CEL variables exposed to mute conditions.
func NewEnvironment() (*Environment, error) {
	env, err := cel.NewEnv(
		cel.Variable("cpu", cel.DoubleType),
		cel.Variable("memory", cel.DoubleType),
		cel.Variable("response_time", cel.DoubleType),
		cel.Variable("error_rate", cel.DoubleType),
		cel.Variable("connections", cel.DoubleType),
		cel.Variable("now", cel.TimestampType),
	)
	if err != nil {
		return nil, fmt.Errorf("expr: build environment: %w", err)
	}
	return &Environment{env: env}, nil
}

// Program wraps a compiled CEL program that yields a boolean result.
type Program struct {
	source  string
	program cel.Program
}

// Compile prepares the program for execution, ensuring the expression yields a boolean.
func (e *Environment) Compile(expression string) (Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return Program{}, fmt.Errorf("expr: compile %q: %w", expression, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return Program{}, fmt.Errorf("expr: expression %q must return a boolean, got %s", expression, ast.OutputType())
	}
	program, err := e.env.Program(ast)
	if err != nil {
		return Program{}, fmt.Errorf("expr: program %q: %w", expression, err)
	}
	return Program{source: expression, program: program}, nil
}

// Source returns the original expression text for logging.
func (p Program) Source() string { return p.source }

// EvalBool executes the program against the provided activation and coerces the result to bool.
func (p Program) EvalBool(vars map[string]any) (bool, error) {
	if p.program == nil {
		return false, fmt.Errorf("expr: program not initialized")
	}
	val, _, err := p.program.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("expr: eval %q: %w", p.source, err)
	}
	if b, ok := val.(types.Bool); ok {
		return bool(b), nil
	}
	return false, fmt.Errorf("expr: eval %q: non-boolean result %v", p.source, val)
}
