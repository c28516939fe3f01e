// Package jsengine evaluates the JavaScript predicates used by readiness probes.
package jsengine

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/dop251/goja"

	"github.com/devicelab-dev/hap-runner/pkg/logger"
)

// Engine wraps a goja runtime with the helpers probe scripts rely on.
// It is safe for use by one probe at a time.
type Engine struct {
	mu      sync.Mutex
	runtime *goja.Runtime
}

// New creates an engine with console, json() and lines() installed.
func New() *Engine {
	e := &Engine{runtime: goja.New()}
	e.setupConsole()

	// json(str) parses a JSON string, e.g. the output of "hdc shell hidumper".
	e.runtime.Set("json", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 1 {
			panic(e.runtime.NewTypeError("json requires 1 argument"))
		}
		parse, _ := goja.AssertFunction(e.runtime.Get("JSON").ToObject(e.runtime).Get("parse"))
		res, err := parse(goja.Undefined(), call.Arguments[0])
		if err != nil {
			panic(e.runtime.NewTypeError(fmt.Sprintf("invalid JSON: %v", err)))
		}
		return res
	})

	// lines(str) splits command output into trimmed, non-empty lines.
	e.runtime.Set("lines", func(s string) []string {
		var out []string
		for _, l := range strings.Split(s, "\n") {
			if l = strings.TrimSpace(l); l != "" {
				out = append(out, l)
			}
		}
		return out
	})
	return e
}

// setupConsole routes console.log/warn/error to the run log.
func (e *Engine) setupConsole() {
	logTo := func(log func(string, ...interface{})) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, arg := range call.Arguments {
				parts[i] = fmt.Sprint(arg.Export())
			}
			log("js: %s", strings.Join(parts, " "))
			return goja.Undefined()
		}
	}

	console := e.runtime.NewObject()
	_ = console.Set("log", logTo(logger.Info))
	_ = console.Set("warn", logTo(logger.Warn))
	_ = console.Set("error", logTo(logger.Error))
	e.runtime.Set("console", console)
}

// SetVariables binds each value as a global.
func (e *Engine) SetVariables(vars map[string]interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for k, v := range vars {
		e.runtime.Set(k, v)
	}
}

// run evaluates script, interrupting it when ctx is done.
func (e *Engine) run(ctx context.Context, script string) (goja.Value, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		e.runtime.Interrupt(ctx.Err())
	})
	defer func() {
		stop()
		e.runtime.ClearInterrupt()
	}()

	v, err := e.runtime.RunString(script)
	if err != nil {
		return nil, fmt.Errorf("JS eval error: %w", err)
	}
	return v, nil
}

// Eval evaluates an expression and exports the result to Go.
func (e *Engine) Eval(ctx context.Context, script string) (interface{}, error) {
	v, err := e.run(ctx, script)
	if err != nil {
		return nil, err
	}
	return v.Export(), nil
}

// EvalBool evaluates script and converts the result with JavaScript
// truthiness rules.
func (e *Engine) EvalBool(ctx context.Context, script string) (bool, error) {
	v, err := e.run(ctx, script)
	if err != nil {
		return false, err
	}
	return v.ToBoolean(), nil
}

// ExpandVariables replaces each ${expr} in text with the value of expr.
// Expressions that fail to evaluate, and unmatched braces, are left as
// written.
func (e *Engine) ExpandVariables(ctx context.Context, text string) string {
	var b strings.Builder
	rest := text
	for {
		open := strings.Index(rest, "${")
		if open < 0 {
			b.WriteString(rest)
			return b.String()
		}
		end := closingBrace(rest, open+2)
		if end < 0 {
			b.WriteString(rest)
			return b.String()
		}

		b.WriteString(rest[:open])
		v, err := e.Eval(ctx, rest[open+2:end])
		switch {
		case err != nil:
			b.WriteString(rest[open : end+1])
		case v != nil:
			fmt.Fprint(&b, v)
		}
		rest = rest[end+1:]
	}
}

// closingBrace returns the index of the brace closing the expression that
// starts at from, or -1.
func closingBrace(s string, from int) int {
	depth := 1
	for i := from; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
