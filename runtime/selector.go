package runtime

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Selector is a compiled extension filter.
//
//	config.port > 8000 && plugin == "org.example.web"
//	defined("tls.cert")
type Selector struct {
	source  string
	program *vm.Program
}

// CompileSelector compiles a boolean expr-lang predicate over extensions.
// The environment exposes id, name, plugin, extpoint and config.
func CompileSelector(expression string) (*Selector, error) {
	// NOTE: expr.Env must come before AllowUndefinedVariables
	program, err := expr.Compile(expression,
		expr.Env(selectorEnv(nil, map[string]any{})),
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	)
	if err != nil {
		return nil, WrapError(ErrorCodeInvalidObject, err, "invalid selector %q", expression)
	}
	return &Selector{source: expression, program: program}, nil
}

func (s *Selector) String() string {
	return s.source
}

// Match evaluates the selector against ext.
func (s *Selector) Match(ext *Extension) (bool, error) {
	out, err := expr.Run(s.program, selectorEnv(ext, typedValues(ext.ConfigMap())))
	if err != nil {
		return false, fmt.Errorf("selector %q on %s: %w", s.source, ext.ID(), err)
	}
	match, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("selector %q on %s: result is %T, not bool", s.source, ext.ID(), out)
	}
	return match, nil
}

func selectorEnv(ext *Extension, config map[string]any) map[string]any {
	env := map[string]any{
		"id":       "",
		"name":     "",
		"extpoint": "",
		"plugin":   "",
		"config":   config,
		"null":     nil,
		// defined checks a dotted config path, distinguishing missing from empty
		"defined": func(path string) bool {
			return lookupPath(config, path)
		},
	}
	if ext == nil {
		return env
	}

	env["id"] = ext.ID()
	env["name"] = ext.Name
	env["extpoint"] = ext.ExtPointID
	if p := ext.Plugin(); p != nil {
		env["plugin"] = p.ID()
	}
	return env
}

func lookupPath(m map[string]any, path string) bool {
	var cur any = m
	for _, name := range strings.Split(path, ".") {
		node, ok := cur.(map[string]any)
		if !ok {
			return false
		}
		if cur, ok = node[name]; !ok {
			return false
		}
	}
	return true
}

// SelectExtensions returns the extensions of extptID matching expression.
// An empty expression matches everything.
func (c *Context) SelectExtensions(extptID, expression string) ([]*Extension, error) {
	exts := c.QueryExtensions(extptID)
	if strings.TrimSpace(expression) == "" {
		return exts, nil
	}

	sel, err := CompileSelector(expression)
	if err != nil {
		return nil, err
	}

	var result []*Extension
	for _, ext := range exts {
		ok, err := sel.Match(ext)
		if err != nil {
			return nil, err
		}
		if ok {
			result = append(result, ext)
		}
	}
	return result, nil
}
