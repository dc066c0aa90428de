package script

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"github.com/risor-io/risor/object"
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// toRisor converts a Go value into something risor.WithGlobals accepts.
// Funcs become builtins and maps holding funcs become modules, because the
// VM cannot convert reflect.Func values itself.
func toRisor(name string, v any) any {
	if v == nil {
		return nil
	}
	if _, ok := v.(object.Object); ok {
		return v
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Func:
		return wrapFunc(name, v)

	case reflect.Map:
		m, ok := v.(map[string]any)
		if !ok {
			return v
		}
		for _, val := range m {
			if val != nil && reflect.TypeOf(val).Kind() == reflect.Func {
				return newModule(name, m)
			}
		}
		converted := make(map[string]any, len(m))
		for k, val := range m {
			converted[k] = toRisor(k, val)
		}
		return converted

	default:
		return v
	}
}

// newModule exposes m as a risor module so scripts can write name.fn(...).
func newModule(name string, m map[string]any) *object.Module {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	contents := make(map[string]object.Object, len(m))
	for _, k := range keys {
		v := m[k]
		switch {
		case v == nil:
			contents[k] = object.Nil
		case reflect.TypeOf(v).Kind() == reflect.Func:
			contents[k] = wrapFunc(fmt.Sprintf("%s.%s", name, k), v)
		default:
			contents[k] = fromGo(v)
		}
	}
	return object.NewBuiltinsModule(name, contents)
}

// wrapFunc turns a Go function into a risor builtin. A trailing error
// result is raised in the script when non-nil.
func wrapFunc(name string, fn any) *object.Builtin {
	fnValue := reflect.ValueOf(fn)
	fnType := fnValue.Type()

	return object.NewBuiltin(name, func(ctx context.Context, args ...object.Object) object.Object {
		if !fnType.IsVariadic() && len(args) != fnType.NumIn() {
			return object.NewError(fmt.Errorf("%s: expected %d arguments, got %d", name, fnType.NumIn(), len(args)))
		}

		in := make([]reflect.Value, len(args))
		for i, arg := range args {
			goVal := toGo(arg)
			switch {
			case fnType.IsVariadic() && i >= fnType.NumIn()-1:
				in[i] = convertTo(goVal, fnType.In(fnType.NumIn()-1).Elem())
			case i < fnType.NumIn():
				in[i] = convertTo(goVal, fnType.In(i))
			default:
				in[i] = reflect.ValueOf(goVal)
			}
		}

		out := fnValue.Call(in)
		if len(out) == 0 {
			return object.Nil
		}

		last := len(out) - 1
		if fnType.Out(last).Implements(errorType) {
			if !out[last].IsNil() {
				return object.NewError(out[last].Interface().(error))
			}
			if last == 0 {
				return object.Nil
			}
		}
		return fromGo(out[0].Interface())
	})
}

func convertTo(val any, expected reflect.Type) reflect.Value {
	if val == nil {
		return reflect.Zero(expected)
	}
	actual := reflect.ValueOf(val)
	if actual.Type().AssignableTo(expected) {
		return actual
	}
	if actual.Type().ConvertibleTo(expected) {
		return actual.Convert(expected)
	}
	return actual
}

func fromGo(v any) object.Object {
	if v == nil {
		return object.Nil
	}
	if obj, ok := v.(object.Object); ok {
		return obj
	}
	obj := object.FromGoType(v)
	if obj == nil {
		return object.Nil
	}
	return obj
}

// toGo converts a risor object to a native Go value. Objects without a
// native form, such as functions and modules, are returned unchanged.
func toGo(obj object.Object) any {
	if obj == nil {
		return nil
	}

	switch o := obj.(type) {
	case *object.Map:
		m := make(map[string]any)
		for k, v := range o.Value() {
			m[k] = toGo(v)
		}
		return m
	case *object.List:
		items := o.Value()
		s := make([]any, len(items))
		for i, v := range items {
			s[i] = toGo(v)
		}
		return s
	case *object.NilType:
		return nil
	default:
		if v := obj.Interface(); v != nil {
			return v
		}
		return obj
	}
}
