// Package layering deep-copies and overlays plain configuration values such as
// accumulator templates and exported documents.
package layering

import "reflect"

// Clone returns a deep copy of v. Maps, slices, arrays, pointers and exported
// struct fields are copied; other values are copied by assignment.
func Clone[T any](v T) T {
	var zero T
	cloned := cloneValue(reflect.ValueOf(v))
	if !cloned.IsValid() {
		return zero
	}
	return convert[T](cloned)
}

// Merge overlays layers ordered from strongest to weakest. Keys set by a
// stronger layer win; nested maps merge key by key; everything else is
// replaced wholesale. Inputs are never mutated.
func Merge[T any](layers ...T) T {
	var zero T
	if len(layers) == 0 {
		return zero
	}
	merged := cloneValue(reflect.ValueOf(layers[len(layers)-1]))
	for i := len(layers) - 2; i >= 0; i-- {
		merged = overlay(reflect.ValueOf(layers[i]), merged)
	}
	if !merged.IsValid() {
		return zero
	}
	return convert[T](merged)
}

func convert[T any](v reflect.Value) T {
	target := reflect.TypeFor[T]()
	if v.Type() == target {
		return v.Interface().(T)
	}
	out := reflect.New(target).Elem()
	out.Set(v.Convert(target))
	return out.Interface().(T)
}

func overlay(strong, weak reflect.Value) reflect.Value {
	if !strong.IsValid() {
		return cloneValue(weak)
	}
	if !weak.IsValid() {
		return cloneValue(strong)
	}

	switch strong.Kind() {
	case reflect.Interface:
		if strong.IsNil() {
			return cloneValue(weak)
		}
		if weak.Kind() == reflect.Interface {
			if weak.IsNil() {
				return cloneValue(strong)
			}
			weak = weak.Elem()
		}
		merged := overlay(strong.Elem(), weak)
		if merged.Type().AssignableTo(strong.Type()) {
			out := reflect.New(strong.Type()).Elem()
			out.Set(merged)
			return out
		}
		return cloneValue(strong)
	case reflect.Pointer:
		if strong.IsNil() {
			return cloneValue(weak)
		}
		if weak.Kind() != reflect.Pointer || weak.IsNil() || weak.Type() != strong.Type() {
			return cloneValue(strong)
		}
		out := reflect.New(strong.Type().Elem())
		out.Elem().Set(overlay(strong.Elem(), weak.Elem()))
		return out
	case reflect.Map:
		if strong.IsNil() {
			return cloneValue(weak)
		}
		if weak.Kind() == reflect.Interface && !weak.IsNil() {
			weak = weak.Elem()
		}
		if weak.Kind() != reflect.Map || weak.Type() != strong.Type() {
			return cloneValue(strong)
		}
		out := cloneValue(weak)
		iter := strong.MapRange()
		for iter.Next() {
			existing := out.MapIndex(iter.Key())
			if existing.IsValid() {
				out.SetMapIndex(iter.Key(), overlay(iter.Value(), existing))
				continue
			}
			out.SetMapIndex(iter.Key(), cloneValue(iter.Value()))
		}
		return out
	case reflect.Struct:
		if weak.Type() != strong.Type() {
			return cloneValue(strong)
		}
		out := reflect.New(strong.Type()).Elem()
		for i := range strong.NumField() {
			field := out.Field(i)
			if !field.CanSet() {
				continue
			}
			if strong.Field(i).IsZero() {
				field.Set(cloneValue(weak.Field(i)))
				continue
			}
			field.Set(overlay(strong.Field(i), weak.Field(i)))
		}
		return out
	default:
		return cloneValue(strong)
	}
}

func cloneValue(v reflect.Value) reflect.Value {
	if !v.IsValid() {
		return v
	}

	switch v.Kind() {
	case reflect.Pointer:
		if v.IsNil() {
			return reflect.Zero(v.Type())
		}
		out := reflect.New(v.Type().Elem())
		out.Elem().Set(cloneValue(v.Elem()))
		return out
	case reflect.Interface:
		if v.IsNil() {
			return reflect.Zero(v.Type())
		}
		out := reflect.New(v.Type()).Elem()
		out.Set(cloneValue(v.Elem()))
		return out
	case reflect.Map:
		if v.IsNil() {
			return reflect.Zero(v.Type())
		}
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), cloneValue(iter.Value()))
		}
		return out
	case reflect.Slice:
		if v.IsNil() {
			return reflect.Zero(v.Type())
		}
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := range v.Len() {
			out.Index(i).Set(cloneValue(v.Index(i)))
		}
		return out
	case reflect.Array:
		out := reflect.New(v.Type()).Elem()
		for i := range v.Len() {
			out.Index(i).Set(cloneValue(v.Index(i)))
		}
		return out
	case reflect.Struct:
		out := reflect.New(v.Type()).Elem()
		out.Set(v)
		for i := range v.NumField() {
			if field := out.Field(i); field.CanSet() {
				field.Set(cloneValue(v.Field(i)))
			}
		}
		return out
	default:
		out := reflect.New(v.Type()).Elem()
		out.Set(v)
		return out
	}
}
