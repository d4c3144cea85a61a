package variable

import (
	"fmt"
	"reflect"
	"slices"
)

// Shape returns the shape of value. Scalars have an empty shape and every
// level of slice or array nesting adds one dimension. Ragged nesting is an
// error.
func Shape(value any) ([]int, error) {
	return shapeOf(reflect.ValueOf(value))
}

// NDim returns the number of dimensions of value.
func NDim(value any) (int, error) {
	shape, err := Shape(value)
	if err != nil {
		return 0, err
	}
	return len(shape), nil
}

func shapeOf(rv reflect.Value) ([]int, error) {
	for rv.IsValid() && (rv.Kind() == reflect.Interface || rv.Kind() == reflect.Pointer) {
		if rv.IsNil() {
			return []int{}, nil
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return []int{}, nil
	}

	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		n := rv.Len()
		if n == 0 {
			return []int{0}, nil
		}
		inner, err := shapeOf(rv.Index(0))
		if err != nil {
			return nil, err
		}
		for i := 1; i < n; i++ {
			s, err := shapeOf(rv.Index(i))
			if err != nil {
				return nil, err
			}
			if !slices.Equal(s, inner) {
				return nil, fmt.Errorf("ragged array: element %d has shape %v, expected %v", i, s, inner)
			}
		}
		return append([]int{n}, inner...), nil
	default:
		return []int{}, nil
	}
}

// MatchDims returns the accepted Dims whose length equals ndim. When
// several match, the last declared one wins.
func MatchDims(accepted []Dims, ndim int) (Dims, bool) {
	for i := len(accepted) - 1; i >= 0; i-- {
		if len(accepted[i]) == ndim {
			return accepted[i], true
		}
	}
	return nil, false
}
