package provider

import "fmt"

// Guard runs fn and converts a panic into an error, so a misbehaving provider
// client degrades to a failed call.
func Guard[T any](op string, fn func() (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			v = zero
			err = fmt.Errorf("provider panicked during %s: %v", op, r)
		}
	}()
	return fn()
}
