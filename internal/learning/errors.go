package learning

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrStructural marks a network that cannot be used as-is: missing
	// layers, mismatched shapes or a bad restore. It is fatal to the
	// operation that hit it.
	ErrStructural = errors.New("structural error")

	// ErrDivergence marks a non-finite loss, gradient or optimizer update.
	// The affected update is skipped; training may continue.
	ErrDivergence = errors.New("numeric divergence")
)

func structuralf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrStructural, fmt.Sprintf(format, args...))
}

func divergencef(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrDivergence, fmt.Sprintf(format, args...))
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func allFinite(s []float64) bool {
	for _, v := range s {
		if !isFinite(v) {
			return false
		}
	}
	return true
}
