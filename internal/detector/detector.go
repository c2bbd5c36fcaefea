package detector

import (
	"context"
	"strings"
)

// Detector is a strategy that determines if a managed process is running.
// Implementations may check a PID file, a PID number or a health endpoint.
// It must be safe for concurrent use.
type Detector interface {
	// Alive returns true if the process is detected as running.
	Alive(ctx context.Context) (bool, error)
	// Describe returns a human-readable description of the detection method.
	Describe() string
}

// Any reports whether at least one detector considers the process alive.
// Errors are returned only when no detector answered positively.
func Any(ctx context.Context, ds ...Detector) (bool, error) {
	var firstErr error
	for _, d := range ds {
		ok, err := d.Alive(ctx)
		if ok {
			return true, nil
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return false, firstErr
}

// AnyOf combines ds into one detector that is alive when any of them is.
func AnyOf(ds ...Detector) Detector { return anyOf(ds) }

type anyOf []Detector

func (a anyOf) Alive(ctx context.Context) (bool, error) { return Any(ctx, a...) }

func (a anyOf) Describe() string {
	parts := make([]string, len(a))
	for i, d := range a {
		parts[i] = d.Describe()
	}
	return strings.Join(parts, "|")
}
