// internal/projection/guard.go
package projection

// CheckVersion decides whether an update declaring version incoming may
// be applied to state at version current. Acceptance requires exactly
// current+1. The guard is a pure comparison: it does not buffer or
// reorder, it only tells the caller what the next acceptable version is.
func CheckVersion(kind string, current, incoming int) error {
	if incoming == current+1 {
		return nil
	}
	return &OutOfOrderError{Kind: kind, Expected: current + 1, Received: incoming}
}
