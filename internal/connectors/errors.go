package connectors

import "fmt"

// Err is the typed error every connector call returns on failure. Per
// spec §7, ExternalFailure and Timeout from connector calls are never
// pipeline-fatal; callers check Err.Timeout rather than parsing messages.
type Err struct {
	Op      string
	Timeout bool
	Err     error
}

func (e *Err) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Err) Unwrap() error { return e.Err }

// ExternalErr wraps err as a connector ExternalFailure.
func ExternalErr(op string, err error) error {
	return &Err{Op: op, Err: err}
}

// TimeoutErr wraps err as a connector Timeout.
func TimeoutErr(op string, err error) error {
	return &Err{Op: op, Timeout: true, Err: err}
}
