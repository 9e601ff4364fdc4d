package utils

import "fmt"

// OpError names the operation and the anomaly or knowledge item it failed on.
type OpError struct {
	Op      string
	Subject string
	Err     error
}

func (e *OpError) Error() string {
	if e.Subject == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Subject, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// WrapOp returns nil when err is nil, otherwise an *OpError.
func WrapOp(op, subject string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Subject: subject, Err: err}
}
