package errors

import "errors"

var (
	ErrClosed   = errors.New("closed")
	ErrMoved    = errors.New("ownership moved")
	ErrMismatch = errors.New("collective call mismatch")
)
