package error

import "errors"

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrInvalidImage    = errors.New("invalid PE image")
	ErrModuleNotFound  = errors.New("module not found")
	ErrUnsupported     = errors.New("operation not supported on this target")
	ErrNotAttached     = errors.New("process is not attached")
)
