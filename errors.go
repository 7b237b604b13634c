package canard

import "errors"

var (
	ErrInvalidArgument = errors.New("error in function arguments")
	ErrOutOfMemory     = errors.New("memory allocation failed")
)
