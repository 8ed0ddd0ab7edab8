package gateway

import "errors"

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrTimeout            = errors.New("command timed out")
	ErrExecutionFailed    = errors.New("command failed")
	ErrValidationRejected = errors.New("command blocked by safety guard")
	ErrInvalidArgument    = errors.New("invalid argument")
)
