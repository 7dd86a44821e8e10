package block

import (
	"errors"
)

var (
	ErrDataNotFound          = errors.New("not found")
	ErrAlreadyExists         = errors.New("blob already exists")
	ErrOperationNotSupported = errors.New("operation not supported")
	ErrInvalidAddress        = errors.New("invalid repository address")
)
