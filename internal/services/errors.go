package services

import (
	"errors"
	"fmt"
)

var (
	ErrValidation    = errors.New("validation failed")
	ErrNotFound      = errors.New("not found")
	ErrPartialDelete = errors.New("party delete incomplete")
	// ErrKeyReused is a validation failure: a client_request_id names a
	// different party, amount or direction than the entry first stored under it.
	ErrKeyReused = fmt.Errorf("%w: client_request_id reused", ErrValidation)
)
