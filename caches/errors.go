package caches

import (
	"errors"
	"fmt"
)

type ValidationError struct {
	Reason string
}

func (ve ValidationError) Error() string {
	return fmt.Sprintf("creation of cache failed for reason : %s", ve.Reason)
}

var (
	// ErrValidation is matched by every ValidationError through errors.Is.
	ErrValidation = errors.New("cache validation failed")

	ErrCacheItemExpired = errors.New("cache item expired")
	ErrNoCacheItem      = errors.New("no value found in cache")
)

func (ve ValidationError) Is(target error) bool {
	return target == ErrValidation
}
