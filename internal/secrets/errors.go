package secrets

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrAppNotFound     = fmt.Errorf("app %w", ErrNotFound)
	ErrStoreIDNotFound = fmt.Errorf("store id %w", ErrNotFound)
	ErrTopicNotFound   = fmt.Errorf("topic %w", ErrNotFound)

	// ErrUpstreamOperationFailed means the remote call failed after the
	// payment for it settled.
	ErrUpstreamOperationFailed = errors.New("upstream operation failed")
)
