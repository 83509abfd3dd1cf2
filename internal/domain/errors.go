package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNetwork           = errors.New("network error")
	ErrPrecacheFailed    = errors.New("precache failed")
	ErrCacheNotFound     = errors.New("cache not found")
	ErrUnsupportedMethod = errors.New("request method is not cacheable")
	ErrQuotaExceeded     = errors.New("cache quota exceeded")
	ErrInvalidConfig     = errors.New("invalid worker config")
	ErrWorkerRedundant   = errors.New("worker is redundant")
)

// ErrFetchFailed はネットワーク取得の失敗を表す.
type ErrFetchFailed struct {
	URL string
	Err error
}

func (e *ErrFetchFailed) Error() string {
	return fmt.Sprintf("failed to fetch %s: %v", e.URL, e.Err)
}

func (e *ErrFetchFailed) Unwrap() error {
	return e.Err
}

// Is は ErrNetwork との比較を可能にする.
func (e *ErrFetchFailed) Is(target error) bool {
	return target == ErrNetwork
}
