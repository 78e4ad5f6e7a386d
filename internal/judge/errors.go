package judge

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedResponse matches any *MalformedResponseError.
	ErrMalformedResponse = errors.New("malformed judge response")

	// ErrRejectedOnReevaluation is wrapped by *DowngradeError.
	ErrRejectedOnReevaluation = errors.New("previously approved post rejected on re-evaluation")
)

// MalformedResponseError means the oracle replied but broke the output
// format. It is never retried.
type MalformedResponseError struct {
	Raw        string
	Reason     string
	CallHandle string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed judge response: %s", e.Reason)
}

func (e *MalformedResponseError) Is(target error) bool {
	return target == ErrMalformedResponse
}

// DowngradeError reports that re-evaluating an approved post produced a
// rejection. Result holds the new verdict; the caller decides whether to
// persist it.
type DowngradeError struct {
	Result *Result
}

func (e *DowngradeError) Error() string {
	return ErrRejectedOnReevaluation.Error()
}

func (e *DowngradeError) Unwrap() error {
	return ErrRejectedOnReevaluation
}
