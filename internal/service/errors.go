package service

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrCheckoutInProgress     = errors.New("checkout already in progress")
	ErrNetworkFailure         = errors.New("no order could be placed")
	ErrPartialCheckoutFailure = errors.New("some orders could not be placed")
)

// LineFailure is the outcome of one rejected order request.
type LineFailure struct {
	ProductID  string `json:"product_id"`
	Quantity   int    `json:"quantity"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code,omitempty"`
	Err        error  `json:"-"`
}

// CheckoutError reports every line that failed in one checkout pass. It
// matches ErrNetworkFailure when nothing succeeded and
// ErrPartialCheckoutFailure otherwise.
type CheckoutError struct {
	Failures []LineFailure
	Partial  bool
}

func (e *CheckoutError) Error() string {
	msgs := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		msgs = append(msgs, fmt.Sprintf("%s: %s", f.ProductID, f.Message))
	}
	return fmt.Sprintf("%v: %s", e.Unwrap(), strings.Join(msgs, "; "))
}

func (e *CheckoutError) Unwrap() error {
	if e.Partial {
		return ErrPartialCheckoutFailure
	}
	return ErrNetworkFailure
}
