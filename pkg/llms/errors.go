package llms

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind classifies gateway failures.
type Kind string

const (
	KindUnavailable         Kind = "unavailable"
	KindTimeout             Kind = "timeout"
	KindTransport           Kind = "transport"
	KindBadStructuredOutput Kind = "bad_structured_output"
	KindCancelled           Kind = "cancelled"
)

// Error is a classified gateway failure.
type Error struct {
	Kind     Kind
	Provider string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("llm %s: %s: %v", e.Provider, e.Kind, e.Err)
	}
	return fmt.Sprintf("llm %s: %s", e.Provider, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a failure kind.
func NewError(kind Kind, provider string, err error) *Error {
	return &Error{Kind: kind, Provider: provider, Err: err}
}

// KindOf extracts the failure kind from an error chain, or "" when the error
// is not a gateway error.
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return ""
}

// classify maps transport-level failures onto the gateway taxonomy,
// preferring context state over error sniffing.
func classify(ctx context.Context, provider string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return NewError(KindTimeout, provider, err)
	case errors.Is(err, context.Canceled):
		return NewError(KindCancelled, provider, err)
	}
	if ctx.Err() != nil {
		return classify(context.Background(), provider, ctx.Err())
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewError(KindTimeout, provider, err)
	}
	return NewError(KindTransport, provider, err)
}
