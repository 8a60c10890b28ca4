package streamrouter

import (
	"errors"
	"fmt"

	"github.com/lrtsys/streamrouter/internal/routererr"
)

// Kind classifies a router error: Capacity, InvalidArgument, NotFound,
// PluginLoad, Fatal, or IpcUnavailable.
type Kind = routererr.Kind

const (
	Capacity        = routererr.Capacity
	InvalidArgument = routererr.InvalidArgument
	NotFound        = routererr.NotFound
	PluginLoad      = routererr.PluginLoad
	Fatal           = routererr.Fatal
	IpcUnavailable  = routererr.IpcUnavailable
)

// Error is the structured error every Router method returns: an
// operation name, a Kind, optional application/pattern context, and a
// wrapped cause. AppID/Pattern stand in for a block-device error's
// device/queue context.
type Error struct {
	Op      string
	Kind    Kind
	AppID   int // -1 if not applicable
	Pattern string
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("streamrouter: %s: %s", e.Op, e.Kind)
	if e.AppID >= 0 {
		msg += fmt.Sprintf(" app=%d", e.AppID)
	}
	if e.Pattern != "" {
		msg += fmt.Sprintf(" pattern=%s", e.Pattern)
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is compares by Kind, matching both another *Error and a bare
// routererr.Kind-carrying *routererr.Error from an internal package.
func (e *Error) Is(target error) bool {
	if te, ok := target.(*Error); ok {
		return e.Kind == te.Kind
	}
	return routererr.IsKind(target, e.Kind)
}

// wrapInternal converts an *routererr.Error surfaced by an internal
// package into the public *Error, attaching appID/pattern context when
// available. Any other error (none of the internal packages return
// anything else) passes through unwrapped under Fatal.
func wrapInternal(err error, appID int, pattern string) error {
	if err == nil {
		return nil
	}
	var re *routererr.Error
	if errors.As(err, &re) {
		return &Error{Op: re.Op, Kind: re.Kind, AppID: appID, Pattern: pattern, Err: re.Err}
	}
	return &Error{Op: "Router", Kind: Fatal, AppID: appID, Pattern: pattern, Err: err}
}

// IsKind reports whether err is a *Error (or wraps one) of the given
// Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return routererr.IsKind(err, kind)
}
