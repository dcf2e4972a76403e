// Package mysqlerr defines the error taxonomy the driver surfaces to
// callers: the seven categories of failure a channel or pool can report,
// normalized to single Go types so callers can branch with errors.As
// instead of string matching.
package mysqlerr

import (
	"errors"
	"fmt"
)

// Category identifies which of the seven failure classes an error belongs to.
type Category int

const (
	// CategoryInvalidArgument marks a programmer error at a call boundary —
	// a nil command, an empty host, a non-positive pool size. Never logged as a
	// server fault. Replaces the source's split between NullPointerException
	// and IllegalArgumentException with one category.
	CategoryInvalidArgument Category = iota
	// CategorySocketBuild marks a connect-time failure. Fatal for the channel.
	CategorySocketBuild
	// CategoryMalformedPacket marks a protocol decoding failure. Fatal for the channel.
	CategoryMalformedPacket
	// CategoryServerError marks an ERR_Packet. Delivered to the owning
	// command as a result; the channel stays healthy.
	CategoryServerError
	// CategoryTimeout marks a command that exceeded its deadline.
	CategoryTimeout
	// CategoryClosedState marks a submit/await against an already-closed channel or command.
	CategoryClosedState
	// CategoryUnexpected marks any other failure inside the I/O worker. Fatal for the channel.
	CategoryUnexpected
)

func (c Category) String() string {
	switch c {
	case CategoryInvalidArgument:
		return "invalid_argument"
	case CategorySocketBuild:
		return "socket_build"
	case CategoryMalformedPacket:
		return "malformed_packet"
	case CategoryServerError:
		return "server_error"
	case CategoryTimeout:
		return "timeout"
	case CategoryClosedState:
		return "closed_state"
	case CategoryUnexpected:
		return "unexpected"
	default:
		return "unknown"
	}
}

// Error is the concrete error type every category above wraps into.
type Error struct {
	Category Category
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("mysqlwire: %s: %s: %v", e.Category, e.Message, e.Err)
	}
	return fmt.Sprintf("mysqlwire: %s: %s", e.Category, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, mysqlerr.ErrTimeout) match any *Error in the same category.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Category == t.Category
}

func new_(cat Category, msg string, err error) *Error {
	return &Error{Category: cat, Message: msg, Err: err}
}

// InvalidArgument builds a CategoryInvalidArgument error.
func InvalidArgument(msg string) *Error { return new_(CategoryInvalidArgument, msg, nil) }

// SocketBuild wraps a connect-time failure.
func SocketBuild(msg string, err error) *Error { return new_(CategorySocketBuild, msg, err) }

// MalformedPacket wraps a protocol decode failure.
func MalformedPacket(msg string) *Error { return new_(CategoryMalformedPacket, msg, nil) }

// Timeout builds a CategoryTimeout error.
func Timeout(msg string) *Error { return new_(CategoryTimeout, msg, nil) }

// ClosedState builds a CategoryClosedState error.
func ClosedState(msg string) *Error { return new_(CategoryClosedState, msg, nil) }

// Unexpected wraps an error the I/O worker did not anticipate.
func Unexpected(msg string, err error) *Error { return new_(CategoryUnexpected, msg, err) }

// ServerError carries a parsed MySQL ERR_Packet.
type ServerError struct {
	Code     uint16
	SQLState string
	Message  string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("mysqlwire: server error %d (%s): %s", e.Code, e.SQLState, e.Message)
}

// CategoryName reports CategoryServerError's name, so a *ServerError
// classifies under the same label set as an *Error (see CategoryOf).
func (e *ServerError) CategoryName() string { return CategoryServerError.String() }

// Sentinel instances for errors.Is comparisons against a category without
// needing a constructed message, e.g. errors.Is(err, mysqlerr.ErrTimeout).
var (
	ErrTimeout      = &Error{Category: CategoryTimeout}
	ErrClosedState  = &Error{Category: CategoryClosedState}
	ErrUnexpected   = &Error{Category: CategoryUnexpected}
	ErrSocketBuild  = &Error{Category: CategorySocketBuild}
	ErrMalformed    = &Error{Category: CategoryMalformedPacket}
	ErrInvalidArg   = &Error{Category: CategoryInvalidArgument}
)

// IsTimeout reports whether err is a CategoryTimeout error.
func IsTimeout(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Category == CategoryTimeout
}

// IsClosedState reports whether err is a CategoryClosedState error.
func IsClosedState(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Category == CategoryClosedState
}

// CategoryOf classifies err for metrics labeling: "success" for a nil
// error, a *ServerError's or *Error's own category name otherwise, and
// "unknown" for an error type this package did not produce.
func CategoryOf(err error) string {
	if err == nil {
		return "success"
	}
	var srvErr *ServerError
	if errors.As(err, &srvErr) {
		return srvErr.CategoryName()
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Category.String()
	}
	return "unknown"
}
