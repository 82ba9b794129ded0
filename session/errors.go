package session

import "errors"

// Kind classifies a failure reported back to the requesting connection.
type Kind string

const (
	KindUnauthorized       Kind = "unauthorized"
	KindForbidden          Kind = "forbidden"
	KindNotFound           Kind = "not-found"
	KindConflict           Kind = "conflict"
	KindPreconditionFailed Kind = "precondition-failed"
	KindInvalidState       Kind = "invalid-state"
	KindInvalidArgument    Kind = "invalid-argument"
	KindInternal           Kind = "internal"
)

type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Err: errors.New(msg)}
}

var (
	ErrUnauthenticated = newError(KindUnauthorized, "login-required")
	ErrNotAdmin        = newError(KindForbidden, "not-room-admin")
	ErrNotMember       = newError(KindForbidden, "not-room-member")

	ErrRoomNotFound   = newError(KindNotFound, "room-not-found")
	ErrScriptNotFound = newError(KindNotFound, "script-not-found")

	ErrNameTaken            = newError(KindConflict, "room-name-taken")
	ErrAdminAlreadyOwnsRoom = newError(KindConflict, "admin-already-owns-room")
	ErrAlreadyLoggedIn      = newError(KindConflict, "already-logged-in")

	ErrNoScriptSelected = newError(KindPreconditionFailed, "no-script-selected")
	ErrIncompleteCast   = newError(KindPreconditionFailed, "incomplete-cast")
	ErrEmptyScript      = newError(KindPreconditionFailed, "script-has-no-lines")

	ErrSceneRunning = newError(KindInvalidState, "scene-already-running")

	ErrInvalidRoomName  = newError(KindInvalidArgument, "invalid-room-name")
	ErrInvalidIdentity  = newError(KindInvalidArgument, "invalid-identity")
	ErrMalformedMessage = newError(KindInvalidArgument, "malformed-message")
	ErrUnknownMessage   = newError(KindInvalidArgument, "unknown-message-type")
)

// KindOf returns the kind carried by err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
