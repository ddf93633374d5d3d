package domain

import "errors"

// ErrInvalidSpec is returned when a script cannot be compiled.
var ErrInvalidSpec = errors.New("invalid script")

// ErrDuplicateNodeName is returned when two compiled nodes share a name.
var ErrDuplicateNodeName = errors.New("duplicate node name")

// ErrNodeNotFound is returned when a graph lookup misses.
var ErrNodeNotFound = errors.New("node not found")

// ErrBadState marks a persisted next node that no longer exists in the graph.
// The dispatcher recovers from it by restarting the user.
var ErrBadState = errors.New("bad persisted state")

// ErrUnboundedChain is reported when automatic transitions exceed the depth bound.
var ErrUnboundedChain = errors.New("unbounded automatic chain")

// ErrInvalidDelaySpec is returned for a delay that cannot be parsed.
var ErrInvalidDelaySpec = errors.New("invalid delay spec")

// ErrUserNotFound is returned when no user has the given identity.
var ErrUserNotFound = errors.New("user not found")

// ErrVisitNotFound is returned when a user has no visits or a visit ID is unknown.
var ErrVisitNotFound = errors.New("visit not found")
