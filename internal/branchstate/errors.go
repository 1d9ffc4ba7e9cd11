package branchstate

import "errors"

// ErrSessionAlreadyExists is raised by CreateSession when a session id is
// already persisted or live.
var ErrSessionAlreadyExists = errors.New("branchstate: session already exists")

// ErrBranchNotFound is raised when an operation names an unknown branch id.
var ErrBranchNotFound = errors.New("branchstate: branch not found")

// ErrBranchAlreadyDone is raised by AddQuestionToBranch against a branch
// whose status is already done.
var ErrBranchAlreadyDone = errors.New("branchstate: branch already done")

// ErrSessionNotFound is raised by operations that require an existing
// persisted session.
var ErrSessionNotFound = errors.New("branchstate: session not found")
