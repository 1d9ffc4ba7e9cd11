package session

import "errors"

// ErrSessionNotFound is raised by operations that require an existing
// session but were given an unknown session id.
var ErrSessionNotFound = errors.New("session: session not found")

// ErrBrowserOpenFailed is raised by StartSession when the platform browser
// launcher fails; the caller rolls the session back entirely.
var ErrBrowserOpenFailed = errors.New("session: failed to open browser")

// ErrIDCollision names a freshly minted id that already exists. Store does
// not return it: it regenerates session and question ids until one is unused.
var ErrIDCollision = errors.New("session: id collision, retry")
