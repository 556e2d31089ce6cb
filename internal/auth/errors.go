package auth

import "errors"

var (
	// ErrUnauthenticated means no strategy produced a principal.
	ErrUnauthenticated = errors.New("auth: unauthenticated")
	// ErrInvalidCredentials means the username/password pair did not match.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrRevokedOrUnknown means the presented token maps to no ledger node.
	ErrRevokedOrUnknown = errors.New("auth: token revoked or unknown")
	// ErrReplayDetected means an already-rotated refresh token was reused;
	// raising it deletes the entire credential family as a side effect.
	ErrReplayDetected = errors.New("auth: refresh token replay detected")
	// ErrTokenRotated means an access token whose issuing node is no longer
	// Active was presented.
	ErrTokenRotated = errors.New("auth: token already rotated")
	// ErrParentNotFound means the rotation parent vanished mid-transaction.
	ErrParentNotFound = errors.New("auth: parent credential not found")
	// ErrInsufficientCapability means the membership bitmask does not cover
	// the required capability.
	ErrInsufficientCapability = errors.New("auth: insufficient capability")
	// ErrResourceNotFound means the target item or project does not exist.
	ErrResourceNotFound = errors.New("auth: resource not found")
	// ErrNotFound is the generic store-level miss.
	ErrNotFound = errors.New("auth: not found")
	// ErrAlreadyExists signals a uniqueness conflict on create.
	ErrAlreadyExists = errors.New("auth: already exists")
	// ErrInvalidInput signals rejected arguments.
	ErrInvalidInput = errors.New("auth: invalid input")
)
