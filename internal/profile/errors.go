package profile

import "errors"

var (
	// ErrNotFound is returned when no profile matches the ID or name.
	ErrNotFound = errors.New("profile not found")

	// ErrInvalidProfile is returned when validation fails.
	ErrInvalidProfile = errors.New("invalid profile")

	// ErrExists is returned when a profile name or ID is already taken.
	ErrExists = errors.New("profile already exists")

	// ErrNoActive is returned by GetActive when no profile is active.
	ErrNoActive = errors.New("no active profile")
)
