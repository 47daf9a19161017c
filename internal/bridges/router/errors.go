package router

import "errors"

// Domain-specific errors for the router bridge.
var (
	// ErrInvalidPayload is returned when a config or command message is not
	// valid JSON.
	ErrInvalidPayload = errors.New("router bridge: invalid payload")

	// ErrInvalidParameters is returned when command parameters are missing
	// or malformed.
	ErrInvalidParameters = errors.New("router bridge: invalid parameters")

	// ErrUnknownCommand is returned for unsupported commands.
	ErrUnknownCommand = errors.New("router bridge: unknown command")

	// ErrPersistFailed is returned when a runtime change was applied but
	// could not be saved.
	ErrPersistFailed = errors.New("router bridge: persisting settings failed")
)
