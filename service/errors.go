package service

import (
	"errors"

	"github.com/zlnvch/doodleup/registry"
)

var (
	ErrUnauthorized           = errors.New("unauthorized")
	ErrInvalidArgument        = errors.New("invalid argument")
	ErrPersistenceUnavailable = errors.New("persistence unavailable")

	// ErrBoardNotFound is the registry's sentinel so errors.Is matches
	// either name.
	ErrBoardNotFound = registry.ErrBoardNotFound

	// ErrNotJoined marks events from connections that are not in the
	// board's presence set. Callers drop these silently.
	ErrNotJoined = errors.New("connection has not joined the board")
)
