package main

import (
	"errors"
	"os"

	"synkdocs/api/internal/config"
	"synkdocs/api/internal/prosemirror"
)

// Exit codes for synkfmt.
// Follows Unix conventions: 0=success, 1=general, 2=usage, and custom codes < 126.
const (
	ExitSuccess      = 0 // All inputs formatted or already canonical
	ExitGeneral      = 1 // General/unexpected error
	ExitUsage        = 2 // Invalid flags or profile
	ExitIO           = 3 // Input not readable, output not writable
	ExitInvalidDoc   = 4 // Input is not a well-formed document
	ExitNotCanonical = 5 // --check found an input that would change
)

var (
	ErrUsage        = errors.New("invalid usage")
	ErrReadInput    = errors.New("failed to read input")
	ErrWriteOutput  = errors.New("failed to write output")
	ErrNotCanonical = errors.New("document is not canonical")
)

// exitCodeFor returns the appropriate exit code for an error.
// It uses errors.Is to check wrapped errors, so callers must use fmt.Errorf("%w", err).
func exitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}

	if errors.Is(err, ErrNotCanonical) {
		return ExitNotCanonical
	}

	if errors.Is(err, prosemirror.ErrParse) ||
		errors.Is(err, prosemirror.ErrValidation) ||
		errors.Is(err, prosemirror.ErrDepthExceeded) {
		return ExitInvalidDoc
	}

	if errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, os.ErrPermission) ||
		errors.Is(err, ErrReadInput) ||
		errors.Is(err, ErrWriteOutput) {
		return ExitIO
	}

	if errors.Is(err, ErrUsage) ||
		errors.Is(err, config.ErrProfileNotFound) ||
		errors.Is(err, config.ErrProfileParse) {
		return ExitUsage
	}

	return ExitGeneral
}
