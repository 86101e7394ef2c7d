package prosemirror

import "errors"

var (
	// ErrParse indicates the input is not valid JSON or does not match the node grammar.
	ErrParse = errors.New("parse error")
	// ErrValidation indicates the root node is not a doc.
	ErrValidation = errors.New("validation error")
	// ErrSerialization indicates the normalized tree could not be encoded.
	ErrSerialization = errors.New("serialization error")
	// ErrDepthExceeded indicates nesting beyond the configured MaxDepth.
	ErrDepthExceeded = errors.New("depth exceeded")
)
