package relationships

import "errors"

var (
	// ErrMaxDepthExceeded is returned when a cascade goes deeper than allowed
	ErrMaxDepthExceeded = errors.New("maximum relationship depth exceeded")

	// ErrUnknownRelationship is returned when a field carries no relationship
	ErrUnknownRelationship = errors.New("unknown relationship")
)
