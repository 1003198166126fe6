package moderation

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrItemNotFound   = fmt.Errorf("moderation item %w", ErrNotFound)
	ErrReportNotFound = fmt.Errorf("abuse report %w", ErrNotFound)

	// attempt to change the status of an item which already has a terminal status
	ErrAlreadyReviewed = errors.New("moderation item already reviewed")

	// role-gated content edit on an item which is no longer PENDING
	ErrStatusNotAllowed = errors.New("status does not allow modification")

	ErrValidation = errors.New("invalid request")

	// a call to the content service or user directory failed
	ErrUpstream = errors.New("upstream service error")
)
