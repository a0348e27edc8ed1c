package feed

import "errors"

// ErrMissingTargetDate is returned by Render when a selected task definition
// has no target date to anchor its end event on. The whole feed generation
// fails rather than emitting a malformed entry.
var ErrMissingTargetDate = errors.New("task definition has no target date")
