package sendjob

import "errors"

// Sentinel errors for the send-job service layer.
var (
	ErrNoQueuedJob     = errors.New("no queued send job")
	ErrActiveJobExists = errors.New("project already has an active send job")
	ErrLeaseLost       = errors.New("send job is no longer running on this worker")
	ErrProjectNotFound = errors.New("project not found")
)
