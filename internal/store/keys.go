package store

import "time"

// QueueKey is the sorted-set holding every pending message: member = ID,
// score = due-time in milliseconds since the epoch.
const QueueKey = "msgq"

// Channel is the pub/sub channel carrying nextDueTime updates.
const Channel = "ndt"

// contentPrefix and lockPrefix namespace the per-message keys.
const (
	contentPrefix = "msg:"
	lockPrefix    = "lk:"
)

// ProcessingWindow is the TTL of a dispatch claim lock, and the basis for
// PROCESSING_RETRY_DELAY in the dispatch engine.
const ProcessingWindow = time.Second

func contentKey(id string) string { return contentPrefix + id }
func lockKey(id string) string    { return lockPrefix + id }
