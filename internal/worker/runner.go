package worker

import "time"

// consumerGroupName and the per-process consumer name prefix used when
// joining the shared job.enqueued consumer group.
const consumerGroupName = "workers"

// stallPollInterval bounds how often the background reclaim loop checks
// for pending messages stuck past the configured stall interval.
const stallPollInterval = 30 * time.Second

// reclaimBatchSize caps how many stalled messages AutoClaim pulls per poll.
const reclaimBatchSize = 16
