package redis

// Redis key naming conventions for renderq data.
// All keys are prefixed with "renderq:" to avoid collisions.

const keyPrefix = "renderq:"

// ── Job keys ──

// jobKey returns the key for a job document: renderq:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// stateKey returns the Set of job IDs in a state: renderq:state:{state}
func stateKey(state string) string { return keyPrefix + "state:" + state }

// seqKey is the counter handing out submission sequences.
const seqKey = keyPrefix + "seq"

// queuedKey is the Sorted Set of queued job IDs in dispatch order.
const queuedKey = keyPrefix + "queued"

// eligibleKey is the Sorted Set of queued job IDs scored by eligibility
// time in unix microseconds.
const eligibleKey = keyPrefix + "eligible"

// heartbeatKey is the Sorted Set of active job IDs scored by last
// heartbeat in unix microseconds.
const heartbeatKey = keyPrefix + "heartbeat"

// ── DLQ keys ──

// dlqKey returns the key for a DLQ entry document: renderq:dlq:{id}
func dlqKey(id string) string { return keyPrefix + "dlq:" + id }

// dlqIndexKey is the Sorted Set of DLQ entry IDs scored by failure time.
const dlqIndexKey = keyPrefix + "dlq_index"

// ── Subscription keys ──

// subKey returns the key for a webhook subscription: renderq:sub:{id}
func subKey(id string) string { return keyPrefix + "sub:" + id }

// subIndexKey is the Sorted Set of subscription IDs scored by creation time.
const subIndexKey = keyPrefix + "sub_index"
