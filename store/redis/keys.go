package redisstore

// Redis key naming conventions for stoker data.
// All keys are prefixed with "stoker:" to avoid collisions.

const keyPrefix = "stoker:"

// jobKeyPrefix is the hash key prefix for job records: stoker:job:{id}
const jobKeyPrefix = keyPrefix + "job:"

// jobKey returns the hash key for one job record.
func jobKey(id string) string { return jobKeyPrefix + id }

// jobsKey is the Sorted Set of all job IDs scored by enqueue time, for
// enumeration in enqueue order.
const jobsKey = keyPrefix + "jobs"

// queueKey is the Sorted Set of QUEUED job IDs scored by enqueue time.
// Claiming pops the lowest scores, giving oldest-first execution.
const queueKey = keyPrefix + "queue"
