// Package scheduler runs named maintenance jobs on cron, interval or daily
// schedules. Each run gets a timeout, and a trigger that fires while the
// previous run of the same job is still going is skipped.
package scheduler
