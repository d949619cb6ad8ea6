package core

import "time"

// Worker is a unit of scheduled work run by the Orchestrator.
// Schedule is a cron spec; Ready is consulted on every tick and Execute only
// runs when it returns true.
type Worker interface {
	Schedule() string
	Ready(now time.Time) bool
	Execute()
}
