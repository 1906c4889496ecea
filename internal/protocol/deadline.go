package protocol

import "time"

// deadlineFromNow bounds how long a connection handler blocks waiting
// for a complete frame before the idle connection is closed (spec §4.3:
// "Reading a framed request MUST NOT block indefinitely").
func deadlineFromNow() time.Time {
	return time.Now().Add(idleReadTimeout)
}
