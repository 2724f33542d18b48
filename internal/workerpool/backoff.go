package workerpool

import "time"

// backoffSchedule is the restart-delay progression: 250ms, 500ms, 1s, then
// capped at 5s for every subsequent attempt. The idiom (a small
// attempt-indexed schedule with a final cap) is reused from the reference's
// circuit breaker backoff timing; the three-state breaker model itself does
// not apply to a process-restart loop and is not reused here.
var backoffSchedule = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	1 * time.Second,
}

const backoffCap = 5 * time.Second

// backoffFor returns the restart delay for the given zero-indexed attempt
// number (0 = first restart after the initial failure).
func backoffFor(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt < len(backoffSchedule) {
		return backoffSchedule[attempt]
	}
	return backoffCap
}
