package queue

import "time"

// redeliveryDelay doubles per delivery starting at base and never exceeds max.
func redeliveryDelay(numDelivered uint64, base, max time.Duration) time.Duration {
	if numDelivered < 1 {
		numDelivered = 1
	}
	d := base
	for i := uint64(1); i < numDelivered; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	return min(d, max)
}
