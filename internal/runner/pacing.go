package runner

import (
	"math/rand"
	"time"

	"github.com/knusbaum/robby/internal/scenario"
)

// pickTask selects a task with probability weight/total. d must have passed
// Validate.
func pickTask(rnd *rand.Rand, d scenario.Descriptor) scenario.Action {
	tasks := d.Tasks
	n := rnd.Intn(d.TotalWeight())
	for _, t := range tasks {
		if n < t.Weight {
			return t.Action
		}
		n -= t.Weight
	}
	return tasks[len(tasks)-1].Action
}

// sampleWait draws a whole number of milliseconds from [min, max], both ends
// included. Bounds that are not whole milliseconds are rounded inward; if no
// whole millisecond fits, min is returned.
func sampleWait(rnd *rand.Rand, min, max time.Duration) time.Duration {
	lo := (min + time.Millisecond - 1) / time.Millisecond
	hi := max / time.Millisecond
	if hi < lo {
		return min
	}
	return (lo + time.Duration(rnd.Int63n(int64(hi-lo+1)))) * time.Millisecond
}
