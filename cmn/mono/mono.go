// Package mono provides the monotonic clock source that every reference-time
// computation in HERMES is built on top of (see clock.Clock.ReferenceTime).
/*
 * Copyright (c) 2024, HERMES authors. All rights reserved.
 */
package mono

import "time"

var start = time.Now()

// NanoTime returns nanoseconds elapsed since process start, taken off the
// runtime's monotonic clock reading embedded in time.Time. It never goes
// backwards, unlike wall-clock time, which is why every local duration and
// deadline in HERMES is computed from it rather than from time.Now().Unix().
func NanoTime() int64 {
	return int64(time.Since(start))
}
