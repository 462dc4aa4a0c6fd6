package browser

import (
	"context"
)

// CombineContext returns a context that carries the values of primary (for
// chromedp, the target connection) and is cancelled when either primary or
// secondary is done. secondary's deadline, if earlier, is applied as well.
// The returned cancel func must always be called.
func CombineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(primary)
	if deadline, ok := secondary.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		combined, cancelDeadline = context.WithDeadline(combined, deadline)
		parentCancel := cancel
		cancel = func() {
			cancelDeadline()
			parentCancel()
		}
	}

	stop := context.AfterFunc(secondary, cancel)
	return combined, func() {
		stop()
		cancel()
	}
}
