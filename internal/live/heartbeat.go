package live

import (
	"context"
	"time"
)

// startHeartbeat calls beat now and every interval until the returned stop
// func runs or ctx ends.
func startHeartbeat(ctx context.Context, interval time.Duration, beat func()) (stop func()) {
	if interval <= 0 || beat == nil {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		beat()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				beat()
			case <-ctx.Done():
				return
			}
		}
	}()
	return cancel
}
