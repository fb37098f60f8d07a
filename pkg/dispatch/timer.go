package dispatch

import (
	"context"
	"time"

	"github.com/golang/glog"
)

// Timer delivers a TimerCallback to Target every Period.
type Timer struct {
	ID     uint8
	Period time.Duration
	Target Consumer
}

// Run implements rtos.Task.
func (t *Timer) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.Period)
	defer ticker.Stop()
	var count uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fired := <-ticker.C:
			count++
			if err := t.Target.Deliver(&TimerCallback{ID: t.ID, Fired: fired, Count: count}); err != nil {
				glog.Warningf("timer %d callback %d dropped: %v", t.ID, count, err)
			}
		}
	}
}
