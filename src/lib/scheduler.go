package lib

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// NewScheduler builds the sweep scheduler. With a locker, each run of a job
// executes on at most one instance.
func NewScheduler(locker gocron.Locker) (gocron.Scheduler, error) {
	opts := []gocron.SchedulerOption{gocron.WithLocation(time.UTC)}
	if locker != nil {
		opts = append(opts, gocron.WithDistributedLocker(locker))
	}
	sched, err := gocron.NewScheduler(opts...)
	if err != nil {
		log.Printf("Error initializing Scheduler: %s\n", err.Error())
		return nil, err
	}
	return sched, nil
}

// SweepFunc performs one idempotent pass and reports how many items it touched.
type SweepFunc func(ctx context.Context) (int, error)

func CreateCronJob(sched gocron.Scheduler, name string, every time.Duration, sweep SweepFunc) (*string, error) {
	j, err := sched.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(func() {
			RunSweep(name, every, sweep)
		}),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		log.Printf("Error creating job %s: %s\n", name, err.Error())
		return nil, err
	}
	id := j.ID().String()
	return &id, nil
}

// RunSweep executes a sweep bounded by its interval.
func RunSweep(name string, every time.Duration, sweep SweepFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), every)
	defer cancel()
	n, err := sweep(ctx)
	if err != nil {
		log.Printf("[%s] sweep error after %d items: %s\n", name, n, err.Error())
		return
	}
	if n > 0 {
		log.Printf("[%s] processed %d items\n", name, n)
	}
}
