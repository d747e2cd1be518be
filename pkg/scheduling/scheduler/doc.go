/*
Package scheduler runs tasks at a fixed time, at a fixed interval or on a cron
schedule, on top of a taskq queue.

Each occurrence is a delayed dispatch: the scheduler arms it with
Queue.DispatchDelay and, when it fires, arms the following occurrence before
running the task. Cancelling a task cancels its armed occurrence on the queue,
so no polling loop is involved.

Basic Usage:

	s, err := scheduler.New()
	if err != nil {
		return err
	}
	defer func() { <-s.Stop() }()

	s.Start()

	task := func(ctx context.Context, arg any) error {
		fmt.Println("running", arg) // arg is the task ID
		return nil
	}

	// Schedule a one-time task
	s.Schedule("report", task, time.Now().Add(time.Second))

	// Schedule a repeating task, first run immediately
	s.ScheduleRepeating("heartbeat", task, 30*time.Second)

	// Schedule on a cron expression (with seconds)
	s.ScheduleCron("cleanup", "0 0 3 * * *", task)

Queues:

By default the scheduler creates its own four-worker queue named "scheduler"
and destroys it on Stop. Pass Config.Queue to share an existing queue, for
example the process-wide system queue:

	s, err := scheduler.NewWithConfig(scheduler.Config{
		Queue:    system.DelayQueue(),
		Location: time.UTC,
	})

Cron Options:

	s.ScheduleCronWithOptions("sync", "@every 1m", task, scheduler.CronOptions{
		MaxRuns:            10,
		StopOnError:        true,
		SkipIfStillRunning: true,
		OnError: func(t scheduler.Task, err error) {
			log.Printf("%s failed after %d runs: %v", t.ID, t.Runs, err)
		},
	})

Task Management:

	next, err := s.Next("report")
	tasks := s.List() // sorted by next run
	s.Cancel("heartbeat")
	s.CancelAll()

Tasks registered before Start are armed when Start is called. Stop cancels
every task and cannot be undone.
*/
package scheduler
