package rtos

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/golang/glog"
)

// Task is a long running activity scheduled by Scheduler.
type Task interface {
	Run(context.Context) error
}

// Named is implemented by tasks with a name.
type Named interface {
	Name() string
}

// TaskFunc is the func form of Task.
type TaskFunc func(context.Context) error

// Run implements Task.
func (f TaskFunc) Run(ctx context.Context) error {
	return f(ctx)
}

type namedTask struct {
	Task
	name string
}

func (t *namedTask) Name() string {
	return t.name
}

// NamedTask wraps a Task with a name.
func NamedTask(name string, task Task) Task {
	return &namedTask{Task: task, name: name}
}

// Scheduler runs tasks and collects their errors.
type Scheduler struct {
	Context context.Context
	Tasks   []Task

	errCh  chan error
	exitCh chan struct{}
}

// NewScheduler creates a scheduler with a background context.
func NewScheduler() *Scheduler {
	return NewSchedulerWith(context.Background())
}

// NewSchedulerWith creates a scheduler with a specified context.
func NewSchedulerWith(ctx context.Context) *Scheduler {
	return &Scheduler{
		Context: ctx,
		errCh:   make(chan error, 1),
		exitCh:  make(chan struct{}),
	}
}

// HandleSignals cancels the tasks on SIGINT/SIGTERM, and forces exit
// on a second signal.
func (s *Scheduler) HandleSignals() *Scheduler {
	ctx, cancel := context.WithCancel(s.Context)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	s.Context = ctx
	go func() {
		<-sigCh
		glog.Info("stop requested")
		cancel()
		<-sigCh
		glog.Error("stop requested again, force exit")
		close(s.exitCh)
	}()
	return s
}

// Start spawns tasks.
func (s *Scheduler) Start(tasks ...Task) *Scheduler {
	for _, task := range tasks {
		name := strconv.Itoa(len(s.Tasks))
		if named, ok := task.(Named); ok {
			name = named.Name()
		}
		s.Tasks = append(s.Tasks, task)
		go func(task Task, name string) {
			glog.V(4).Infof("task[%s] started", name)
			err := task.Run(s.Context)
			glog.V(4).Infof("task[%s] stopped: %v", name, err)
			s.errCh <- err
		}(task, name)
	}
	return s
}

// Wait waits until all tasks stop and aggregates errors.
// Cancellation is not reported as an error.
func (s *Scheduler) Wait() error {
	var errs AggregatedError
	for range s.Tasks {
		select {
		case <-s.exitCh:
			return errors.New("forced exit")
		case err := <-s.errCh:
			if err != context.Canceled {
				errs.Add(err)
			}
		}
	}
	return errs.Aggregate()
}

// AggregatedError aggregates multiple errors.
type AggregatedError struct {
	Errors []error
}

// Error implements error.
func (e *AggregatedError) Error() string {
	if len(e.Errors) == 0 {
		return ""
	}
	msg := make([]string, len(e.Errors)+1)
	msg[0] = "Multiple errors:"
	for n, err := range e.Errors {
		msg[n+1] = err.Error()
	}
	return strings.Join(msg, "\n")
}

// Add adds errors to be aggregated. nil will be skipped.
func (e *AggregatedError) Add(errs ...error) *AggregatedError {
	for _, err := range errs {
		if err != nil {
			e.Errors = append(e.Errors, err)
		}
	}
	return e
}

// Aggregate returns aggregated error if any error happened.
func (e *AggregatedError) Aggregate() error {
	switch len(e.Errors) {
	case 0:
		return nil
	case 1:
		return e.Errors[0]
	}
	return e
}
