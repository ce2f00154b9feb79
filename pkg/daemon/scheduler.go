package daemon

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const preCheckMaxTimes = 3

// preCheckInterval is a var so tests can shorten it.
var preCheckInterval = time.Second * 10

// idleWait stands in for "never" while no schedule is set.
const idleWait = time.Hour * 10000

type NotifyFunc func(data any)

// TaskFunc represents a runnable task.
type TaskFunc func() error

// Scheduler runs Task on a cron schedule. It drives autosaves.
type Scheduler struct {
	OnError  NotifyFunc // called on task error
	Task     TaskFunc   // task callback
	PreCheck TaskFunc   // condition check, retried before giving up a run

	parser cron.Parser

	schedule cron.Schedule
	expr     string
	nextRun  time.Time

	mu      sync.Mutex
	running bool

	controlCh chan controlMsg
	stopCh    chan struct{}
}

type controlKind int

const (
	ctrlRecalculate controlKind = iota // schedule changed or cleared
	ctrlSkip                           // next run skipped
)

type controlMsg struct {
	kind controlKind
	data cron.Schedule
}

func NewScheduler(task, preCheck TaskFunc, onError NotifyFunc) *Scheduler {
	if task == nil {
		panic("task function cannot be nil")
	}

	return &Scheduler{
		OnError:   onError,
		Task:      task,
		PreCheck:  preCheck,
		parser:    cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		controlCh: make(chan controlMsg, 4),
		stopCh:    make(chan struct{}),
	}
}

func (s *Scheduler) Stop() {
	select {
	case <-s.stopCh: // already closed
	default:
		close(s.stopCh)
	}
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	go s.runScheduled()
}

// Schedule sets the cron expression. An empty expression disables the
// schedule.
func (s *Scheduler) Schedule(cronExpr string) error {
	cronExpr = strings.TrimSpace(cronExpr)

	var sh cron.Schedule
	if cronExpr != "" {
		var err error
		sh, err = s.parser.Parse(cronExpr)
		if err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.expr = cronExpr
	running := s.running
	if !running {
		s.setSchedule(sh)
	}
	s.mu.Unlock()

	if running {
		s.trySendControl(ctrlRecalculate, sh)
	}
	return nil
}

// setSchedule must be called with mu held.
func (s *Scheduler) setSchedule(sh cron.Schedule) {
	s.schedule = sh
	s.nextRun = time.Time{}
	if sh != nil {
		s.nextRun = sh.Next(time.Now())
	}
}

// Skip skips the next scheduled run.
func (s *Scheduler) Skip() error {
	s.mu.Lock()
	if s.schedule == nil || s.nextRun.IsZero() {
		s.mu.Unlock()
		return fmt.Errorf("no active schedule to skip")
	}
	s.nextRun = s.schedule.Next(s.nextRun)
	running := s.running
	s.mu.Unlock()

	if running {
		s.trySendControl(ctrlSkip, nil)
	}
	return nil
}

func (s *Scheduler) Status() (nextRun time.Time, running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nextRun = s.nextRun
	running = s.running
	return
}

// Expression returns the active cron expression, empty when disabled.
func (s *Scheduler) Expression() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expr
}

func (s *Scheduler) runScheduled() {
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		logrus.Debug("scheduler stopped")
	}()

	logrus.Debug("scheduler started")

	for {
		attempts := 0
		var precheckErr error

		schedule, nextRun := s.snapshot()
		wait := idleWait
		if schedule != nil && !nextRun.IsZero() {
			wait = max(time.Until(nextRun), 0)
		}
		timer := time.NewTimer(wait)

	loop:
		for {
			select {
			case <-timer.C:
				if schedule == nil || nextRun.IsZero() {
					break loop
				}

				logrus.Debugf("running scheduled task at %s", nextRun.Format(time.DateTime))

				if s.PreCheck != nil {
					if err := s.PreCheck(); err != nil {
						if precheckErr == nil || err.Error() != precheckErr.Error() {
							precheckErr = err
							s.sendError(fmt.Errorf("precheck failed: %v", err))
						}

						attempts++
						if attempts <= preCheckMaxTimes {
							logrus.Debugf("precheck failed (%d/%d): %v; retrying in %s", attempts, preCheckMaxTimes, err, preCheckInterval)
							timer.Reset(preCheckInterval)
							continue
						}

						s.advanceNextRun()
						break loop
					}
				}

				// Runs inline so two autosaves never overlap.
				if err := s.Task(); err != nil {
					s.sendError(fmt.Errorf("task failed: %v", err))
				}
				s.advanceNextRun()
				break loop
			case <-s.stopCh:
				timer.Stop()
				return
			case msg := <-s.controlCh:
				logrus.WithField("kind", msg.kind).Debug("received control msg")

				timer.Stop()
				if msg.kind == ctrlRecalculate {
					s.mu.Lock()
					s.setSchedule(msg.data)
					s.mu.Unlock()
				}
				break loop
			}
		}
	}
}

func (s *Scheduler) snapshot() (cron.Schedule, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schedule, s.nextRun
}

// advanceNextRun moves nextRun to the first run time after now.
func (s *Scheduler) advanceNextRun() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schedule == nil {
		return
	}
	now := time.Now()
	next := s.schedule.Next(s.nextRun)
	for !next.IsZero() && !next.After(now) {
		next = s.schedule.Next(next)
	}
	s.nextRun = next
}

func (s *Scheduler) sendError(err error) {
	if s.OnError == nil {
		return
	}

	go s.OnError(err)
}

func (s *Scheduler) trySendControl(kind controlKind, data cron.Schedule) {
	select {
	case s.controlCh <- controlMsg{kind: kind, data: data}:
	default:
	}
}
