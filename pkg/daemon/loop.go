package daemon

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// pollIdleCheck is how often a disabled poll loop looks at the config again.
const pollIdleCheck = 10 * time.Second

// TimeSeriesRecorder records the last N status poll times.
type TimeSeriesRecorder struct {
	MaxRecordCount int
	// Interval is the expected gap between two records. A gap of more than
	// Interval+1s breaks a run of continuous records.
	Interval    time.Duration
	LastRecords []time.Time
	mu          *sync.Mutex
}

// NewTimeSeriesRecorder returns a new TimeSeriesRecorder.
func NewTimeSeriesRecorder(maxRecordCount int, interval time.Duration) *TimeSeriesRecorder {
	return &TimeSeriesRecorder{
		MaxRecordCount: maxRecordCount,
		Interval:       interval,
		LastRecords:    make([]time.Time, 0),
		mu:             &sync.Mutex{},
	}
}

// AddRecordNow adds a new record with the current time.
func (r *TimeSeriesRecorder) AddRecordNow() {
	r.AddRecord(time.Now())
}

// AddRecord adds a new record.
func (r *TimeSeriesRecorder) AddRecord(t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Strip monotonic clock reading.
	t = t.Round(0)

	if len(r.LastRecords) >= r.MaxRecordCount {
		r.LastRecords = r.LastRecords[1:]
	}
	r.LastRecords = append(r.LastRecords, t)
}

// SetInterval changes the expected gap, e.g. after a config reload.
func (r *TimeSeriesRecorder) SetInterval(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Interval = d
}

// GetRecordsIn returns the number of continuous records in the last duration.
func (r *TimeSeriesRecorder) GetRecordsIn(last time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	gap := r.Interval + time.Second

	// The last record must be within the last duration.
	if len(r.LastRecords) > 0 && time.Since(r.LastRecords[len(r.LastRecords)-1]) >= gap {
		return 0
	}

	count := 0
	for i := len(r.LastRecords) - 1; i >= 0; i-- {
		record := r.LastRecords[i]
		if time.Since(record) > last {
			break
		}

		theRecordAfter := record
		if i+1 < len(r.LastRecords) {
			theRecordAfter = r.LastRecords[i+1]
		}

		if theRecordAfter.Sub(record) >= gap {
			break
		}
		count++
	}

	return count
}

// GetLastRecord returns the newest record, or the zero time.
func (r *TimeSeriesRecorder) GetLastRecord() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.LastRecords) == 0 {
		return time.Time{}
	}
	return r.LastRecords[len(r.LastRecords)-1]
}

// pollLoop refreshes the session from the firmware every poll interval
// until ctx is done. A zero interval pauses polling.
func (s *server) pollLoop(ctx context.Context) error {
	logrus.Debug("poll loop starts")
	defer logrus.Debug("poll loop stopped")

	for {
		interval := s.conf.PollInterval()
		wait := interval
		if wait == 0 {
			wait = pollIdleCheck
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}

		if interval == 0 {
			continue
		}
		s.recorder.SetInterval(interval)
		s.pollOnce(ctx)
	}
}

func (s *server) pollOnce(ctx context.Context) {
	res, err := s.sess.Refresh(ctx)
	if err != nil {
		if ctx.Err() == nil {
			logrus.WithError(err).Warn("status poll failed")
		}
		return
	}
	s.recorder.AddRecordNow()

	v := s.sess.View()
	logrus.WithFields(logrus.Fields{
		"kind":        res.Kind,
		"applied":     res.Applied,
		"currentPage": v.CurrentPage,
		"position":    v.Position,
		"sourceMm":    v.Pair.Source,
	}).Debug("status polled")
}
