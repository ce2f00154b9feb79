package session

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tvalice/tvroll/pkg/calibration"
	"github.com/tvalice/tvroll/pkg/channel"
	"github.com/tvalice/tvroll/pkg/events"
	"github.com/tvalice/tvroll/pkg/kinematics"
	"github.com/tvalice/tvroll/pkg/protocol"
)

// RefreshResult is the outcome of Refresh. Applied is false for a partial
// report, which never changes the local view.
type RefreshResult struct {
	Kind     string            `json:"kind"`
	Applied  bool              `json:"applied"`
	Snapshot protocol.Snapshot `json:"snapshot"`
	Ignored  int               `json:"ignored"`
	Response channel.Response  `json:"response"`
}

// Refresh asks the firmware for its status and adopts its map and position
// when the report is complete.
func (s *Session) Refresh(ctx context.Context) (RefreshResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refresh(ctx)
}

func (s *Session) refresh(ctx context.Context) (RefreshResult, error) {
	resp, err := s.exchange(ctx, protocol.Status())
	if err != nil {
		return RefreshResult{}, err
	}

	parsed, err := protocol.ParseLines(resp.Lines)
	if err != nil {
		s.stale = true
		return RefreshResult{Response: resp}, err
	}

	res := RefreshResult{
		Kind:     parsed.Kind.String(),
		Snapshot: parsed.Snapshot,
		Ignored:  parsed.Ignored,
		Response: resp,
	}
	if parsed.Kind != protocol.Complete {
		logrus.WithField("lines", len(resp.Lines)).Debug("partial status report, keeping local state")
		s.stale = true
		return res, nil
	}

	from := s.cal.CurrentPage()
	position := s.cal.Position()
	if parsed.Snapshot.HasAccumulated {
		position = parsed.Snapshot.AccumulatedSteps
	}
	if s.hostMap {
		s.cal.SetPosition(position)
	} else if err := s.cal.Replace(parsed.Snapshot.Entries, position); err != nil {
		s.stale = true
		return res, err
	}
	s.stale = false
	s.absorb(resp.Lines)
	s.lastRefresh = s.opts.Now()
	res.Applied = true

	s.publish(events.StatusRefreshed, events.StatusRefreshedEvent{
		Kind:        res.Kind,
		CurrentPage: s.cal.CurrentPage(),
		Position:    s.cal.Position(),
		Ts:          s.ts(),
	})
	if to := s.cal.CurrentPage(); to != from {
		s.publish(events.PageChanged, events.PageChangedEvent{From: from, To: to, Ts: s.ts()})
	}
	return res, nil
}

// Reset zeroes the position on the firmware and returns the local split to
// its initial value. Page entries are kept.
func (s *Session) Reset(ctx context.Context) (channel.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp, err := s.exchange(ctx, protocol.Reset())
	if err != nil {
		return resp, err
	}
	from := s.cal.CurrentPage()
	s.cal.Reset()
	s.pair = s.transport.Reset()
	s.moved(from, kinematics.Move{})
	return resp, nil
}

// Save stores the firmware map in its non-volatile memory and returns the
// local map as a document for the caller to persist.
func (s *Session) Save(ctx context.Context) (calibration.Document, channel.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp, err := s.exchange(ctx, protocol.Save())
	if err != nil {
		return calibration.Document{}, resp, err
	}
	return s.cal.Export(s.opts.Now()), resp, nil
}

// LoadFirmware restores the map saved in the firmware and refreshes.
func (s *Session) LoadFirmware(ctx context.Context) (RefreshResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.exchange(ctx, protocol.Load()); err != nil {
		return RefreshResult{}, err
	}
	s.hostMap = false
	res, err := s.refresh(ctx)
	if err != nil {
		return res, err
	}
	s.replaced("firmware")
	return res, nil
}

// Clear removes every page on the firmware and locally.
func (s *Session) Clear(ctx context.Context) (channel.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp, err := s.exchange(ctx, protocol.Clear())
	if err != nil {
		return resp, err
	}
	s.cal.Clear()
	s.hostMap = false
	s.replaced("clear")
	return resp, nil
}

func (s *Session) replaced(reason string) {
	s.publish(events.MapReplaced, events.MapReplacedEvent{
		Reason:       reason,
		TotalDefined: s.cal.DefinedCount(),
		Ts:           s.ts(),
	})
}

// SetPageLength sets the length the firmware moves for an undefined page.
func (s *Session) SetPageLength(ctx context.Context, cm float64) (channel.Response, error) {
	if !(cm > 0) {
		return channel.Response{}, &kinematics.DomainError{Op: "set page length", Reason: fmt.Sprintf("length must be positive, got %g", cm)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	resp, err := s.exchange(ctx, protocol.SetPage(cm))
	if err != nil {
		return resp, err
	}
	s.pageCm = cm
	s.settings()
	return resp, nil
}

// SetSpeed sets the interval between motor steps.
func (s *Session) SetSpeed(ctx context.Context, micros int) (channel.Response, error) {
	if micros < MinSpeedMicros || micros > MaxSpeedMicros {
		return channel.Response{}, &kinematics.DomainError{
			Op:     "set speed",
			Reason: fmt.Sprintf("interval must be within [%d, %d] us, got %d", MinSpeedMicros, MaxSpeedMicros, micros),
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	resp, err := s.exchange(ctx, protocol.Speed(micros))
	if err != nil {
		return resp, err
	}
	s.adoptSpeed(resp.Lines, micros)
	return resp, nil
}

// AdjustSpeed makes the motors one step faster or slower.
func (s *Session) AdjustSpeed(ctx context.Context, faster bool) (channel.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cmd, want := protocol.SpeedDown(), s.speed+SpeedStepMicros
	if faster {
		cmd, want = protocol.SpeedUp(), s.speed-SpeedStepMicros
	}
	resp, err := s.exchange(ctx, cmd)
	if err != nil {
		return resp, err
	}
	s.adoptSpeed(resp.Lines, max(MinSpeedMicros, min(MaxSpeedMicros, want)))
	return resp, nil
}

func (s *Session) adoptSpeed(lines []string, fallback int) {
	s.speed = fallback
	if us, ok := protocol.ReportedSpeed(lines); ok {
		s.speed = us
	}
	s.settings()
}

func (s *Session) settings() {
	s.publish(events.SettingsChanged, events.SettingsChangedEvent{
		PageLengthCm: s.pageCm,
		SpeedMicros:  s.speed,
		Ts:           s.ts(),
	})
}

// Stop halts both motors.
func (s *Session) Stop(ctx context.Context) (channel.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exchange(ctx, protocol.Stop())
}

// Send passes a raw command line to the firmware. The local view is marked
// stale unless the command was STATUS, which is applied like Refresh.
func (s *Session) Send(ctx context.Context, line string) (channel.Response, error) {
	cmd, err := protocol.ParseCommand(line)
	if err != nil {
		return channel.Response{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cmd.IsStatus() {
		res, err := s.refresh(ctx)
		return res.Response, err
	}
	resp, err := s.exchange(ctx, cmd)
	s.stale = true
	return resp, err
}

// Export returns the local map as a document.
func (s *Session) Export() calibration.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cal.Export(s.opts.Now())
}

// Import replaces the local map with doc. The position is kept, the paper has
// not moved. The firmware is not changed, so later refreshes keep the
// imported pages until Clear or LoadFirmware.
func (s *Session) Import(doc calibration.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	position := s.cal.Position()
	if err := s.cal.Load(doc); err != nil {
		return err
	}
	s.cal.SetPosition(position)
	s.hostMap = true
	s.replaced("import")
	return nil
}

// PageView is one row of the page table.
type PageView struct {
	Page    int    `json:"page"`
	Steps   int64  `json:"steps"`
	Defined bool   `json:"defined"`
	Length  string `json:"length"`
}

// View is a read-only copy of the session state.
type View struct {
	Pair             kinematics.Pair          `json:"pair"`
	SourceDiameterMm float64                  `json:"sourceDiameterMm"`
	SinkDiameterMm   float64                  `json:"sinkDiameterMm"`
	Position         int64                    `json:"position"`
	CurrentPage      int                      `json:"currentPage"`
	TotalDefined     int                      `json:"totalDefined"`
	Pages            []PageView               `json:"pages"`
	Warnings         []string                 `json:"warnings,omitempty"`
	PageLengthCm     float64                  `json:"pageLengthCm"`
	SpeedMicros      int                      `json:"speedMicros"`
	Policy           calibration.Policy       `json:"policy"`
	Navigation       Navigation               `json:"navigation"`
	Firmware         protocol.TransportReport `json:"firmware"`
	LastRefresh      time.Time                `json:"lastRefresh"`
	Stale            bool                     `json:"stale"`
	HostMap          bool                     `json:"hostMap"`
}

// View returns the current state.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	dSrc, dSink := s.transport.Diameters(s.pair)
	v := View{
		Pair:             s.pair,
		SourceDiameterMm: dSrc,
		SinkDiameterMm:   dSink,
		Position:         s.cal.Position(),
		CurrentPage:      s.cal.CurrentPage(),
		TotalDefined:     s.cal.DefinedCount(),
		Pages:            []PageView{},
		PageLengthCm:     s.pageCm,
		SpeedMicros:      s.speed,
		Policy:           s.cal.Policy(),
		Navigation:       s.opts.Navigation,
		Firmware:         s.report,
		LastRefresh:      s.lastRefresh,
		Stale:            s.stale,
		HostMap:          s.hostMap,
	}
	for _, e := range s.cal.Entries() {
		v.Pages = append(v.Pages, PageView{
			Page:    e.Page,
			Steps:   e.Steps,
			Defined: e.Defined,
			Length:  s.cal.FormatPageLength(e.Page),
		})
	}
	for _, w := range s.cal.Check() {
		v.Warnings = append(v.Warnings, w.Error())
	}
	return v
}

// HostMap reports whether the page map was edited on the host and differs
// from the firmware's.
func (s *Session) HostMap() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hostMap
}

// Stale reports whether the local view may differ from the firmware.
func (s *Session) Stale() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stale
}

// SetPolicy changes the mark policy.
func (s *Session) SetPolicy(p calibration.Policy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cal.SetPolicy(p)
}

// SetNavigation changes how page moves are sent.
func (s *Session) SetNavigation(n Navigation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts.Navigation = n
}
