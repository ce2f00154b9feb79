// Package session owns the host side view of one transport: the paper split
// between the spools, the page map and the firmware settings. Every
// operation talks to the firmware through a channel and then updates the
// local view, which the firmware's own reports override.
package session

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/tvalice/tvroll/pkg/calibration"
	"github.com/tvalice/tvroll/pkg/channel"
	"github.com/tvalice/tvroll/pkg/events"
	"github.com/tvalice/tvroll/pkg/kinematics"
	"github.com/tvalice/tvroll/pkg/protocol"
)

// Firmware speed limits, in microseconds between steps.
const (
	MinSpeedMicros  = 200
	MaxSpeedMicros  = 20000
	SpeedStepMicros = 100
)

// reportTolerance is how far (mm) the firmware's spool report may differ
// from the local estimate before the report wins. The firmware prints
// lengths with 1 mm resolution.
const reportTolerance = 1.0

// Navigation selects how page moves are sent to the firmware.
type Navigation string

const (
	// NavigationRelative sends NEXT, PREV and PAGE:<delta>.
	NavigationRelative Navigation = "relative"
	// NavigationAbsolute sends GOTO:<page>.
	NavigationAbsolute Navigation = "absolute"
)

// ParseNavigation parses a navigation mode. The empty string is relative.
func ParseNavigation(s string) (Navigation, error) {
	switch Navigation(s) {
	case "", NavigationRelative:
		return NavigationRelative, nil
	case NavigationAbsolute:
		return NavigationAbsolute, nil
	}
	return "", fmt.Errorf("unknown navigation mode %q", s)
}

// FirmwareError is returned when the firmware answered but refused the
// command.
type FirmwareError struct {
	Command string
	Reply   string
}

func (e *FirmwareError) Error() string {
	return fmt.Sprintf("firmware refused %s: %s", e.Command, e.Reply)
}

// Options configure a Session.
type Options struct {
	Policy         calibration.Policy
	Navigation     Navigation
	PageLengthCm   float64
	SpeedMicros    int
	CommandFraming channel.Framing
	StatusFraming  channel.Framing
	Events         events.Publisher
	Now            func() time.Time
}

// Session is safe for concurrent use. Operations are serialized.
type Session struct {
	transport *kinematics.Transport
	ch        channel.Channel
	opts      Options

	mu          sync.Mutex
	pair        kinematics.Pair
	cal         *calibration.Map
	pageCm      float64
	speed       int
	report      protocol.TransportReport
	lastRefresh time.Time
	stale       bool
	// hostMap is set once the map was edited on the host (import or a local
	// mark). Refresh then adopts only the firmware position.
	hostMap bool
}

// New returns a session for the transport reachable through ch. The local
// view starts at the transport's initial split with an empty map.
func New(t *kinematics.Transport, ch channel.Channel, opts Options) *Session {
	if opts.Navigation == "" {
		opts.Navigation = NavigationRelative
	}
	if opts.PageLengthCm <= 0 {
		opts.PageLengthCm = 20
	}
	if opts.SpeedMicros <= 0 {
		opts.SpeedMicros = 2000
	}
	if opts.CommandFraming == (channel.Framing{}) {
		opts.CommandFraming = channel.CommandFraming
	}
	if opts.StatusFraming == (channel.Framing{}) {
		opts.StatusFraming = channel.StatusFraming
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Session{
		transport: t,
		ch:        ch,
		opts:      opts,
		pair:      t.Reset(),
		cal:       calibration.NewMap(opts.Policy),
		pageCm:    opts.PageLengthCm,
		speed:     opts.SpeedMicros,
		stale:     true,
	}
}

// Transport returns the geometry the session works with.
func (s *Session) Transport() *kinematics.Transport { return s.transport }

// Close closes the channel.
func (s *Session) Close() error { return s.ch.Close() }

func (s *Session) publish(name string, payload any) {
	if s.opts.Events != nil {
		s.opts.Events.Publish(name, payload)
	}
}

func (s *Session) ts() int64 { return s.opts.Now().UnixMilli() }

// exchange sends cmd and fails when the firmware refused it. An incomplete
// response is not an error.
func (s *Session) exchange(ctx context.Context, cmd protocol.Command) (channel.Response, error) {
	framing := s.opts.CommandFraming
	if cmd.IsStatus() {
		framing = s.opts.StatusFraming
	}

	resp, err := s.ch.Exchange(ctx, cmd, framing)
	if err != nil {
		return resp, pkgerrors.Wrapf(err, "failed to send %s", cmd)
	}
	if line, ok := protocol.Rejection(resp.Lines); ok {
		return resp, &FirmwareError{Command: cmd.String(), Reply: line}
	}
	if resp.Incomplete {
		logrus.WithField("command", cmd.String()).Debug("firmware response incomplete")
	}
	return resp, nil
}

// absorb lets the firmware's spool report override the local split.
func (s *Session) absorb(lines []string) {
	r := protocol.ParseTransport(lines)
	if r.Empty() {
		return
	}
	s.report = r

	if r.Source != nil {
		src := math.Max(0, math.Min(kinematics.CmToMm(r.Source.LengthCm), s.transport.TotalLength()))
		if math.Abs(src-s.pair.Source) > reportTolerance {
			logrus.WithFields(logrus.Fields{
				"local":    s.pair.Source,
				"firmware": src,
			}).Debug("adopting firmware spool length")
			s.pair = kinematics.Pair{Source: src, Sink: s.transport.TotalLength() - src, Total: s.transport.TotalLength()}
		}
	}
	if r.Page != nil && r.Page.Current != s.cal.CurrentPage() {
		logrus.WithFields(logrus.Fields{
			"local":    s.cal.CurrentPage(),
			"firmware": r.Page.Current,
		}).Debug("page differs from firmware, status refresh needed")
		s.stale = true
	}
}

// Plan computes the step budget of a signed move without moving.
func (s *Session) Plan(signedMm float64) (kinematics.SyncPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport.Synchronize(s.pair, math.Abs(signedMm), kinematics.DirectionOf(signedMm))
}

// MoveResult is the outcome of Move and Step.
type MoveResult struct {
	Plan     *kinematics.SyncPlan `json:"plan,omitempty"`
	Steps    int64                `json:"steps"`
	Move     kinematics.Move      `json:"move"`
	Pair     kinematics.Pair      `json:"pair"`
	Position int64                `json:"position"`
	Page     int                  `json:"page"`
	Response channel.Response     `json:"response"`
}

// Move moves the paper by a signed length in millimetres with both motors
// synchronized. Positive lengths wind the source spool.
func (s *Session) Move(ctx context.Context, signedMm float64) (MoveResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := kinematics.DirectionOf(signedMm)
	plan, err := s.transport.Synchronize(s.pair, math.Abs(signedMm), dir)
	if err != nil {
		return MoveResult{}, err
	}
	if plan.Length == 0 {
		return s.result(&plan, 0, kinematics.Move{Direction: dir.String()}, channel.Response{}), nil
	}

	resp, err := s.exchange(ctx, protocol.Sync(kinematics.MmToCm(signedMm)))
	if err != nil {
		return MoveResult{}, err
	}

	from := s.cal.CurrentPage()
	steps, mv := s.applyLength(signedMm)
	s.absorb(resp.Lines)
	s.moved(from, mv)
	return s.result(&plan, steps, mv, resp), nil
}

// Step turns the source motor by a signed number of steps.
func (s *Session) Step(ctx context.Context, steps int) (MoveResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if steps == 0 {
		return s.result(nil, 0, kinematics.Move{}, channel.Response{}), nil
	}

	cmd := protocol.Forward(steps)
	if steps < 0 {
		cmd = protocol.Backward(-steps)
	}
	resp, err := s.exchange(ctx, cmd)
	if err != nil {
		return MoveResult{}, err
	}

	from := s.cal.CurrentPage()
	mv := s.applySteps(int64(steps))
	s.absorb(resp.Lines)
	s.moved(from, mv)
	return s.result(nil, int64(steps), mv, resp), nil
}

func (s *Session) result(plan *kinematics.SyncPlan, steps int64, mv kinematics.Move, resp channel.Response) MoveResult {
	return MoveResult{
		Plan:     plan,
		Steps:    steps,
		Move:     mv,
		Pair:     s.pair,
		Position: s.cal.Position(),
		Page:     s.cal.CurrentPage(),
		Response: resp,
	}
}

// applyLength mirrors a SYNC move locally and returns the source steps.
func (s *Session) applyLength(signedMm float64) (int64, kinematics.Move) {
	dir := kinematics.DirectionOf(signedMm)
	plan, err := s.transport.Synchronize(s.pair, math.Abs(signedMm), dir)
	if err != nil {
		return 0, kinematics.Move{}
	}
	next, mv, err := s.transport.ApplyMove(s.pair, math.Abs(signedMm), dir)
	if err != nil {
		return 0, kinematics.Move{}
	}
	steps := plan.SourceSteps(mv.Achieved)
	s.pair = next
	s.cal.Advance(steps)
	return steps, mv
}

// applySteps mirrors an F/B move locally.
func (s *Session) applySteps(steps int64) kinematics.Move {
	dSrc, _ := s.transport.Diameters(s.pair)
	length := s.transport.LengthForSteps(float64(steps), dSrc)
	next, mv, err := s.transport.ApplyMove(s.pair, length, kinematics.DirectionOf(float64(steps)))
	if err != nil {
		return kinematics.Move{}
	}
	s.pair = next
	s.cal.Advance(steps)
	return mv
}

func (s *Session) moved(fromPage int, mv kinematics.Move) {
	s.publish(events.TransportMoved, events.TransportMovedEvent{
		RequestedMm: mv.Requested,
		AchievedMm:  mv.Achieved,
		SourceMm:    s.pair.Source,
		SinkMm:      s.pair.Sink,
		Position:    s.cal.Position(),
		Ts:          s.ts(),
	})
	if to := s.cal.CurrentPage(); to != fromPage {
		s.publish(events.PageChanged, events.PageChangedEvent{From: fromPage, To: to, Ts: s.ts()})
	}
}
