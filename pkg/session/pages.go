package session

import (
	"context"

	"github.com/tvalice/tvroll/pkg/calibration"
	"github.com/tvalice/tvroll/pkg/channel"
	"github.com/tvalice/tvroll/pkg/events"
	"github.com/tvalice/tvroll/pkg/kinematics"
	"github.com/tvalice/tvroll/pkg/protocol"
)

// NavResult is the outcome of a page move.
type NavResult struct {
	From     int              `json:"from"`
	To       int              `json:"to"`
	Delta    int              `json:"delta"`
	Command  string           `json:"command,omitempty"`
	Position int64            `json:"position"`
	Pair     kinematics.Pair  `json:"pair"`
	Response channel.Response `json:"response"`
}

// GotoPage moves to page. Relative navigation sends the page delta, absolute
// navigation sends the page number and needs the page to be defined on the
// firmware.
func (s *Session) GotoPage(ctx context.Context, page int) (NavResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delta, err := s.cal.GotoDelta(page)
	if err != nil {
		return NavResult{}, err
	}

	if s.opts.Navigation == NavigationAbsolute {
		return s.navigate(ctx, protocol.Goto(page), delta, page)
	}
	return s.navigate(ctx, deltaCommand(delta), delta, page)
}

// NextPage moves one page forward.
func (s *Session) NextPage(ctx context.Context) (NavResult, error) {
	return s.MovePages(ctx, s.cal.Next())
}

// PrevPage moves one page backward.
func (s *Session) PrevPage(ctx context.Context) (NavResult, error) {
	return s.MovePages(ctx, s.cal.Prev())
}

// MovePages moves by a signed number of pages.
func (s *Session) MovePages(ctx context.Context, delta int) (NavResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.navigate(ctx, deltaCommand(delta), delta, max(0, s.cal.CurrentPage()+delta))
}

func deltaCommand(delta int) protocol.Command {
	switch delta {
	case 1:
		return protocol.Next()
	case -1:
		return protocol.Prev()
	}
	return protocol.Page(delta)
}

// navigate sends a page move and mirrors what the firmware does: a defined
// target page is reached by steps, an undefined one by delta page lengths.
func (s *Session) navigate(ctx context.Context, cmd protocol.Command, delta, target int) (NavResult, error) {
	from := s.cal.CurrentPage()
	if delta == 0 && cmd.Name != protocol.CmdGoto {
		return NavResult{From: from, To: from, Position: s.cal.Position(), Pair: s.pair}, nil
	}

	resp, err := s.exchange(ctx, cmd)
	if err != nil {
		return NavResult{}, err
	}

	var mv kinematics.Move
	if steps, ok := s.cal.StepsTo(target); ok {
		mv = s.applySteps(steps)
	} else {
		_, mv = s.applyLength(kinematics.CmToMm(float64(delta) * s.pageCm))
	}
	s.absorb(resp.Lines)
	s.moved(from, mv)

	return NavResult{
		From:     from,
		To:       s.cal.CurrentPage(),
		Delta:    delta,
		Command:  cmd.String(),
		Position: s.cal.Position(),
		Pair:     s.pair,
		Response: resp,
	}, nil
}

// MarkResult is the outcome of a mark.
type MarkResult struct {
	Page     int                           `json:"page"`
	Steps    int64                         `json:"steps"`
	Warning  *calibration.ConsistencyError `json:"-"`
	Message  string                        `json:"warning,omitempty"`
	Response channel.Response              `json:"response"`
}

func (s *Session) marked(res MarkResult) MarkResult {
	if res.Warning != nil {
		res.Message = res.Warning.Error()
	}
	s.publish(events.PageMarked, events.PageMarkedEvent{
		Page:    res.Page,
		Steps:   res.Steps,
		Warning: res.Message,
		Ts:      s.ts(),
	})
	return res
}

// Mark asks the firmware to mark the current position as the next page and
// then refreshes the local map from its status. Under the reject policy the
// command is not sent when the new page would be out of order.
func (s *Session) Mark(ctx context.Context) (MarkResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	probe := s.cal.Clone()
	page := probe.NextPageNumber()
	warn, err := probe.MarkCurrent(page)
	if err != nil {
		return MarkResult{}, err
	}

	resp, err := s.exchange(ctx, protocol.Mark())
	if err != nil {
		return MarkResult{}, err
	}
	if n, ok := protocol.MarkedPage(resp.Lines); ok {
		page = n
	}

	if _, err := s.refresh(ctx); err != nil {
		s.stale = true
	}
	// The firmware has the mark. A failed refresh or a host edited map
	// leaves it to us to record it locally.
	if e, ok := s.cal.Entry(page); !ok || !e.Defined {
		_, _ = s.cal.Mark(page, s.cal.Position())
	}

	steps := s.cal.Position()
	if e, ok := s.cal.Entry(page); ok && e.Defined {
		steps = e.Steps
	}
	return s.marked(MarkResult{Page: page, Steps: steps, Warning: warn, Response: resp}), nil
}

// MarkPage marks page at the current position in the local map only. The
// firmware has no command to define an arbitrary page number, so the map
// becomes host edited.
func (s *Session) MarkPage(page int) (MarkResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	warn, err := s.cal.MarkCurrent(page)
	if err != nil {
		return MarkResult{}, err
	}
	s.hostMap = true
	return s.marked(MarkResult{Page: page, Steps: s.cal.Position(), Warning: warn}), nil
}
