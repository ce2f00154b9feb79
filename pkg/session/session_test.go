package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tvalice/tvroll/pkg/calibration"
	"github.com/tvalice/tvroll/pkg/channel"
	"github.com/tvalice/tvroll/pkg/events"
	"github.com/tvalice/tvroll/pkg/kinematics"
	"github.com/tvalice/tvroll/pkg/protocol"
	"github.com/tvalice/tvroll/pkg/simulator"
	"github.com/tvalice/tvroll/pkg/spool"
)

var testFraming = channel.Framing{
	Settle:     2 * time.Millisecond,
	Timeout:    500 * time.Millisecond,
	Quiescence: 30 * time.Millisecond,
	Terminator: protocol.Terminator,
}

func testTransport(t *testing.T) *kinematics.Transport {
	t.Helper()
	m, err := spool.New(41, 0.1)
	require.NoError(t, err)
	tr, err := kinematics.New(m, 1500, 0, kinematics.DefaultStepsPerRevolution)
	require.NoError(t, err)
	return tr
}

func newSimulated(t *testing.T, opts Options) (*Session, *simulator.Firmware) {
	t.Helper()
	tr := testTransport(t)
	fw := simulator.New(tr, simulator.Options{})
	opts.CommandFraming = testFraming
	opts.StatusFraming = testFraming
	s := New(tr, channel.NewLineChannel(fw), opts)
	t.Cleanup(func() { _ = s.Close() })
	return s, fw
}

type fakeChannel struct {
	lines []string
	err   error
	sent  []string
}

func (f *fakeChannel) Exchange(_ context.Context, cmd protocol.Command, _ channel.Framing) (channel.Response, error) {
	f.sent = append(f.sent, cmd.String())
	if f.err != nil {
		return channel.Response{}, f.err
	}
	return channel.Response{Command: cmd.String(), Lines: f.lines}, nil
}

func (f *fakeChannel) Close() error { return nil }

func newFake(t *testing.T, opts Options) (*Session, *fakeChannel) {
	t.Helper()
	fc := &fakeChannel{}
	return New(testTransport(t), fc, opts), fc
}

func assertInStep(t *testing.T, s *Session, fw *simulator.Firmware) {
	t.Helper()
	v := s.View()
	st := fw.Snapshot()
	assert.Equal(t, st.Position, v.Position)
	assert.InDelta(t, st.Pair.Source, v.Pair.Source, 1e-6)
	assert.InDelta(t, st.Pair.Sink, v.Pair.Sink, 1e-6)
	assert.True(t, v.Pair.Conserved())
}

func TestMoveMirrorsFirmware(t *testing.T) {
	ctx := context.Background()
	s, fw := newSimulated(t, Options{})

	res, err := s.Move(ctx, 100)
	require.NoError(t, err)
	require.NotNil(t, res.Plan)
	assert.Equal(t, int64(155), res.Steps)
	assert.InDelta(t, 155.2731, res.Plan.StepsSource, 1e-3)
	assert.InDelta(t, 100, res.Pair.Source, 1e-9)
	assert.InDelta(t, 1400, res.Pair.Sink, 1e-9)
	assert.Equal(t, []string{"SYNC:10"}, fw.Snapshot().Commands)
	assertInStep(t, s, fw)

	res, err = s.Move(ctx, -40)
	require.NoError(t, err)
	assert.Less(t, res.Steps, int64(0))
	assertInStep(t, s, fw)
}

func TestMoveClampsAtEmptySource(t *testing.T) {
	ctx := context.Background()
	s, fw := newSimulated(t, Options{})

	res, err := s.Move(ctx, -50)
	require.NoError(t, err)
	assert.True(t, res.Move.Clamped)
	assert.Zero(t, res.Move.Achieved)
	assert.Zero(t, res.Steps)
	assertInStep(t, s, fw)
}

func TestMoveZeroSendsNothing(t *testing.T) {
	s, fc := newFake(t, Options{})

	res, err := s.Move(context.Background(), 0)
	require.NoError(t, err)
	assert.Zero(t, res.Steps)
	assert.Empty(t, fc.sent)
}

func TestMoveChannelErrorKeepsState(t *testing.T) {
	s, fc := newFake(t, Options{})
	fc.err = channel.ErrClosed

	before := s.View()
	_, err := s.Move(context.Background(), 100)
	assert.ErrorIs(t, err, channel.ErrClosed)
	assert.Equal(t, before.Pair, s.View().Pair)
	assert.Equal(t, before.Position, s.View().Position)
}

func TestPlanDoesNotMove(t *testing.T) {
	s, fc := newFake(t, Options{})

	plan, err := s.Plan(-100)
	require.NoError(t, err)
	assert.Equal(t, "backward", plan.Direction)
	assert.InDelta(t, 155.2731, plan.StepsSource, 1e-3)
	assert.InDelta(t, 146.9266, plan.StepsSink, 1e-3)
	assert.Empty(t, fc.sent)
}

func TestStep(t *testing.T) {
	ctx := context.Background()
	s, fw := newSimulated(t, Options{})

	res, err := s.Step(ctx, 400)
	require.NoError(t, err)
	assert.Equal(t, int64(400), res.Position)
	assertInStep(t, s, fw)

	_, err = s.Step(ctx, -150)
	require.NoError(t, err)
	assertInStep(t, s, fw)
	assert.Equal(t, []string{"F:400", "B:150"}, fw.Snapshot().Commands)
}

func markThree(t *testing.T, s *Session) {
	t.Helper()
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		res, err := s.Mark(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, res.Page)
		assert.Nil(t, res.Warning)
		if i < 3 {
			_, err = s.Move(ctx, 200)
			require.NoError(t, err)
		}
	}
}

func TestMarkAndNavigate(t *testing.T) {
	ctx := context.Background()
	s, fw := newSimulated(t, Options{})

	markThree(t, s)
	v := s.View()
	assert.Equal(t, 3, v.TotalDefined)
	assert.Equal(t, 3, v.CurrentPage)
	assert.False(t, v.Stale)
	assertInStep(t, s, fw)

	nav, err := s.GotoPage(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, nav.From)
	assert.Equal(t, 1, nav.To)
	assert.Equal(t, "PAGE:-2", nav.Command)
	assert.Equal(t, int64(0), nav.Position)
	assertInStep(t, s, fw)

	nav, err = s.NextPage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, nav.To)
	assert.Equal(t, "NEXT", nav.Command)
	assertInStep(t, s, fw)

	nav, err = s.PrevPage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, nav.To)
	assertInStep(t, s, fw)

	nav, err = s.GotoPage(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, nav.Command)
}

func TestNavigateUndefinedPageUsesPageLength(t *testing.T) {
	ctx := context.Background()
	s, fw := newSimulated(t, Options{})

	_, err := s.SetPageLength(ctx, 10)
	require.NoError(t, err)

	nav, err := s.MovePages(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(155), nav.Position)
	assert.InDelta(t, 100, nav.Pair.Source, 1e-9)
	assertInStep(t, s, fw)
}

func TestGotoAbsolute(t *testing.T) {
	ctx := context.Background()
	s, fw := newSimulated(t, Options{Navigation: NavigationAbsolute})
	markThree(t, s)

	nav, err := s.GotoPage(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "GOTO:2", nav.Command)
	assert.Equal(t, 2, nav.To)
	assertInStep(t, s, fw)

	before := s.View().Position
	_, err = s.GotoPage(ctx, 7)
	var fwErr *FirmwareError
	require.ErrorAs(t, err, &fwErr)
	assert.Contains(t, fwErr.Reply, "não definida")
	assert.Equal(t, before, s.View().Position)
}

func TestGotoNegativePage(t *testing.T) {
	s, fc := newFake(t, Options{})

	_, err := s.GotoPage(context.Background(), -1)
	var rangeErr *calibration.RangeError
	assert.ErrorAs(t, err, &rangeErr)
	assert.Empty(t, fc.sent)
}

func TestMarkRejectPolicy(t *testing.T) {
	ctx := context.Background()
	s, fw := newSimulated(t, Options{Policy: calibration.PolicyReject})

	_, err := s.Mark(ctx)
	require.NoError(t, err)
	_, err = s.Move(ctx, 100)
	require.NoError(t, err)
	_, err = s.Mark(ctx)
	require.NoError(t, err)
	_, err = s.Move(ctx, -50)
	require.NoError(t, err)

	sent := len(fw.Snapshot().Commands)
	_, err = s.Mark(ctx)
	var ce *calibration.ConsistencyError
	require.ErrorAs(t, err, &ce)
	assert.True(t, ce.Rejected)
	assert.Equal(t, 3, ce.Page)
	assert.Len(t, fw.Snapshot().Commands, sent)
	assert.Equal(t, 2, s.View().TotalDefined)
}

func TestMarkAcceptPolicyWarns(t *testing.T) {
	ctx := context.Background()
	s, _ := newSimulated(t, Options{})

	_, err := s.Move(ctx, 100)
	require.NoError(t, err)
	_, err = s.Mark(ctx)
	require.NoError(t, err)
	_, err = s.Move(ctx, -50)
	require.NoError(t, err)

	res, err := s.Mark(ctx)
	require.NoError(t, err)
	require.NotNil(t, res.Warning)
	assert.NotEmpty(t, res.Message)
	assert.Equal(t, 2, s.View().TotalDefined)
	assert.NotEmpty(t, s.View().Warnings)
}

func TestMarkBelowZeroIsRefused(t *testing.T) {
	ctx := context.Background()
	s, fw := newSimulated(t, Options{})

	_, err := s.Send(ctx, "B:40")
	require.NoError(t, err)
	res, err := s.Refresh(ctx)
	require.NoError(t, err)
	require.True(t, res.Applied)
	assert.Equal(t, int64(-40), s.View().Position)

	_, err = s.Mark(ctx)
	var re *calibration.RangeError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, int64(-40), re.Value)

	st := fw.Snapshot()
	assert.NotContains(t, st.Commands, "MARK")
	assert.Empty(t, st.Entries)
}

func TestMarkPageIsLocal(t *testing.T) {
	s, fc := newFake(t, Options{})

	res, err := s.MarkPage(4)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Page)
	assert.Equal(t, int64(0), res.Steps)
	assert.Empty(t, fc.sent)
	assert.Equal(t, 1, s.View().TotalDefined)
}

func TestRefreshAdoptsFirmware(t *testing.T) {
	ctx := context.Background()
	s, fw := newSimulated(t, Options{})

	_, err := s.Send(ctx, "F:500")
	require.NoError(t, err)
	assert.True(t, s.Stale())

	res, err := s.Refresh(ctx)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, "complete", res.Kind)

	v := s.View()
	assert.False(t, v.Stale)
	assert.Equal(t, int64(500), v.Position)
	assert.InDelta(t, fw.Snapshot().Pair.Source, v.Pair.Source, 1)
	require.NotNil(t, v.Firmware.Source)
}

func TestRefreshPartialKeepsState(t *testing.T) {
	s, fc := newFake(t, Options{})
	_, err := s.MarkPage(1)
	require.NoError(t, err)
	fc.lines = []string{"=== STATUS ===", protocol.LabelCurrentPage + " 3"}

	res, err := s.Refresh(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, "partial", res.Kind)
	assert.Equal(t, 1, s.View().TotalDefined)
	assert.True(t, s.Stale())
}

func TestRefreshUnrecognized(t *testing.T) {
	s, fc := newFake(t, Options{})
	fc.lines = []string{"hello"}

	_, err := s.Refresh(context.Background())
	var fe *calibration.FormatError
	assert.ErrorAs(t, err, &fe)
}

func TestSaveClearLoad(t *testing.T) {
	ctx := context.Background()
	s, fw := newSimulated(t, Options{})
	markThree(t, s)

	doc, _, err := s.Save(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, doc.TotalPages)
	assert.Len(t, fw.Snapshot().Saved, 3)

	_, err = s.Clear(ctx)
	require.NoError(t, err)
	assert.Zero(t, s.View().TotalDefined)

	res, err := s.LoadFirmware(ctx)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, 3, s.View().TotalDefined)
	assertInStep(t, s, fw)
}

func TestResetKeepsPages(t *testing.T) {
	ctx := context.Background()
	s, fw := newSimulated(t, Options{})
	markThree(t, s)

	_, err := s.Reset(ctx)
	require.NoError(t, err)
	v := s.View()
	assert.Zero(t, v.Position)
	assert.Zero(t, v.Pair.Source)
	assert.Equal(t, 3, v.TotalDefined)
	assertInStep(t, s, fw)
}

func TestSpeed(t *testing.T) {
	ctx := context.Background()
	s, fw := newSimulated(t, Options{})

	_, err := s.SetSpeed(ctx, 100)
	var de *kinematics.DomainError
	require.ErrorAs(t, err, &de)

	_, err = s.SetSpeed(ctx, 1000)
	require.NoError(t, err)
	_, err = s.AdjustSpeed(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 900, s.View().SpeedMicros)
	assert.Equal(t, 900, fw.Snapshot().SpeedMicros)

	_, err = s.AdjustSpeed(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1000, s.View().SpeedMicros)
}

func TestSetPageLengthValidates(t *testing.T) {
	s, fc := newFake(t, Options{})

	_, err := s.SetPageLength(context.Background(), 0)
	var de *kinematics.DomainError
	assert.ErrorAs(t, err, &de)
	assert.Empty(t, fc.sent)
}

func TestFirmwareRejection(t *testing.T) {
	s, fc := newFake(t, Options{})
	fc.lines = []string{"Comando inválido: STOP"}

	_, err := s.Stop(context.Background())
	var fwErr *FirmwareError
	require.ErrorAs(t, err, &fwErr)
	assert.Equal(t, "STOP", fwErr.Command)
}

func TestSendValidates(t *testing.T) {
	s, fc := newFake(t, Options{})

	_, err := s.Send(context.Background(), "F:abc")
	assert.Error(t, err)
	assert.Empty(t, fc.sent)
}

func TestImportKeepsPosition(t *testing.T) {
	ctx := context.Background()
	s, fc := newFake(t, Options{})
	fc.lines = []string{"ok"}
	_, err := s.Step(ctx, 300)
	require.NoError(t, err)

	src := calibration.NewMap(calibration.PolicyAccept)
	_, err = src.Mark(1, 0)
	require.NoError(t, err)
	_, err = src.Mark(2, 250)
	require.NoError(t, err)
	src.SetPosition(9999)

	require.NoError(t, s.Import(src.Export(time.Now())))
	v := s.View()
	assert.Equal(t, int64(300), v.Position)
	assert.Equal(t, 2, v.CurrentPage)
	assert.Equal(t, "250", v.Pages[1].Length)

	bad := src.Export(time.Now())
	bad.TotalPages = 5
	assert.Error(t, s.Import(bad))
	assert.Equal(t, 2, s.View().TotalDefined)
}

func TestEventsPublished(t *testing.T) {
	hub := events.NewEventHub()
	sub := hub.Subscribe()
	defer hub.Unsubscribe(sub)

	s, _ := newSimulated(t, Options{Events: hub})

	_, err := s.Move(context.Background(), 100)
	require.NoError(t, err)

	ev := <-sub
	assert.Equal(t, events.TransportMoved, ev.Name)
	p, err := events.DecodeAs[events.TransportMovedEvent](ev)
	require.NoError(t, err)
	assert.InDelta(t, 100, p.AchievedMm, 1e-9)
	assert.Equal(t, int64(155), p.Position)
}

func TestParseNavigation(t *testing.T) {
	n, err := ParseNavigation("")
	require.NoError(t, err)
	assert.Equal(t, NavigationRelative, n)

	n, err = ParseNavigation("absolute")
	require.NoError(t, err)
	assert.Equal(t, NavigationAbsolute, n)

	_, err = ParseNavigation("sideways")
	assert.Error(t, err)
}

func TestRefreshKeepsHostMap(t *testing.T) {
	ctx := context.Background()
	s, fw := newSimulated(t, Options{})

	_, err := s.MarkPage(7)
	require.NoError(t, err)
	assert.True(t, s.HostMap())

	_, err = s.Send(ctx, "F:120")
	require.NoError(t, err)
	res, err := s.Refresh(ctx)
	require.NoError(t, err)
	assert.True(t, res.Applied)

	v := s.View()
	assert.True(t, v.HostMap)
	assert.Equal(t, int64(120), v.Position)
	assert.Equal(t, 1, v.TotalDefined)
	assert.Empty(t, fw.Snapshot().Entries)

	// A firmware mark is recorded locally even though the refresh kept the
	// host map.
	mres, err := s.Mark(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, mres.Page)
	assert.Equal(t, 2, s.View().TotalDefined)

	_, err = s.Clear(ctx)
	require.NoError(t, err)
	assert.False(t, s.HostMap())
}
