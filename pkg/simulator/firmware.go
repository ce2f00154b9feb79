// Package simulator emulates the transport firmware in process. It speaks
// the same text protocol as the real board, so it can stand in for a serial
// port when no hardware is attached and in tests.
package simulator

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tvalice/tvroll/pkg/calibration"
	"github.com/tvalice/tvroll/pkg/kinematics"
	"github.com/tvalice/tvroll/pkg/protocol"
)

const (
	minSpeedMicros  = 200
	maxSpeedMicros  = 20000
	speedStepMicros = 100
)

// Options tune the emulated board.
type Options struct {
	PageLengthCm float64
	SpeedMicros  int
	// Latency delays every response.
	Latency time.Duration
	// Silent drops every response, emulating a board that does not answer.
	Silent bool
}

// State is a copy of the emulated firmware state.
type State struct {
	Position     int64
	Pair         kinematics.Pair
	Entries      []calibration.Entry
	Saved        []calibration.Entry
	PageLengthCm float64
	SpeedMicros  int
	Commands     []string
}

// Firmware is an io.ReadWriteCloser that answers protocol commands. Writes
// are queued and answered in order by a single goroutine.
type Firmware struct {
	transport *kinematics.Transport
	opts      Options

	mu       sync.Mutex
	pair     kinematics.Pair
	cal      *calibration.Map
	eeprom   calibration.Document
	pageCm   float64
	speed    int
	commands []string

	partial []byte
	queue   chan string
	out     *io.PipeReader
	in      *io.PipeWriter
	closed  chan struct{}
	once    sync.Once
}

// New returns a running Firmware for the given transport geometry.
func New(t *kinematics.Transport, opts Options) *Firmware {
	if opts.PageLengthCm <= 0 {
		opts.PageLengthCm = 20
	}
	if opts.SpeedMicros <= 0 {
		opts.SpeedMicros = 2000
	}

	r, w := io.Pipe()
	f := &Firmware{
		transport: t,
		opts:      opts,
		pair:      t.Reset(),
		cal:       calibration.NewMap(calibration.PolicyAccept),
		pageCm:    opts.PageLengthCm,
		speed:     opts.SpeedMicros,
		queue:     make(chan string, 64),
		out:       r,
		in:        w,
		closed:    make(chan struct{}),
	}
	go f.run()
	return f
}

// Read returns firmware output.
func (f *Firmware) Read(p []byte) (int, error) {
	return f.out.Read(p)
}

// Write accepts command bytes. Complete lines are queued for execution.
func (f *Firmware) Write(p []byte) (int, error) {
	select {
	case <-f.closed:
		return 0, io.ErrClosedPipe
	default:
	}

	f.mu.Lock()
	f.partial = append(f.partial, p...)
	var lines []string
	for {
		i := bytes.IndexByte(f.partial, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, strings.TrimSpace(string(f.partial[:i])))
		f.partial = f.partial[i+1:]
	}
	f.mu.Unlock()

	for _, l := range lines {
		if l == "" {
			continue
		}
		select {
		case f.queue <- l:
		case <-f.closed:
			return 0, io.ErrClosedPipe
		}
	}
	return len(p), nil
}

// Close stops the firmware. Pending reads return io.EOF.
func (f *Firmware) Close() error {
	f.once.Do(func() {
		close(f.closed)
		_ = f.in.Close()
	})
	return nil
}

// Snapshot returns a copy of the current state.
func (f *Firmware) Snapshot() State {
	f.mu.Lock()
	defer f.mu.Unlock()

	saved, _ := f.eeprom.Entries()
	return State{
		Position:     f.cal.Position(),
		Pair:         f.pair,
		Entries:      f.cal.Entries(),
		Saved:        saved,
		PageLengthCm: f.pageCm,
		SpeedMicros:  f.speed,
		Commands:     append([]string(nil), f.commands...),
	}
}

// Emit writes an unsolicited line, like a board printing a boot banner.
func (f *Firmware) Emit(line string) {
	_, _ = fmt.Fprintln(f.in, line)
}

func (f *Firmware) run() {
	for {
		select {
		case <-f.closed:
			return
		case line := <-f.queue:
			out := f.handle(line)
			if f.opts.Silent {
				continue
			}
			if f.opts.Latency > 0 {
				select {
				case <-time.After(f.opts.Latency):
				case <-f.closed:
					return
				}
			}
			for _, l := range out {
				if _, err := fmt.Fprintln(f.in, l); err != nil {
					return
				}
			}
		}
	}
}

func (f *Firmware) handle(line string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.commands = append(f.commands, line)
	logrus.WithField("command", line).Trace("simulator received")

	cmd, err := protocol.ParseCommand(line)
	if err != nil {
		return []string{"Comando inválido: " + line}
	}

	switch cmd.Name {
	case protocol.CmdForward, protocol.CmdBackward:
		n, _ := cmd.IntArg()
		if cmd.Name == protocol.CmdBackward {
			n = -n
		}
		return f.moveSteps(int64(n))
	case protocol.CmdSync:
		cm, _ := cmd.FloatArg()
		return f.moveLength(kinematics.CmToMm(cm))
	case protocol.CmdPage:
		d, _ := cmd.IntArg()
		return f.movePages(d)
	case protocol.CmdNext:
		return f.movePages(1)
	case protocol.CmdPrev:
		return f.movePages(-1)
	case protocol.CmdGoto:
		p, _ := cmd.IntArg()
		delta, ok := f.cal.StepsTo(p)
		if !ok {
			return []string{fmt.Sprintf("Página %d não definida", p)}
		}
		return f.moveSteps(delta)
	case protocol.CmdMark:
		page := f.cal.NextPageNumber()
		if _, err := f.cal.MarkCurrent(page); err != nil {
			return []string{"Erro ao marcar: " + err.Error()}
		}
		return []string{fmt.Sprintf("Página %d marcada em %d passos", page, f.cal.Position())}
	case protocol.CmdReset:
		f.cal.Reset()
		f.pair = f.transport.Reset()
		return []string{"Posição resetada"}
	case protocol.CmdSave:
		f.eeprom = f.cal.Export(time.Now())
		return []string{fmt.Sprintf("Calibração salva (%d páginas)", f.eeprom.TotalPages)}
	case protocol.CmdLoad:
		if len(f.eeprom.Pages) == 0 {
			return []string{"Nenhuma calibração salva"}
		}
		pos := f.cal.Position()
		if err := f.cal.Load(f.eeprom); err != nil {
			return []string{"Erro ao carregar: " + err.Error()}
		}
		f.cal.SetPosition(pos)
		return []string{fmt.Sprintf("Calibração carregada (%d páginas)", f.eeprom.TotalPages)}
	case protocol.CmdClear:
		f.cal.Clear()
		return []string{"Calibração apagada"}
	case protocol.CmdStatus:
		return f.status()
	case protocol.CmdSetPage:
		cm, _ := cmd.FloatArg()
		f.pageCm = cm
		return []string{fmt.Sprintf("Tamanho da página: %.1fcm", cm)}
	case protocol.CmdSpeed:
		us, _ := cmd.IntArg()
		f.setSpeed(us)
		return []string{fmt.Sprintf("Velocidade: %dus", f.speed)}
	case protocol.CmdSpeedUp:
		f.setSpeed(f.speed - speedStepMicros)
		return []string{fmt.Sprintf("Velocidade: %dus", f.speed)}
	case protocol.CmdSpeedDown:
		f.setSpeed(f.speed + speedStepMicros)
		return []string{fmt.Sprintf("Velocidade: %dus", f.speed)}
	case protocol.CmdStop:
		return []string{"Motores parados"}
	}
	return []string{"Comando inválido: " + line}
}

func (f *Firmware) setSpeed(us int) {
	f.speed = max(minSpeedMicros, min(maxSpeedMicros, us))
}

// moveLength moves the paper by a signed length in millimetres.
func (f *Firmware) moveLength(signed float64) []string {
	dir := kinematics.DirectionOf(signed)
	plan, err := f.transport.Synchronize(f.pair, math.Abs(signed), dir)
	if err != nil {
		return []string{"Erro: " + err.Error()}
	}
	next, mv, err := f.transport.ApplyMove(f.pair, math.Abs(signed), dir)
	if err != nil {
		return []string{"Erro: " + err.Error()}
	}

	steps := plan.SourceSteps(mv.Achieved)
	f.pair = next
	f.cal.Advance(steps)

	return append([]string{
		fmt.Sprintf("Movendo %.1fcm (X: %d passos, Y: %d passos, razão %.4f)",
			kinematics.MmToCm(dir.Sign()*mv.Achieved), int64(math.Round(plan.StepsSource)), int64(math.Round(plan.StepsSink)), plan.Ratio),
	}, f.spoolLines()...)
}

// moveSteps turns the source motor by a signed number of steps.
func (f *Firmware) moveSteps(steps int64) []string {
	if steps == 0 {
		return f.spoolLines()
	}
	dSrc, _ := f.transport.Diameters(f.pair)
	length := f.transport.LengthForSteps(float64(steps), dSrc)
	dir := kinematics.DirectionOf(float64(steps))

	next, _, err := f.transport.ApplyMove(f.pair, length, dir)
	if err != nil {
		return []string{"Erro: " + err.Error()}
	}
	f.pair = next
	f.cal.Advance(steps)

	return append([]string{fmt.Sprintf("Movendo %d passos", steps)}, f.spoolLines()...)
}

func (f *Firmware) movePages(delta int) []string {
	if delta == 0 {
		return f.spoolLines()
	}
	target := f.cal.CurrentPage() + delta
	if target < 0 {
		target = 0
	}
	if steps, ok := f.cal.StepsTo(target); ok {
		return f.moveSteps(steps)
	}
	return f.moveLength(kinematics.CmToMm(float64(delta) * f.pageCm))
}

func (f *Firmware) spoolLines() []string {
	dSrc, dSink := f.transport.Diameters(f.pair)
	return []string{
		fmt.Sprintf("Rolo X: %.1fcm | Diâmetro: %.2fmm", kinematics.MmToCm(f.pair.Source), dSrc),
		fmt.Sprintf("Rolo Y: %.1fcm | Diâmetro: %.2fmm", kinematics.MmToCm(f.pair.Sink), dSink),
		fmt.Sprintf("Página: %d/%d", f.cal.CurrentPage(), f.cal.DefinedCount()),
	}
}

func (f *Firmware) status() []string {
	lines := []string{
		"=== STATUS ===",
		protocol.LabelCurrentPage + " " + strconv.Itoa(f.cal.CurrentPage()),
		protocol.LabelAccumulated + " " + strconv.FormatInt(f.cal.Position(), 10),
		protocol.LabelTotalDefined + " " + strconv.Itoa(f.cal.DefinedCount()),
		fmt.Sprintf("Tamanho da página: %.1fcm", f.pageCm),
		fmt.Sprintf("Velocidade: %dus", f.speed),
	}
	lines = append(lines, f.spoolLines()[:2]...)
	lines = append(lines, "Pág | Passos | Tamanho | Def")
	for _, e := range f.cal.Entries() {
		steps, marker := "-", ""
		if e.Defined {
			steps, marker = strconv.FormatInt(e.Steps, 10), protocol.DefinedMarker
		}
		lines = append(lines, fmt.Sprintf("%3d | %s | %s | %s", e.Page, steps, f.cal.FormatPageLength(e.Page), marker))
	}
	return append(lines, protocol.Terminator)
}
