// Package channel exchanges request/response lines with the firmware over
// any byte stream.
package channel

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/tvalice/tvroll/pkg/protocol"
	"github.com/tvalice/tvroll/pkg/telemetry"
)

// ErrClosed is returned once the underlying stream is gone.
var ErrClosed = errors.New("channel closed")

// Framing decides when a response is over.
//
// Reading starts Settle after the request was written and stops at the first
// of: a line containing Terminator (when set), Quiescence without a new line
// after at least one line was read (when set), or Timeout.
type Framing struct {
	Settle     time.Duration
	Timeout    time.Duration
	Quiescence time.Duration
	Terminator string
}

var (
	// CommandFraming suits short command acknowledgements.
	CommandFraming = Framing{
		Settle:     300 * time.Millisecond,
		Timeout:    time.Second,
		Quiescence: 100 * time.Millisecond,
	}
	// StatusFraming suits the multi-line status report.
	StatusFraming = Framing{
		Settle:     500 * time.Millisecond,
		Timeout:    2 * time.Second,
		Terminator: protocol.Terminator,
	}
)

// Response is what came back for one request. A response that ran into the
// hard timeout is Incomplete, which is not an error.
type Response struct {
	Command    string        `json:"command"`
	Lines      []string      `json:"lines"`
	Terminated bool          `json:"terminated"`
	Incomplete bool          `json:"incomplete"`
	Elapsed    time.Duration `json:"elapsed"`
}

// Text joins the lines of the response.
func (r Response) Text() string {
	return strings.Join(r.Lines, "\n")
}

// Channel is a request/response link to the firmware.
type Channel interface {
	Exchange(ctx context.Context, cmd protocol.Command, f Framing) (Response, error)
	Close() error
}

// LineChannel implements Channel on a line-oriented byte stream. Exchanges
// are serialized.
type LineChannel struct {
	rw    io.ReadWriteCloser
	lines chan string

	mu   sync.Mutex
	done chan struct{}
	once sync.Once

	tracer     trace.Tracer
	exchanges  metric.Int64Counter
	incomplete metric.Int64Counter
	latency    metric.Float64Histogram
}

var _ Channel = &LineChannel{}

// NewLineChannel starts reading lines from rw.
func NewLineChannel(rw io.ReadWriteCloser) *LineChannel {
	c := &LineChannel{
		rw:     rw,
		lines:  make(chan string, 256),
		done:   make(chan struct{}),
		tracer: telemetry.Tracer("channel"),
	}

	meter := telemetry.Meter("channel")
	c.exchanges, _ = meter.Int64Counter("tvroll.channel.exchanges",
		metric.WithDescription("Commands written to the firmware"))
	c.incomplete, _ = meter.Int64Counter("tvroll.channel.incomplete",
		metric.WithDescription("Exchanges that hit the hard timeout"))
	c.latency, _ = meter.Float64Histogram("tvroll.channel.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Time from write to end of response"))

	go c.readLoop()
	return c
}

func (c *LineChannel) readLoop() {
	defer close(c.done)

	r := bufio.NewReader(c.rw)
	for {
		line, err := r.ReadString('\n')
		if line != "" {
			line = strings.ToValidUTF8(strings.TrimRight(line, "\r\n"), "")
			logrus.WithField("line", line).Trace("channel read")
			if strings.TrimSpace(line) != "" {
				c.lines <- line
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logrus.Debugf("channel reader stopped: %v", err)
			}
			return
		}
	}
}

// drain discards lines that arrived outside of an exchange.
func (c *LineChannel) drain() int {
	n := 0
	for {
		select {
		case l := <-c.lines:
			logrus.WithField("line", l).Debug("discarding unsolicited line")
			n++
		default:
			return n
		}
	}
}

// Exchange writes cmd and collects the response according to f.
func (c *LineChannel) Exchange(ctx context.Context, cmd protocol.Command, f Framing) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, span := c.tracer.Start(ctx, "channel.exchange",
		trace.WithAttributes(attribute.String("tvroll.command", cmd.String())))
	defer span.End()

	select {
	case <-c.done:
		return Response{Command: cmd.String()}, ErrClosed
	default:
	}

	c.drain()

	start := time.Now()
	logrus.WithField("command", cmd.String()).Trace("channel write")
	if _, err := c.rw.Write(cmd.Encode()); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Response{Command: cmd.String()}, pkgerrors.Wrapf(err, "failed to write %s", cmd)
	}
	c.count(ctx, c.exchanges, cmd)

	resp, err := c.collect(ctx, cmd, f)
	resp.Elapsed = time.Since(start)

	if c.latency != nil {
		c.latency.Record(ctx, float64(resp.Elapsed.Milliseconds()),
			metric.WithAttributes(attribute.String("tvroll.command", cmd.Name)))
	}
	if resp.Incomplete {
		c.count(ctx, c.incomplete, cmd)
		span.SetAttributes(attribute.Bool("tvroll.incomplete", true))
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}

	logrus.WithFields(logrus.Fields{
		"command":    cmd.String(),
		"lines":      len(resp.Lines),
		"terminated": resp.Terminated,
		"incomplete": resp.Incomplete,
		"elapsed":    resp.Elapsed,
	}).Debug("exchange finished")

	return resp, err
}

func (c *LineChannel) count(ctx context.Context, counter metric.Int64Counter, cmd protocol.Command) {
	if counter == nil {
		return
	}
	counter.Add(ctx, 1, metric.WithAttributes(attribute.String("tvroll.command", cmd.Name)))
}

func (c *LineChannel) collect(ctx context.Context, cmd protocol.Command, f Framing) (Response, error) {
	resp := Response{Command: cmd.String(), Lines: []string{}}

	if f.Settle > 0 {
		settle := time.NewTimer(f.Settle)
		select {
		case <-settle.C:
		case <-ctx.Done():
			settle.Stop()
			return resp, ctx.Err()
		}
	}

	deadline := time.NewTimer(f.Timeout)
	defer deadline.Stop()

	// quiet only fires after a line was read.
	var quiet <-chan time.Time
	var quietTimer *time.Timer
	defer func() {
		if quietTimer != nil {
			quietTimer.Stop()
		}
	}()

	for {
		select {
		case l := <-c.lines:
			resp.Lines = append(resp.Lines, l)
			if f.Terminator != "" && strings.Contains(l, f.Terminator) {
				resp.Terminated = true
				return resp, nil
			}
			if f.Quiescence > 0 {
				if quietTimer == nil {
					quietTimer = time.NewTimer(f.Quiescence)
				} else {
					quietTimer.Reset(f.Quiescence)
				}
				quiet = quietTimer.C
			}
		case <-quiet:
			return resp, nil
		case <-deadline.C:
			resp.Incomplete = true
			return resp, nil
		case <-c.done:
			// Deliver what the reader queued before it stopped.
			for {
				select {
				case l := <-c.lines:
					resp.Lines = append(resp.Lines, l)
				default:
					resp.Incomplete = true
					return resp, ErrClosed
				}
			}
		case <-ctx.Done():
			return resp, ctx.Err()
		}
	}
}

// Close closes the underlying stream.
func (c *LineChannel) Close() error {
	var err error
	c.once.Do(func() {
		err = c.rw.Close()
	})
	return err
}
