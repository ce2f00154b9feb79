package daemon

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tvalice/tvroll/pkg/channel"
	"github.com/tvalice/tvroll/pkg/config"
	"github.com/tvalice/tvroll/pkg/events"
	"github.com/tvalice/tvroll/pkg/history"
	"github.com/tvalice/tvroll/pkg/serial"
	"github.com/tvalice/tvroll/pkg/session"
	"github.com/tvalice/tvroll/pkg/simulator"
	"github.com/tvalice/tvroll/pkg/telemetry"
	"github.com/tvalice/tvroll/pkg/version"
)

const (
	shutdownTimeout = 5 * time.Second
	startupTimeout  = 10 * time.Second
	// recordCount is how many poll times the status keeps.
	recordCount = 120
)

// Options configure Run.
type Options struct {
	ConfigPath   string
	SocketPath   string
	AllowNonRoot bool
	// Simulate forces the in-process firmware simulator.
	Simulate bool
	// Device overrides the configured serial port.
	Device string
}

type server struct {
	conf      *config.File
	sess      *session.Session
	store     *history.Store
	hub       *events.EventHub
	scheduler *Scheduler
	recorder  *TimeSeriesRecorder
	upgrader  websocket.Upgrader

	device    string
	simulated bool

	persistMu sync.Mutex
	lastSaved string
}

// newServer wires a server around an already open session. store may be nil.
func newServer(conf *config.File, sess *session.Session, hub *events.EventHub, store *history.Store) *server {
	s := &server{
		conf:     conf,
		sess:     sess,
		store:    store,
		hub:      hub,
		recorder: NewTimeSeriesRecorder(recordCount, conf.PollInterval()),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Only reachable through the unix socket.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.scheduler = NewScheduler(s.autosave, s.autosavePreCheck, func(data any) {
		logrus.WithField("error", data).Warn("autosave")
	})
	return s
}

// openDevice opens the configured serial port, or the simulator.
func openDevice(conf *config.File, opts Options) (io.ReadWriteCloser, string, bool, error) {
	if opts.Simulate || conf.Simulate() {
		t, err := config.Transport(conf)
		if err != nil {
			return nil, "", false, err
		}
		fw := simulator.New(t, simulator.Options{
			PageLengthCm: conf.PageLengthCm(),
			SpeedMicros:  conf.SpeedMicros(),
		})
		return fw, "simulator", true, nil
	}

	cfg := serial.DefaultConfig()
	cfg.BaudRate = conf.BaudRate()
	if conf.SerialPort() != "" {
		cfg.Device = conf.SerialPort()
	}
	if opts.Device != "" {
		cfg.Device = opts.Device
	}
	cfg.LockDir = os.TempDir()

	port, err := serial.Open(cfg)
	if err != nil {
		return nil, "", false, err
	}
	return port, port.Device(), false, nil
}

func openSession(conf *config.File, rw io.ReadWriteCloser, hub *events.EventHub) (*session.Session, error) {
	t, err := config.Transport(conf)
	if err != nil {
		return nil, err
	}
	cmd, status := config.Framings(conf)
	return session.New(t, channel.NewLineChannel(rw), session.Options{
		Policy:         conf.MarkPolicy(),
		Navigation:     conf.Navigation(),
		PageLengthCm:   conf.PageLengthCm(),
		SpeedMicros:    conf.SpeedMicros(),
		CommandFraming: cmd,
		StatusFraming:  status,
		Events:         hub,
	}), nil
}

// startup pushes the configured settings to the board and reads its state.
// When the board has no pages but a calibration file exists, the file is
// imported.
func (s *server) startup(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	if _, err := s.sess.SetPageLength(ctx, s.conf.PageLengthCm()); err != nil {
		logrus.WithError(err).Warn("failed to set page length on the board")
	}
	if _, err := s.sess.SetSpeed(ctx, s.conf.SpeedMicros()); err != nil {
		logrus.WithError(err).Warn("failed to set speed on the board")
	}
	if _, err := s.sess.Refresh(ctx); err != nil {
		logrus.WithError(err).Warn("initial status refresh failed")
	}

	if s.sess.View().TotalDefined > 0 {
		return
	}
	path := s.conf.CalibrationPath()
	if path == "" {
		return
	}
	if err := s.restoreFile(path); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logrus.WithError(err).Warnf("failed to restore calibration from %s", path)
		}
		return
	}
	logrus.Infof("restored calibration from %s", path)
}

func (s *server) close() {
	s.scheduler.Stop()
	if err := s.sess.Close(); err != nil {
		logrus.WithError(err).Error("failed to close device")
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			logrus.WithError(err).Error("failed to close history")
		}
	}
}

func loadConfig(path string) (*config.File, error) {
	conf, err := config.NewFile(path)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to parse config")
	}
	if err := conf.ApplyEnv(nil); err != nil {
		return nil, err
	}
	if err := config.Validate(conf); err != nil {
		return nil, err
	}
	return conf, nil
}

// reload re-reads the config file and applies what can change at runtime.
// Geometry and serial settings need a restart.
func (s *server) reload() error {
	if err := s.conf.Load(); err != nil {
		return err
	}
	if err := s.conf.ApplyEnv(nil); err != nil {
		return err
	}
	if err := config.Validate(s.conf); err != nil {
		return err
	}
	s.sess.SetPolicy(s.conf.MarkPolicy())
	s.sess.SetNavigation(s.conf.Navigation())
	s.recorder.SetInterval(s.conf.PollInterval())
	return s.scheduler.Schedule(s.conf.AutosaveCron())
}

func (s *server) watchReload(ctx context.Context) {
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGHUP)
	defer signal.Stop(sigc)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sigc:
			if err := s.reload(); err != nil {
				logrus.Errorf("failed to reload config: %v", err)
				continue
			}
			logrus.WithFields(s.conf.LogrusFields()).Infof("config reloaded")
		}
	}
}

func Run(opts Options) error {
	conf, err := loadConfig(opts.ConfigPath)
	if err != nil {
		return err
	}
	logrus.WithFields(conf.LogrusFields()).Infof("config loaded")

	// Handle common process-killing signals, so we can gracefully shut down.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, conf.OtelEndpoint(), "tvroll", version.Version, true)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			logrus.WithError(err).Warn("failed to flush telemetry")
		}
	}()

	var store *history.Store
	if p := conf.HistoryPath(); p != "" {
		store, err = history.Open(ctx, p)
		if err != nil {
			return err
		}
	}

	rw, device, simulated, err := openDevice(conf, opts)
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return err
	}
	logrus.WithFields(logrus.Fields{"device": device, "simulated": simulated}).Info("device opened")

	hub := events.NewEventHub()
	sess, err := openSession(conf, rw, hub)
	if err != nil {
		_ = rw.Close()
		if store != nil {
			_ = store.Close()
		}
		return err
	}

	s := newServer(conf, sess, hub, store)
	s.device = device
	s.simulated = simulated
	defer s.close()

	s.startup(ctx)

	if err := s.scheduler.Schedule(conf.AutosaveCron()); err != nil {
		return err
	}
	s.scheduler.Start()

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Handler: s.setupRoutes(),
	}

	// A socket left by a crashed daemon blocks Listen. The serial lock
	// already guarantees no other daemon owns the board.
	if fi, err := os.Stat(opts.SocketPath); err == nil && fi.Mode()&os.ModeSocket != 0 {
		_ = os.Remove(opts.SocketPath)
	}

	// Create the socket to listen on:
	l, err := net.Listen("unix", opts.SocketPath)
	if err != nil {
		return err
	}

	if conf.AllowNonRootAccess() || opts.AllowNonRoot {
		logrus.Infof("non-root access is allowed, changing permissions of %s to 0777", opts.SocketPath)
		if err := os.Chmod(opts.SocketPath, 0777); err != nil {
			_ = l.Close()
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	// Serve HTTP on unix socket
	g.Go(func() error {
		logrus.Infof("http server listening on %s", l.Addr().String())
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logrus.Info("shutting down http server")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			logrus.Errorf("failed to shutdown http server: %v", err)
		}
		return nil
	})

	g.Go(func() error { return s.pollLoop(gctx) })

	g.Go(func() error {
		s.watchReload(gctx)
		return nil
	})

	err = g.Wait()

	// Keep what was calibrated since the last autosave.
	if aerr := s.autosave(); aerr != nil {
		logrus.WithError(aerr).Error("final autosave failed")
	}

	logrus.Info("exiting")
	return err
}
