package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tvalice/tvroll/pkg/calibration"
	"github.com/tvalice/tvroll/pkg/config"
	"github.com/tvalice/tvroll/pkg/events"
	"github.com/tvalice/tvroll/pkg/history"
	"github.com/tvalice/tvroll/pkg/kinematics"
	"github.com/tvalice/tvroll/pkg/session"
	"github.com/tvalice/tvroll/pkg/simulator"
	"github.com/tvalice/tvroll/pkg/spool"
	"github.com/tvalice/tvroll/pkg/types"
	"github.com/tvalice/tvroll/pkg/utils/ptr"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) (*server, *simulator.Firmware) {
	t.Helper()
	dir := t.TempDir()

	conf := config.NewFileFromConfig(&config.RawFileConfig{
		CalibrationPath:  ptr.To(filepath.Join(dir, "calibration.json")),
		PollSeconds:      ptr.To(0),
		CommandTimeoutMs: ptr.To(500),
		StatusTimeoutMs:  ptr.To(500),
		QuiescenceMs:     ptr.To(30),
		SettleMs:         ptr.To(2),
		StatusSettleMs:   ptr.To(2),
	}, filepath.Join(dir, "tvroll.json"))
	require.NoError(t, config.Validate(conf))

	tr, err := config.Transport(conf)
	require.NoError(t, err)
	fw := simulator.New(tr, simulator.Options{})

	hub := events.NewEventHub()
	sess, err := openSession(conf, fw, hub)
	require.NoError(t, err)

	store, err := history.Open(context.Background(), ":memory:")
	require.NoError(t, err)

	s := newServer(conf, sess, hub, store)
	s.device = "simulator"
	s.simulated = true
	t.Cleanup(s.close)
	return s, fw
}

func do(t *testing.T, s *server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.setupRoutes().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestGetStatus(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s, http.MethodGet, "/status?refresh=true", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	st := decode[types.Status](t, w)
	assert.True(t, st.Simulated)
	assert.Equal(t, "simulator", st.Device)
	assert.False(t, st.Stale)
	assert.InDelta(t, 1500, st.Pair.Total, 1e-9)
	assert.Equal(t, calibration.PolicyAccept, st.Policy)
}

func TestMoveMarkAndNavigate(t *testing.T) {
	s, fw := newTestServer(t)

	w := do(t, s, http.MethodPost, "/move", "10")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	mv := decode[session.MoveResult](t, w)
	assert.Equal(t, int64(155), mv.Position)

	w = do(t, s, http.MethodPost, "/mark", "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, 1, decode[session.MarkResult](t, w).Page)

	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/move", "10").Code)
	w = do(t, s, http.MethodPost, "/mark", "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, 2, decode[session.MarkResult](t, w).Page)

	w = do(t, s, http.MethodGet, "/map", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]session.PageView](t, w), 2)

	w = do(t, s, http.MethodPost, "/prev", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	nav := decode[session.NavResult](t, w)
	assert.Equal(t, 2, nav.From)
	assert.Equal(t, 1, nav.To)
	assert.Equal(t, fw.Snapshot().Position, nav.Position)

	w = do(t, s, http.MethodPost, "/goto", "2")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 2, decode[session.NavResult](t, w).To)

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/goto", `"two"`).Code)
}

func TestSaveWritesFileAndHistory(t *testing.T) {
	s, fw := newTestServer(t)
	require.Equal(t, http.StatusCreated, do(t, s, http.MethodPost, "/mark", "").Code)

	w := do(t, s, http.MethodPost, "/save", "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	res := decode[types.SaveResult](t, w)
	assert.Equal(t, 1, res.TotalPages)
	assert.Equal(t, s.conf.CalibrationPath(), res.File)
	require.NotEmpty(t, res.HistoryID)
	assert.Len(t, fw.Snapshot().Saved, 1)

	doc, err := calibration.ReadFile(res.File)
	require.NoError(t, err)
	assert.Equal(t, 1, doc.TotalPages)

	w = do(t, s, http.MethodGet, "/history?limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]history.Record](t, w), 1)

	w = do(t, s, http.MethodGet, "/history/"+res.HistoryID, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "save", decode[history.Record](t, w).Reason)

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/history/nope", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/history?limit=0", "").Code)

	// Clear the board, then bring the saved map back from history.
	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/clear", "").Code)
	assert.Zero(t, s.sess.View().TotalDefined)
	w = do(t, s, http.MethodPost, "/history/"+res.HistoryID+"/restore", "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, 1, s.sess.View().TotalDefined)
	assert.True(t, s.sess.HostMap())
}

func TestSettingsAreSaved(t *testing.T) {
	s, fw := newTestServer(t)

	w := do(t, s, http.MethodPut, "/speed", "1500")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, 1500, s.conf.SpeedMicros())
	assert.Equal(t, 1500, fw.Snapshot().SpeedMicros)

	w = do(t, s, http.MethodPost, "/speed/up", "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, 1400, s.conf.SpeedMicros())

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPut, "/speed", "50").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPut, "/page-length", "0").Code)

	w = do(t, s, http.MethodPut, "/page-length", "12.5")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, 12.5, fw.Snapshot().PageLengthCm)

	require.Equal(t, http.StatusCreated, do(t, s, http.MethodPut, "/navigation", `"absolute"`).Code)
	assert.Equal(t, session.NavigationAbsolute, s.sess.View().Navigation)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPut, "/navigation", `"sideways"`).Code)

	g, err := config.NewFile(filepath.Join(filepath.Dir(s.conf.CalibrationPath()), "tvroll.json"))
	require.NoError(t, err)
	assert.Equal(t, 1400, g.SpeedMicros())
	assert.Equal(t, 12.5, g.PageLengthCm())
	assert.Equal(t, session.NavigationAbsolute, g.Navigation())
}

func TestMarkRejectPolicy(t *testing.T) {
	s, _ := newTestServer(t)
	require.Equal(t, http.StatusCreated, do(t, s, http.MethodPut, "/mark-policy", `"reject"`).Code)

	require.Equal(t, http.StatusCreated, do(t, s, http.MethodPost, "/mark", "3").Code)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/move", "10").Code)

	w := do(t, s, http.MethodPost, "/mark", "2")
	assert.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/mark", "two").Code)
}

func TestExportImport(t *testing.T) {
	s, _ := newTestServer(t)
	require.Equal(t, http.StatusCreated, do(t, s, http.MethodPost, "/mark", "").Code)

	w := do(t, s, http.MethodGet, "/export?format=yaml", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "yaml")
	assert.Contains(t, w.Body.String(), "total_pages: 1")
	exported := w.Body.String()

	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/clear", "").Code)

	w = do(t, s, http.MethodPost, "/import?format=yaml", exported)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, 1, s.sess.View().TotalDefined)

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/import", `{"pages": []}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/export?format=xml", "").Code)
}

func TestLoadFromFile(t *testing.T) {
	s, _ := newTestServer(t)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodPost, "/load?source=file", "").Code)

	m := calibration.NewMap(calibration.PolicyAccept)
	_, err := m.Mark(1, 0)
	require.NoError(t, err)
	_, err = m.Mark(2, 300)
	require.NoError(t, err)
	require.NoError(t, calibration.WriteFile(s.conf.CalibrationPath(), m.Export(time.Now())))

	w := do(t, s, http.MethodPost, "/load?source=file", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 2, s.sess.View().TotalDefined)

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/load?source=cloud", "").Code)
}

func TestCommandAndPlan(t *testing.T) {
	s, fw := newTestServer(t)

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/command", `"F:abc"`).Code)
	w := do(t, s, http.MethodPost, "/command", `"F:40"`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, int64(40), fw.Snapshot().Position)
	assert.True(t, s.sess.Stale())

	w = do(t, s, http.MethodGet, "/plan?lengthCm=10", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	plan := decode[kinematics.SyncPlan](t, w)
	assert.InDelta(t, 100, plan.Length, 1e-9)
	assert.Equal(t, "forward", plan.Direction)

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/plan", "").Code)
}

func TestAutosave(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	// Nothing calibrated yet.
	require.NoError(t, s.autosave())
	_, err := os.Stat(s.conf.CalibrationPath())
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = s.sess.Mark(ctx)
	require.NoError(t, err)
	require.NoError(t, s.autosavePreCheck())
	require.NoError(t, s.autosave())
	require.NoError(t, s.autosave())

	recs, err := s.store.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "autosave", recs[0].Reason)

	w := do(t, s, http.MethodPut, "/autosave", `"@every 1h"`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "@every 1h", decode[types.Autosave](t, w).Expression)
	assert.Equal(t, "@every 1h", s.conf.AutosaveCron())
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPut, "/autosave", `"soon"`).Code)

	require.Equal(t, http.StatusCreated, do(t, s, http.MethodPut, "/autosave", `""`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/autosave/skip", "").Code)
}

func TestServerSentEvents(t *testing.T) {
	s, _ := newTestServer(t)
	ts := httptest.NewServer(s.setupRoutes())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	require.Eventually(t, func() bool { return s.hub.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	_, err = s.sess.Move(context.Background(), 50)
	require.NoError(t, err)

	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		if sc.Text() == "event:"+events.TransportMoved {
			require.True(t, sc.Scan())
			data := strings.TrimPrefix(sc.Text(), "data:")
			var ev events.TransportMovedEvent
			require.NoError(t, json.Unmarshal([]byte(data), &ev))
			assert.InDelta(t, 50, ev.AchievedMm, 1e-9)
			return
		}
	}
	t.Fatalf("no %s event received: %v", events.TransportMoved, sc.Err())
}

func TestWebsocketEvents(t *testing.T) {
	s, _ := newTestServer(t)
	ts := httptest.NewServer(s.setupRoutes())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.hub.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	_, err = s.sess.MarkPage(4)
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ev events.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, events.PageMarked, ev.Name)
	p, err := events.DecodeAs[events.PageMarkedEvent](ev)
	require.NoError(t, err)
	assert.Equal(t, 4, p.Page)
}

func TestErrorStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&calibration.ConsistencyError{Page: 2}, http.StatusConflict},
		{fmt.Errorf("wrapped: %w", &session.FirmwareError{Command: "GOTO:9", Reply: "Página 9 não definida"}), http.StatusConflict},
		{&calibration.RangeError{}, http.StatusBadRequest},
		{&kinematics.DomainError{Op: "x", Reason: "y"}, http.StatusBadRequest},
		{&spool.ConfigurationError{}, http.StatusBadRequest},
		{history.ErrNotFound, http.StatusNotFound},
		{errHistoryDisabled, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, errorStatus(tc.err), tc.err.Error())
	}
}
