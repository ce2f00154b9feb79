package daemon

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/tvalice/tvroll/pkg/calibration"
	"github.com/tvalice/tvroll/pkg/kinematics"
	"github.com/tvalice/tvroll/pkg/protocol"
	"github.com/tvalice/tvroll/pkg/serial"
	"github.com/tvalice/tvroll/pkg/session"
	"github.com/tvalice/tvroll/pkg/types"
	"github.com/tvalice/tvroll/pkg/version"
)

const defaultHistoryLimit = 20

func (s *server) setupRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logrus.StandardLogger()))

	router.GET("/status", s.getStatus)
	router.GET("/config", s.getConfig)
	router.GET("/version", getVersion)
	router.GET("/ports", getPorts)
	router.GET("/plan", s.getPlan)

	router.POST("/move", s.move)
	router.POST("/step", s.step)
	router.POST("/stop", s.stop)
	router.POST("/reset", s.reset)
	router.POST("/refresh", s.refresh)
	router.POST("/command", s.command)

	router.POST("/goto", s.gotoPage)
	router.POST("/next", s.nextPage)
	router.POST("/prev", s.prevPage)
	router.POST("/pages", s.movePages)

	router.PUT("/page-length", s.setPageLength)
	router.PUT("/speed", s.setSpeed)
	router.POST("/speed/up", s.speedUp)
	router.POST("/speed/down", s.speedDown)
	router.PUT("/mark-policy", s.setMarkPolicy)
	router.PUT("/navigation", s.setNavigation)

	router.GET("/map", s.getMap)
	router.POST("/mark", s.mark)
	router.POST("/save", s.save)
	router.POST("/load", s.load)
	router.POST("/clear", s.clear)
	router.GET("/export", s.export)
	router.POST("/import", s.importMap)

	router.GET("/history", s.listHistory)
	router.GET("/history/:id", s.getHistory)
	router.POST("/history/:id/restore", s.restoreHistory)

	router.GET("/autosave", s.getAutosave)
	router.PUT("/autosave", s.setAutosave)
	router.POST("/autosave/skip", s.skipAutosave)

	router.GET("/events", s.streamEvents)
	router.GET("/ws", s.websocketEvents)

	return router
}

func (s *server) status() types.Status {
	next, _ := s.scheduler.Status()
	return types.Status{
		View:         s.sess.View(),
		Simulated:    s.simulated,
		Device:       s.device,
		RecentPolls:  s.recorder.GetRecordsIn(time.Minute),
		LastPoll:     s.recorder.GetLastRecord(),
		NextAutosave: next,
	}
}

func (s *server) getStatus(c *gin.Context) {
	if refresh, _ := strconv.ParseBool(c.Query("refresh")); refresh {
		if _, err := s.sess.Refresh(c.Request.Context()); err != nil {
			abortWithError(c, err)
			return
		}
	}
	c.IndentedJSON(http.StatusOK, s.status())
}

func (s *server) getConfig(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, s.conf.LogrusFields())
}

func getVersion(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, types.Version{Version: version.Version, GitCommit: version.GitCommit})
}

func getPorts(c *gin.Context) {
	paths, err := serial.ListPorts()
	if err != nil {
		abortWithError(c, err)
		return
	}
	ports := make([]types.Port, 0, len(paths))
	for _, p := range paths {
		ports = append(ports, types.Port{Path: p, Likely: serial.IsLikelyBoard(p)})
	}
	c.IndentedJSON(http.StatusOK, ports)
}

func (s *server) getPlan(c *gin.Context) {
	cm, err := strconv.ParseFloat(c.Query("lengthCm"), 64)
	if err != nil {
		badRequest(c, fmt.Errorf("lengthCm must be a number: %w", err))
		return
	}
	plan, err := s.sess.Plan(kinematics.CmToMm(cm))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, plan)
}

// move takes a signed length in centimetres. Positive winds the source.
func (s *server) move(c *gin.Context) {
	var cm float64
	if err := c.BindJSON(&cm); err != nil {
		badRequest(c, err)
		return
	}
	res, err := s.sess.Move(c.Request.Context(), kinematics.CmToMm(cm))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, res)
}

func (s *server) step(c *gin.Context) {
	var steps int
	if err := c.BindJSON(&steps); err != nil {
		badRequest(c, err)
		return
	}
	res, err := s.sess.Step(c.Request.Context(), steps)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, res)
}

func (s *server) stop(c *gin.Context) {
	resp, err := s.sess.Stop(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, resp)
}

func (s *server) reset(c *gin.Context) {
	resp, err := s.sess.Reset(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	logrus.Info("position reset")
	c.IndentedJSON(http.StatusOK, resp)
}

func (s *server) refresh(c *gin.Context) {
	res, err := s.sess.Refresh(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, res)
}

func (s *server) command(c *gin.Context) {
	var line string
	if err := c.BindJSON(&line); err != nil {
		badRequest(c, err)
		return
	}
	if _, err := protocol.ParseCommand(line); err != nil {
		badRequest(c, err)
		return
	}
	resp, err := s.sess.Send(c.Request.Context(), line)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, resp)
}

func (s *server) gotoPage(c *gin.Context) {
	var page int
	if err := c.BindJSON(&page); err != nil {
		badRequest(c, err)
		return
	}
	res, err := s.sess.GotoPage(c.Request.Context(), page)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, res)
}

func (s *server) nextPage(c *gin.Context) {
	res, err := s.sess.NextPage(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, res)
}

func (s *server) prevPage(c *gin.Context) {
	res, err := s.sess.PrevPage(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, res)
}

func (s *server) movePages(c *gin.Context) {
	var delta int
	if err := c.BindJSON(&delta); err != nil {
		badRequest(c, err)
		return
	}
	res, err := s.sess.MovePages(c.Request.Context(), delta)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, res)
}

func (s *server) saveConfig(c *gin.Context) bool {
	if err := s.conf.Save(); err != nil {
		logrus.Errorf("saveConfig failed: %v", err)
		c.IndentedJSON(http.StatusInternalServerError, err.Error())
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return false
	}
	return true
}

func (s *server) setPageLength(c *gin.Context) {
	var cm float64
	if err := c.BindJSON(&cm); err != nil {
		badRequest(c, err)
		return
	}
	if _, err := s.sess.SetPageLength(c.Request.Context(), cm); err != nil {
		abortWithError(c, err)
		return
	}

	s.conf.SetPageLengthCm(cm)
	if !s.saveConfig(c) {
		return
	}

	logrus.Infof("set page length to %g cm", cm)
	c.IndentedJSON(http.StatusCreated, fmt.Sprintf("set page length to %g cm", cm))
}

func (s *server) setSpeed(c *gin.Context) {
	var us int
	if err := c.BindJSON(&us); err != nil {
		badRequest(c, err)
		return
	}
	if _, err := s.sess.SetSpeed(c.Request.Context(), us); err != nil {
		abortWithError(c, err)
		return
	}
	s.speedChanged(c)
}

func (s *server) speedUp(c *gin.Context) {
	if _, err := s.sess.AdjustSpeed(c.Request.Context(), true); err != nil {
		abortWithError(c, err)
		return
	}
	s.speedChanged(c)
}

func (s *server) speedDown(c *gin.Context) {
	if _, err := s.sess.AdjustSpeed(c.Request.Context(), false); err != nil {
		abortWithError(c, err)
		return
	}
	s.speedChanged(c)
}

func (s *server) speedChanged(c *gin.Context) {
	us := s.sess.View().SpeedMicros
	s.conf.SetSpeedMicros(us)
	if !s.saveConfig(c) {
		return
	}

	logrus.Infof("set speed to %d us per step", us)
	c.IndentedJSON(http.StatusCreated, us)
}

func (s *server) setMarkPolicy(c *gin.Context) {
	var raw string
	if err := c.BindJSON(&raw); err != nil {
		badRequest(c, err)
		return
	}
	p, err := calibration.ParsePolicy(raw)
	if err != nil {
		badRequest(c, err)
		return
	}

	s.sess.SetPolicy(p)
	s.conf.SetMarkPolicy(p)
	if !s.saveConfig(c) {
		return
	}

	logrus.Infof("set mark policy to %s", p)
	c.IndentedJSON(http.StatusCreated, fmt.Sprintf("set mark policy to %s", p))
}

func (s *server) setNavigation(c *gin.Context) {
	var raw string
	if err := c.BindJSON(&raw); err != nil {
		badRequest(c, err)
		return
	}
	n, err := session.ParseNavigation(raw)
	if err != nil {
		badRequest(c, err)
		return
	}

	s.sess.SetNavigation(n)
	s.conf.SetNavigation(n)
	if !s.saveConfig(c) {
		return
	}

	logrus.Infof("set navigation to %s", n)
	c.IndentedJSON(http.StatusCreated, fmt.Sprintf("set navigation to %s", n))
}

func (s *server) getMap(c *gin.Context) {
	v := s.sess.View()
	c.IndentedJSON(http.StatusOK, v.Pages)
}

// mark with an empty body marks the next page on the board. A page number
// in the body marks that page on the host only.
func (s *server) mark(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		badRequest(c, err)
		return
	}

	var res session.MarkResult
	if len(bytes.TrimSpace(body)) == 0 {
		res, err = s.sess.Mark(c.Request.Context())
	} else {
		var page int
		if err := json.Unmarshal(body, &page); err != nil {
			badRequest(c, fmt.Errorf("page must be an integer: %w", err))
			return
		}
		res, err = s.sess.MarkPage(page)
	}
	if err != nil {
		abortWithError(c, err)
		return
	}
	if res.Warning != nil {
		logrus.Warn(res.Message)
	}
	c.IndentedJSON(http.StatusCreated, res)
}

// save stores the map in the board's memory, then on disk.
func (s *server) save(c *gin.Context) {
	doc, _, err := s.sess.Save(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	res, err := s.persist(c.Request.Context(), "save", doc)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.IndentedJSON(http.StatusCreated, res)
}

// load restores the map saved on the board, or with ?source=file the
// calibration file.
func (s *server) load(c *gin.Context) {
	switch c.DefaultQuery("source", "board") {
	case "board":
		res, err := s.sess.LoadFirmware(c.Request.Context())
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.IndentedJSON(http.StatusOK, res)
	case "file":
		path := s.conf.CalibrationPath()
		if path == "" {
			badRequest(c, fmt.Errorf("no calibration file configured"))
			return
		}
		if err := s.restoreFile(path); err != nil {
			abortWithError(c, err)
			return
		}
		c.IndentedJSON(http.StatusOK, s.sess.Export())
	default:
		badRequest(c, fmt.Errorf("unknown source %q, use board or file", c.Query("source")))
	}
}

func (s *server) clear(c *gin.Context) {
	resp, err := s.sess.Clear(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	logrus.Info("calibration cleared")
	c.IndentedJSON(http.StatusOK, resp)
}

func formatOf(c *gin.Context) (calibration.Format, error) {
	f := strings.ToLower(c.Query("format"))
	if f == "" && strings.Contains(c.ContentType(), "yaml") {
		f = string(calibration.FormatYAML)
	}
	switch calibration.Format(f) {
	case "", calibration.FormatJSON:
		return calibration.FormatJSON, nil
	case calibration.FormatYAML:
		return calibration.FormatYAML, nil
	}
	return "", fmt.Errorf("unknown format %q, use json or yaml", f)
}

func (s *server) export(c *gin.Context) {
	format, err := formatOf(c)
	if err != nil {
		badRequest(c, err)
		return
	}

	var buf bytes.Buffer
	if err := calibration.Encode(&buf, s.sess.Export(), format); err != nil {
		abortWithError(c, err)
		return
	}
	contentType := "application/json"
	if format == calibration.FormatYAML {
		contentType = "application/yaml"
	}
	c.Data(http.StatusOK, contentType, buf.Bytes())
}

func (s *server) importMap(c *gin.Context) {
	format, err := formatOf(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	body, err := c.GetRawData()
	if err != nil {
		badRequest(c, err)
		return
	}
	doc, err := calibration.Decode(body, format)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if err := s.sess.Import(doc); err != nil {
		abortWithError(c, err)
		return
	}
	logrus.Infof("imported %d pages", doc.TotalPages)
	c.IndentedJSON(http.StatusCreated, s.sess.View().Pages)
}

func (s *server) listHistory(c *gin.Context) {
	if s.store == nil {
		abortWithError(c, errHistoryDisabled)
		return
	}
	limit := defaultHistoryLimit
	if q := c.Query("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			badRequest(c, fmt.Errorf("limit must be a positive integer, got %q", q))
			return
		}
		limit = n
	}
	recs, err := s.store.List(c.Request.Context(), limit)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, recs)
}

func (s *server) getHistory(c *gin.Context) {
	if s.store == nil {
		abortWithError(c, errHistoryDisabled)
		return
	}
	rec, err := s.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, rec)
}

func (s *server) restoreHistory(c *gin.Context) {
	if s.store == nil {
		abortWithError(c, errHistoryDisabled)
		return
	}
	rec, err := s.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	if err := s.sess.Import(rec.Document); err != nil {
		abortWithError(c, err)
		return
	}
	logrus.Infof("restored calibration %s from %s", rec.ID, rec.CreatedAt.Format(time.DateTime))
	c.IndentedJSON(http.StatusCreated, s.sess.View().Pages)
}

func (s *server) autosaveStatus() types.Autosave {
	next, running := s.scheduler.Status()
	return types.Autosave{Expression: s.scheduler.Expression(), NextRun: next, Running: running}
}

func (s *server) getAutosave(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, s.autosaveStatus())
}

func (s *server) setAutosave(c *gin.Context) {
	var expr string
	if err := c.BindJSON(&expr); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.scheduler.Schedule(expr); err != nil {
		badRequest(c, err)
		return
	}

	s.conf.SetAutosaveCron(strings.TrimSpace(expr))
	if !s.saveConfig(c) {
		return
	}

	logrus.Infof("set autosave schedule to %q", expr)
	c.IndentedJSON(http.StatusCreated, s.autosaveStatus())
}

func (s *server) skipAutosave(c *gin.Context) {
	if err := s.scheduler.Skip(); err != nil {
		badRequest(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, s.autosaveStatus())
}
