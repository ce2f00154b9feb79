package client

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	pkgerrors "github.com/pkg/errors"

	"github.com/tvalice/tvroll/pkg/calibration"
	"github.com/tvalice/tvroll/pkg/channel"
	"github.com/tvalice/tvroll/pkg/history"
	"github.com/tvalice/tvroll/pkg/kinematics"
	"github.com/tvalice/tvroll/pkg/session"
	"github.com/tvalice/tvroll/pkg/types"
)

// call sends a request and decodes the JSON answer into T.
func call[T any](c *Client, method, path, data, what string) (T, error) {
	var v T
	ret, err := c.Send(method, path, data)
	if err != nil {
		return v, pkgerrors.Wrapf(err, "failed to %s", what)
	}
	if err := json.Unmarshal([]byte(ret), &v); err != nil {
		return v, pkgerrors.Wrapf(err, "failed to unmarshal %s response", what)
	}
	return v, nil
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func (c *Client) GetStatus(refresh bool) (types.Status, error) {
	path := "/status"
	if refresh {
		path += "?refresh=true"
	}
	return call[types.Status](c, http.MethodGet, path, "", "get status")
}

func (c *Client) GetConfig() (map[string]any, error) {
	return call[map[string]any](c, http.MethodGet, "/config", "", "get config")
}

func (c *Client) GetVersion() (types.Version, error) {
	return call[types.Version](c, http.MethodGet, "/version", "", "get version")
}

func (c *Client) GetPorts() ([]types.Port, error) {
	return call[[]types.Port](c, http.MethodGet, "/ports", "", "list serial ports")
}

// Plan returns the step budget for moving cm centimetres, without moving.
func (c *Client) Plan(cm float64) (kinematics.SyncPlan, error) {
	return call[kinematics.SyncPlan](c, http.MethodGet, "/plan?lengthCm="+formatNumber(cm), "", "plan move")
}

// Move moves cm centimetres of paper. Positive winds the source spool.
func (c *Client) Move(cm float64) (session.MoveResult, error) {
	return call[session.MoveResult](c, http.MethodPost, "/move", formatNumber(cm), "move")
}

// Step turns the source motor by steps. Positive is forward.
func (c *Client) Step(steps int) (session.MoveResult, error) {
	return call[session.MoveResult](c, http.MethodPost, "/step", strconv.Itoa(steps), "step")
}

func (c *Client) Stop() (channel.Response, error) {
	return call[channel.Response](c, http.MethodPost, "/stop", "", "stop motors")
}

func (c *Client) Reset() (channel.Response, error) {
	return call[channel.Response](c, http.MethodPost, "/reset", "", "reset position")
}

func (c *Client) Refresh() (session.RefreshResult, error) {
	return call[session.RefreshResult](c, http.MethodPost, "/refresh", "", "refresh status")
}

// Command sends a raw firmware command line.
func (c *Client) Command(line string) (channel.Response, error) {
	return call[channel.Response](c, http.MethodPost, "/command", jsonString(line), "send command")
}

func (c *Client) Goto(page int) (session.NavResult, error) {
	return call[session.NavResult](c, http.MethodPost, "/goto", strconv.Itoa(page), "go to page")
}

func (c *Client) Next() (session.NavResult, error) {
	return call[session.NavResult](c, http.MethodPost, "/next", "", "go to next page")
}

func (c *Client) Prev() (session.NavResult, error) {
	return call[session.NavResult](c, http.MethodPost, "/prev", "", "go to previous page")
}

func (c *Client) MovePages(delta int) (session.NavResult, error) {
	return call[session.NavResult](c, http.MethodPost, "/pages", strconv.Itoa(delta), "move pages")
}

func (c *Client) SetPageLength(cm float64) (string, error) {
	return call[string](c, http.MethodPut, "/page-length", formatNumber(cm), "set page length")
}

// SetSpeed sets the step interval and returns the one the board adopted.
func (c *Client) SetSpeed(micros int) (int, error) {
	return call[int](c, http.MethodPut, "/speed", strconv.Itoa(micros), "set speed")
}

func (c *Client) SpeedUp() (int, error) {
	return call[int](c, http.MethodPost, "/speed/up", "", "speed up")
}

func (c *Client) SpeedDown() (int, error) {
	return call[int](c, http.MethodPost, "/speed/down", "", "slow down")
}

func (c *Client) SetMarkPolicy(p calibration.Policy) (string, error) {
	return call[string](c, http.MethodPut, "/mark-policy", jsonString(string(p)), "set mark policy")
}

func (c *Client) SetNavigation(n session.Navigation) (string, error) {
	return call[string](c, http.MethodPut, "/navigation", jsonString(string(n)), "set navigation")
}

func (c *Client) GetMap() ([]session.PageView, error) {
	return call[[]session.PageView](c, http.MethodGet, "/map", "", "get page map")
}

// Mark marks the current position as the next page on the board.
func (c *Client) Mark() (session.MarkResult, error) {
	return call[session.MarkResult](c, http.MethodPost, "/mark", "", "mark page")
}

// MarkPage marks the current position as page in the host map only.
func (c *Client) MarkPage(page int) (session.MarkResult, error) {
	return call[session.MarkResult](c, http.MethodPost, "/mark", strconv.Itoa(page), "mark page")
}

func (c *Client) Save() (types.SaveResult, error) {
	return call[types.SaveResult](c, http.MethodPost, "/save", "", "save calibration")
}

// LoadBoard restores the map saved in the board's memory.
func (c *Client) LoadBoard() (session.RefreshResult, error) {
	return call[session.RefreshResult](c, http.MethodPost, "/load?source=board", "", "load calibration from the board")
}

// LoadFile restores the daemon's calibration file.
func (c *Client) LoadFile() (calibration.Document, error) {
	return call[calibration.Document](c, http.MethodPost, "/load?source=file", "", "load calibration file")
}

func (c *Client) Clear() (channel.Response, error) {
	return call[channel.Response](c, http.MethodPost, "/clear", "", "clear calibration")
}

// Export returns the encoded page map.
func (c *Client) Export(format calibration.Format) ([]byte, error) {
	ret, err := c.Get("/export?format=" + url.QueryEscape(string(format)))
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to export calibration")
	}
	return []byte(ret), nil
}

// Import replaces the host map with an encoded document.
func (c *Client) Import(data []byte, format calibration.Format) ([]session.PageView, error) {
	return call[[]session.PageView](c, http.MethodPost, "/import?format="+url.QueryEscape(string(format)), string(data), "import calibration")
}

func (c *Client) GetHistory(limit int) ([]history.Record, error) {
	return call[[]history.Record](c, http.MethodGet, "/history?limit="+strconv.Itoa(limit), "", "list history")
}

func (c *Client) GetHistoryRecord(id string) (history.Record, error) {
	return call[history.Record](c, http.MethodGet, "/history/"+url.PathEscape(id), "", "get history record")
}

func (c *Client) RestoreHistory(id string) ([]session.PageView, error) {
	return call[[]session.PageView](c, http.MethodPost, "/history/"+url.PathEscape(id)+"/restore", "", "restore history record")
}

func (c *Client) GetAutosave() (types.Autosave, error) {
	return call[types.Autosave](c, http.MethodGet, "/autosave", "", "get autosave schedule")
}

// SetAutosave sets the autosave cron expression. Empty disables autosave.
func (c *Client) SetAutosave(expr string) (types.Autosave, error) {
	return call[types.Autosave](c, http.MethodPut, "/autosave", jsonString(expr), "set autosave schedule")
}

func (c *Client) SkipAutosave() (types.Autosave, error) {
	return call[types.Autosave](c, http.MethodPost, "/autosave/skip", "", "skip next autosave")
}
