// Package types holds payloads shared between the daemon and client
// packages.
package types

import (
	"time"

	"github.com/tvalice/tvroll/pkg/session"
)

// Status is the answer of GET /status.
type Status struct {
	session.View

	// Simulated is true when the daemon drives the in-process simulator.
	Simulated bool   `json:"simulated"`
	Device    string `json:"device,omitempty"`
	// RecentPolls counts the uninterrupted status polls of the last minute.
	RecentPolls  int       `json:"recentPolls"`
	LastPoll     time.Time `json:"lastPoll,omitempty"`
	NextAutosave time.Time `json:"nextAutosave,omitempty"`
}

// Port is one serial device candidate.
type Port struct {
	Path   string `json:"path"`
	Likely bool   `json:"likely"`
}

// Version is the answer of GET /version.
type Version struct {
	Version   string `json:"version"`
	GitCommit string `json:"gitCommit"`
}

// SaveResult is the answer of POST /save.
type SaveResult struct {
	TotalPages int    `json:"totalPages"`
	File       string `json:"file,omitempty"`
	HistoryID  string `json:"historyId,omitempty"`
}

// Autosave is the answer of GET /autosave.
type Autosave struct {
	// Expression is the cron expression, empty when autosave is off.
	Expression string    `json:"expression"`
	NextRun    time.Time `json:"nextRun,omitempty"`
	Running    bool      `json:"running"`
}
