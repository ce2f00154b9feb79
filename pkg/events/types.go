package events

import "encoding/json"

// Event name constants
const (
	PageChanged     = "page.changed"
	TransportMoved  = "transport.moved"
	PageMarked      = "calibration.marked"
	MapReplaced     = "calibration.replaced"
	StatusRefreshed = "status.refreshed"
	SettingsChanged = "settings.changed"
)

// Event is a generic SSE event from daemon.
type Event struct {
	Name string          `json:"name"` // SSE event name
	Data json.RawMessage `json:"data"` // Raw JSON payload
}

// PageChangedEvent is the typed payload for page.changed.
type PageChangedEvent struct {
	From int   `json:"from"`
	To   int   `json:"to"`
	Ts   int64 `json:"ts"`
}

// TransportMovedEvent is the typed payload for transport.moved.
type TransportMovedEvent struct {
	RequestedMm float64 `json:"requestedMm"`
	AchievedMm  float64 `json:"achievedMm"`
	SourceMm    float64 `json:"sourceMm"`
	SinkMm      float64 `json:"sinkMm"`
	Position    int64   `json:"position"`
	Ts          int64   `json:"ts"`
}

// PageMarkedEvent is the typed payload for calibration.marked.
type PageMarkedEvent struct {
	Page    int    `json:"page"`
	Steps   int64  `json:"steps"`
	Warning string `json:"warning,omitempty"`
	Ts      int64  `json:"ts"`
}

// MapReplacedEvent is the typed payload for calibration.replaced.
type MapReplacedEvent struct {
	Reason       string `json:"reason"`
	TotalDefined int    `json:"totalDefined"`
	Ts           int64  `json:"ts"`
}

// StatusRefreshedEvent is the typed payload for status.refreshed.
type StatusRefreshedEvent struct {
	Kind        string `json:"kind"`
	CurrentPage int    `json:"currentPage"`
	Position    int64  `json:"position"`
	Ts          int64  `json:"ts"`
}

// SettingsChangedEvent is the typed payload for settings.changed.
type SettingsChangedEvent struct {
	PageLengthCm float64 `json:"pageLengthCm"`
	SpeedMicros  int     `json:"speedMicros"`
	Ts           int64   `json:"ts"`
}

// DecodeAs decodes the event payload into the caller-specified generic type T.
// It ignores the event name and simply unmarshals Data into T. If Data is empty,
// it returns the zero value of T with a nil error.
//
// Example:
//
//	payload, err := events.DecodeAs[events.PageChangedEvent](ev)
//	if err != nil { /* handle */ }
//	fmt.Println(payload.From, payload.To)
func DecodeAs[T any](e Event) (T, error) {
	var zero T
	if len(e.Data) == 0 {
		return zero, nil
	}
	var v T
	if err := json.Unmarshal(e.Data, &v); err != nil {
		return zero, err
	}
	return v, nil
}
