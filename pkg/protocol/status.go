package protocol

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/tvalice/tvroll/pkg/calibration"
)

// Status report labels printed by the firmware.
const (
	LabelCurrentPage  = "Página atual:"
	LabelAccumulated  = "Passos acumulados:"
	LabelTotalDefined = "Total de páginas definidas:"

	// Terminator ends every status report.
	Terminator = "-------------"

	// DefinedMarker flags a defined row in the mapping table.
	DefinedMarker = "✓"
)

var (
	labelAliases = map[string][]string{
		LabelCurrentPage:  {"current page:"},
		LabelAccumulated:  {"accumulated steps:"},
		LabelTotalDefined: {"total defined:", "defined pages:"},
	}

	firstInt   = regexp.MustCompile(`-?\d+`)
	tableRow   = regexp.MustCompile(`^\s*\d+\s*\|`)
	spoolLine  = regexp.MustCompile(`Rolo ([XY]): ([\d.]+)cm.*Diâmetro: ([\d.]+)mm`)
	pageReport = regexp.MustCompile(`Página: (\d+)/(\d+)`)
)

// Kind tags a parse result.
type Kind int

const (
	// Complete means the terminator was seen.
	Complete Kind = iota
	// Partial means some fields were recognized but the report was cut off.
	Partial
)

func (k Kind) String() string {
	if k == Complete {
		return "complete"
	}
	return "partial"
}

// SpoolReport is one "Rolo" line of the motion front-end.
type SpoolReport struct {
	LengthCm   float64 `json:"lengthCm"`
	DiameterMm float64 `json:"diameterMm"`
}

// PageReport is the "Página: n/m" line of the motion front-end.
type PageReport struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// TransportReport collects what the firmware says about the spools. X is
// the source spool and Y the sink.
type TransportReport struct {
	Source *SpoolReport `json:"source,omitempty"`
	Sink   *SpoolReport `json:"sink,omitempty"`
	Page   *PageReport  `json:"page,omitempty"`
}

// Empty reports whether nothing was recognized.
func (r TransportReport) Empty() bool {
	return r.Source == nil && r.Sink == nil && r.Page == nil
}

// Snapshot is the decoded content of one status report.
type Snapshot struct {
	CurrentPage      int                 `json:"currentPage"`
	AccumulatedSteps int64               `json:"accumulatedSteps"`
	TotalDefined     int                 `json:"totalDefined"`
	Entries          []calibration.Entry `json:"entries"`
	Transport        TransportReport     `json:"transport"`

	HasCurrentPage  bool `json:"-"`
	HasAccumulated  bool `json:"-"`
	HasTotalDefined bool `json:"-"`
}

// Result is the tagged outcome of ParseStatus.
type Result struct {
	Kind     Kind
	Snapshot Snapshot
	// Ignored counts non-empty lines that matched nothing.
	Ignored int
}

// ParseStatus decodes a status report given as text.
func ParseStatus(text string) (Result, error) {
	return ParseLines(strings.Split(text, "\n"))
}

// ParseLines decodes a status report. Lines after the terminator are
// ignored. A report with no recognizable content and no terminator is a
// *calibration.FormatError.
func ParseLines(lines []string) (Result, error) {
	var (
		res        Result
		recognized bool
		terminated bool
	)
	snap := &res.Snapshot

	for _, raw := range lines {
		line := strings.TrimRight(raw, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if strings.Contains(line, Terminator) {
			terminated = true
			break
		}

		switch {
		case hasLabel(line, LabelCurrentPage):
			if n, ok := intAfter(line); ok {
				snap.CurrentPage, snap.HasCurrentPage, recognized = int(n), true, true
			}
		case hasLabel(line, LabelAccumulated):
			if n, ok := intAfter(line); ok {
				snap.AccumulatedSteps, snap.HasAccumulated, recognized = n, true, true
			}
		case hasLabel(line, LabelTotalDefined):
			if n, ok := intAfter(line); ok {
				snap.TotalDefined, snap.HasTotalDefined, recognized = int(n), true, true
			}
		case tableRow.MatchString(line):
			if e, ok := parseRow(line); ok {
				snap.Entries = append(snap.Entries, e)
				recognized = true
			}
		default:
			if parseTransportLine(line, &snap.Transport) {
				recognized = true
			} else {
				res.Ignored++
			}
		}
	}

	switch {
	case terminated:
		res.Kind = Complete
	case recognized:
		res.Kind = Partial
	default:
		return Result{}, &calibration.FormatError{Source: "status report", Reason: "no recognizable fields and no terminator"}
	}
	return res, nil
}

// ParseTransport extracts spool and page lines from any firmware response.
func ParseTransport(lines []string) TransportReport {
	var r TransportReport
	for _, l := range lines {
		parseTransportLine(l, &r)
	}
	return r
}

func hasLabel(line, label string) bool {
	if strings.Contains(line, label) {
		return true
	}
	lower := strings.ToLower(line)
	for _, alias := range labelAliases[label] {
		if strings.Contains(lower, alias) {
			return true
		}
	}
	return false
}

// intAfter returns the first integer in line after its label colon. The sign
// is kept: the board's step counter goes negative after backward moves past
// the zero reference, and dropping the sign would place marks at the mirrored
// position.
func intAfter(line string) (int64, bool) {
	_, rest, found := strings.Cut(line, ":")
	if !found {
		rest = line
	}
	m := firstInt.FindString(rest)
	if m == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(m, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// parseRow decodes "page | steps | pageSteps | marker". Rows without a
// numeric step count are skipped.
func parseRow(line string) (calibration.Entry, bool) {
	parts := strings.Split(line, "|")
	if len(parts) < 3 {
		return calibration.Entry{}, false
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	page, err := strconv.Atoi(parts[0])
	if err != nil {
		return calibration.Entry{}, false
	}
	if parts[1] == "" || parts[1] == "-" {
		return calibration.Entry{}, false
	}
	steps, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return calibration.Entry{}, false
	}

	defined := len(parts) > 3 && strings.Contains(parts[3], DefinedMarker)
	return calibration.Entry{Page: page, Steps: steps, Defined: defined}, true
}

func parseTransportLine(line string, r *TransportReport) bool {
	if m := spoolLine.FindStringSubmatch(line); m != nil {
		length, err1 := strconv.ParseFloat(m[2], 64)
		diameter, err2 := strconv.ParseFloat(m[3], 64)
		if err1 != nil || err2 != nil {
			return false
		}
		sr := &SpoolReport{LengthCm: length, DiameterMm: diameter}
		if m[1] == "X" {
			r.Source = sr
		} else {
			r.Sink = sr
		}
		return true
	}
	if m := pageReport.FindStringSubmatch(line); m != nil {
		cur, _ := strconv.Atoi(m[1])
		total, _ := strconv.Atoi(m[2])
		r.Page = &PageReport{Current: cur, Total: total}
		return true
	}
	return false
}
