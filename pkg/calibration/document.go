package calibration

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// PageRecord is one page of a Document. Steps is null for undefined pages.
type PageRecord struct {
	Number  int    `json:"number" yaml:"number"`
	Steps   *int64 `json:"steps" yaml:"steps"`
	Defined bool   `json:"defined" yaml:"defined"`
}

// Document is the persisted form of a Map.
type Document struct {
	TotalPages   int          `json:"total_pages" yaml:"total_pages"`
	Pages        []PageRecord `json:"pages" yaml:"pages"`
	CurrentPage  int          `json:"current_page" yaml:"current_page"`
	CurrentSteps int64        `json:"current_steps" yaml:"current_steps"`
	LastUpdated  time.Time    `json:"last_updated" yaml:"last_updated"`
}

// timestampLayouts are tried in order for last_updated. Older documents
// carry an ISO time without zone, which is read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func parseTimestamp(s string) (time.Time, error) {
	var firstErr error
	for _, layout := range timestampLayouts {
		t, err := time.ParseInLocation(layout, s, time.UTC)
		if err == nil {
			return t, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}

// UnmarshalJSON accepts last_updated with or without a zone offset. A
// missing or null value leaves it zero.
func (d *Document) UnmarshalJSON(b []byte) error {
	type plain Document
	var aux struct {
		plain
		LastUpdated *string `json:"last_updated"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*d = Document(aux.plain)
	d.LastUpdated = time.Time{}
	if aux.LastUpdated != nil && *aux.LastUpdated != "" {
		t, err := parseTimestamp(*aux.LastUpdated)
		if err != nil {
			return fmt.Errorf("invalid last_updated: %w", err)
		}
		d.LastUpdated = t
	}
	return nil
}

// Export snapshots the map. TotalPages counts defined entries only.
func (m *Map) Export(now time.Time) Document {
	doc := Document{
		TotalPages:   m.DefinedCount(),
		Pages:        make([]PageRecord, 0, len(m.entries)),
		CurrentPage:  m.CurrentPage(),
		CurrentSteps: m.position,
		LastUpdated:  now.UTC().Truncate(time.Second),
	}
	for _, e := range m.entries {
		rec := PageRecord{Number: e.Page, Defined: e.Defined}
		if e.Defined {
			steps := e.Steps
			rec.Steps = &steps
		}
		doc.Pages = append(doc.Pages, rec)
	}
	return doc
}

// Entries validates the pages of the document and returns them as entries
// in page order.
func (d Document) Entries() ([]Entry, error) {
	entries := make([]Entry, 0, len(d.Pages))
	seen := make(map[int]struct{}, len(d.Pages))
	defined := 0

	for i, p := range d.Pages {
		if p.Number < 0 {
			return nil, &FormatError{Source: "calibration document", Reason: fmt.Sprintf("pages[%d]: negative page number %d", i, p.Number)}
		}
		if _, dup := seen[p.Number]; dup {
			return nil, &FormatError{Source: "calibration document", Reason: fmt.Sprintf("pages[%d]: duplicate page %d", i, p.Number)}
		}
		seen[p.Number] = struct{}{}

		e := Entry{Page: p.Number, Defined: p.Defined}
		if p.Defined {
			if p.Steps == nil {
				return nil, &FormatError{Source: "calibration document", Reason: fmt.Sprintf("pages[%d]: defined page %d has no steps", i, p.Number)}
			}
			if *p.Steps < 0 {
				return nil, &FormatError{Source: "calibration document", Reason: fmt.Sprintf("pages[%d]: negative steps %d", i, *p.Steps)}
			}
			e.Steps = *p.Steps
			defined++
		}
		entries = append(entries, e)
	}

	if d.TotalPages != defined {
		return nil, &FormatError{Source: "calibration document", Reason: fmt.Sprintf("total_pages is %d but %d pages are defined", d.TotalPages, defined)}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Page < entries[j].Page })
	return entries, nil
}

// Load replaces the whole map with the contents of doc. On error the map is
// left as it was.
func (m *Map) Load(doc Document) error {
	entries, err := doc.Entries()
	if err != nil {
		return err
	}
	m.entries = entries
	m.position = doc.CurrentSteps
	return nil
}

// Replace swaps in entries reported by the firmware together with its
// position. Entries are validated like a loaded document.
func (m *Map) Replace(entries []Entry, position int64) error {
	doc := Document{CurrentSteps: position}
	for _, e := range entries {
		rec := PageRecord{Number: e.Page, Defined: e.Defined}
		if e.Defined {
			steps := e.Steps
			rec.Steps = &steps
			doc.TotalPages++
		}
		doc.Pages = append(doc.Pages, rec)
	}
	return m.Load(doc)
}
