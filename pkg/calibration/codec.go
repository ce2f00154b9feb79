package calibration

import (
	"bytes"
	"encoding/json"
	"io"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	pkgerrors "github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Format is the on-disk encoding of a Document.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatForPath picks the encoding from a file extension. Anything that is
// not .yaml or .yml is JSON.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatJSON
}

const documentSchema = `
total_pages!:   int & >=0
pages!: [...{
	number:  int & >=0
	steps:   *null | (int & >=0)
	defined: bool
}]
current_page!:  int & >=0
current_steps!: int
last_updated?: string
`

var requiredKeys = []string{"total_pages", "pages", "current_page", "current_steps"}

// Encode writes doc to w.
func Encode(w io.Writer, doc Document, format Format) error {
	if doc.Pages == nil {
		doc.Pages = []PageRecord{}
	}

	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return pkgerrors.Wrapf(err, "failed to encode calibration document as yaml")
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(doc); err != nil {
			return pkgerrors.Wrapf(err, "failed to encode calibration document as json")
		}
		return nil
	}
}

// Decode parses and validates a document. Every failure is a *FormatError.
func Decode(data []byte, format Format) (Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Document{}, &FormatError{Source: "calibration document", Reason: "empty document"}
	}

	jsonData := data
	if format == FormatYAML {
		var raw any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return Document{}, &FormatError{Source: "calibration document", Reason: "invalid yaml", Err: err}
		}
		b, err := json.Marshal(raw)
		if err != nil {
			return Document{}, &FormatError{Source: "calibration document", Reason: "yaml is not representable as json", Err: err}
		}
		jsonData = b
	}

	if err := validate(jsonData); err != nil {
		return Document{}, err
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal(jsonData, &keys); err != nil {
		return Document{}, &FormatError{Source: "calibration document", Reason: "not an object", Err: err}
	}
	for _, k := range requiredKeys {
		if _, ok := keys[k]; !ok {
			return Document{}, &FormatError{Source: "calibration document", Reason: "missing " + k}
		}
	}

	var doc Document
	if err := json.Unmarshal(jsonData, &doc); err != nil {
		return Document{}, &FormatError{Source: "calibration document", Reason: "invalid json", Err: err}
	}
	if _, err := doc.Entries(); err != nil {
		return Document{}, err
	}
	return doc, nil
}

func validate(jsonData []byte) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString("close({" + documentSchema + "})")
	if err := schema.Err(); err != nil {
		return pkgerrors.Wrapf(err, "failed to compile calibration schema")
	}

	value := ctx.CompileBytes(jsonData, cue.Filename("calibration.json"))
	if err := value.Err(); err != nil {
		return &FormatError{Source: "calibration document", Reason: "not a valid document", Err: err}
	}
	if err := schema.Unify(value).Validate(cue.Concrete(true)); err != nil {
		return &FormatError{Source: "calibration document", Reason: "schema violation", Err: err}
	}
	return nil
}
