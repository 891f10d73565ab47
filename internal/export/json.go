package export

import (
	"bytes"
	"encoding/json"

	"github.com/dgallion1/docweave/internal/doctree"
	"github.com/dgallion1/docweave/internal/errs"
)

// SchemaVersion identifies the JSON and YAML document schema.
const SchemaVersion = "docweave/1"

type jsonDocument struct {
	SchemaVersion string `json:"schema_version"`
	*doctree.Document
}

// JSON serializes the full node graph. Keys follow struct order, so output
// is stable for a given document.
func JSON(doc *doctree.Document) ([]byte, error) {
	if err := check(doc, "export json"); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(jsonDocument{SchemaVersion: SchemaVersion, Document: doc}); err != nil {
		return nil, errs.New(errs.KindExportError, "export json", err)
	}
	return buf.Bytes(), nil
}

// FromJSON reads a document written by JSON and checks that it is a valid
// tree.
func FromJSON(data []byte) (*doctree.Document, error) {
	in := jsonDocument{Document: &doctree.Document{}}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		return nil, errs.New(errs.KindCorruptInput, "import json", err)
	}
	if in.SchemaVersion != SchemaVersion {
		return nil, errs.Newf(errs.KindCorruptInput, "import json", "unsupported schema %q", in.SchemaVersion)
	}
	if err := in.Document.Validate(); err != nil {
		return nil, errs.New(errs.KindCorruptInput, "import json", err)
	}
	return in.Document, nil
}
