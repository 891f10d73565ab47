package export

import (
	"github.com/goccy/go-yaml"

	"github.com/dgallion1/docweave/internal/doctree"
	"github.com/dgallion1/docweave/internal/errs"
)

// YAML serializes the same schema as JSON, with the same key order.
func YAML(doc *doctree.Document) ([]byte, error) {
	js, err := JSON(doc)
	if err != nil {
		return nil, err
	}
	out, err := yaml.JSONToYAML(js)
	if err != nil {
		return nil, errs.New(errs.KindExportError, "export yaml", err)
	}
	return out, nil
}

// FromYAML reads a document written by YAML.
func FromYAML(data []byte) (*doctree.Document, error) {
	js, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, errs.New(errs.KindCorruptInput, "import yaml", err)
	}
	return FromJSON(js)
}
