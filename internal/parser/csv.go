package parser

import (
	"context"
	"encoding/csv"
	"strings"

	"github.com/dgallion1/docweave/internal/detect"
	"github.com/dgallion1/docweave/internal/doctree"
)

// CSVParser handles delimited text. The whole file becomes one table whose
// first row is the header.
type CSVParser struct{}

func (p *CSVParser) Name() string             { return "csv" }
func (p *CSVParser) Formats() []detect.Format { return []detect.Format{detect.FormatCSV} }

func (p *CSVParser) Parse(ctx context.Context, data []byte, opts Options) (*doctree.Document, error) {
	src, err := decodeText(data)
	if err != nil {
		return nil, corrupt("parse csv", err)
	}

	var dialect detect.CSVDialect
	if opts.Detection.CSV != nil {
		dialect = *opts.Detection.CSV
	} else {
		dialect = detect.DetectCSVDialect([]byte(src))
	}

	var records [][]string
	if dialect.Standard() {
		reader := csv.NewReader(strings.NewReader(src))
		reader.Comma = dialect.Delimiter
		reader.LazyQuotes = true
		reader.TrimLeadingSpace = true
		reader.FieldsPerRecord = -1

		records, err = reader.ReadAll()
		if err != nil {
			return nil, corrupt("parse csv", err)
		}
	} else {
		records = detect.SplitRecords(src, dialect, 0)
	}
	if err := cancelled(ctx, "parse csv"); err != nil {
		return nil, err
	}

	doc := newDocument(opts, detect.FormatCSV)
	records = dropBlankRecords(records)
	if len(records) == 0 {
		return doc, empty("parse csv")
	}
	doc.AddTable(doctree.RootID, doctree.NewTable(records, 1))
	return doc, nil
}

func dropBlankRecords(records [][]string) [][]string {
	out := records[:0]
	for _, r := range records {
		blank := true
		for _, f := range r {
			if strings.TrimSpace(f) != "" {
				blank = false
				break
			}
		}
		if !blank {
			out = append(out, r)
		}
	}
	return out
}
