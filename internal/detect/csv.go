package detect

import (
	"bytes"
	"strings"
)

// CSVDialect describes how a delimited text file is laid out.
type CSVDialect struct {
	Delimiter rune `json:"delimiter"`
	Quote     rune `json:"quote"`
	// Escape is the escape character inside quoted fields. Zero means a
	// quote is escaped by doubling it.
	Escape     rune `json:"escape,omitempty"`
	Columns    int  `json:"columns"`
	Consistent bool `json:"consistent"`
}

// DefaultCSVDialect is the fallback when no candidate scores better than
// another: comma separated, double quotes escaped by doubling.
var DefaultCSVDialect = CSVDialect{Delimiter: ',', Quote: '"'}

// Standard reports whether encoding/csv can read the dialect.
func (d CSVDialect) Standard() bool {
	return d.Quote == '"' && d.Escape == 0
}

var (
	csvDelimiters = []rune{',', ';', '|', '\t'}
	csvQuotes     = []rune{'"', '\''}
	csvEscapes    = []rune{0, '\\'}
)

const csvSampleRows = 50

type dialectScore struct {
	dialect  CSVDialect
	variance float64
	mean     float64
}

func (s dialectScore) better(o dialectScore) bool {
	if s.variance != o.variance {
		return s.variance < o.variance
	}
	return s.mean > o.mean
}

// DetectCSVDialect trial-parses a sample with every candidate delimiter,
// quote and escape character and keeps the configuration whose field counts
// vary least across rows, preferring more columns on ties. Candidates are
// tried in a fixed order so an exact tie resolves to DefaultCSVDialect.
func DetectCSVDialect(sample []byte) CSVDialect {
	sample = bytes.TrimPrefix(prefix(sample), utf8BOM)
	text := string(sample)
	if len(sample) >= PrefixSize-len(utf8BOM) {
		// Drop the last line; the prefix cut may have split it.
		if i := strings.LastIndexByte(text, '\n'); i > 0 {
			text = text[:i]
		}
	}

	var best *dialectScore
	for _, delim := range csvDelimiters {
		for _, quote := range csvQuotes {
			for _, esc := range csvEscapes {
				d := CSVDialect{Delimiter: delim, Quote: quote, Escape: esc}
				counts := fieldCounts(SplitRecords(text, d, csvSampleRows))
				if len(counts) == 0 {
					continue
				}
				s := score(d, counts)
				if best == nil || s.better(*best) {
					best = &s
				}
			}
		}
	}
	if best == nil || best.mean <= 1 {
		d := DefaultCSVDialect
		if best != nil {
			d.Columns = 1
			d.Consistent = best.variance == 0
		}
		return d
	}
	d := best.dialect
	d.Columns = int(best.mean + 0.5)
	d.Consistent = best.variance == 0
	return d
}

func fieldCounts(records [][]string) []int {
	counts := make([]int, 0, len(records))
	for _, r := range records {
		if len(r) == 1 && strings.TrimSpace(r[0]) == "" {
			continue
		}
		counts = append(counts, len(r))
	}
	return counts
}

func score(d CSVDialect, counts []int) dialectScore {
	var sum float64
	for _, c := range counts {
		sum += float64(c)
	}
	mean := sum / float64(len(counts))
	var v float64
	for _, c := range counts {
		diff := float64(c) - mean
		v += diff * diff
	}
	return dialectScore{dialect: d, variance: v / float64(len(counts)), mean: mean}
}

// SplitRecords splits text into records using the dialect. Quoted fields may
// span lines. limit caps the number of records; 0 means no limit.
func SplitRecords(text string, d CSVDialect, limit int) [][]string {
	var (
		records [][]string
		record  []string
		field   strings.Builder
		quoted  bool
		started bool
	)
	runes := []rune(text)
	endField := func() {
		record = append(record, field.String())
		field.Reset()
		started = false
	}
	endRecord := func() {
		endField()
		records = append(records, record)
		record = nil
	}
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if quoted {
			switch {
			case d.Escape != 0 && r == d.Escape && i+1 < len(runes):
				i++
				field.WriteRune(runes[i])
			case r == d.Quote && d.Escape == 0 && i+1 < len(runes) && runes[i+1] == d.Quote:
				i++
				field.WriteRune(r)
			case r == d.Quote:
				quoted = false
			default:
				field.WriteRune(r)
			}
			continue
		}
		switch {
		case r == d.Quote && !started:
			quoted = true
			started = true
		case r == d.Delimiter:
			endField()
		case r == '\r':
		case r == '\n':
			endRecord()
			if limit > 0 && len(records) >= limit {
				return records
			}
		default:
			field.WriteRune(r)
			started = true
		}
	}
	if field.Len() > 0 || len(record) > 0 || started {
		endRecord()
	}
	return records
}
