// Package detect resolves the format of an input from an explicit hint,
// magic bytes, file extension and content sniffing.
package detect

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dgallion1/docweave/internal/errs"
)

// Format is a supported input format.
type Format string

const (
	FormatPDF      Format = "pdf"
	FormatDOCX     Format = "docx"
	FormatPPTX     Format = "pptx"
	FormatXLSX     Format = "xlsx"
	FormatHTML     Format = "html"
	FormatImage    Format = "image"
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "md"
	FormatAsciiDoc Format = "asciidoc"
	FormatText     Format = "text"
)

// AllFormats lists every format in a stable order.
var AllFormats = []Format{
	FormatPDF, FormatDOCX, FormatPPTX, FormatXLSX, FormatHTML,
	FormatImage, FormatCSV, FormatMarkdown, FormatAsciiDoc, FormatText,
}

// ParseFormat maps a user-supplied name or extension to a Format.
func ParseFormat(s string) (Format, bool) {
	s = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "."))
	switch s {
	case "markdown":
		return FormatMarkdown, true
	case "adoc", "asciidoc", "asc":
		return FormatAsciiDoc, true
	case "htm", "xhtml":
		return FormatHTML, true
	case "txt":
		return FormatText, true
	}
	f := Format(s)
	if slices.Contains(AllFormats, f) {
		return f, true
	}
	return "", false
}

// IsLayout reports whether the format carries physical pages.
func (f Format) IsLayout() bool {
	return f == FormatPDF || f == FormatImage
}

var extensions = map[string]Format{
	".pdf":      FormatPDF,
	".docx":     FormatDOCX,
	".pptx":     FormatPPTX,
	".xlsx":     FormatXLSX,
	".html":     FormatHTML,
	".htm":      FormatHTML,
	".xhtml":    FormatHTML,
	".png":      FormatImage,
	".jpg":      FormatImage,
	".jpeg":     FormatImage,
	".gif":      FormatImage,
	".tif":      FormatImage,
	".tiff":     FormatImage,
	".bmp":      FormatImage,
	".webp":     FormatImage,
	".csv":      FormatCSV,
	".tsv":      FormatCSV,
	".md":       FormatMarkdown,
	".markdown": FormatMarkdown,
	".adoc":     FormatAsciiDoc,
	".asciidoc": FormatAsciiDoc,
	".asc":      FormatAsciiDoc,
	".txt":      FormatText,
}

// FormatForExtension maps a filename's extension to a Format.
func FormatForExtension(name string) (Format, bool) {
	f, ok := extensions[strings.ToLower(filepath.Ext(name))]
	return f, ok
}

// MismatchPolicy decides what happens when an explicit hint contradicts
// strong content evidence.
type MismatchPolicy string

const (
	MismatchFail MismatchPolicy = "fail"
	MismatchWarn MismatchPolicy = "warn"
)

// PrefixSize is how many leading bytes are inspected for magic numbers and
// content sniffing.
const PrefixSize = 8192

// Detection is the resolved format of an input.
type Detection struct {
	Format     Format      `json:"format"`
	Confidence float64     `json:"confidence"`
	MimeType   string      `json:"mime_type"`
	Via        string      `json:"via"`
	CSV        *CSVDialect `json:"csv,omitempty"`
	// Warning is set when detection proceeded despite contradicting
	// evidence under MismatchWarn.
	Warning error `json:"-"`
}

// Detector resolves input formats. The zero value allows every format and
// fails on hint mismatches.
type Detector struct {
	Allowed []Format
	Policy  MismatchPolicy
	Logger  *slog.Logger
}

func (d *Detector) allowed(f Format) bool {
	return len(d.Allowed) == 0 || slices.Contains(d.Allowed, f)
}

func (d *Detector) log() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// Detect resolves the format of data named name. An allowed hint wins unless
// the content strongly says otherwise, in which case the mismatch policy
// applies.
func (d *Detector) Detect(name string, data []byte, hint Format) (Detection, error) {
	strong, hasStrong := sniffMagic(data)

	if hint != "" && d.allowed(hint) {
		det := Detection{Format: hint, Confidence: 1, MimeType: MimeType(hint), Via: "hint"}
		if hasStrong && strong.Format != hint && !compatible(hint, strong.Format) {
			mismatch := errs.Newf(errs.KindFormatMismatch, "detect",
				"hint %q contradicts %s content", hint, strong.Format)
			if d.Policy != MismatchWarn {
				return Detection{}, mismatch
			}
			d.log().Warn("format hint contradicts content", "file", name, "hint", hint, "content", strong.Format)
			det.Warning = mismatch
			det.Confidence = 0.5
		}
		if hint == FormatCSV {
			dialect := DetectCSVDialect(prefix(data))
			det.CSV = &dialect
		}
		return det, nil
	}

	det, ok := d.resolve(name, data, strong, hasStrong)
	if !ok {
		return Detection{}, errs.Newf(errs.KindUnsupportedFormat, "detect", "no backend matches %q", name)
	}
	if !d.allowed(det.Format) {
		return Detection{}, errs.Newf(errs.KindUnsupportedFormat, "detect", "format %s is not allowed", det.Format)
	}
	return det, nil
}

func (d *Detector) resolve(name string, data []byte, strong Detection, hasStrong bool) (Detection, bool) {
	if hasStrong {
		return strong, true
	}
	head := prefix(data)
	ext, hasExt := FormatForExtension(name)
	if hasExt && IsOLE(data) && (ext == FormatDOCX || ext == FormatPPTX || ext == FormatXLSX) {
		// Encrypted OOXML; the backend reports it as access denied.
		return Detection{Format: ext, Confidence: 0.9, MimeType: MimeType(ext), Via: "magic"}, true
	}
	if hasExt {
		det := Detection{Format: ext, Confidence: 0.8, MimeType: MimeType(ext), Via: "extension"}
		if ext == FormatCSV {
			dialect := DetectCSVDialect(head)
			if strings.EqualFold(filepath.Ext(name), ".tsv") && dialect.Delimiter == ',' {
				dialect.Delimiter = '\t'
			}
			det.CSV = &dialect
		}
		if sniffed, ok := sniffText(head); ok && sniffed.Format == ext {
			det.Confidence = 1
		}
		// Binary containers need magic bytes; an extension alone is not enough.
		if !ext.needsMagic() {
			return det, true
		}
	}
	if sniffed, ok := sniffText(head); ok {
		return sniffed, true
	}
	return Detection{}, false
}

func (f Format) needsMagic() bool {
	switch f {
	case FormatPDF, FormatDOCX, FormatPPTX, FormatXLSX, FormatImage:
		return true
	}
	return false
}

// compatible reports hint/content pairs that are not contradictions, such as
// a text format hinted over content that only looks like another text
// format.
func compatible(hint, content Format) bool {
	return !hint.needsMagic() && !content.needsMagic()
}

func prefix(data []byte) []byte {
	if len(data) > PrefixSize {
		return data[:PrefixSize]
	}
	return data
}

// MimeType returns the canonical MIME type of a format.
func MimeType(f Format) string {
	switch f {
	case FormatPDF:
		return "application/pdf"
	case FormatDOCX:
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case FormatPPTX:
		return "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatHTML:
		return "text/html"
	case FormatImage:
		return "image/*"
	case FormatCSV:
		return "text/csv"
	case FormatMarkdown:
		return "text/markdown"
	case FormatAsciiDoc:
		return "text/asciidoc"
	case FormatText:
		return "text/plain"
	}
	return "application/octet-stream"
}

func (d Detection) String() string {
	return fmt.Sprintf("%s (%.2f via %s)", d.Format, d.Confidence, d.Via)
}
