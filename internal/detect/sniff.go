package detect

import (
	"archive/zip"
	"bytes"
	"strings"
	"unicode/utf8"
)

var (
	magicPDF  = []byte("%PDF-")
	magicZIP  = []byte("PK\x03\x04")
	magicOLE  = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
	magicPNG  = []byte("\x89PNG\r\n\x1a\n")
	magicJPEG = []byte{0xFF, 0xD8, 0xFF}
	magicTIFF = [][]byte{[]byte("II*\x00"), []byte("MM\x00*")}
	utf8BOM   = []byte{0xEF, 0xBB, 0xBF}
)

// IsOLE reports whether data is an OLE compound file. Password-protected
// OOXML documents are stored this way.
func IsOLE(data []byte) bool { return bytes.HasPrefix(data, magicOLE) }

// sniffMagic checks for binary signatures. Only these count as strong
// evidence against a format hint.
func sniffMagic(data []byte) (Detection, bool) {
	head := prefix(data)
	switch {
	case bytes.Contains(head[:min(len(head), 1024)], magicPDF):
		return Detection{Format: FormatPDF, Confidence: 1, MimeType: MimeType(FormatPDF), Via: "magic"}, true
	case bytes.HasPrefix(head, magicZIP):
		if f, ok := sniffOOXML(data); ok {
			return Detection{Format: f, Confidence: 1, MimeType: MimeType(f), Via: "magic"}, true
		}
	}
	if mime, ok := sniffImage(head); ok {
		return Detection{Format: FormatImage, Confidence: 1, MimeType: mime, Via: "magic"}, true
	}
	return Detection{}, false
}

// sniffOOXML distinguishes the OOXML formats by their main part.
func sniffOOXML(data []byte) (Format, bool) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", false
	}
	for _, f := range zr.File {
		switch {
		case f.Name == "word/document.xml":
			return FormatDOCX, true
		case f.Name == "ppt/presentation.xml":
			return FormatPPTX, true
		case f.Name == "xl/workbook.xml":
			return FormatXLSX, true
		}
	}
	return "", false
}

// ImageMimeType returns the MIME type of a supported raster image.
func ImageMimeType(data []byte) (string, bool) {
	return sniffImage(prefix(data))
}

func sniffImage(head []byte) (string, bool) {
	switch {
	case bytes.HasPrefix(head, magicPNG):
		return "image/png", true
	case bytes.HasPrefix(head, magicJPEG):
		return "image/jpeg", true
	case bytes.HasPrefix(head, []byte("GIF87a")), bytes.HasPrefix(head, []byte("GIF89a")):
		return "image/gif", true
	case bytes.HasPrefix(head, []byte("BM")) && len(head) > 14:
		return "image/bmp", true
	case len(head) >= 12 && bytes.Equal(head[:4], []byte("RIFF")) && bytes.Equal(head[8:12], []byte("WEBP")):
		return "image/webp", true
	}
	for _, m := range magicTIFF {
		if bytes.HasPrefix(head, m) {
			return "image/tiff", true
		}
	}
	return "", false
}

// sniffText guesses among the text formats. It returns false for binary
// content.
func sniffText(head []byte) (Detection, bool) {
	head = bytes.TrimPrefix(head, utf8BOM)
	if len(bytes.TrimSpace(head)) == 0 || bytes.IndexByte(head, 0) >= 0 {
		return Detection{}, false
	}
	if !utf8.Valid(trimPartialRune(head)) {
		return Detection{}, false
	}
	text := string(head)
	lower := strings.ToLower(strings.TrimSpace(text))

	text2 := func(f Format, conf float64) (Detection, bool) {
		return Detection{Format: f, Confidence: conf, MimeType: MimeType(f), Via: "content"}, true
	}

	if strings.HasPrefix(lower, "<!doctype html") || strings.HasPrefix(lower, "<html") ||
		strings.Contains(lower, "<body") || strings.Contains(lower, "<html") {
		return text2(FormatHTML, 0.9)
	}
	if looksAsciiDoc(text) {
		return text2(FormatAsciiDoc, 0.6)
	}
	if looksMarkdown(text) {
		return text2(FormatMarkdown, 0.6)
	}
	if d := DetectCSVDialect(head); d.Consistent && d.Columns > 1 {
		det, _ := text2(FormatCSV, 0.5)
		det.CSV = &d
		return det, true
	}
	return text2(FormatText, 0.3)
}

func trimPartialRune(b []byte) []byte {
	for i := 0; i < utf8.UTFMax && len(b) > 0; i++ {
		r, size := utf8.DecodeLastRune(b)
		if r != utf8.RuneError || size != 1 {
			break
		}
		b = b[:len(b)-1]
	}
	return b
}

func looksAsciiDoc(text string) bool {
	score := 0
	for i, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		switch {
		case i < 3 && strings.HasPrefix(line, "= "):
			score += 2
		case strings.HasPrefix(line, "== "), strings.HasPrefix(line, "=== "):
			score++
		case strings.HasPrefix(line, ":") && strings.Count(line, ":") >= 2 && !strings.Contains(line, " :"):
			score++
		case strings.HasPrefix(line, "[source"), line == "----", line == "====":
			score++
		}
	}
	return score >= 2
}

func looksMarkdown(text string) bool {
	score := 0
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "#") && strings.HasPrefix(strings.TrimLeft(line, "#"), " "):
			score += 2
		case strings.HasPrefix(trimmed, "```"):
			score += 2
		case strings.HasPrefix(trimmed, "- "), strings.HasPrefix(trimmed, "* "), strings.HasPrefix(trimmed, "1. "):
			score++
		case strings.HasPrefix(trimmed, "|") && strings.Contains(trimmed, "---"):
			score += 2
		case strings.Contains(line, "](") || strings.Contains(line, "**"):
			score++
		}
	}
	return score >= 2
}
