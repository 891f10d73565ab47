package detect

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/docweave/internal/errs"
)

func zipWith(t *testing.T, names ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, n := range names {
		w, err := zw.Create(n)
		require.NoError(t, err)
		_, err = w.Write([]byte("<x/>"))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestDetect_Magic(t *testing.T) {
	tests := []struct {
		name string
		file string
		data []byte
		want Format
	}{
		{"pdf without extension", "blob", []byte("%PDF-1.4\n%...."), FormatPDF},
		{"docx", "report.bin", zipWith(t, "[Content_Types].xml", "word/document.xml"), FormatDOCX},
		{"pptx", "deck", zipWith(t, "ppt/presentation.xml"), FormatPPTX},
		{"xlsx", "sheet.zip", zipWith(t, "xl/workbook.xml"), FormatXLSX},
		{"png", "scan", append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 16)...), FormatImage},
		{"jpeg", "photo", []byte{0xFF, 0xD8, 0xFF, 0xE0, 0, 0}, FormatImage},
	}
	var d Detector
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			det, err := d.Detect(tt.file, tt.data, "")
			require.NoError(t, err)
			assert.Equal(t, tt.want, det.Format)
			assert.Equal(t, "magic", det.Via)
		})
	}
}

func TestDetect_ExtensionAndContent(t *testing.T) {
	var d Detector

	det, err := d.Detect("notes.md", []byte("# Title\n\nSome *text*.\n"), "")
	require.NoError(t, err)
	assert.Equal(t, FormatMarkdown, det.Format)
	assert.Equal(t, 1.0, det.Confidence)

	det, err = d.Detect("page", []byte("<!DOCTYPE html><html><body><p>x</p></body></html>"), "")
	require.NoError(t, err)
	assert.Equal(t, FormatHTML, det.Format)

	det, err = d.Detect("doc", []byte("= Guide\n:toc:\n\n== Intro\n\nText.\n"), "")
	require.NoError(t, err)
	assert.Equal(t, FormatAsciiDoc, det.Format)

	det, err = d.Detect("data", []byte("a;b;c\n1;2;3\n4;5;6\n"), "")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, det.Format)
	require.NotNil(t, det.CSV)
	assert.Equal(t, ';', det.CSV.Delimiter)

	det, err = d.Detect("readme", []byte("Just a plain sentence.\nAnother one.\n"), "")
	require.NoError(t, err)
	assert.Equal(t, FormatText, det.Format)
}

func TestDetect_Unsupported(t *testing.T) {
	var d Detector
	_, err := d.Detect("blob.bin", []byte{0x00, 0x01, 0x02, 0x03}, "")
	assert.Equal(t, errs.KindUnsupportedFormat, errs.KindOf(err))

	// A binary extension without matching magic is not trusted.
	_, err = d.Detect("fake.pdf", []byte{0x00, 0x01}, "")
	assert.Equal(t, errs.KindUnsupportedFormat, errs.KindOf(err))
}

func TestDetect_AllowedWhitelist(t *testing.T) {
	d := Detector{Allowed: []Format{FormatPDF}}
	_, err := d.Detect("notes.md", []byte("# Title\n"), "")
	assert.Equal(t, errs.KindUnsupportedFormat, errs.KindOf(err))

	// A hint outside the whitelist is ignored, not trusted.
	det, err := d.Detect("x", []byte("%PDF-1.7\n"), FormatMarkdown)
	require.NoError(t, err)
	assert.Equal(t, FormatPDF, det.Format)
}

func TestDetect_HintMismatchPolicy(t *testing.T) {
	pdf := []byte("%PDF-1.5\n...")

	strict := Detector{Policy: MismatchFail}
	_, err := strict.Detect("a.docx", pdf, FormatDOCX)
	require.Error(t, err)
	assert.Equal(t, errs.KindFormatMismatch, errs.KindOf(err))

	lenient := Detector{Policy: MismatchWarn}
	det, err := lenient.Detect("a.docx", pdf, FormatDOCX)
	require.NoError(t, err)
	assert.Equal(t, FormatDOCX, det.Format)
	assert.Equal(t, errs.KindFormatMismatch, errs.KindOf(det.Warning))
}

func TestDetect_HintTextOverText(t *testing.T) {
	var d Detector
	det, err := d.Detect("x.txt", []byte("# looks like markdown\n- item\n"), FormatText)
	require.NoError(t, err)
	assert.Equal(t, FormatText, det.Format)
	assert.NoError(t, det.Warning)
}

func TestDetect_EncryptedOOXML(t *testing.T) {
	var d Detector
	data := append([]byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}, make([]byte, 64)...)
	det, err := d.Detect("secret.docx", data, "")
	require.NoError(t, err)
	assert.Equal(t, FormatDOCX, det.Format)
}

func TestParseFormat(t *testing.T) {
	f, ok := ParseFormat(".Markdown")
	assert.True(t, ok)
	assert.Equal(t, FormatMarkdown, f)
	_, ok = ParseFormat("odt")
	assert.False(t, ok)
}
