package parser

import (
	"context"
	"testing"

	"github.com/dgallion1/docweave/internal/errs"
)

func TestTextParser_BasicParagraphSplitting(t *testing.T) {
	input := "First paragraph line one.\nFirst paragraph line two.\n\nSecond paragraph.\n\nThird paragraph."
	doc := mustParse(t, &TextParser{}, []byte(input), "notes.txt")

	if doc.Name != "notes" {
		t.Errorf("expected name %q, got %q", "notes", doc.Name)
	}
	assertOutline(t, doc, []string{
		"paragraph: First paragraph line one.\nFirst paragraph line two.",
		"paragraph: Second paragraph.",
		"paragraph: Third paragraph.",
	})
}

func TestTextParser_UTF16WithBOM(t *testing.T) {
	input := []byte{0xFF, 0xFE, 'h', 0, 'i', 0}
	doc := mustParse(t, &TextParser{}, input, "u16.txt")
	assertOutline(t, doc, []string{"paragraph: hi"})
}

func TestTextParser_Empty(t *testing.T) {
	_, err := (&TextParser{}).Parse(context.Background(), []byte("\n\n   \n"), Options{})
	assertKind(t, err, errs.KindEmptyDocument)
}

func TestTextParser_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := (&TextParser{}).Parse(ctx, []byte("text"), Options{})
	assertKind(t, err, errs.KindCancelled)
}
