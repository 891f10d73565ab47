package pipeline

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/dgallion1/docweave/internal/doctree"
	"github.com/dgallion1/docweave/internal/errs"
)

var (
	tableCaptionRe  = regexp.MustCompile(`(?i)^(table|tab\.)\s*\d+`)
	figureCaptionRe = regexp.MustCompile(`(?i)^(figure|fig\.)\s*\d+`)
)

// Assemble finalizes a document in place: table grids are repaired,
// captions linked to their tables and figures, empty text nodes dropped,
// text normalized to NFC and node IDs renumbered into reading order.
// Repaired tables come back as warnings. It fails if the result is not a
// valid tree.
func Assemble(doc *doctree.Document) (warnings []error, err error) {
	warnings = repairTables(doc)
	linkCaptions(doc)
	normalize(doc)
	removeEmpty(doc)
	if _, err := doc.Compact(); err != nil {
		return warnings, errs.New(errs.KindUnknown, "assemble", err)
	}
	if err := doc.Validate(); err != nil {
		return warnings, errs.New(errs.KindUnknown, "assemble", err)
	}
	return warnings, nil
}

func repairTables(doc *doctree.Document) []error {
	var warnings []error
	for _, n := range doc.Nodes {
		if n == nil || n.Table == nil {
			continue
		}
		err := n.Table.Validate()
		if err == nil || !n.Table.Repair() {
			continue
		}
		warnings = append(warnings, errs.New(errs.KindCorruptInput, "assemble",
			fmt.Errorf("table %d repaired: %w", n.ID, err)))
	}
	return warnings
}

// linkCaptions turns a "Table N" or "Figure N" paragraph next to a table or
// figure that has no caption into that node's caption.
func linkCaptions(doc *doctree.Document) {
	type link struct{ caption, owner doctree.NodeID }
	var links []link
	claimed := map[doctree.NodeID]bool{}

	doc.Walk(func(n *doctree.Node, _ int) error {
		var re *regexp.Regexp
		var order []int
		switch n.Label {
		case doctree.LabelTable:
			re, order = tableCaptionRe, []int{-1, 1}
		case doctree.LabelFigure:
			re, order = figureCaptionRe, []int{1, -1}
		default:
			return nil
		}
		if len(n.Captions) > 0 {
			return nil
		}
		siblings := doc.Node(n.Parent).Children
		idx := indexOf(siblings, n.ID)
		for _, off := range order {
			j := idx + off
			if j < 0 || j >= len(siblings) || claimed[siblings[j]] {
				continue
			}
			s := doc.Node(siblings[j])
			if s.Label == doctree.LabelParagraph && len(s.Children) == 0 && re.MatchString(strings.TrimSpace(s.Text())) {
				links = append(links, link{caption: s.ID, owner: n.ID})
				claimed[s.ID] = true
				break
			}
		}
		return nil
	})

	for _, l := range links {
		doc.Move(l.caption, l.owner)
		c := doc.Node(l.caption)
		c.Label = doctree.LabelCaption
		owner := doc.Node(l.owner)
		owner.Captions = append(owner.Captions, l.caption)
	}
}

func indexOf(ids []doctree.NodeID, id doctree.NodeID) int {
	for i, c := range ids {
		if c == id {
			return i
		}
	}
	return -1
}

func normalize(doc *doctree.Document) {
	for _, n := range doc.Nodes {
		for i := range n.Runs {
			n.Runs[i].Text = norm.NFC.String(n.Runs[i].Text)
		}
		if n.Table != nil {
			for i := range n.Table.Cells {
				n.Table.Cells[i].Text = norm.NFC.String(n.Table.Cells[i].Text)
			}
		}
	}
}

// removeEmpty detaches text leaves without text and lists without items,
// children first so a list emptied by the first rule goes too.
func removeEmpty(doc *doctree.Document) {
	var order []doctree.NodeID
	doc.Walk(func(n *doctree.Node, _ int) error {
		order = append(order, n.ID)
		return nil
	})
	for i := len(order) - 1; i >= 0; i-- {
		n := doc.Node(order[i])
		if len(n.Children) > 0 {
			continue
		}
		switch {
		case n.Label.IsText() && strings.TrimSpace(n.Text()) == "":
			doc.Detach(n.ID)
		case n.Label == doctree.LabelList:
			doc.Detach(n.ID)
		}
	}
}
