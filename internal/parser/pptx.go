package parser

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"sort"
	"strings"

	"github.com/dgallion1/docweave/internal/detect"
	"github.com/dgallion1/docweave/internal/doctree"
)

// PPTXParser handles PowerPoint presentations. Each slide becomes a page.
type PPTXParser struct{}

func (p *PPTXParser) Name() string             { return "pptx" }
func (p *PPTXParser) Formats() []detect.Format { return []detect.Format{detect.FormatPPTX} }

// emuPerPoint converts slide geometry (EMU) to points.
const emuPerPoint = 12700

func (p *PPTXParser) Parse(ctx context.Context, data []byte, opts Options) (doc *doctree.Document, err error) {
	if detect.IsOLE(data) {
		return nil, denied("parse pptx", errors.New("presentation is encrypted"))
	}
	defer guard("parse pptx", &err)

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, corrupt("parse pptx", err)
	}
	fileIndex := make(map[string]*zip.File, len(zr.File))
	slideFiles := make(map[int]*zip.File)
	for _, f := range zr.File {
		fileIndex[f.Name] = f
		if strings.HasPrefix(f.Name, "ppt/slides/slide") && strings.HasSuffix(f.Name, ".xml") {
			if num := extractSlideNumber(f.Name); num > 0 {
				slideFiles[num] = f
			}
		}
	}
	if len(slideFiles) == 0 {
		if _, ok := fileIndex["ppt/presentation.xml"]; !ok {
			return nil, corrupt("parse pptx", errors.New("missing ppt/presentation.xml"))
		}
	}
	nums := make([]int, 0, len(slideFiles))
	for n := range slideFiles {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	if opts.MaxPages > 0 && len(nums) > opts.MaxPages {
		return nil, corrupt("parse pptx", fmt.Errorf("%d slides exceeds the limit of %d", len(nums), opts.MaxPages))
	}

	width, height := slideSize(fileIndex)
	doc = newDocument(opts, detect.FormatPPTX)
	b := &pptxBuilder{doc: doc, files: fileIndex, stack: newSectionStack(doc), lists: listNester{doc: doc}}
	for _, num := range nums {
		if err := cancelled(ctx, "parse pptx"); err != nil {
			return nil, err
		}
		raw, err := readZipFile(slideFiles[num])
		if err != nil {
			return nil, corrupt("parse pptx", err)
		}
		var slide pptxSlide
		if err := xml.Unmarshal(raw, &slide); err != nil {
			return nil, corrupt("parse pptx", fmt.Errorf("slide %d: %w", num, err))
		}
		doc.AddPage(doctree.Page{Number: num, Width: width, Height: height, HasTextLayer: true})
		b.slide(num, &slide)
	}
	if !doc.HasContent() {
		return doc, empty("parse pptx")
	}
	return doc, nil
}

type pptxSlide struct {
	CSld struct {
		SpTree pptxShape `xml:"spTree"`
	} `xml:"cSld"`
}

// pptxShape covers sp, pic, graphicFrame and grpSp elements. Children are
// kept in document order through Items.
type pptxShape struct {
	XMLName xml.Name
	NvSpPr  struct {
		NvPr struct {
			Ph *struct {
				Type string `xml:"type,attr"`
			} `xml:"ph"`
		} `xml:"nvPr"`
	} `xml:"nvSpPr"`
	NvPicPr struct {
		CNvPr struct {
			Descr string `xml:"descr,attr"`
		} `xml:"cNvPr"`
	} `xml:"nvPicPr"`
	BlipFill struct {
		Blip struct {
			Embed string `xml:"embed,attr"`
		} `xml:"blip"`
	} `xml:"blipFill"`
	SpPr struct {
		Xfrm struct {
			Ext struct {
				CX int64 `xml:"cx,attr"`
				CY int64 `xml:"cy,attr"`
			} `xml:"ext"`
		} `xml:"xfrm"`
	} `xml:"spPr"`
	TxBody  *pptxTxBody `xml:"txBody"`
	Graphic struct {
		Data struct {
			Table *pptxTable `xml:"tbl"`
		} `xml:"graphicData"`
	} `xml:"graphic"`
	Items []pptxShape `xml:",any"`
}

func (s *pptxShape) placeholder() string {
	if s.NvSpPr.NvPr.Ph == nil {
		return ""
	}
	if s.NvSpPr.NvPr.Ph.Type == "" {
		return "body"
	}
	return s.NvSpPr.NvPr.Ph.Type
}

type pptxTxBody struct {
	Paras []pptxPara `xml:"p"`
}

type pptxPara struct {
	PPr *struct {
		Lvl       int       `xml:"lvl,attr"`
		BuNone    *struct{} `xml:"buNone"`
		BuChar    *struct{} `xml:"buChar"`
		BuAutoNum *struct{} `xml:"buAutoNum"`
	} `xml:"pPr"`
	Items []pptxRun `xml:",any"`
}

// pptxRun is an a:r, a:fld or a:br element.
type pptxRun struct {
	XMLName xml.Name
	RPr     *struct {
		B     string `xml:"b,attr"`
		I     string `xml:"i,attr"`
		Hlink *struct {
			ID string `xml:"id,attr"`
		} `xml:"hlinkClick"`
	} `xml:"rPr"`
	T string `xml:"t"`
}

type pptxTable struct {
	Rows []struct {
		Cells []struct {
			GridSpan int         `xml:"gridSpan,attr"`
			RowSpan  int         `xml:"rowSpan,attr"`
			HMerge   bool        `xml:"hMerge,attr"`
			VMerge   bool        `xml:"vMerge,attr"`
			TxBody   *pptxTxBody `xml:"txBody"`
		} `xml:"tc"`
	} `xml:"tr"`
}

type pptxBuilder struct {
	doc   *doctree.Document
	files map[string]*zip.File
	stack *sectionStack
	lists listNester
	rels  map[string]string
}

func (b *pptxBuilder) slide(num int, s *pptxSlide) {
	b.stack.reset()
	b.lists.end()
	b.rels = parsePPTXRels(b.files, fmt.Sprintf("ppt/slides/_rels/slide%d.xml.rels", num))
	prov := doctree.ProvenanceItem{Page: num, Source: "pptx"}
	b.shapes(s.CSld.SpTree.Items, num, prov)
}

func (b *pptxBuilder) shapes(items []pptxShape, num int, prov doctree.ProvenanceItem) {
	for i := range items {
		sh := &items[i]
		switch sh.XMLName.Local {
		case "grpSp":
			b.shapes(sh.Items, num, prov)
		case "sp":
			b.textShape(sh, num, prov)
		case "pic":
			b.lists.end()
			ref := &doctree.ImageRef{
				Width:  int(sh.SpPr.Xfrm.Ext.CX / emuPerPixel),
				Height: int(sh.SpPr.Xfrm.Ext.CY / emuPerPixel),
			}
			if target, ok := b.rels[sh.BlipFill.Blip.Embed]; ok {
				ref.URI = path.Clean(path.Join("ppt/slides", target))
				ref.MimeType = mime.TypeByExtension(path.Ext(target))
			}
			id := b.doc.AddFigure(b.stack.parent(), ref, prov)
			if d := collapseSpace(sh.NvPicPr.CNvPr.Descr); d != "" {
				b.doc.AddCaption(id, d, prov)
			}
		case "graphicFrame":
			if t := sh.Graphic.Data.Table; t != nil {
				b.lists.end()
				b.table(t, prov)
			}
		}
	}
}

func (b *pptxBuilder) textShape(sh *pptxShape, num int, prov doctree.ProvenanceItem) {
	if sh.TxBody == nil {
		return
	}
	ph := sh.placeholder()
	for _, para := range sh.TxBody.Paras {
		runs := mergeRuns(b.runs(para.Items))
		if len(runs) == 0 {
			continue
		}
		text := collapseSpace(runsText(runs))
		switch ph {
		case "title", "ctrTitle":
			b.lists.end()
			if ph == "ctrTitle" && num == 1 {
				b.doc.Add(doctree.RootID, doctree.Node{Label: doctree.LabelTitle, Level: 1, Runs: runs, Prov: []doctree.ProvenanceItem{prov}})
				continue
			}
			b.stack.heading(text, 1, prov)
			continue
		case "dt", "ftr", "sldNum":
			b.doc.AddText(doctree.RootID, doctree.LabelPageFooter, text, prov)
			continue
		}

		bullet := ph == "body" || ph == "obj"
		level, enumerated := 0, false
		if p := para.PPr; p != nil {
			level = p.Lvl
			enumerated = p.BuAutoNum != nil
			switch {
			case p.BuNone != nil:
				bullet = false
			case p.BuChar != nil || p.BuAutoNum != nil:
				bullet = true
			}
		}
		if bullet {
			b.lists.add(b.stack.parent(), level, enumerated, runs, prov)
			continue
		}
		b.lists.end()
		b.doc.AddRuns(b.stack.parent(), doctree.LabelParagraph, runs, prov)
	}
	b.lists.end()
}

func (b *pptxBuilder) runs(items []pptxRun) []doctree.TextRun {
	var runs []doctree.TextRun
	for _, r := range items {
		switch r.XMLName.Local {
		case "br":
			runs = append(runs, doctree.TextRun{Text: "\n"})
		case "r", "fld":
			run := doctree.TextRun{Text: r.T}
			if p := r.RPr; p != nil {
				run.Bold = p.B == "1" || p.B == "true"
				run.Italic = p.I == "1" || p.I == "true"
				if p.Hlink != nil {
					run.Href = b.rels[p.Hlink.ID]
				}
			}
			runs = append(runs, run)
		}
	}
	return runs
}

func (b *pptxBuilder) table(t *pptxTable, prov doctree.ProvenanceItem) {
	td := &doctree.TableData{NumRows: len(t.Rows)}
	occupied := make(map[[2]int]bool)
	for r, row := range t.Rows {
		for c, cell := range row.Cells {
			td.NumCols = max(td.NumCols, c+1)
			if cell.HMerge || cell.VMerge || occupied[[2]int{r, c}] {
				continue
			}
			rs := min(max(cell.RowSpan, 1), len(t.Rows)-r)
			cs := clipSpan(min(max(cell.GridSpan, 1), len(row.Cells)-c),
				func(j int) bool { return occupied[[2]int{r, c + j}] })
			for i := r; i < r+rs; i++ {
				for j := c; j < c+cs; j++ {
					occupied[[2]int{i, j}] = true
				}
			}
			var parts []string
			if cell.TxBody != nil {
				for _, p := range cell.TxBody.Paras {
					if s := collapseSpace(runsText(b.runs(p.Items))); s != "" {
						parts = append(parts, s)
					}
				}
			}
			td.Cells = append(td.Cells, doctree.TableCell{
				Text:         strings.Join(parts, " "),
				Row:          r,
				Col:          c,
				RowSpan:      rs,
				ColSpan:      cs,
				ColumnHeader: r == 0,
			})
		}
	}
	if len(td.Cells) == 0 {
		return
	}
	b.doc.AddTable(b.stack.parent(), td, prov)
}

// slideSize reads the slide dimensions in points from presentation.xml.
func slideSize(files map[string]*zip.File) (float64, float64) {
	width, height := 720.0, 540.0
	f := files["ppt/presentation.xml"]
	if f == nil {
		return width, height
	}
	raw, err := readZipFile(f)
	if err != nil {
		return width, height
	}
	var pres struct {
		SldSz struct {
			CX int64 `xml:"cx,attr"`
			CY int64 `xml:"cy,attr"`
		} `xml:"sldSz"`
	}
	if err := xml.Unmarshal(raw, &pres); err == nil && pres.SldSz.CX > 0 && pres.SldSz.CY > 0 {
		width = float64(pres.SldSz.CX) / emuPerPoint
		height = float64(pres.SldSz.CY) / emuPerPoint
	}
	return width, height
}

// parsePPTXRels reads a .rels part and returns the rId to target map.
func parsePPTXRels(files map[string]*zip.File, relsPath string) map[string]string {
	f := files[relsPath]
	if f == nil {
		return nil
	}
	raw, err := readZipFile(f)
	if err != nil {
		return nil
	}
	var rels struct {
		Rels []struct {
			ID     string `xml:"Id,attr"`
			Target string `xml:"Target,attr"`
		} `xml:"Relationship"`
	}
	if err := xml.Unmarshal(raw, &rels); err != nil {
		return nil
	}
	out := make(map[string]string, len(rels.Rels))
	for _, r := range rels.Rels {
		out[r.ID] = r.Target
	}
	return out
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func extractSlideNumber(name string) int {
	name = strings.TrimPrefix(name, "ppt/slides/slide")
	name = strings.TrimSuffix(name, ".xml")
	var num int
	fmt.Sscanf(name, "%d", &num)
	return num
}
