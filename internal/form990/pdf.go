package form990

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/text/unicode/norm"
)

// PDFOpener reads filings with github.com/ledongthuc/pdf. Each page becomes
// one table whose rows are the page's text rows, split into cells wherever
// the horizontal gap between glyph runs exceeds CellGap.
type PDFOpener struct {
	CellGap float64
}

func NewPDFOpener() *PDFOpener {
	return &PDFOpener{CellGap: 6}
}

func (o *PDFOpener) Open(path string) (doc *Document, err error) {
	// The parser panics on some malformed streams.
	defer func() {
		if r := recover(); r != nil {
			doc, err = nil, fmt.Errorf("parse %s: %v", filepath.Base(path), r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	doc = &Document{Name: filepath.Base(path)}
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			doc.Pages = append(doc.Pages, Page{})
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d text: %w", i, err)
		}
		rows, err := p.GetTextByRow()
		if err != nil {
			return nil, fmt.Errorf("page %d rows: %w", i, err)
		}
		doc.Pages = append(doc.Pages, Page{
			Text:   norm.NFKC.String(text),
			Tables: [][][]string{o.cells(rows)},
		})
	}
	return doc, nil
}

func (o *PDFOpener) cells(rows pdf.Rows) [][]string {
	table := make([][]string, 0, len(rows))
	for _, row := range rows {
		var (
			cells []string
			cur   strings.Builder
			end   = math.Inf(-1)
		)
		for _, t := range row.Content {
			if cur.Len() > 0 && t.X-end > o.CellGap {
				cells = append(cells, strings.TrimSpace(cur.String()))
				cur.Reset()
			}
			cur.WriteString(t.S)
			end = t.X + t.W
		}
		if cur.Len() > 0 {
			cells = append(cells, strings.TrimSpace(cur.String()))
		}
		if len(cells) > 0 {
			for i := range cells {
				cells[i] = norm.NFKC.String(cells[i])
			}
			table = append(table, cells)
		}
	}
	return table
}
