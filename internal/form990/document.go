package form990

import "strings"

// Page is the text and table content of one PDF page. Tables are lists of
// rows of cell strings.
type Page struct {
	Text   string
	Tables [][][]string
}

// Document is an opened filing.
type Document struct {
	Name  string
	Pages []Page
}

// Text joins the text of every page.
func (d *Document) Text() string {
	parts := make([]string, len(d.Pages))
	for i, p := range d.Pages {
		parts[i] = p.Text
	}
	return strings.Join(parts, "\n")
}

// Opener turns a file path into a Document.
type Opener interface {
	Open(path string) (*Document, error)
}
