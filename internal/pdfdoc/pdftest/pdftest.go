// Package pdftest writes small, valid PDFs with a text layer and an
// optional outline for tests.
package pdftest

import (
	"bytes"
	"fmt"
	"strings"
)

// Bookmark is an outline entry pointing at a 1-based page.
type Bookmark struct {
	Title string
	Page  int
}

// Doc describes a PDF to build. Each page entry is the page's text; lines
// are split on "\n".
type Doc struct {
	Pages   []string
	Outline []Bookmark
}

// Blank returns a doc with n pages whose only text is "Sheet N".
func Blank(n int) Doc {
	d := Doc{Pages: make([]string, n)}
	for i := range d.Pages {
		d.Pages[i] = fmt.Sprintf("Sheet %d", i+1)
	}
	return d
}

// Build renders the document.
func Build(d Doc) []byte {
	w := &writer{}
	w.buf.WriteString("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n")

	n := len(d.Pages)
	// Object layout: 1 catalog, 2 pages, 3 font, then page/content pairs,
	// then the outline root and its items.
	pageObj := func(i int) int { return 4 + 2*i }
	contentObj := func(i int) int { return 5 + 2*i }
	outlineRoot := 4 + 2*n
	itemObj := func(i int) int { return outlineRoot + 1 + i }

	catalog := "<< /Type /Catalog /Pages 2 0 R"
	if len(d.Outline) > 0 {
		catalog += fmt.Sprintf(" /Outlines %d 0 R /PageMode /UseOutlines", outlineRoot)
	}
	w.object(1, catalog+" >>")

	kids := make([]string, n)
	for i := range kids {
		kids[i] = fmt.Sprintf("%d 0 R", pageObj(i))
	}
	w.object(2, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), n))
	w.object(3, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")

	for i, text := range d.Pages {
		w.object(pageObj(i), fmt.Sprintf(
			"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>",
			contentObj(i)))
		stream := contentStream(text)
		w.object(contentObj(i), fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream))
	}

	if len(d.Outline) > 0 {
		last := len(d.Outline) - 1
		w.object(outlineRoot, fmt.Sprintf("<< /Type /Outlines /First %d 0 R /Last %d 0 R /Count %d >>",
			itemObj(0), itemObj(last), len(d.Outline)))
		for i, b := range d.Outline {
			var links string
			if i > 0 {
				links += fmt.Sprintf(" /Prev %d 0 R", itemObj(i-1))
			}
			if i < last {
				links += fmt.Sprintf(" /Next %d 0 R", itemObj(i+1))
			}
			w.object(itemObj(i), fmt.Sprintf("<< /Title (%s) /Parent %d 0 R%s /Dest [%d 0 R /Fit] >>",
				escape(b.Title), outlineRoot, links, pageObj(b.Page-1)))
		}
	}

	w.finish(1)
	return w.buf.Bytes()
}

func contentStream(text string) string {
	var b strings.Builder
	y := 740
	for _, line := range strings.Split(text, "\n") {
		fmt.Fprintf(&b, "BT /F1 12 Tf 72 %d Td (%s) Tj ET\n", y, escape(line))
		y -= 16
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func escape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`)
	return r.Replace(s)
}

type writer struct {
	buf     bytes.Buffer
	offsets map[int]int
	max     int
}

func (w *writer) object(num int, body string) {
	if w.offsets == nil {
		w.offsets = make(map[int]int)
	}
	w.offsets[num] = w.buf.Len()
	if num > w.max {
		w.max = num
	}
	fmt.Fprintf(&w.buf, "%d 0 obj\n%s\nendobj\n", num, body)
}

func (w *writer) finish(root int) {
	xref := w.buf.Len()
	fmt.Fprintf(&w.buf, "xref\n0 %d\n", w.max+1)
	w.buf.WriteString("0000000000 65535 f \n")
	for i := 1; i <= w.max; i++ {
		fmt.Fprintf(&w.buf, "%010d 00000 n \n", w.offsets[i])
	}
	fmt.Fprintf(&w.buf, "trailer\n<< /Size %d /Root %d 0 R >>\nstartxref\n%d\n%%%%EOF\n", w.max+1, root, xref)
}
