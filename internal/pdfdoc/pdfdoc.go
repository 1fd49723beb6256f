// Package pdfdoc wraps the PDF primitives the pipeline needs: page counting,
// outline (bookmark) reading, per-page text layer extraction and page
// selection into a new document.
package pdfdoc

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

var (
	// ErrUnreadable is returned for data that is not a parseable PDF.
	ErrUnreadable = errors.New("unreadable pdf")

	// ErrPageRange is returned for page numbers outside the document.
	ErrPageRange = errors.New("page out of range")
)

// OutlineEntry is one flattened bookmark.
type OutlineEntry struct {
	Title string
	Page  int
	Level int
}

// Document is a parsed, read-only PDF. The underlying bytes are never
// modified.
type Document struct {
	data      []byte
	pageCount int

	textOnce sync.Once
	textMu   sync.Mutex
	text     *pdf.Reader
	textErr  error
}

func newConfig() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// Open parses data and counts its pages.
func Open(data []byte) (*Document, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrUnreadable)
	}
	if !bytes.HasPrefix(bytes.TrimLeft(data[:min(len(data), 1024)], "\x00\t\r\n "), []byte("%PDF-")) {
		return nil, fmt.Errorf("%w: missing pdf header", ErrUnreadable)
	}
	n, err := api.PageCount(bytes.NewReader(data), newConfig())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: no pages", ErrUnreadable)
	}
	return &Document{data: data, pageCount: n}, nil
}

// PageCount returns the number of pages.
func (d *Document) PageCount() int { return d.pageCount }

// Size returns the document size in bytes.
func (d *Document) Size() int { return len(d.data) }

// Outline returns the bookmarks flattened depth-first. A document without an
// outline returns nil.
func (d *Document) Outline() []OutlineEntry {
	bms, err := api.Bookmarks(bytes.NewReader(d.data), newConfig())
	if err != nil || len(bms) == 0 {
		return nil
	}
	var out []OutlineEntry
	var walk func([]pdfcpu.Bookmark, int)
	walk = func(items []pdfcpu.Bookmark, level int) {
		for _, b := range items {
			if b.PageFrom >= 1 && b.PageFrom <= d.pageCount {
				out = append(out, OutlineEntry{Title: strings.TrimSpace(b.Title), Page: b.PageFrom, Level: level})
			}
			walk(b.Kids, level+1)
		}
	}
	walk(bms, 0)
	return out
}

func (d *Document) textReader() (*pdf.Reader, error) {
	d.textOnce.Do(func() {
		d.text, d.textErr = pdf.NewReader(bytes.NewReader(d.data), int64(len(d.data)))
		if d.textErr != nil {
			d.textErr = fmt.Errorf("%w: %v", ErrUnreadable, d.textErr)
		}
	})
	return d.text, d.textErr
}

// PageText returns the text layer of a 1-based page. Pages without a text
// layer return "".
func (d *Document) PageText(page int) (string, error) {
	if page < 1 || page > d.pageCount {
		return "", fmt.Errorf("%w: %d of %d", ErrPageRange, page, d.pageCount)
	}
	r, err := d.textReader()
	if err != nil {
		return "", err
	}

	d.textMu.Lock()
	defer d.textMu.Unlock()
	p := r.Page(page)
	if p.V.IsNull() {
		return "", nil
	}
	text, err := pageLines(p)
	if err != nil {
		return "", fmt.Errorf("failed to read text of page %d: %w", page, err)
	}
	return strings.TrimSpace(text), nil
}

// pageLines rebuilds the visual lines of a page from positioned glyphs.
// Glyphs are grouped into rows by baseline, top to bottom, and each row is
// read left to right. A horizontal gap wider than a third of the font size
// becomes a space.
func pageLines(p pdf.Page) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("malformed content stream: %v", r)
		}
	}()

	glyphs := make([]pdf.Text, 0, 256)
	for _, g := range p.Content().Text {
		if g.S == "" || g.S == "\n" {
			continue
		}
		glyphs = append(glyphs, g)
	}
	// Stable sorts keep stream order for glyphs that share a position,
	// which happens when the font carries no width table.
	sort.SliceStable(glyphs, func(i, j int) bool { return glyphs[i].Y > glyphs[j].Y })

	var rows [][]pdf.Text
	for _, g := range glyphs {
		if n := len(rows); n > 0 {
			last := rows[n-1]
			tol := math.Max(1, last[0].FontSize/2)
			if last[0].Y-g.Y <= tol {
				rows[n-1] = append(last, g)
				continue
			}
		}
		rows = append(rows, []pdf.Text{g})
	}

	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		sort.SliceStable(row, func(i, j int) bool { return row[i].X < row[j].X })
		var b strings.Builder
		for i, g := range row {
			if i > 0 {
				prev := row[i-1]
				gap := g.X - (prev.X + prev.W)
				if gap > prev.FontSize/3 && prev.S != " " && g.S != " " {
					b.WriteByte(' ')
				}
			}
			b.WriteString(g.S)
		}
		if line := strings.TrimRight(b.String(), " "); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n"), nil
}

// Select writes a new document containing only pages, in ascending
// original order. Duplicates are ignored.
func (d *Document) Select(pages []int) ([]byte, error) {
	norm, err := NormalizePages(pages, d.pageCount)
	if err != nil {
		return nil, err
	}
	if len(norm) == d.pageCount {
		return append([]byte(nil), d.data...), nil
	}

	sel := make([]string, len(norm))
	for i, p := range norm {
		sel[i] = strconv.Itoa(p)
	}
	var out bytes.Buffer
	if err := api.Trim(bytes.NewReader(d.data), &out, sel, newConfig()); err != nil {
		return nil, fmt.Errorf("failed to select pages: %w", err)
	}
	return out.Bytes(), nil
}

// NormalizePages sorts, dedupes and range-checks page numbers.
func NormalizePages(pages []int, pageCount int) ([]int, error) {
	if len(pages) == 0 {
		return nil, fmt.Errorf("%w: no pages selected", ErrPageRange)
	}
	seen := make(map[int]bool, len(pages))
	out := make([]int, 0, len(pages))
	for _, p := range pages {
		if p < 1 || p > pageCount {
			return nil, fmt.Errorf("%w: %d of %d", ErrPageRange, p, pageCount)
		}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	sort.Ints(out)
	return out, nil
}
