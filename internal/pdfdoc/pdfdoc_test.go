package pdfdoc

import (
	"errors"
	"strings"
	"testing"

	"github.com/jackzampolin/takeoff/internal/pdfdoc/pdftest"
)

func TestOpen(t *testing.T) {
	doc, err := Open(pdftest.Build(pdftest.Blank(3)))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if doc.PageCount() != 3 {
		t.Errorf("PageCount() = %d, want 3", doc.PageCount())
	}
}

func TestOpenRejectsGarbage(t *testing.T) {
	tests := map[string][]byte{
		"empty":     nil,
		"not a pdf": []byte("hello world"),
		"truncated": pdftest.Build(pdftest.Blank(2))[:40],
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Open(data); !errors.Is(err, ErrUnreadable) {
				t.Errorf("Open() error = %v, want ErrUnreadable", err)
			}
		})
	}
}

func TestPageText(t *testing.T) {
	doc, err := Open(pdftest.Build(pdftest.Doc{Pages: []string{
		"Cover Sheet",
		"Roof Plan\nTotal roof area: 2,500 sq ft",
	}}))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	text, err := doc.PageText(2)
	if err != nil {
		t.Fatalf("PageText() error = %v", err)
	}
	if want := "Roof Plan\nTotal roof area: 2,500 sq ft"; text != want {
		t.Errorf("PageText(2) = %q, want %q", text, want)
	}

	if _, err := doc.PageText(3); !errors.Is(err, ErrPageRange) {
		t.Errorf("PageText(3) error = %v, want ErrPageRange", err)
	}
}

func TestOutline(t *testing.T) {
	doc, err := Open(pdftest.Build(pdftest.Doc{
		Pages: pdftest.Blank(5).Pages,
		Outline: []pdftest.Bookmark{
			{Title: "Cover", Page: 1},
			{Title: "Roof Plan", Page: 4},
		},
	}))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	got := doc.Outline()
	if len(got) != 2 {
		t.Fatalf("len(Outline()) = %d, want 2: %+v", len(got), got)
	}
	if got[1].Title != "Roof Plan" || got[1].Page != 4 {
		t.Errorf("Outline()[1] = %+v, want Roof Plan on page 4", got[1])
	}
}

func TestOutlineMissing(t *testing.T) {
	doc, err := Open(pdftest.Build(pdftest.Blank(2)))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if got := doc.Outline(); len(got) != 0 {
		t.Errorf("Outline() = %+v, want none", got)
	}
}

func TestSelect(t *testing.T) {
	data := pdftest.Build(pdftest.Blank(6))
	original := append([]byte(nil), data...)
	doc, err := Open(data)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	reduced, err := doc.Select([]int{5, 2, 5})
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if string(data) != string(original) {
		t.Error("Select() mutated the source document")
	}

	sub, err := Open(reduced)
	if err != nil {
		t.Fatalf("Open(reduced) error = %v", err)
	}
	if sub.PageCount() != 2 {
		t.Fatalf("reduced PageCount() = %d, want 2", sub.PageCount())
	}
	first, _ := sub.PageText(1)
	second, _ := sub.PageText(2)
	if !strings.Contains(first, "Sheet 2") || !strings.Contains(second, "Sheet 5") {
		t.Errorf("reduced pages = %q, %q; want Sheet 2, Sheet 5", first, second)
	}
}

func TestNormalizePages(t *testing.T) {
	tests := []struct {
		name    string
		pages   []int
		want    []int
		wantErr bool
	}{
		{"sorted dedup", []int{7, 3, 7, 1}, []int{1, 3, 7}, false},
		{"empty", nil, nil, true},
		{"zero", []int{0}, nil, true},
		{"past end", []int{11}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizePages(tt.pages, 10)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NormalizePages() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("NormalizePages() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("NormalizePages() = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestPageTextKeepsLines(t *testing.T) {
	doc, err := Open(pdftest.Build(pdftest.Doc{Pages: []string{
		"Sheet Index\nA1.0 Site Plan 2\nA3.1 Roof Plan 4\n\nNotes",
	}}))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	text, err := doc.PageText(1)
	if err != nil {
		t.Fatalf("PageText() error = %v", err)
	}
	lines := strings.Split(text, "\n")
	want := []string{"Sheet Index", "A1.0 Site Plan 2", "A3.1 Roof Plan 4", "Notes"}
	if len(lines) != len(want) {
		t.Fatalf("PageText() lines = %q, want %q", lines, want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}
