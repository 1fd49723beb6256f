package profiles

import (
	"strings"
	"testing"
)

func TestSignatureMatch(t *testing.T) {
	tests := []struct {
		name string
		sig  Signature
		st   Structure
		want bool
	}{
		{
			name: "outline title",
			sig:  Signature{OutlineTitles: []string{"Roof Plan"}},
			st:   Structure{PageCount: 10, OutlineTitles: []string{"Cover", "A-201 ROOF PLAN"}},
			want: true,
		},
		{
			name: "text marker",
			sig:  Signature{TextMarkers: []string{"sheet index"}},
			st:   Structure{PageCount: 10, LeadText: "PROJECT X\nSHEET INDEX\nA-101 Floor Plan"},
			want: true,
		},
		{
			name: "too few pages",
			sig:  Signature{TextMarkers: []string{"sheet index"}, MinPages: 5},
			st:   Structure{PageCount: 2, LeadText: "SHEET INDEX"},
			want: false,
		},
		{
			name: "too many pages",
			sig:  Signature{TextMarkers: []string{"sheet index"}, MaxPages: 5},
			st:   Structure{PageCount: 6, LeadText: "SHEET INDEX"},
			want: false,
		},
		{
			name: "empty signature",
			sig:  Signature{},
			st:   Structure{PageCount: 1, LeadText: "anything"},
			want: false,
		},
		{
			name: "no evidence",
			sig:  Signature{OutlineTitles: []string{"roof plan"}},
			st:   Structure{PageCount: 3, LeadText: "floor plan"},
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sig.Match(tt.st); got != tt.want {
				t.Errorf("Match() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMatchTitle(t *testing.T) {
	p := &Profile{Name: "t", PageHints: []string{"roof plan", "roof framing plan"}}
	if err := p.compile(); err != nil {
		t.Fatalf("compile() error = %v", err)
	}

	tests := []struct {
		line string
		want string
		ok   bool
	}{
		{"Roof Plan", "roof plan", true},
		{"A-201  ROOF PLAN", "roof plan", true},
		{"ROOF FRAMING PLAN - NORTH", "roof framing plan", true},
		{"Roof Plan ........ 4", "roof plan", true},
		{"Refer to the roof plan for all drainage locations and details", "", false},
		{"Floor Plan", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, ok := p.MatchTitle(tt.line)
			if ok != tt.ok || got != tt.want {
				t.Errorf("MatchTitle(%q) = %q, %v, want %q, %v", tt.line, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct{ in, want string }{
		{"  Roof   PLAN ", "roof plan"},
		{"A-201: Roof/Plan", "a 201 roof plan"},
		{"...", ""},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRender(t *testing.T) {
	s := Builtin()
	p, _ := s.Get("roof-plan-set")

	data := PromptData{
		Filename:  "plans.pdf",
		Pages:     []int{4, 7},
		PageCount: 20,
		Content:   "=== Page 4 ===\nROOF PLAN",
	}
	first, err := p.Render(data)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	second, _ := p.Render(data)
	if first != second {
		t.Error("Render() is not deterministic")
	}

	for _, want := range []string{"plans.pdf", "4, 7 of 20", "roof-plan-set", "=== Page 4 ===", "roof framing plan"} {
		if !strings.Contains(first, want) {
			t.Errorf("prompt missing %q:\n%s", want, first)
		}
	}
}

func TestPromptVersion(t *testing.T) {
	a := &Profile{Name: "a"}
	b := &Profile{Name: "a", Guidance: "different"}
	if err := a.compile(); err != nil {
		t.Fatal(err)
	}
	if err := b.compile(); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(a.PromptVersion(), "a@") {
		t.Errorf("PromptVersion() = %q, want a@ prefix", a.PromptVersion())
	}
	if a.PromptVersion() == b.PromptVersion() {
		t.Error("different prompt text should change the version")
	}
}

func TestCompileRejectsBadTemplate(t *testing.T) {
	p := &Profile{Name: "bad", PromptTemplate: "{{.Content"}
	if err := p.compile(); err == nil {
		t.Error("expected error for unparsable template")
	}
	if err := (&Profile{}).compile(); err == nil {
		t.Error("expected error for missing name")
	}
}

func TestExtractVariables(t *testing.T) {
	got := ExtractVariables(defaultPromptTemplate)
	want := []string{"Content", "Filename", "Guidance", "PageCount", "Profile"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("ExtractVariables() = %v, want %v", got, want)
	}
}
