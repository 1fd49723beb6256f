// Package profiles describes document types the pipeline knows how to read.
//
// A profile is chosen by structural signature (outline titles, the text of
// the first sheets, page count) and supplies the page hints used to find
// relevant sheets plus the prompt the interpreter sends. Adding support for
// a new blueprint convention means adding a profile, not a code branch.
package profiles

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"text/template"
	"unicode"
)

//go:embed templates/system.tmpl
var defaultSystemPrompt string

//go:embed templates/takeoff.tmpl
var defaultPromptTemplate string

// GenericName is the profile used when no signature matches.
const GenericName = "generic"

// Structure is the evidence a signature is matched against.
type Structure struct {
	PageCount     int
	OutlineTitles []string
	LeadText      string // text layer of the first few pages
}

// Signature describes how to recognize a document type. A signature with no
// outline titles and no text markers never matches.
type Signature struct {
	OutlineTitles []string `yaml:"outline_titles" json:"outline_titles,omitempty"`
	TextMarkers   []string `yaml:"text_markers" json:"text_markers,omitempty"`
	MinPages      int      `yaml:"min_pages" json:"min_pages,omitempty"`
	MaxPages      int      `yaml:"max_pages" json:"max_pages,omitempty"`
}

// Match reports whether st carries this signature.
func (s Signature) Match(st Structure) bool {
	if len(s.OutlineTitles) == 0 && len(s.TextMarkers) == 0 {
		return false
	}
	if s.MinPages > 0 && st.PageCount < s.MinPages {
		return false
	}
	if s.MaxPages > 0 && st.PageCount > s.MaxPages {
		return false
	}

	for _, want := range s.OutlineTitles {
		w := Normalize(want)
		for _, title := range st.OutlineTitles {
			if strings.Contains(Normalize(title), w) {
				return true
			}
		}
	}
	lead := Normalize(st.LeadText)
	for _, marker := range s.TextMarkers {
		if strings.Contains(lead, Normalize(marker)) {
			return true
		}
	}
	return false
}

// Profile is one document type.
type Profile struct {
	Name        string    `yaml:"name" json:"name"`
	Description string    `yaml:"description" json:"description,omitempty"`
	Signature   Signature `yaml:"signature" json:"signature"`

	// PageHints are sheet titles that mark relevant pages, e.g. "roof plan".
	PageHints []string `yaml:"page_hints" json:"page_hints"`

	// Guidance is extra profile-specific instruction rendered into the prompt.
	Guidance string `yaml:"guidance" json:"guidance,omitempty"`

	SystemPrompt   string `yaml:"system_prompt" json:"-"`
	PromptTemplate string `yaml:"prompt_template" json:"-"`

	// LaborKeys maps measurement names to rate table keys used to price labor.
	LaborKeys map[string]string `yaml:"labor_keys" json:"labor_keys,omitempty"`

	tmpl    *template.Template
	version string
}

// PromptData is the input of the prompt template.
type PromptData struct {
	Filename  string
	Profile   string
	Pages     []int
	PageCount int
	Hints     []string
	Guidance  string
	Content   string
}

// compile fills defaults and parses the prompt template.
func (p *Profile) compile() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("profile name is required")
	}
	if p.SystemPrompt == "" {
		p.SystemPrompt = defaultSystemPrompt
	}
	if p.PromptTemplate == "" {
		p.PromptTemplate = defaultPromptTemplate
	}
	tmpl, err := parseTemplate(p.Name, p.PromptTemplate)
	if err != nil {
		return fmt.Errorf("profile %s: invalid prompt template: %w", p.Name, err)
	}
	p.tmpl = tmpl

	hints := make([]string, 0, len(p.PageHints))
	for _, h := range p.PageHints {
		if n := Normalize(h); n != "" {
			hints = append(hints, h)
		}
	}
	p.PageHints = hints

	p.version = p.Name + "@" + HashText(p.SystemPrompt + "\x00" + p.PromptTemplate + "\x00" + p.Guidance)[:12]
	return nil
}

// PromptVersion identifies the exact prompt text this profile renders.
func (p *Profile) PromptVersion() string {
	return p.version
}

// Render executes the prompt template. The output depends only on data.
func (p *Profile) Render(data PromptData) (string, error) {
	if p.tmpl == nil {
		return "", fmt.Errorf("profile %s is not compiled", p.Name)
	}
	data.Profile = p.Name
	data.Guidance = p.Guidance
	if data.Hints == nil {
		data.Hints = p.PageHints
	}

	var buf bytes.Buffer
	if err := p.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render prompt for profile %s: %w", p.Name, err)
	}
	return buf.String(), nil
}

// MatchTitle reports which page hint, if any, the line is a title for. A line
// matches when it contains the hint's words in order with at most
// maxExtraWords other words around them, so "A-201 ROOF PLAN" matches
// "roof plan" but a note that mentions the roof plan does not.
func (p *Profile) MatchTitle(line string) (string, bool) {
	words := strings.Fields(Normalize(line))
	if len(words) == 0 {
		return "", false
	}
	for _, hint := range p.PageHints {
		hw := strings.Fields(Normalize(hint))
		if len(hw) == 0 || len(words)-len(hw) > maxExtraWords {
			continue
		}
		if containsRun(words, hw) {
			return hint, true
		}
	}
	return "", false
}

const maxExtraWords = 3

func containsRun(words, run []string) bool {
	for i := 0; i+len(run) <= len(words); i++ {
		match := true
		for j := range run {
			if words[i+j] != run[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// Normalize lowercases s, replaces punctuation with spaces and collapses
// whitespace.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := true
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}
