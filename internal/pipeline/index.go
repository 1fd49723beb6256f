package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/jackzampolin/takeoff/internal/document"
	"github.com/jackzampolin/takeoff/internal/pdfdoc"
	"github.com/jackzampolin/takeoff/internal/profiles"
)

// Confidence of a page selection by source.
const (
	outlineConfidence   = 0.95
	tocConfidence       = 0.85
	pageTitleConfidence = 0.75
	fallbackConfidence  = 0.3
)

// tocHeadings mark a page as a table of contents or sheet index.
var tocHeadings = []string{
	"table of contents",
	"contents",
	"sheet index",
	"drawing index",
	"index of drawings",
	"sheet list",
	"list of drawings",
}

// IndexPageAnalyzer finds the pages worth reading and picks the document
// profile.
type IndexPageAnalyzer struct {
	Profiles *profiles.Set

	// LeadPages is how many leading pages feed signature matching (default 3).
	LeadPages int

	// TOCPages is how many leading pages are searched for a table of
	// contents (default 5).
	TOCPages int

	Logger *slog.Logger
}

var _ Stage = (*IndexPageAnalyzer)(nil)

func (a *IndexPageAnalyzer) Name() string           { return document.StageIndex }
func (a *IndexPageAnalyzer) Dependencies() []string { return nil }
func (a *IndexPageAnalyzer) Description() string {
	return "Find relevant pages from the outline, table of contents or sheet titles"
}

// Run analyzes the source document.
func (a *IndexPageAnalyzer) Run(ctx context.Context, state *RunState) error {
	data, err := state.Source(ctx)
	if err != nil {
		return classify(a.Name(), err)
	}
	idx, err := a.Analyze(ctx, data)
	if err != nil {
		return err
	}
	state.Index = idx
	return nil
}

// Analyze resolves the relevant pages of data. A document without an
// outline or table of contents is not an error: every page is selected and
// the artifact is marked low confidence.
func (a *IndexPageAnalyzer) Analyze(ctx context.Context, data []byte) (*IndexArtifact, error) {
	doc, err := pdfdoc.Open(data)
	if err != nil {
		return nil, newError(KindInput, a.Name(), err)
	}
	logger := a.logger()
	set := a.Profiles
	if set == nil {
		set = profiles.Builtin()
	}

	n := doc.PageCount()
	texts := &pageTexts{doc: doc, logger: logger, cache: make(map[int]string)}

	outline := doc.Outline()
	titles := make([]string, len(outline))
	for i, e := range outline {
		titles[i] = e.Title
	}

	var lead strings.Builder
	for p := 1; p <= min(a.leadPages(), n); p++ {
		lead.WriteString(texts.get(p))
		lead.WriteByte('\n')
	}
	profile := set.Select(profiles.Structure{
		PageCount:     n,
		OutlineTitles: titles,
		LeadText:      lead.String(),
	})

	idx := &IndexArtifact{PageCount: n, Profile: profile, Titles: make(map[int]string)}

	// 1. Outline bookmarks.
	for _, e := range outline {
		if hint, ok := profile.MatchTitle(e.Title); ok {
			idx.add(e.Page, hint)
		}
	}
	if len(idx.Titles) > 0 {
		return idx.finish(SourceOutline, outlineConfidence), nil
	}

	// 2. Table of contents in the text layer.
	tocPages := make(map[int]bool)
	for p := 1; p <= min(a.tocPages(), n); p++ {
		if err := ctx.Err(); err != nil {
			return nil, classify(a.Name(), err)
		}
		text := texts.get(p)
		if !isTOCPage(text) {
			continue
		}
		tocPages[p] = true
		for _, line := range strings.Split(text, "\n") {
			title, page, ok := parseTOCLine(line)
			if !ok || page < 1 || page > n || page == p {
				continue
			}
			if hint, ok := profile.MatchTitle(title); ok {
				idx.add(page, hint)
			}
		}
	}
	if len(idx.Titles) > 0 {
		return idx.finish(SourceTOC, tocConfidence), nil
	}

	// 3. Sheet titles on the pages themselves.
	for p := 1; p <= n; p++ {
		if err := ctx.Err(); err != nil {
			return nil, classify(a.Name(), err)
		}
		if tocPages[p] {
			continue
		}
		for _, line := range strings.Split(texts.get(p), "\n") {
			if hint, ok := profile.MatchTitle(line); ok {
				idx.add(p, hint)
				break
			}
		}
	}
	if len(idx.Titles) > 0 {
		return idx.finish(SourcePageTitle, pageTitleConfidence), nil
	}

	// 4. Nothing found: read everything.
	for p := 1; p <= n; p++ {
		idx.Pages = append(idx.Pages, p)
	}
	idx.LowConfidence = true
	idx.Source = SourceFallback
	idx.Confidence = fallbackConfidence
	logger.Info("no relevant pages identified, selecting all pages",
		"profile", profile.Name, "page_count", n)
	return idx, nil
}

func (idx *IndexArtifact) add(page int, hint string) {
	if _, ok := idx.Titles[page]; ok {
		return
	}
	idx.Titles[page] = hint
	idx.Pages = append(idx.Pages, page)
}

func (idx *IndexArtifact) finish(source string, confidence float64) *IndexArtifact {
	sort.Ints(idx.Pages)
	idx.Source = source
	idx.Confidence = confidence
	return idx
}

func (a *IndexPageAnalyzer) leadPages() int {
	if a.LeadPages > 0 {
		return a.LeadPages
	}
	return 3
}

func (a *IndexPageAnalyzer) tocPages() int {
	if a.TOCPages > 0 {
		return a.TOCPages
	}
	return 5
}

func (a *IndexPageAnalyzer) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

// pageTexts reads page text once. Unreadable pages count as blank.
type pageTexts struct {
	doc    *pdfdoc.Document
	logger *slog.Logger
	cache  map[int]string
}

func (t *pageTexts) get(page int) string {
	if text, ok := t.cache[page]; ok {
		return text
	}
	text, err := t.doc.PageText(page)
	if err != nil {
		t.logger.Debug("text layer unreadable", "page", page, "error", err)
		text = ""
	}
	t.cache[page] = text
	return text
}

func isTOCPage(text string) bool {
	for _, line := range strings.Split(text, "\n") {
		norm := profiles.Normalize(line)
		for _, h := range tocHeadings {
			if norm == h {
				return true
			}
		}
	}
	return false
}

// tocLine matches "Roof Plan ........ 4" and "Roof Plan....4".
var tocLine = regexp.MustCompile(`^(.*?)[\s.·…_-]*?[\s.·…_]+(\d{1,4})$`)

// parseTOCLine splits a contents entry into its title and page.
func parseTOCLine(line string) (string, int, bool) {
	m := tocLine.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return "", 0, false
	}
	title := strings.TrimRight(strings.TrimSpace(m[1]), " .·…_-")
	page, err := strconv.Atoi(m[2])
	if err != nil || title == "" {
		return "", 0, false
	}
	return title, page, true
}

func (idx *IndexArtifact) String() string {
	return fmt.Sprintf("%s pages=%v confidence=%.2f profile=%s", idx.Source, idx.Pages, idx.Confidence, idx.Profile.Name)
}
