package pipeline

import (
	"context"
	"fmt"

	"github.com/jackzampolin/takeoff/internal/document"
	"github.com/jackzampolin/takeoff/internal/pdfdoc"
)

// SelectivePageExtractor builds a reduced PDF holding only the relevant
// pages. The source bytes are never modified.
type SelectivePageExtractor struct{}

var _ Stage = (*SelectivePageExtractor)(nil)

func (s *SelectivePageExtractor) Name() string           { return document.StageSelect }
func (s *SelectivePageExtractor) Dependencies() []string { return []string{document.StageIndex} }
func (s *SelectivePageExtractor) Description() string {
	return "Copy the relevant pages into a reduced document"
}

// Run reduces the source document to the indexed pages.
func (s *SelectivePageExtractor) Run(ctx context.Context, state *RunState) error {
	if state.Index == nil {
		return newError(KindInternal, s.Name(), fmt.Errorf("missing index artifact"))
	}
	data, err := state.Source(ctx)
	if err != nil {
		return classify(s.Name(), err)
	}
	rd, err := s.Reduce(data, state.Index)
	if err != nil {
		return err
	}
	state.Reduced = rd
	return nil
}

// Reduce copies idx.Pages out of data.
func (s *SelectivePageExtractor) Reduce(data []byte, idx *IndexArtifact) (*ReducedDocument, error) {
	doc, err := pdfdoc.Open(data)
	if err != nil {
		return nil, newError(KindInput, s.Name(), err)
	}
	pages, err := pdfdoc.NormalizePages(idx.Pages, doc.PageCount())
	if err != nil {
		return nil, newError(KindInput, s.Name(), err)
	}

	reduced, err := doc.Select(pages)
	if err != nil {
		return nil, newError(KindInput, s.Name(), err)
	}
	check, err := pdfdoc.Open(reduced)
	if err != nil {
		return nil, newError(KindInput, s.Name(), fmt.Errorf("reduced document: %w", err))
	}
	if check.PageCount() != len(pages) {
		return nil, newError(KindInput, s.Name(),
			fmt.Errorf("reduced document has %d pages, want %d", check.PageCount(), len(pages)))
	}

	return &ReducedDocument{
		Data:              reduced,
		OriginalPages:     pages,
		OriginalPageCount: doc.PageCount(),
	}, nil
}
