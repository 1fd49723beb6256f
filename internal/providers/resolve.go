package providers

import (
	"context"
	"fmt"
)

// RegistryLLM resolves a named LLM client on every call, so a config
// reload applies to the next request.
type RegistryLLM struct {
	registry *Registry
	name     string
}

// LLM returns a client that forwards to the registry's current client of
// that name.
func (r *Registry) LLM(name string) *RegistryLLM {
	return &RegistryLLM{registry: r, name: name}
}

// Name returns the configured provider name.
func (l *RegistryLLM) Name() string { return l.name }

// Chat resolves the client and forwards the request. A missing client is
// reported as unavailable so the caller may retry after a reload.
func (l *RegistryLLM) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	client, err := l.registry.GetLLM(l.name)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrUnavailable)
	}
	return client.Chat(ctx, req)
}

// RegistryRecognizer resolves the first registered recognizer from an
// ordered preference list on every call.
type RegistryRecognizer struct {
	registry *Registry
	names    []string
}

// Recognizer returns a recognizer that uses the first of names currently
// registered. List the text layer last as a fallback.
func (r *Registry) Recognizer(names ...string) *RegistryRecognizer {
	return &RegistryRecognizer{registry: r, names: names}
}

// Name returns the name of the recognizer that would serve the next call.
func (rr *RegistryRecognizer) Name() string {
	if rec, err := rr.resolve(); err == nil {
		return rec.Name()
	}
	return "unresolved"
}

func (rr *RegistryRecognizer) resolve() (Recognizer, error) {
	for _, name := range rr.names {
		if rec, err := rr.registry.GetRecognizer(name); err == nil {
			return rec, nil
		}
	}
	return nil, fmt.Errorf("no recognizer registered among %v: %w", rr.names, ErrUnavailable)
}

// Recognize forwards one page.
func (rr *RegistryRecognizer) Recognize(ctx context.Context, page PageInput) (*Recognition, error) {
	rec, err := rr.resolve()
	if err != nil {
		return nil, err
	}
	return rec.Recognize(ctx, page)
}

// RecognizeDocument forwards the batch when the resolved recognizer
// supports it, and otherwise recognizes the pages one by one.
func (rr *RegistryRecognizer) RecognizeDocument(ctx context.Context, pdf []byte, pages []int) ([]*Recognition, error) {
	rec, err := rr.resolve()
	if err != nil {
		return nil, err
	}
	if batch, ok := rec.(BatchRecognizer); ok {
		return batch.RecognizeDocument(ctx, pdf, pages)
	}
	out := make([]*Recognition, 0, len(pages))
	for _, p := range pages {
		r, err := rec.Recognize(ctx, PageInput{Document: pdf, Page: p, OriginalPage: p})
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", p, err)
		}
		out = append(out, r)
	}
	return out, nil
}

var (
	_ LLMClient       = (*RegistryLLM)(nil)
	_ BatchRecognizer = (*RegistryRecognizer)(nil)
)
