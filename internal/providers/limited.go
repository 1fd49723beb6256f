package providers

import (
	"context"
	"errors"
)

// LimitedLLM gates an LLMClient behind a rate limiter.
type LimitedLLM struct {
	LLMClient
	limiter *RateLimiter
}

// NewLimitedLLM wraps client with a limiter of rps requests per second.
func NewLimitedLLM(client LLMClient, rps float64) *LimitedLLM {
	return &LimitedLLM{LLMClient: client, limiter: NewRateLimiter(rps)}
}

// Chat waits for a token and forwards the request.
func (l *LimitedLLM) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	res, err := l.LLMClient.Chat(ctx, req)
	if errors.Is(err, ErrRateLimited) {
		l.limiter.Record429()
	}
	return res, err
}

// Limiter exposes the limiter for status reporting.
func (l *LimitedLLM) Limiter() *RateLimiter { return l.limiter }

// Unwrap returns the wrapped client.
func (l *LimitedLLM) Unwrap() LLMClient { return l.LLMClient }

// LimitedRecognizer gates a Recognizer behind a rate limiter.
type LimitedRecognizer struct {
	Recognizer
	limiter *RateLimiter
}

// NewLimitedRecognizer wraps r with a limiter of rps requests per second.
// When r is a BatchRecognizer the returned value is one too.
func NewLimitedRecognizer(r Recognizer, rps float64) Recognizer {
	lr := &LimitedRecognizer{Recognizer: r, limiter: NewRateLimiter(rps)}
	if b, ok := r.(BatchRecognizer); ok {
		return &limitedBatchRecognizer{LimitedRecognizer: lr, batch: b}
	}
	return lr
}

// Recognize waits for a token and forwards the call.
func (l *LimitedRecognizer) Recognize(ctx context.Context, page PageInput) (*Recognition, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	rec, err := l.Recognizer.Recognize(ctx, page)
	if errors.Is(err, ErrRateLimited) {
		l.limiter.Record429()
	}
	return rec, err
}

// Limiter exposes the limiter for status reporting.
func (l *LimitedRecognizer) Limiter() *RateLimiter { return l.limiter }

type limitedBatchRecognizer struct {
	*LimitedRecognizer
	batch BatchRecognizer
}

func (l *limitedBatchRecognizer) RecognizeDocument(ctx context.Context, pdf []byte, pages []int) ([]*Recognition, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	recs, err := l.batch.RecognizeDocument(ctx, pdf, pages)
	if errors.Is(err, ErrRateLimited) {
		l.limiter.Record429()
	}
	return recs, err
}

var (
	_ LLMClient       = (*LimitedLLM)(nil)
	_ Recognizer      = (*LimitedRecognizer)(nil)
	_ BatchRecognizer = (*limitedBatchRecognizer)(nil)
)
