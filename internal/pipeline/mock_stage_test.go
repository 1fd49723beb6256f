package pipeline

import (
	"context"
	"sync/atomic"
)

// mockStage implements Stage for testing. Run consumes errs in order and
// then calls fn, when set.
type mockStage struct {
	name         string
	dependencies []string
	errs         []error
	fn           func(state *RunState) error

	calls atomic.Int32
}

func newMockStage(name string, deps ...string) *mockStage {
	return &mockStage{name: name, dependencies: deps}
}

func (m *mockStage) Name() string           { return m.name }
func (m *mockStage) Dependencies() []string { return m.dependencies }
func (m *mockStage) Description() string    { return "test stage" }

func (m *mockStage) Run(ctx context.Context, state *RunState) error {
	n := int(m.calls.Add(1)) - 1
	if n < len(m.errs) && m.errs[n] != nil {
		return m.errs[n]
	}
	if m.fn != nil {
		return m.fn(state)
	}
	return nil
}
