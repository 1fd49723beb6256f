package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateStage is returned when two stages share a name.
	ErrDuplicateStage = errors.New("duplicate stage")

	// ErrStageNotFound is returned when a stage depends on one that is absent.
	ErrStageNotFound = errors.New("stage not found")

	// ErrDependencyCycle is returned when stage dependencies form a cycle.
	ErrDependencyCycle = errors.New("dependency cycle detected")
)

// orderStages sorts stages so each one runs after everything it depends on.
// Stages are visited depth first in the order given, so independent stages
// keep their relative order.
func orderStages(stages []Stage) ([]Stage, error) {
	byName := make(map[string]Stage, len(stages))
	for _, s := range stages {
		if _, dup := byName[s.Name()]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateStage, s.Name())
		}
		byName[s.Name()] = s
	}

	const (
		unvisited = iota
		visiting
		done
	)
	mark := make(map[string]int, len(stages))
	ordered := make([]Stage, 0, len(stages))

	var visit func(s Stage, path []string) error
	visit = func(s Stage, path []string) error {
		switch mark[s.Name()] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("%w: %v", ErrDependencyCycle, append(path, s.Name()))
		}
		mark[s.Name()] = visiting
		for _, dep := range s.Dependencies() {
			d, ok := byName[dep]
			if !ok {
				return fmt.Errorf("%w: stage %q depends on %q", ErrStageNotFound, s.Name(), dep)
			}
			if err := visit(d, append(path, s.Name())); err != nil {
				return err
			}
		}
		mark[s.Name()] = done
		ordered = append(ordered, s)
		return nil
	}

	for _, s := range stages {
		if err := visit(s, nil); err != nil {
			return nil, err
		}
	}
	return ordered, nil
}
