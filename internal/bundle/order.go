package bundle

import (
	"fmt"
	"strings"
)

// CycleError indicates that bundle members depend on each other in a loop
type CycleError struct {
	// Cycle lists the module ids on the loop, starting and ending with the same id
	Cycle []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Cycle, " -> "))
}

type visitState uint8

const (
	unvisited visitState = iota
	visiting
	done
)

// Orderer sorts the members of one bundle so every declared dependency that is
// also a member is emitted before the module that needs it.
type Orderer struct {
	extractor DependencyExtractor
}

// NewOrderer creates an orderer. A nil extractor selects AMDExtractor.
func NewOrderer(extractor DependencyExtractor) *Orderer {
	if extractor == nil {
		extractor = AMDExtractor{}
	}
	return &Orderer{extractor: extractor}
}

// Order returns a permutation of modules in dependency order. Modules keep
// their input order wherever no dependency forces a move. Dependencies outside
// the set load independently and are ignored. Templates declare no dependencies.
func (o *Orderer) Order(modules []Module) ([]Module, error) {
	index := make(map[string]int, len(modules))
	for i, m := range modules {
		if _, dup := index[m.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateModule, m.ID)
		}
		index[m.ID] = i
	}

	state := make([]visitState, len(modules))
	out := make([]Module, 0, len(modules))
	var stack []string

	var visit func(i int) error
	visit = func(i int) error {
		switch state[i] {
		case done:
			return nil
		case visiting:
			return &CycleError{Cycle: cycleFrom(stack, modules[i].ID)}
		}

		state[i] = visiting
		stack = append(stack, modules[i].ID)

		if !IsTemplate(modules[i].ID) {
			for _, dep := range o.extractor.Extract(modules[i].Content) {
				j, ok := index[dep]
				if !ok || j == i {
					continue
				}
				if err := visit(j); err != nil {
					return err
				}
			}
		}

		stack = stack[:len(stack)-1]
		state[i] = done
		out = append(out, modules[i])
		return nil
	}

	for i := range modules {
		if err := visit(i); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func cycleFrom(stack []string, id string) []string {
	for i, s := range stack {
		if s == id {
			cycle := append([]string{}, stack[i:]...)
			return append(cycle, id)
		}
	}
	return []string{id, id}
}
