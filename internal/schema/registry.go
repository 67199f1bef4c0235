package schema

import "fmt"

// Registry stores the symbols and strategies the engine tracks. Bars for
// unregistered symbols and trades for unregistered strategies are rejected
// at the boundary.
type Registry struct {
	symbols     []string
	strategies  []string
	symbolSet   map[string]struct{}
	strategySet map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		symbolSet:   make(map[string]struct{}),
		strategySet: make(map[string]struct{}),
	}
}

// AddSymbol registers a tracked symbol.
func (r *Registry) AddSymbol(name string) error {
	if name == "" {
		return fmt.Errorf("symbol name is empty")
	}
	if _, ok := r.symbolSet[name]; ok {
		return fmt.Errorf("symbol already exists: %s", name)
	}
	r.symbols = append(r.symbols, name)
	r.symbolSet[name] = struct{}{}
	return nil
}

// AddStrategy registers a known strategy.
func (r *Registry) AddStrategy(name string) error {
	if name == "" {
		return fmt.Errorf("strategy name is empty")
	}
	if _, ok := r.strategySet[name]; ok {
		return fmt.Errorf("strategy already exists: %s", name)
	}
	r.strategies = append(r.strategies, name)
	r.strategySet[name] = struct{}{}
	return nil
}

// HasSymbol reports whether the symbol is tracked.
func (r *Registry) HasSymbol(name string) bool {
	_, ok := r.symbolSet[name]
	return ok
}

// HasStrategy reports whether the strategy is known.
func (r *Registry) HasStrategy(name string) bool {
	_, ok := r.strategySet[name]
	return ok
}

// Symbols returns the tracked symbols in registration order.
func (r *Registry) Symbols() []string {
	return r.symbols
}

// Strategies returns the known strategies in registration order.
func (r *Registry) Strategies() []string {
	return r.strategies
}
