package dsl

import (
	"fmt"

	"github.com/aretw0/pitch/internal/compiler"
	"github.com/aretw0/pitch/pkg/domain"
)

// Builder manages the script construction.
type Builder struct {
	locations []*LocationBuilder
	index     map[string]*LocationBuilder
}

// New creates a new script builder.
func New() *Builder {
	return &Builder{
		index: make(map[string]*LocationBuilder),
	}
}

// Location returns the builder of a location, adding it on first use.
// Locations keep the order they were first mentioned in; the first one is
// where new users start.
func (b *Builder) Location(tag string) *LocationBuilder {
	if lb, ok := b.index[tag]; ok {
		return lb
	}
	lb := &LocationBuilder{
		tag:     tag,
		actions: make(map[string]*ActionBuilder),
	}
	b.index[tag] = lb
	b.locations = append(b.locations, lb)
	return lb
}

// Script returns the model without compiling it.
func (b *Builder) Script() *domain.Script {
	script := &domain.Script{Locations: make([]domain.Location, 0, len(b.locations))}
	for _, lb := range b.locations {
		script.Locations = append(script.Locations, lb.Build())
	}
	return script
}

// Build returns the script after checking that it compiles.
func (b *Builder) Build() (*domain.Script, error) {
	script := b.Script()
	if _, err := compiler.New().Compile(script); err != nil {
		return nil, fmt.Errorf("failed to build script: %w", err)
	}
	return script, nil
}
