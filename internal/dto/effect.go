package dto

import (
	"fmt"

	"github.com/aretw0/pitch/pkg/domain"
)

// EffectMetadata is the object form of an effect in a script document.
// It uses "mapstructure" tags to match the YAML keys (say, goto, delay).
// Pointers distinguish an absent key from an empty value.
type EffectMetadata struct {
	Say   *string `json:"say,omitempty" mapstructure:"say"`
	Goto  *string `json:"goto,omitempty" mapstructure:"goto"`
	Delay string  `json:"delay,omitempty" mapstructure:"delay"`
}

// ToDomain converts the metadata into a Say or a Go.
// Exactly one of say and goto must be set.
func (m EffectMetadata) ToDomain() (domain.Effect, error) {
	switch {
	case m.Say != nil && m.Goto != nil:
		return nil, fmt.Errorf("effect sets both say and goto")
	case m.Say != nil:
		return domain.Say{Text: *m.Say, Delay: domain.Delay(m.Delay)}, nil
	case m.Goto != nil:
		if *m.Goto == "" {
			return nil, fmt.Errorf("goto target is empty")
		}
		return domain.Go{Target: *m.Goto, Delay: domain.Delay(m.Delay)}, nil
	default:
		return nil, fmt.Errorf("effect needs one of say or goto")
	}
}
