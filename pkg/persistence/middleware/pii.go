package middleware

import (
	"context"
	"regexp"

	"github.com/aretw0/pitch/pkg/domain"
	"github.com/aretw0/pitch/pkg/ports"
)

const mask = "***"

type piiMiddleware struct {
	ports.VisitStore
	patterns []*regexp.Regexp
}

// NewPIIMiddleware creates a middleware that masks what the patterns match
// before it reaches the store: substrings of message bodies, and values of
// state keys. The caller's copies are left untouched, so replies still
// carry the original text.
func NewPIIMiddleware(patternStrings []string) Middleware {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		patterns[i] = regexp.MustCompile(p)
	}
	return func(next ports.VisitStore) ports.VisitStore {
		return &piiMiddleware{VisitStore: next, patterns: patterns}
	}
}

func (m *piiMiddleware) AppendMessage(ctx context.Context, msg *domain.Message) error {
	masked := *msg
	for _, p := range m.patterns {
		masked.Body = p.ReplaceAllString(masked.Body, mask)
	}
	if err := m.VisitStore.AppendMessage(ctx, &masked); err != nil {
		return err
	}
	msg.ID = masked.ID
	msg.CreatedAt = masked.CreatedAt
	return nil
}

func (m *piiMiddleware) CreateVisit(ctx context.Context, visit *domain.Visit) error {
	masked := m.maskVisit(visit)
	if err := m.VisitStore.CreateVisit(ctx, masked); err != nil {
		return err
	}
	copyStamps(visit, masked)
	return nil
}

func (m *piiMiddleware) UpdateVisit(ctx context.Context, visit *domain.Visit) error {
	masked := m.maskVisit(visit)
	if err := m.VisitStore.UpdateVisit(ctx, masked); err != nil {
		return err
	}
	copyStamps(visit, masked)
	return nil
}

func (m *piiMiddleware) maskVisit(visit *domain.Visit) *domain.Visit {
	cloned := *visit
	if visit.State != nil {
		state := deepCopyMap(visit.State)
		maskMap(state, m.patterns)
		cloned.State = state
	}
	return &cloned
}

// Helpers

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		// Handle nested maps
		if subMap, ok := v.(map[string]any); ok {
			out[k] = deepCopyMap(subMap)
		} else {
			out[k] = v // shallow copy of value
		}
	}
	return out
}

func maskMap(m map[string]any, patterns []*regexp.Regexp) {
	for k, v := range m {
		// Check key against patterns
		for _, p := range patterns {
			if p.MatchString(k) {
				m[k] = mask
				break
			}
		}

		// Recurse if map
		if subMap, ok := v.(map[string]any); ok {
			maskMap(subMap, patterns)
		}
	}
}
