package compiler

import (
	"errors"
	"fmt"
	"os"

	"github.com/aretw0/pitch/internal/dto"
	"github.com/aretw0/pitch/pkg/domain"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// SpecError describes why a script was rejected.
// It matches domain.ErrInvalidSpec with errors.Is.
type SpecError struct {
	Location string
	Action   string
	Err      error
}

func (e *SpecError) Error() string {
	switch {
	case e.Location != "" && e.Action != "":
		return fmt.Sprintf("%v: location %q, action %q: %v", domain.ErrInvalidSpec, e.Location, e.Action, e.Err)
	case e.Location != "":
		return fmt.Sprintf("%v: location %q: %v", domain.ErrInvalidSpec, e.Location, e.Err)
	default:
		return fmt.Sprintf("%v: %v", domain.ErrInvalidSpec, e.Err)
	}
}

func (e *SpecError) Unwrap() []error {
	return []error{domain.ErrInvalidSpec, e.Err}
}

func specErr(location, action string, format string, args ...any) error {
	return &SpecError{Location: location, Action: action, Err: fmt.Errorf(format, args...)}
}

// Parser converts script documents into the script model.
type Parser struct{}

// NewParser creates a new parser instance.
func NewParser() *Parser {
	return &Parser{}
}

// ParseFile reads and parses a script document from disk.
func (p *Parser) ParseFile(path string) (*domain.Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	return p.Parse(data)
}

// Parse decodes a YAML script. Location and action order is preserved,
// which is why the document is walked as a yaml.Node instead of a map.
func (p *Parser) Parse(data []byte) (*domain.Script, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &SpecError{Err: err}
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, specErr("", "", "document is empty")
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, specErr("", "", "top level must be a mapping")
	}

	locations := lookup(root, "locations")
	if locations == nil || isNull(locations) {
		return nil, specErr("", "", "missing locations")
	}
	if locations.Kind != yaml.MappingNode {
		return nil, specErr("", "", "locations must be a mapping of tag to location")
	}

	script := &domain.Script{}
	for i := 0; i+1 < len(locations.Content); i += 2 {
		tag := locations.Content[i].Value
		loc, err := p.parseLocation(tag, locations.Content[i+1])
		if err != nil {
			return nil, err
		}
		script.Locations = append(script.Locations, loc)
	}

	return script, nil
}

func (p *Parser) parseLocation(tag string, node *yaml.Node) (domain.Location, error) {
	loc := domain.Location{Tag: tag}
	if node.Kind != yaml.MappingNode {
		return loc, specErr(tag, "", "location must be a mapping")
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i].Value, node.Content[i+1]
		switch key {
		case "enter", "description":
			if loc.Enter != nil {
				return loc, specErr(tag, "", "enter is defined twice")
			}
			effects, err := parseEffects(value)
			if err != nil {
				return loc, &SpecError{Location: tag, Err: fmt.Errorf("enter: %w", err)}
			}
			loc.Enter = effects
		case "actions":
			actions, err := parseActions(tag, value)
			if err != nil {
				return loc, err
			}
			loc.Actions = actions
		default:
			return loc, specErr(tag, "", "unknown key %q", key)
		}
	}

	return loc, nil
}

func parseActions(tag string, node *yaml.Node) ([]domain.Action, error) {
	if isNull(node) {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, specErr(tag, "", "actions must be a mapping of keyword to effects")
	}

	actions := make([]domain.Action, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		keyword := node.Content[i].Value
		effects, err := parseEffects(node.Content[i+1])
		if err != nil {
			return nil, &SpecError{Location: tag, Action: keyword, Err: err}
		}
		actions = append(actions, domain.Action{Tag: keyword, Effects: effects})
	}
	return actions, nil
}

// parseEffects accepts a bare string (one Say) or a list whose items are
// strings or {say, goto, delay} objects.
func parseEffects(node *yaml.Node) ([]domain.Effect, error) {
	switch {
	case isNull(node):
		return []domain.Effect{}, nil
	case node.Kind == yaml.ScalarNode:
		return []domain.Effect{domain.Say{Text: node.Value}}, nil
	case node.Kind == yaml.MappingNode:
		effect, err := parseEffectObject(node)
		if err != nil {
			return nil, err
		}
		return []domain.Effect{effect}, nil
	case node.Kind != yaml.SequenceNode:
		return nil, errors.New("effects must be a string or a list")
	}

	effects := make([]domain.Effect, 0, len(node.Content))
	for i, item := range node.Content {
		switch item.Kind {
		case yaml.ScalarNode:
			effects = append(effects, domain.Say{Text: item.Value})
		case yaml.MappingNode:
			effect, err := parseEffectObject(item)
			if err != nil {
				return nil, fmt.Errorf("effect %d: %w", i+1, err)
			}
			effects = append(effects, effect)
		default:
			return nil, fmt.Errorf("effect %d: must be a string or an object", i+1)
		}
	}
	return effects, nil
}

func parseEffectObject(node *yaml.Node) (domain.Effect, error) {
	var raw map[string]any
	if err := node.Decode(&raw); err != nil {
		return nil, err
	}

	var meta dto.EffectMetadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &meta,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, err
	}

	return meta.ToDomain()
}

func lookup(mapping *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}

func isNull(node *yaml.Node) bool {
	return node.Kind == yaml.ScalarNode && node.Tag == "!!null"
}
