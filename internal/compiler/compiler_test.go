package compiler_test

import (
	"testing"

	"github.com/aretw0/pitch/internal/compiler"
	"github.com/aretw0/pitch/internal/testutils"
	"github.com/aretw0/pitch/pkg/domain"
	"github.com/aretw0/pitch/pkg/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const house = `
locations:
  room:
    enter:
      - You wake up in a small room.
      - say: There is a door.
        delay: 5m
    actions:
      look: A bed and a door.
      open door:
        - say: It creaks.
        - goto: hall
  hall:
    description: A long hall.
    actions:
      back:
        - goto: room
      help: Try going back.
`

func compile(t *testing.T, src string) *graph.Graph {
	t.Helper()
	return testutils.CompileGraph(t, src)
}

func TestParse_PreservesOrder(t *testing.T) {
	script, err := compiler.NewParser().Parse([]byte(house))
	require.NoError(t, err)

	require.Len(t, script.Locations, 2)
	room, hall := script.Locations[0], script.Locations[1]
	assert.Equal(t, "room", room.Tag)
	assert.Equal(t, "hall", hall.Tag)

	assert.Equal(t, []domain.Effect{
		domain.Say{Text: "You wake up in a small room."},
		domain.Say{Text: "There is a door.", Delay: "5m"},
	}, room.Enter)

	require.Len(t, room.Actions, 2)
	assert.Equal(t, "look", room.Actions[0].Tag)
	assert.Equal(t, "open door", room.Actions[1].Tag)
	assert.Equal(t, []domain.Effect{
		domain.Say{Text: "It creaks."},
		domain.Go{Target: "hall"},
	}, room.Actions[1].Effects)

	// "description" is accepted as the legacy name of enter.
	assert.Equal(t, []domain.Effect{domain.Say{Text: "A long hall."}}, hall.Enter)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"empty document", ``},
		{"not a mapping", `- a`},
		{"missing locations", `other: 1`},
		{"locations not a mapping", `locations: [a, b]`},
		{"unknown location key", "locations:\n  room:\n    enter: Hi.\n    exits: north\n"},
		{"say and goto", "locations:\n  room:\n    enter: Hi.\n    actions:\n      x:\n        - say: a\n          goto: room\n"},
		{"unknown effect key", "locations:\n  room:\n    enter: Hi.\n    actions:\n      x:\n        - sya: a\n"},
		{"empty goto", "locations:\n  room:\n    enter: Hi.\n    actions:\n      x:\n        - goto: \"\"\n"},
		{"bad yaml", "locations: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compiler.NewParser().Parse([]byte(tt.src))
			require.Error(t, err)
			assert.True(t, compiler.IsSpecError(err), "got %v", err)
		})
	}
}

func TestCompile_NodeNames(t *testing.T) {
	g := compile(t, house)

	assert.Equal(t, "room_enter_2", g.StartName())

	var names []string
	for _, n := range g.Nodes() {
		names = append(names, n.Name())
	}
	assert.Equal(t, []string{
		"room_enter_2", "room_enter_1", "room_choice",
		"room_look_1", "room_open door_2", "room_open door_1", "room_help_1",
		"hall_enter_1", "hall_choice",
		"hall_back_1", "hall_help_1",
		"help",
	}, names)

	head, _ := g.Get("room_enter_2")
	assert.Equal(t, []string{"room_enter_1"}, head.Edges())
	last, _ := g.Get("room_enter_1")
	assert.Equal(t, []string{"room_choice"}, last.Edges())

	// Go targets resolve to the head of the destination's enter chain.
	move, _ := g.Get("room_open door_1")
	assert.Equal(t, []string{"hall_enter_1"}, move.Edges())
	back, _ := g.Get("hall_back_1")
	assert.Equal(t, []string{"room_enter_2"}, back.Edges())

	// Every location node knows the choice node it waits at.
	for name, want := range map[string]string{
		"room_enter_2":     "room_choice",
		"room_open door_1": "room_choice",
		"hall_back_1":      "hall_choice",
	} {
		home, ok := g.Home(name)
		assert.True(t, ok, name)
		assert.Equal(t, want, home, name)
	}
	_, ok := g.Home(domain.HelpNodeName)
	assert.False(t, ok)
}

func TestCompile_HelpDefault(t *testing.T) {
	g := compile(t, house)

	n, ok := g.Get("room_choice")
	require.True(t, ok)
	choice := n.(*graph.ChoiceNode)
	assert.Equal(t, []string{"look", "open door", "help"}, choice.Keywords())

	help, _ := g.Get("room_help_1")
	assert.Equal(t, []string{domain.HelpNodeName}, help.Edges())

	// An authored help action replaces the default one.
	custom, _ := g.Get("hall_help_1")
	res := custom.Handle(nil, "")
	assert.Equal(t, []string{"Try going back."}, res.Says)
	assert.Equal(t, domain.GetMessage{Target: "hall_choice"}, res.Transition)
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name   string
		script *domain.Script
	}{
		{"nil", nil},
		{"no locations", &domain.Script{}},
		{"empty tag", &domain.Script{Locations: []domain.Location{
			{Enter: []domain.Effect{domain.Say{Text: "Hi."}}},
		}}},
		{"reserved tag", &domain.Script{Locations: []domain.Location{
			{Tag: "help", Enter: []domain.Effect{domain.Say{Text: "Hi."}}},
		}}},
		{"empty enter", &domain.Script{Locations: []domain.Location{{Tag: "room"}}}},
		{"goto in enter", &domain.Script{Locations: []domain.Location{
			{Tag: "room", Enter: []domain.Effect{domain.Go{Target: "room"}}},
		}}},
		{"duplicate location", &domain.Script{Locations: []domain.Location{
			{Tag: "room", Enter: []domain.Effect{domain.Say{Text: "Hi."}}},
			{Tag: "room", Enter: []domain.Effect{domain.Say{Text: "Again."}}},
		}}},
		{"dangling goto", &domain.Script{Locations: []domain.Location{
			{Tag: "room", Enter: []domain.Effect{domain.Say{Text: "Hi."}}, Actions: []domain.Action{
				{Tag: "leave", Effects: []domain.Effect{domain.Go{Target: "garden"}}},
			}},
		}}},
		{"duplicate keyword", &domain.Script{Locations: []domain.Location{
			{Tag: "room", Enter: []domain.Effect{domain.Say{Text: "Hi."}}, Actions: []domain.Action{
				{Tag: "look", Effects: []domain.Effect{domain.Say{Text: "a"}}},
				{Tag: " LOOK", Effects: []domain.Effect{domain.Say{Text: "b"}}},
			}},
		}}},
		{"empty chain", &domain.Script{Locations: []domain.Location{
			{Tag: "room", Enter: []domain.Effect{domain.Say{Text: "Hi."}}, Actions: []domain.Action{
				{Tag: "look"},
			}},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compiler.New().Compile(tt.script)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrInvalidSpec)
		})
	}
}

func TestCompile_GotoHelp(t *testing.T) {
	g := compile(t, "locations:\n  room:\n    enter: Hi.\n    actions:\n      lost:\n        - goto: help\n")
	n, ok := g.Get("room_lost_1")
	require.True(t, ok)
	assert.Equal(t, []string{domain.HelpNodeName}, n.Edges())
}

func TestCompile_InvalidDelayIsNotFatal(t *testing.T) {
	g := compile(t, "locations:\n  room:\n    enter:\n      - say: Hi.\n        delay: soon\n")
	n, _ := g.Get("room_enter_1")
	res := n.Handle(nil, "")
	// An unusable delay never gates: the node suspends for input.
	assert.Equal(t, domain.GetMessage{Target: "room_choice"}, res.Transition)
	assert.Equal(t, domain.Delay("soon"), res.Delay)
}
