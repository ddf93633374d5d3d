/*
Package dsl builds pitch scripts in Go instead of YAML.

It produces the same domain.Script the YAML parser does, so a script can be
generated, composed in tests, or checked by the compiler with IDE type checking.

Example usage:

	b := dsl.New()

	b.Location("room").
		Say("You wake up in a small room.").
		SayAfter("There is a door.", "5m")

	b.Location("room").Action("open door").
		Say("It creaks.").
		Goto("hall")

	b.Location("hall").Say("A long hall.")
	b.Location("hall").Action("back").Goto("room")

	script, err := b.Build()
	// ... pass script to pitch.NewFromModel(...)
*/
package dsl
