/*
Package pitch is an engine for interactive fiction played over text messages.

A script declares locations. Each location has enter narration and a set of
actions keyed by the word a user must type. The engine compiles the script
once into a graph of nodes, then handles every inbound message by resuming
the user at the node recorded in their latest visit, following automatic
steps and replying with everything that was said until the graph waits for
input again.

# Concept

Progress is persisted as an append-only log of visits, so the engine itself
is stateless between messages and any replica can serve any user. A step may
carry a delay; the user then sleeps until a periodic wake sweep runs the step,
exactly once.

# Usage

	package main

	import (
		"context"
		"fmt"
		"log"

		"github.com/aretw0/pitch"
	)

	func main() {
		eng, err := pitch.New("./story.yaml")
		if err != nil {
			log.Fatal(err)
		}

		ctx := context.Background()
		session, err := eng.Run(ctx, "+15551230000", "")
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(session.Reply())

		session, err = eng.Run(ctx, "+15551230000", "open")
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(session.Reply())
	}

A script looks like:

	locations:
	  room:
	    enter: You see a door.
	    actions:
	      open:
	        - say: It creaks open.
	        - goto: room
	      wait:
	        - say: OK, waiting...
	          delay: 1h
	        - say: Time passes.
*/
package pitch
