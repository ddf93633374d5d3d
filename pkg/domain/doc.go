/*
Package domain contains the core models of the pitch dialogue engine.

It defines the script model, the transitions a node can return and the
persisted session records. This package is kept pure and free of I/O,
following Hexagonal Architecture principles.

# Key Entities

  - Script, Location, Action: the authored dialogue.
  - Effect: a Say or a Go, each with an optional Delay.
  - Transition: GetMessage, GoTo or GoBack.
  - Visit: one persisted step of dialogue for a user.
  - Session: the outbound messages produced by one run.
*/
package domain
