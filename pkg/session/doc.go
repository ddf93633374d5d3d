/*
Package session serializes per-user work.

A Manager holds a reference-counted mutex per identity and, when configured
with a ports.DistributedLocker, a lease shared across replicas. The runtime
dispatcher runs every inbound message and every wake-up of the same user
inside Manager.WithLock.
*/
package session
