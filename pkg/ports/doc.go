/*
Package ports defines the driven ports (interfaces) of the pitch engine.

These interfaces decouple the dispatcher from storage and coordination
backends, so the same engine runs against memory, files, SQL or Redis.

# Key Interfaces

  - VisitStore: persists users, visits and messages.
  - DistributedLocker: serializes runs for one identity across replicas.
*/
package ports
