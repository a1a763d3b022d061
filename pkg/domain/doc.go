/*
Package domain contains the core domain models for the Arbor server.

It defines the fundamental entities of the messaging protocol, such as Messages,
Sessions metadata, Tasks, and Binding Snapshots. This package is kept pure and free
of external dependencies like I/O or persistence, following Hexagonal Architecture
principles.

# Key Entities

  - Message: An op-tagged request or response exchanged over a transport.
  - Task: One queued unit of work (one evaluation request) for a session.
  - Snapshot: The dynamic evaluation context threaded between tasks of a session.
  - Form: A single top-level unit of code with source provenance.
*/
package domain
