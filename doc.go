/*
Package arbor is a message-oriented evaluation server. It accepts structured
request messages over a transport, routes each through a composable pipeline
of handlers, and executes evaluation requests under strict per-session
ordering with cooperative cancellation.

# Concept

Arbor treats every request as an op-tagged Message. A Middleware pipeline,
composed from handler descriptors declaring capability dependencies, routes
each message to the handler owning its op. Evaluation requests become Tasks
on a per-session lock-free FIFO queue backed by a shared worker pool: one
task per session runs at a time, sessions run concurrently, and an in-flight
task can be interrupted through the session's interrupt slot.

# Key Features

  - Per-session serialization: submission order equals execution order, with
    no lock held across task execution.
  - Interrupt protocol: unambiguous idle / id-mismatch / interrupted
    outcomes with deterministic message ordering.
  - Hot-swappable pipeline: the composite handler is replaced atomically;
    in-flight dispatches finish on their snapshot.
  - Pluggable evaluators: the default runtime is Lua (gopher-lua), selected
    per session or per message.

# Usage

	package main

	import (
		"context"
		"log"

		"github.com/aretw0/arbor"
		"github.com/aretw0/arbor/pkg/adapters/tcp"
	)

	func main() {
		srv, err := arbor.New()
		if err != nil {
			log.Fatal(err)
		}

		ln := tcp.NewServer(":7888", srv, srv.Pool())
		if err := ln.Serve(context.Background()); err != nil {
			log.Fatal(err)
		}
	}
*/
package arbor
