/*
Package handlers implements the built-in op handlers composed into the
default pipeline: eval, interrupt, the session lifecycle ops (clone, close,
ls-sessions), describe, and load-file.

Each handler exposes a middleware.Descriptor declaring the ops it owns and
its capability dependencies; the server composes them (plus any host-supplied
descriptors) into the active pipeline.
*/
package handlers
