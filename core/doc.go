// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

/*
Package core holds the concepts and pure logic of the buffer cache viewer:
relations as described by the database catalog, and the events sampled by
the tracer.

Packages under core must not start goroutines, talk to the database or the
tracer, or know about HTTP. They may import other packages under core, but
nothing else from this module.
*/
package core
