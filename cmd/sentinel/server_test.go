package main

import (
	"log/slog"
	"testing"

	"github.com/bluesky-social/sentinel/safety/engine"
)

func testServer(t *testing.T) (*Server, *engine.TestFixture) {
	t.Helper()
	f := engine.EngineTestFixture(t)
	s := &Server{
		logger:  slog.Default(),
		engine:  f.Engine,
		store:   f.Store,
		reports: newReportCache(f.Store, nil),
	}
	s.echo = s.newAPI()
	return s, f
}
