package api

import (
	"context"
	"testing"

	"today-planner/internal/identity"
)

func TestAttachAfterShutdownKeepsOtherSessions(t *testing.T) {
	provider := identity.NewProvider()
	hub := NewHub(provider)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	hub.Run(ctx)

	provider.SignIn("u1")
	c := hub.Attach(nil, "u1")
	if _, open := <-c.send; open {
		t.Fatal("send channel should be closed after shutdown")
	}
	hub.detach(c)
	if !provider.SignedIn("u1") {
		t.Fatal("late connection signed out the user's other session")
	}
}

func TestDetachSignsOutOnce(t *testing.T) {
	provider := identity.NewProvider()
	hub := NewHub(provider)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	c := hub.Attach(nil, "u1")
	if !provider.SignedIn("u1") {
		t.Fatal("attach should sign the user in")
	}
	hub.detach(c)
	hub.detach(c)
	if provider.SignedIn("u1") {
		t.Fatal("detach should sign the user out")
	}

	provider.SignIn("u1")
	c = hub.Attach(nil, "u1")
	hub.detach(c)
	hub.detach(c)
	if !provider.SignedIn("u1") {
		t.Fatal("repeated detach removed a session it did not own")
	}
}
