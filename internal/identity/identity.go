// Package identity tracks which users currently have an open session and
// notifies subscribers when a user signs in or out.
package identity

import (
	"sort"
	"sync"
)

// State is delivered to subscribers on every auth change.
type State struct {
	UserID   string
	SignedIn bool
}

// Provider counts sessions per user. A user is signed in while at least one
// session (a bot chat, an open WebSocket) is alive.
type Provider struct {
	mu       sync.Mutex
	sessions map[string]int
	subs     map[int]func(State)
	nextSub  int
}

func NewProvider() *Provider {
	return &Provider{
		sessions: make(map[string]int),
		subs:     make(map[int]func(State)),
	}
}

// OnAuthStateChanged registers fn and returns a function that removes it.
// fn is called synchronously, outside the provider lock.
func (p *Provider) OnAuthStateChanged(fn func(State)) (unsubscribe func()) {
	p.mu.Lock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}
}

// SignIn opens a session for the user. Only the first session notifies.
func (p *Provider) SignIn(userID string) {
	if userID == "" {
		return
	}
	p.mu.Lock()
	p.sessions[userID]++
	first := p.sessions[userID] == 1
	subs := p.snapshot()
	p.mu.Unlock()

	if first {
		notify(subs, State{UserID: userID, SignedIn: true})
	}
}

// SignOut closes one session. Closing the last one notifies.
func (p *Provider) SignOut(userID string) {
	p.mu.Lock()
	n, ok := p.sessions[userID]
	if !ok {
		p.mu.Unlock()
		return
	}
	last := n <= 1
	if last {
		delete(p.sessions, userID)
	} else {
		p.sessions[userID] = n - 1
	}
	subs := p.snapshot()
	p.mu.Unlock()

	if last {
		notify(subs, State{UserID: userID, SignedIn: false})
	}
}

// SignedIn reports whether the user has any open session.
func (p *Provider) SignedIn(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessions[userID] > 0
}

// Current lists signed-in users, sorted.
func (p *Provider) Current() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.sessions))
	for id := range p.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (p *Provider) snapshot() []func(State) {
	keys := make([]int, 0, len(p.subs))
	for k := range p.subs {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	out := make([]func(State), 0, len(keys))
	for _, k := range keys {
		out = append(out, p.subs[k])
	}
	return out
}

func notify(subs []func(State), s State) {
	for _, fn := range subs {
		fn(s)
	}
}
