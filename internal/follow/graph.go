// Package follow exposes the follow graph: which identities observe which
// reporters. The broadcast path only reads it; edge maintenance is the
// observer-facing CRUD surface.
package follow

import (
	"context"
	"errors"
	"sync"
)

// Graph answers "who follows this identity" for the broadcast path.
type Graph interface {
	FollowersOf(ctx context.Context, identityID int64) ([]int64, error)
}

var (
	ErrSelfFollow       = errors.New("follow: cannot follow yourself")
	ErrAlreadyFollowing = errors.New("follow: already following this user")
	ErrNotFollowing     = errors.New("follow: not following this user")
)

// InMemoryGraph is a map-backed Graph. Edges are keyed by the followed
// identity so follower lookup is a single map read.
type InMemoryGraph struct {
	mu        sync.RWMutex
	followers map[int64]map[int64]struct{}
}

func NewInMemoryGraph() *InMemoryGraph {
	return &InMemoryGraph{followers: make(map[int64]map[int64]struct{})}
}

var _ Graph = (*InMemoryGraph)(nil)

// Follow records that follower observes followed.
func (g *InMemoryGraph) Follow(followerID, followedID int64) error {
	if followerID == followedID {
		return ErrSelfFollow
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	set, ok := g.followers[followedID]
	if !ok {
		set = make(map[int64]struct{})
		g.followers[followedID] = set
	}
	if _, exists := set[followerID]; exists {
		return ErrAlreadyFollowing
	}
	set[followerID] = struct{}{}
	return nil
}

// Unfollow removes the edge recorded by Follow.
func (g *InMemoryGraph) Unfollow(followerID, followedID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	set, ok := g.followers[followedID]
	if !ok {
		return ErrNotFollowing
	}
	if _, exists := set[followerID]; !exists {
		return ErrNotFollowing
	}
	delete(set, followerID)
	if len(set) == 0 {
		delete(g.followers, followedID)
	}
	return nil
}

func (g *InMemoryGraph) FollowersOf(_ context.Context, identityID int64) ([]int64, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	set := g.followers[identityID]
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids, nil
}
