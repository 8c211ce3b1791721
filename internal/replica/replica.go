// Package replica maintains the denormalized local caches of feed data: the
// feed list, per-author post lists, the currently viewed post, per-post
// comment threads, and the notification inbox. Every view holds independent
// copies of entities; mutations flow through one reconciliation function so
// all views converge without any view update depending on another.
package replica

import (
	"log/slog"
	"sync"

	"kindred/internal/models"
	"kindred/internal/observability"
)

// Well-known view names.
const (
	ViewFeed        = "feed"
	ViewCurrentPost = "currentPost"
	ViewInbox       = "inbox"
)

// ViewAuthorPosts names the post list view of a single author.
func ViewAuthorPosts(authorID string) string {
	return "authorPosts:" + authorID
}

// ViewComments names the comment thread view of a single post.
func ViewComments(postID string) string {
	return "comments:" + postID
}

// view is one named cache of entity copies with a stable newest-first order.
type view struct {
	name       string
	entities   map[string]models.Entity
	order      []string
	generation uint64
}

func (v *view) remove(id string) {
	if _, ok := v.entities[id]; !ok {
		return
	}
	delete(v.entities, id)
	for i, oid := range v.order {
		if oid == id {
			v.order = append(v.order[:i], v.order[i+1:]...)
			break
		}
	}
}

// Set is the collection of replica views. It is an explicit, injectable
// structure; mutations come only from the interaction coordinator and from
// page-fetch reconciliation. A single mutex serializes access because
// store callbacks interleave with user-triggered calls.
type Set struct {
	mu    sync.Mutex
	views map[string]*view
	log   *slog.Logger
}

// NewSet creates an empty replica set.
func NewSet(log *slog.Logger) *Set {
	if log == nil {
		log = observability.Logger
	}
	return &Set{views: make(map[string]*view), log: log}
}

func (s *Set) ensure(name string) *view {
	v, ok := s.views[name]
	if !ok {
		v = &view{name: name, entities: make(map[string]models.Entity)}
		s.views[name] = v
	}
	return v
}

// Put inserts or replaces a single entity copy in the named view. Other
// views are never touched implicitly.
func (s *Set) Put(viewName string, e models.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(s.ensure(viewName), e)
}

// put inserts or refreshes one entity copy. A copy the view already holds
// at a newer version wins over the incoming one: a page fetched before a
// later commit carries pre-commit state and must not regress the view.
func (s *Set) put(v *view, e models.Entity) {
	id := e.GetID()
	held, exists := v.entities[id]
	if !exists {
		v.order = append(v.order, id)
	} else if held.GetVersion() > e.GetVersion() {
		return
	}
	v.entities[id] = e.Clone()
}

// Replace resets the named view to exactly the given entities, in order.
func (s *Set) Replace(viewName string, es []models.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.ensure(viewName)
	v.entities = make(map[string]models.Entity, len(es))
	v.order = v.order[:0]
	for _, e := range es {
		s.put(v, e)
	}
}

// Get returns a copy of the entity held by the named view, if present.
func (s *Set) Get(viewName, id string) (models.Entity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.views[viewName]
	if !ok {
		return nil, false
	}
	e, ok := v.entities[id]
	if !ok {
		return nil, false
	}
	return e.Clone(), true
}

// Lookup returns a copy of the entity from any view holding it.
func (s *Set) Lookup(id string) (models.Entity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.views {
		if e, ok := v.entities[id]; ok {
			return e.Clone(), true
		}
	}
	return nil, false
}

// List returns copies of the named view's entities in view order.
func (s *Set) List(viewName string) []models.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.views[viewName]
	if !ok {
		return nil
	}
	out := make([]models.Entity, 0, len(v.order))
	for _, id := range v.order {
		out = append(out, v.entities[id].Clone())
	}
	return out
}

// Drop discards the named view entirely (e.g. the screen unmounted).
func (s *Set) Drop(viewName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.views, viewName)
}

// Generation returns the current generation of the named view. Continuation
// pages capture it before suspending; Reconcile discards their results when
// the generation moved on, so a late response for an abandoned query never
// corrupts a newer one.
func (s *Set) Generation(viewName string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensure(viewName).generation
}

// BeginRefresh advances the named view's generation and returns it. Every
// fresh (first-page) fetch of a view starts a refresh, invalidating fetches
// still in flight for the previous one.
func (s *Set) BeginRefresh(viewName string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.ensure(viewName)
	v.generation++
	return v.generation
}

// Reconcile extends the view with fetched entities if gen is still current.
// It reports whether the result was applied.
func (s *Set) Reconcile(viewName string, gen uint64, es []models.Entity) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.ensure(viewName)
	if v.generation != gen {
		observability.StaleFetchesDiscarded.Inc()
		s.log.Debug("discarded stale page fetch", slog.String("view", viewName))
		return false
	}
	for _, e := range es {
		s.put(v, e)
	}
	return true
}

// RemovePost drops a post from every view and clears its comment thread in
// the same critical section, so no reader observes the post gone while its
// comments remain listable.
func (s *Set) RemovePost(postID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.views {
		v.remove(postID)
	}
	delete(s.views, ViewComments(postID))
}

// RemoveComment drops a comment from every view holding it.
func (s *Set) RemoveComment(commentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.views {
		v.remove(commentID)
	}
}
