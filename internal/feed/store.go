// Package feed owns the in-memory feed: the ordered posts visible to the
// current viewer and their comments.
package feed

import (
	"context"
	"log/slog"
	"sync"

	"github.com/bryan-buckman/picstream/internal/model"
	"github.com/bryan-buckman/picstream/internal/notice"
)

// Fetcher retrieves the full feed. An empty token asks for the anonymous view.
type Fetcher interface {
	Feed(ctx context.Context, token string) ([]model.Post, error)
}

// Store holds the feed. Reload replaces it wholesale; the patch methods
// edit it in place and are no-ops for posts or comments it no longer holds.
type Store struct {
	fetcher Fetcher
	notify  notice.Notifier
	logger  *slog.Logger

	mu        sync.RWMutex
	posts     []model.Post
	started   uint64 // generation of the newest reload issued
	installed uint64 // generation of the reload whose result is held
	inFlight  int
}

// NewStore creates an empty store.
func NewStore(fetcher Fetcher, notify notice.Notifier, logger *slog.Logger) *Store {
	if notify == nil {
		notify = notice.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{fetcher: fetcher, notify: notify, logger: logger}
}

// Reload fetches the whole feed and replaces the local collection.
// On failure the previous collection is kept. A response that arrives after
// a newer reload's response has been installed is dropped.
func (s *Store) Reload(ctx context.Context, token string) error {
	s.mu.Lock()
	s.started++
	gen := s.started
	s.inFlight++
	s.mu.Unlock()

	posts, err := s.fetcher.Feed(ctx, token)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight--
	if err != nil {
		s.logger.Error("feed reload failed", "generation", gen, "error", err)
		notice.Error(s.notify, "Could not load the feed")
		return err
	}
	if gen < s.installed {
		s.logger.Debug("dropping stale feed reload", "generation", gen, "installed", s.installed)
		return nil
	}
	s.posts = posts
	s.installed = gen
	s.logger.Debug("feed reloaded", "generation", gen, "posts", len(posts))
	return nil
}

// Loading reports whether a reload is in flight.
func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inFlight > 0
}

// Generation returns the generation of the installed feed; zero before the
// first successful reload.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.installed
}

// Posts returns a copy of the feed in server order.
func (s *Store) Posts() []model.Post {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Post, len(s.posts))
	for i, p := range s.posts {
		out[i] = p.Clone()
	}
	return out
}

// Post returns a copy of the post with the given id.
func (s *Store) Post(postID string) (model.Post, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.index(postID); i >= 0 {
		return s.posts[i].Clone(), true
	}
	return model.Post{}, false
}

// ApplyLikeToggle sets the authoritative like count and flips the viewer's
// like flag. It reports whether the post was present.
func (s *Store) ApplyLikeToggle(postID string, likeCount int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(postID)
	if i < 0 {
		return false
	}
	if likeCount < 0 {
		likeCount = 0
	}
	s.posts[i].LikeCount = likeCount
	s.posts[i].ViewerHasLiked = !s.posts[i].ViewerHasLiked
	return true
}

// AppendComment adds c to the end of the post's comments.
func (s *Store) AppendComment(postID string, c model.Comment) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(postID)
	if i < 0 {
		return false
	}
	// Copy so snapshots handed out earlier never observe the append.
	comments := make([]model.Comment, 0, len(s.posts[i].Comments)+1)
	comments = append(comments, s.posts[i].Comments...)
	s.posts[i].Comments = append(comments, c)
	return true
}

// RemoveComment removes a comment from one post only.
func (s *Store) RemoveComment(postID, commentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(postID)
	if i < 0 {
		return false
	}
	kept := make([]model.Comment, 0, len(s.posts[i].Comments))
	removed := false
	for _, c := range s.posts[i].Comments {
		if c.ID == commentID {
			removed = true
			continue
		}
		kept = append(kept, c)
	}
	s.posts[i].Comments = kept
	return removed
}

// RemovePost drops a post from the feed.
func (s *Store) RemovePost(postID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(postID)
	if i < 0 {
		return false
	}
	posts := make([]model.Post, 0, len(s.posts)-1)
	posts = append(posts, s.posts[:i]...)
	s.posts = append(posts, s.posts[i+1:]...)
	return true
}

// index must be called with mu held.
func (s *Store) index(postID string) int {
	for i := range s.posts {
		if s.posts[i].ID == postID {
			return i
		}
	}
	return -1
}
