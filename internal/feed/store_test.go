package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bryan-buckman/picstream/internal/model"
	"github.com/bryan-buckman/picstream/internal/notice"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFetcher struct {
	mu     sync.Mutex
	posts  []model.Post
	err    error
	tokens []string
}

func (f *stubFetcher) Feed(_ context.Context, token string) ([]model.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, token)
	if f.err != nil {
		return nil, f.err
	}
	out := make([]model.Post, len(f.posts))
	for i, p := range f.posts {
		out[i] = p.Clone()
	}
	return out, nil
}

func samplePosts() []model.Post {
	return []model.Post{
		{ID: "p1", AuthorEmail: "a@x.com", LikeCount: 2, Comments: []model.Comment{{ID: "c1", Content: "first"}}},
		{ID: "p2", AuthorEmail: "b@x.com", LikeCount: 0, ViewerHasLiked: false, Comments: []model.Comment{{ID: "c1", Content: "other post"}}},
	}
}

func loadedStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore(&stubFetcher{posts: samplePosts()}, nil, nil)
	require.NoError(t, s.Reload(context.Background(), "T"))
	return s
}

func TestReloadReplacesCollection(t *testing.T) {
	f := &stubFetcher{posts: samplePosts()}
	s := NewStore(f, nil, nil)
	require.NoError(t, s.Reload(context.Background(), ""))
	assert.Len(t, s.Posts(), 2)
	assert.Equal(t, uint64(1), s.Generation())

	f.posts = f.posts[:1]
	require.NoError(t, s.Reload(context.Background(), "T"))
	assert.Len(t, s.Posts(), 1)
	assert.Equal(t, []string{"", "T"}, f.tokens)
	assert.False(t, s.Loading())
}

func TestReloadFailureKeepsPosts(t *testing.T) {
	f := &stubFetcher{posts: samplePosts()}
	buf := notice.NewBuffer(0)
	s := NewStore(f, buf, nil)
	require.NoError(t, s.Reload(context.Background(), ""))

	f.err = errors.New("down")
	require.Error(t, s.Reload(context.Background(), ""))
	assert.Len(t, s.Posts(), 2)
	last, ok := buf.Last()
	require.True(t, ok)
	assert.Equal(t, model.NoticeError, last.Level)
}

func TestPatchesOnMissingPostAreNoOps(t *testing.T) {
	s := loadedStore(t)
	before := s.Posts()

	assert.False(t, s.ApplyLikeToggle("missing", 10))
	assert.False(t, s.AppendComment("missing", model.Comment{ID: "c9"}))
	assert.False(t, s.RemoveComment("missing", "c1"))
	assert.False(t, s.RemovePost("missing"))

	assert.Equal(t, before, s.Posts())
}

func TestApplyLikeToggleTwiceRestoresFlag(t *testing.T) {
	s := loadedStore(t)

	require.True(t, s.ApplyLikeToggle("p1", 3))
	p, _ := s.Post("p1")
	assert.True(t, p.ViewerHasLiked)
	assert.Equal(t, 3, p.LikeCount)

	require.True(t, s.ApplyLikeToggle("p1", 2))
	p, _ = s.Post("p1")
	assert.False(t, p.ViewerHasLiked)
	assert.Equal(t, 2, p.LikeCount)
}

func TestCommentAddThenRemove(t *testing.T) {
	s := loadedStore(t)
	before, _ := s.Post("p1")

	require.True(t, s.AppendComment("p1", model.Comment{ID: "c2", Content: "second"}))
	p, _ := s.Post("p1")
	require.Len(t, p.Comments, 2)
	assert.Equal(t, "c2", p.Comments[1].ID)

	require.True(t, s.RemoveComment("p1", "c2"))
	p, _ = s.Post("p1")
	assert.Len(t, p.Comments, len(before.Comments))
}

func TestRemoveCommentOnlyTouchesItsPost(t *testing.T) {
	s := loadedStore(t)
	require.True(t, s.RemoveComment("p1", "c1"))

	p1, _ := s.Post("p1")
	p2, _ := s.Post("p2")
	assert.Empty(t, p1.Comments)
	assert.Len(t, p2.Comments, 1)
}

func TestRemovePostKeepsOrder(t *testing.T) {
	s := NewStore(&stubFetcher{posts: []model.Post{{ID: "a"}, {ID: "b"}, {ID: "c"}}}, nil, nil)
	require.NoError(t, s.Reload(context.Background(), ""))
	require.True(t, s.RemovePost("b"))

	var ids []string
	for _, p := range s.Posts() {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"a", "c"}, ids)
}

func TestSnapshotsAreIsolated(t *testing.T) {
	s := loadedStore(t)
	snap := s.Posts()
	snap[0].Comments[0].Content = "mutated"
	s.AppendComment("p1", model.Comment{ID: "c3"})

	p, _ := s.Post("p1")
	assert.Equal(t, "first", p.Comments[0].Content)
	assert.Len(t, snap[0].Comments, 1)
}

// gatedFetcher blocks each call until released, returning the posts it was
// given for that call.
type gatedFetcher struct {
	calls chan chan []model.Post
}

func (g *gatedFetcher) Feed(ctx context.Context, _ string) ([]model.Post, error) {
	reply := make(chan []model.Post)
	g.calls <- reply
	select {
	case posts := <-reply:
		return posts, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestStaleReloadIsDropped(t *testing.T) {
	g := &gatedFetcher{calls: make(chan chan []model.Post)}
	s := NewStore(g, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, s.Reload(ctx, ""))
	}()
	older := <-g.calls

	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, s.Reload(ctx, "T"))
	}()
	newer := <-g.calls
	assert.True(t, s.Loading())

	newer <- []model.Post{{ID: "fresh"}}
	older <- []model.Post{{ID: "stale"}}
	wg.Wait()

	posts := s.Posts()
	require.Len(t, posts, 1)
	assert.Equal(t, "fresh", posts[0].ID)
	assert.Equal(t, uint64(2), s.Generation())
}
