// Package dispatch turns user intents into API calls and folds the results
// back into the session and the feed. It is the only writer of either.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/bryan-buckman/picstream/internal/api"
	"github.com/bryan-buckman/picstream/internal/model"
	"github.com/bryan-buckman/picstream/internal/notice"
)

// Guard failures. None of them reaches the network.
var (
	ErrNotSignedIn   = errors.New("not signed in")
	ErrEmptyComment  = errors.New("comment is empty")
	ErrNoMedia       = errors.New("no media selected")
	ErrNotConfirmed  = errors.New("not confirmed")
	ErrPostNotLoaded = errors.New("post is not in the feed")
)

// API is the part of the service the dispatcher calls directly.
type API interface {
	Upload(ctx context.Context, token string, media api.Media, caption string) error
	Like(ctx context.Context, token, postID string) (int, error)
	Unlike(ctx context.Context, token, postID string) (int, error)
	AddComment(ctx context.Context, token, postID, content string) (model.Comment, error)
	DeletePost(ctx context.Context, token, postID string) error
	DeleteComment(ctx context.Context, token, commentID string) error
}

// Session is the session manager as seen by the dispatcher.
type Session interface {
	Current() model.Session
	Token() string
	Restore(ctx context.Context) error
	Login(ctx context.Context, email, password string) error
	Register(ctx context.Context, email, password string) error
	Logout(ctx context.Context) error
}

// Feed is the feed store as seen by the dispatcher.
type Feed interface {
	Reload(ctx context.Context, token string) error
	Loading() bool
	Posts() []model.Post
	Post(postID string) (model.Post, bool)
	ApplyLikeToggle(postID string, likeCount int) bool
	AppendComment(postID string, c model.Comment) bool
	RemoveComment(postID, commentID string) bool
	RemovePost(postID string) bool
}

// Confirmer asks the user to confirm a destructive intent. It must answer
// synchronously.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) bool
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, prompt string) bool

// Confirm implements Confirmer.
func (f ConfirmFunc) Confirm(ctx context.Context, prompt string) bool { return f(ctx, prompt) }

// DeletePostPrompt is shown before a post is deleted.
const DeletePostPrompt = "Are you sure you want to delete this post?"

// Dispatcher maps intents to one HTTP exchange each and applies the
// success effect: a local patch for likes and comments, a reload for new
// posts. Post deletion is a local removal.
type Dispatcher struct {
	api     API
	session Session
	feed    Feed
	notify  notice.Notifier
	logger  *slog.Logger
}

// New creates a dispatcher.
func New(client API, session Session, feed Feed, notify notice.Notifier, logger *slog.Logger) *Dispatcher {
	if notify == nil {
		notify = notice.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{api: client, session: session, feed: feed, notify: notify, logger: logger}
}

// Session returns a snapshot of the session for rendering.
func (d *Dispatcher) Session() model.Session { return d.session.Current() }

// Posts returns a snapshot of the feed for rendering.
func (d *Dispatcher) Posts() []model.Post { return d.feed.Posts() }

// Loading reports whether the feed is being reloaded.
func (d *Dispatcher) Loading() bool { return d.feed.Loading() }

// --- Session intents ---

// Restore brings back the persisted session and loads the feed.
func (d *Dispatcher) Restore(ctx context.Context) error { return d.session.Restore(ctx) }

// Login signs in and reloads the feed. The email is used as given.
func (d *Dispatcher) Login(ctx context.Context, email, password string) error {
	return d.session.Login(ctx, email, password)
}

// Register creates an account.
func (d *Dispatcher) Register(ctx context.Context, email, password string) error {
	return d.session.Register(ctx, email, password)
}

// Logout signs out and reloads the feed.
func (d *Dispatcher) Logout(ctx context.Context) error { return d.session.Logout(ctx) }

// Reload re-fetches the feed for the current session.
func (d *Dispatcher) Reload(ctx context.Context) error {
	return d.feed.Reload(ctx, d.session.Token())
}

// --- Feed intents ---

// CreatePost uploads media with a caption, then reloads the feed.
func (d *Dispatcher) CreatePost(ctx context.Context, media api.Media, caption string) error {
	token, err := d.requireToken("Sign in to share a post")
	if err != nil {
		return err
	}
	if media.Body == nil || media.Name == "" {
		notice.Error(d.notify, "Choose a photo or video first")
		return ErrNoMedia
	}

	if err := d.api.Upload(ctx, token, media, caption); err != nil {
		d.logger.Warn("upload failed", "file", media.Name, "error", err)
		d.failed(err, "Upload failed")
		return err
	}
	notice.Success(d.notify, "Post shared!")
	if err := d.feed.Reload(ctx, token); err != nil {
		d.logger.Warn("feed reload after upload failed", "error", err)
	}
	return nil
}

// ToggleLike likes the post if the viewer has not, and unlikes it otherwise.
func (d *Dispatcher) ToggleLike(ctx context.Context, postID string) error {
	token, err := d.requireToken("Sign in to like posts")
	if err != nil {
		return err
	}
	post, ok := d.feed.Post(postID)
	if !ok {
		return ErrPostNotLoaded
	}

	var count int
	if post.ViewerHasLiked {
		count, err = d.api.Unlike(ctx, token, postID)
	} else {
		count, err = d.api.Like(ctx, token, postID)
	}
	if err != nil {
		d.logger.Warn("like toggle failed", "post", postID, "unlike", post.ViewerHasLiked, "error", err)
		d.failed(err, "Could not update the like")
		return err
	}
	if !d.feed.ApplyLikeToggle(postID, count) {
		d.logger.Debug("like response for a post no longer in the feed", "post", postID)
	}
	return nil
}

// AddComment posts a comment and appends the server's copy to the post.
func (d *Dispatcher) AddComment(ctx context.Context, postID, content string) error {
	token, err := d.requireToken("Sign in to comment")
	if err != nil {
		return err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		notice.Error(d.notify, "Write something first")
		return ErrEmptyComment
	}

	c, err := d.api.AddComment(ctx, token, postID, content)
	if err != nil {
		d.logger.Warn("add comment failed", "post", postID, "error", err)
		d.failed(err, "Could not add the comment")
		return err
	}
	if !d.feed.AppendComment(postID, c) {
		d.logger.Debug("comment response for a post no longer in the feed", "post", postID)
	}
	return nil
}

// DeleteComment deletes a comment. Ownership is the server's call.
func (d *Dispatcher) DeleteComment(ctx context.Context, postID, commentID string) error {
	token, err := d.requireToken("Sign in to delete comments")
	if err != nil {
		return err
	}

	if err := d.api.DeleteComment(ctx, token, commentID); err != nil {
		d.logger.Warn("delete comment failed", "post", postID, "comment", commentID, "error", err)
		d.failed(err, "Could not delete the comment")
		return err
	}
	d.feed.RemoveComment(postID, commentID)
	notice.Success(d.notify, "Comment deleted")
	return nil
}

// DeletePost deletes a post after the user confirms. Without confirmation
// nothing is sent.
func (d *Dispatcher) DeletePost(ctx context.Context, postID string, confirm Confirmer) error {
	if confirm == nil || !confirm.Confirm(ctx, DeletePostPrompt) {
		return ErrNotConfirmed
	}
	token, err := d.requireToken("Sign in to delete posts")
	if err != nil {
		return err
	}

	if err := d.api.DeletePost(ctx, token, postID); err != nil {
		d.logger.Warn("delete post failed", "post", postID, "error", err)
		d.failed(err, "Delete failed")
		return err
	}
	d.feed.RemovePost(postID)
	notice.Success(d.notify, "Post deleted")
	return nil
}

func (d *Dispatcher) requireToken(msg string) (string, error) {
	token := d.session.Token()
	if token == "" {
		notice.Error(d.notify, msg)
		return "", ErrNotSignedIn
	}
	return token, nil
}

// failed raises a notice for a request failure, preferring the server's
// own reason.
func (d *Dispatcher) failed(err error, fallback string) {
	msg := api.Detail(err)
	if msg == "" {
		msg = fallback
	}
	notice.Error(d.notify, msg)
}
