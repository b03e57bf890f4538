// Package model defines shared data structures.
package model

import "time"

// MediaKind is the type of media attached to a post.
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

// Session is the client's belief about who is signed in.
// Email is only set while Token is set.
type Session struct {
	Token     string
	Email     string
	ExpiresAt time.Time // zero when the token carries no exp claim
}

// Authenticated reports whether the session holds a token.
func (s Session) Authenticated() bool {
	return s.Token != ""
}

// Comment is a single comment under a post.
type Comment struct {
	ID          string    `json:"id"`
	AuthorEmail string    `json:"author_email"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"created_at"`
}

// Post is a single media post as seen by the current viewer.
type Post struct {
	ID              string    `json:"id"`
	AuthorEmail     string    `json:"author_email"`
	Caption         string    `json:"caption"`
	MediaURL        string    `json:"media_url"`
	MediaKind       MediaKind `json:"media_kind"`
	LikeCount       int       `json:"like_count"`
	ViewerHasLiked  bool      `json:"viewer_has_liked"`
	Comments        []Comment `json:"comments"`
	CreatedAt       time.Time `json:"created_at"`
	IsOwnedByViewer bool      `json:"is_owned_by_viewer"`
}

// Clone returns a copy of the post that shares no slice memory with p.
func (p Post) Clone() Post {
	c := p
	c.Comments = append([]Comment(nil), p.Comments...)
	return c
}

// NoticeLevel classifies a user-visible notice.
type NoticeLevel string

const (
	NoticeSuccess NoticeLevel = "success"
	NoticeError   NoticeLevel = "error"
	NoticeInfo    NoticeLevel = "info"
)

// Notice is a transient message shown to the user.
type Notice struct {
	Level   NoticeLevel `json:"level"`
	Message string      `json:"message"`
	At      time.Time   `json:"at"`
}

// Settings key constants.
const (
	SettingAuthToken = "auth_token"
)
