package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/bryan-buckman/picstream/internal/model"
)

// id accepts both JSON strings and numbers.
type id string

func (i *id) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*i = id(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("decode id %s: %w", b, err)
	}
	*i = id(n.String())
	return nil
}

// timestamp parses the server's ISO-8601 timestamps. Values without a zone
// are taken as UTC. A value in no known shape decodes to the zero time so a
// single odd post never rejects the whole feed.
type timestamp time.Time

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999-0700",
	"2006-01-02T15:04:05.999999999-07",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

func (t *timestamp) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		// Some backends send epoch seconds as a bare number.
		var n json.Number
		if err := json.Unmarshal(b, &n); err == nil {
			if secs, err := n.Int64(); err == nil {
				*t = timestamp(time.Unix(secs, 0).UTC())
				return nil
			}
		}
		slog.Debug("unrecognised timestamp", "value", string(b))
		return nil
	}
	if s == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			*t = timestamp(parsed)
			return nil
		}
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		*t = timestamp(time.Unix(secs, 0).UTC())
		return nil
	}
	slog.Debug("unrecognised timestamp", "value", s)
	return nil
}

type wireComment struct {
	ID        id        `json:"id"`
	Email     string    `json:"email"`
	Content   string    `json:"content"`
	CreatedAt timestamp `json:"created_at"`
}

func (c wireComment) model() model.Comment {
	return model.Comment{
		ID:          string(c.ID),
		AuthorEmail: c.Email,
		Content:     c.Content,
		CreatedAt:   time.Time(c.CreatedAt),
	}
}

type wirePost struct {
	ID        id            `json:"id"`
	Email     string        `json:"email"`
	Caption   string        `json:"caption"`
	URL       string        `json:"url"`
	FileType  string        `json:"file_type"`
	LikeCount int           `json:"like_count"`
	IsLiked   bool          `json:"is_liked"`
	Comments  []wireComment `json:"comments"`
	CreatedAt timestamp     `json:"created_at"`
	IsOwner   bool          `json:"is_owner"`
}

func (p wirePost) model() model.Post {
	kind := model.MediaImage
	if p.FileType == "video" {
		kind = model.MediaVideo
	}
	likes := p.LikeCount
	if likes < 0 {
		likes = 0
	}
	comments := make([]model.Comment, 0, len(p.Comments))
	for _, c := range p.Comments {
		comments = append(comments, c.model())
	}
	return model.Post{
		ID:              string(p.ID),
		AuthorEmail:     p.Email,
		Caption:         p.Caption,
		MediaURL:        p.URL,
		MediaKind:       kind,
		LikeCount:       likes,
		ViewerHasLiked:  p.IsLiked,
		Comments:        comments,
		CreatedAt:       time.Time(p.CreatedAt),
		IsOwnedByViewer: p.IsOwner,
	}
}

type feedResponse struct {
	Posts []wirePost `json:"posts"`
}

type meResponse struct {
	ID    id     `json:"id"`
	Email string `json:"email"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type likeResponse struct {
	LikeCount int `json:"like_count"`
}

type commentResponse struct {
	Comment wireComment `json:"comment"`
}
