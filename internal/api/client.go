// Package api is the HTTP client for the Picstream service.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/bryan-buckman/picstream/internal/model"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// DefaultTimeout bounds a single request/response exchange.
const DefaultTimeout = 30 * time.Second

// maxErrorBody caps how much of a failed response is read for its detail.
const maxErrorBody = 64 << 10

// Options configures a Client.
type Options struct {
	Timeout time.Duration
	// RequestsPerSecond limits outgoing requests. Zero means unlimited.
	RequestsPerSecond float64
	Burst             int
	HTTPClient        *http.Client
	Logger            *slog.Logger
	// TracerProvider receives one client span per exchange. Defaults to the
	// global provider.
	TracerProvider trace.TracerProvider
}

// Client talks to the Picstream API. It holds no session state: every
// authenticated call takes the bearer token explicitly.
type Client struct {
	base    *url.URL
	http    *http.Client
	limiter *rate.Limiter
	tracer  trace.Tracer
	logger  *slog.Logger
}

// New creates a client for the API rooted at baseURL.
func New(baseURL string, opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", baseURL)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	c := &Client{
		base:   base,
		http:   httpClient,
		tracer: tp.Tracer("github.com/bryan-buckman/picstream/internal/api"),
		logger: logger,
	}
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return c, nil
}

// BaseURL returns the API root the client talks to.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// request describes one exchange. route is the templated path used for
// spans and logs; path is the concrete one.
type request struct {
	method      string
	route       string
	path        string
	token       string
	body        io.Reader
	contentType string
}

func (c *Client) do(ctx context.Context, req request, out any) error {
	ctx, span := c.tracer.Start(ctx, req.method+" "+req.route,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", req.method),
			attribute.String("http.route", req.route),
			attribute.Bool("picstream.authenticated", req.token != ""),
		))
	defer span.End()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("%w: rate limit wait for %s %s: %w", ErrTransport, req.method, req.route, err)
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.base.String()+req.path, req.body)
	if err != nil {
		return fmt.Errorf("build request %s %s: %w", req.method, req.route, err)
	}
	requestID := uuid.NewString()
	httpReq.Header.Set("X-Request-ID", requestID)
	httpReq.Header.Set("Accept", "application/json")
	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}
	if req.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.token)
	}
	span.SetAttributes(attribute.String("picstream.request_id", requestID))

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		c.logger.Debug("api request failed", "method", req.method, "route", req.route, "request_id", requestID, "error", err)
		return fmt.Errorf("%w: %s %s: %w", ErrTransport, req.method, req.route, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	c.logger.Debug("api request",
		"method", req.method,
		"route", req.route,
		"status", resp.StatusCode,
		"request_id", requestID,
		"duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := newError(resp.StatusCode, body)
		span.SetStatus(codes.Error, apiErr.Error())
		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("decode %s %s response: %w", req.method, req.route, err)
	}
	return nil
}

// --- Identity ---

// Me fetches the identity behind token.
func (c *Client) Me(ctx context.Context, token string) (string, error) {
	var me meResponse
	err := c.do(ctx, request{method: http.MethodGet, route: "/users/me", path: "/users/me", token: token}, &me)
	if err != nil {
		return "", err
	}
	return me.Email, nil
}

// Login exchanges credentials for an access token.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	form := url.Values{}
	form.Set("username", email)
	form.Set("password", password)
	var out loginResponse
	err := c.do(ctx, request{
		method:      http.MethodPost,
		route:       "/auth/jwt/login",
		path:        "/auth/jwt/login",
		body:        strings.NewReader(form.Encode()),
		contentType: "application/x-www-form-urlencoded",
	}, &out)
	if err != nil {
		return "", err
	}
	if out.AccessToken == "" {
		return "", errors.New("login response carried no access_token")
	}
	return out.AccessToken, nil
}

// Register creates an account. It does not sign the user in.
func (c *Client) Register(ctx context.Context, email, password string) error {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return err
	}
	return c.do(ctx, request{
		method:      http.MethodPost,
		route:       "/auth/register",
		path:        "/auth/register",
		body:        bytes.NewReader(body),
		contentType: "application/json",
	}, nil)
}

// Logout invalidates token on the server.
func (c *Client) Logout(ctx context.Context, token string) error {
	return c.do(ctx, request{method: http.MethodPost, route: "/auth/jwt/logout", path: "/auth/jwt/logout", token: token}, nil)
}

// --- Feed ---

// Feed fetches the full feed. An empty token requests the anonymous view.
func (c *Client) Feed(ctx context.Context, token string) ([]model.Post, error) {
	var out feedResponse
	if err := c.do(ctx, request{method: http.MethodGet, route: "/feed", path: "/feed", token: token}, &out); err != nil {
		return nil, err
	}
	posts := make([]model.Post, 0, len(out.Posts))
	for _, p := range out.Posts {
		posts = append(posts, p.model())
	}
	return posts, nil
}

// Media is a file to upload with a new post.
type Media struct {
	Name        string
	ContentType string // guessed from Name when empty
	Body        io.Reader
}

// Upload creates a post from media and caption.
func (c *Client) Upload(ctx context.Context, token string, media Media, caption string) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	contentType := media.ContentType
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(media.Name))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(filepath.Base(media.Name))))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create file part: %w", err)
	}
	if _, err := io.Copy(part, media.Body); err != nil {
		return fmt.Errorf("read media %s: %w", media.Name, err)
	}
	if err := mw.WriteField("caption", caption); err != nil {
		return fmt.Errorf("write caption: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("close multipart body: %w", err)
	}

	return c.do(ctx, request{
		method:      http.MethodPost,
		route:       "/upload",
		path:        "/upload",
		token:       token,
		body:        &buf,
		contentType: mw.FormDataContentType(),
	}, nil)
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// --- Post mutations ---

// Like likes a post and returns the authoritative like count.
func (c *Client) Like(ctx context.Context, token, postID string) (int, error) {
	return c.like(ctx, http.MethodPost, token, postID)
}

// Unlike removes the viewer's like and returns the authoritative like count.
func (c *Client) Unlike(ctx context.Context, token, postID string) (int, error) {
	return c.like(ctx, http.MethodDelete, token, postID)
}

func (c *Client) like(ctx context.Context, method, token, postID string) (int, error) {
	var out likeResponse
	err := c.do(ctx, request{
		method: method,
		route:  "/posts/{id}/like",
		path:   "/posts/" + url.PathEscape(postID) + "/like",
		token:  token,
	}, &out)
	if err != nil {
		return 0, err
	}
	return out.LikeCount, nil
}

// AddComment posts a comment and returns it as stored by the server.
func (c *Client) AddComment(ctx context.Context, token, postID, content string) (model.Comment, error) {
	form := url.Values{}
	form.Set("content", content)
	var out commentResponse
	err := c.do(ctx, request{
		method:      http.MethodPost,
		route:       "/posts/{id}/comments",
		path:        "/posts/" + url.PathEscape(postID) + "/comments",
		token:       token,
		body:        strings.NewReader(form.Encode()),
		contentType: "application/x-www-form-urlencoded",
	}, &out)
	if err != nil {
		return model.Comment{}, err
	}
	return out.Comment.model(), nil
}

// DeletePost deletes a post owned by the viewer.
func (c *Client) DeletePost(ctx context.Context, token, postID string) error {
	return c.do(ctx, request{
		method: http.MethodDelete,
		route:  "/posts/{id}",
		path:   "/posts/" + url.PathEscape(postID),
		token:  token,
	}, nil)
}

// DeleteComment deletes a comment owned by the viewer.
func (c *Client) DeleteComment(ctx context.Context, token, commentID string) error {
	return c.do(ctx, request{
		method: http.MethodDelete,
		route:  "/comments/{id}",
		path:   "/comments/" + url.PathEscape(commentID),
		token:  token,
	}, nil)
}
