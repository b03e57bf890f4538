package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/bryan-buckman/picstream/internal/api"
	"github.com/bryan-buckman/picstream/internal/config"
	"github.com/bryan-buckman/picstream/internal/database"
	"github.com/bryan-buckman/picstream/internal/dispatch"
	"github.com/bryan-buckman/picstream/internal/feed"
	"github.com/bryan-buckman/picstream/internal/notice"
	"github.com/bryan-buckman/picstream/internal/server"
	"github.com/bryan-buckman/picstream/internal/session"
	"github.com/bryan-buckman/picstream/internal/telemetry"
)

const usage = `usage: picstream [-config file] [-api url] [-db path] [-dsn dsn] <command> [args]

commands:
  serve [-addr host:port]           run the local web view
  feed                              print the feed
  whoami                            print the signed-in account
  login <email> <password>          sign in
  register <email> <password>       create an account
  logout                            sign out
  post <file> [caption]             share a photo or video
  like <postID>                     like or unlike a post
  comment <postID> <text>           comment on a post
  uncomment <postID> <commentID>    delete a comment
  delete [-yes] <postID>            delete a post
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "picstream: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("picstream", flag.ContinueOnError)
	fs.Usage = func() { fmt.Fprint(fs.Output(), usage) }
	configPath := fs.String("config", "", "config file (default "+config.DefaultPath()+")")
	apiURL := fs.String("api", "", "API base URL")
	dbPath := fs.String("db", "", "SQLite database path")
	dsn := fs.String("dsn", "", "PostgreSQL connection string")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("no command")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *apiURL != "" {
		cfg.APIBaseURL = *apiURL
	}
	if *dbPath != "" {
		cfg.DatabasePath = *dbPath
	}
	if *dsn != "" {
		cfg.PostgresDSN = *dsn
	}
	level, err := cfg.Level()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	app, err := wire(cfg, logger)
	if err != nil {
		return err
	}
	defer app.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	if cmd == "serve" {
		return app.serve(ctx, cfg, rest)
	}

	// Every other command starts from the persisted session.
	if err := app.d.Restore(ctx); err != nil {
		logger.Debug("restore reload failed", "error", err)
	}
	switch cmd {
	case "feed":
		return app.printFeed(os.Stdout)
	case "whoami":
		sess := app.d.Session()
		if !sess.Authenticated() {
			fmt.Println("not signed in")
			return nil
		}
		fmt.Println(sess.Email)
		if !sess.ExpiresAt.IsZero() {
			fmt.Printf("token expires %s\n", sess.ExpiresAt.Local().Format("2006-01-02 15:04"))
		}
		return nil
	case "login":
		if len(rest) != 2 {
			return errors.New("usage: login <email> <password>")
		}
		return app.d.Login(ctx, rest[0], rest[1])
	case "register":
		if len(rest) != 2 {
			return errors.New("usage: register <email> <password>")
		}
		return app.d.Register(ctx, rest[0], rest[1])
	case "logout":
		return app.d.Logout(ctx)
	case "post":
		if len(rest) < 1 {
			return errors.New("usage: post <file> [caption]")
		}
		return app.post(ctx, rest[0], strings.Join(rest[1:], " "))
	case "like":
		if len(rest) != 1 {
			return errors.New("usage: like <postID>")
		}
		return app.d.ToggleLike(ctx, rest[0])
	case "comment":
		if len(rest) < 2 {
			return errors.New("usage: comment <postID> <text>")
		}
		return app.d.AddComment(ctx, rest[0], strings.Join(rest[1:], " "))
	case "uncomment":
		if len(rest) != 2 {
			return errors.New("usage: uncomment <postID> <commentID>")
		}
		return app.d.DeleteComment(ctx, rest[0], rest[1])
	case "delete":
		return app.deletePost(ctx, rest)
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

type application struct {
	store   database.Store
	tracing *telemetry.Provider
	notices *notice.Buffer
	d       *dispatch.Dispatcher
	logger  *slog.Logger
}

func wire(cfg config.Config, logger *slog.Logger) (*application, error) {
	var (
		store database.Store
		err   error
	)
	if cfg.PostgresDSN != "" {
		store, err = database.NewPostgres(cfg.PostgresDSN)
	} else {
		store, err = database.New(cfg.DatabasePath)
	}
	if err != nil {
		return nil, fmt.Errorf("open settings store: %w", err)
	}
	logger.Debug("settings store open", "type", store.DatabaseType())

	tracing, err := telemetry.Setup(cfg.Trace, os.Stderr)
	if err != nil {
		store.Close()
		return nil, err
	}

	client, err := api.New(cfg.APIBaseURL, api.Options{
		Timeout:           cfg.Timeout.Duration,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
		Logger:            logger,
		TracerProvider:    tracing,
	})
	if err != nil {
		tracing.Shutdown(context.Background())
		store.Close()
		return nil, err
	}

	buf := notice.NewBuffer(0)
	notify := notice.Multi{notice.Log{Logger: logger}, buf}
	posts := feed.NewStore(client, notify, logger)
	sessions := session.NewManager(client, store, posts, notify, logger)
	d := dispatch.New(client, sessions, posts, notify, logger)

	return &application{store: store, tracing: tracing, notices: buf, d: d, logger: logger}, nil
}

func (a *application) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.tracing.Shutdown(ctx); err != nil {
		a.logger.Error("flush traces", "error", err)
	}
	if err := a.store.Close(); err != nil {
		a.logger.Error("close settings store", "error", err)
	}
}

func (a *application) serve(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	addr := fs.String("addr", cfg.ListenAddr, "listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	srv, err := server.New(a.d, a.notices, a.logger)
	if err != nil {
		return err
	}
	return srv.Start(ctx, *addr)
}

func (a *application) printFeed(w io.Writer) error {
	posts := a.d.Posts()
	if len(posts) == 0 {
		fmt.Fprintln(w, "no posts")
		return nil
	}
	for _, p := range posts {
		liked := " "
		if p.ViewerHasLiked {
			liked = "♥"
		}
		fmt.Fprintf(w, "%s  %s %-5s %s  %s %d likes\n",
			p.ID, p.CreatedAt.Local().Format("2006-01-02 15:04"), p.MediaKind, p.AuthorEmail, liked, p.LikeCount)
		if p.Caption != "" {
			fmt.Fprintf(w, "    %s\n", p.Caption)
		}
		fmt.Fprintf(w, "    %s\n", p.MediaURL)
		for _, c := range p.Comments {
			fmt.Fprintf(w, "    [%s] %s: %s\n", c.ID, c.AuthorEmail, c.Content)
		}
	}
	return nil
}

func (a *application) post(ctx context.Context, path, caption string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return a.d.CreatePost(ctx, api.Media{Name: filepath.Base(path), Body: f}, caption)
}

func (a *application) deletePost(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ContinueOnError)
	yes := fs.Bool("yes", false, "skip the confirmation prompt")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: delete [-yes] <postID>")
	}

	var confirm dispatch.Confirmer = dispatch.ConfirmFunc(func(context.Context, string) bool { return true })
	if !*yes {
		confirm = stdinConfirmer{in: bufio.NewReader(os.Stdin), out: os.Stdout}
	}
	err := a.d.DeletePost(ctx, fs.Arg(0), confirm)
	if errors.Is(err, dispatch.ErrNotConfirmed) {
		fmt.Println("cancelled")
		return nil
	}
	return err
}

// stdinConfirmer asks on the terminal. Anything but y or yes is a no.
type stdinConfirmer struct {
	in  *bufio.Reader
	out io.Writer
}

func (c stdinConfirmer) Confirm(_ context.Context, prompt string) bool {
	fmt.Fprintf(c.out, "%s [y/N] ", prompt)
	line, err := c.in.ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}
