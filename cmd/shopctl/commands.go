package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"autoshop-api/internal/session"
)

const defaultServer = "http://localhost:8080/api"

// Command is one shopctl verb with its own flag set.
type Command struct {
	Name        string
	Description string
	Run         func(args []string) error
	Subcommands map[string]*Command
}

func newRootCommand() *Command {
	root := &Command{
		Name:        "shopctl",
		Description: "Auto shop API session client",
		Subcommands: make(map[string]*Command),
	}

	root.Subcommands["login"] = newLoginCommand(os.Stdin, os.Stdout)
	root.Subcommands["whoami"] = newWhoamiCommand(os.Stdout)
	root.Subcommands["logout"] = newLogoutCommand(os.Stdout)

	return root
}

func (c *Command) Execute(args []string) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" {
		return c.usage()
	}

	if sub, ok := c.Subcommands[args[0]]; ok {
		return sub.Run(args[1:])
	}

	return fmt.Errorf("unknown command: %s", args[0])
}

func (c *Command) usage() error {
	fmt.Printf("Usage: %s <command> [flags]\n\n", c.Name)
	fmt.Printf("Commands:\n")

	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %-10s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}

// sessionFlags are shared by every command that needs a session.
type sessionFlags struct {
	server string
	path   string
}

func (f *sessionFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.server, "server", envOr("SHOPCTL_SERVER", defaultServer), "API base URL")
	fs.StringVar(&f.path, "session", envOr("SHOPCTL_SESSION", defaultSessionPath()), "session file")
}

func (f *sessionFlags) open() (*session.Session, *session.FileStore, error) {
	store := session.NewFileStore(f.path)
	s, err := session.New(session.Options{
		BaseURL: f.server,
		Store:   store,
		OnExpired: func(originalURL string) {
			fmt.Fprintf(os.Stderr, "session expired while requesting %s; run `shopctl login` again\n", originalURL)
		},
	})
	return s, store, err
}

func newLoginCommand(in io.Reader, out io.Writer) *Command {
	cmd := &Command{Name: "login", Description: "Authenticate and store tokens"}

	cmd.Run = func(args []string) error {
		fs := flag.NewFlagSet("login", flag.ContinueOnError)
		var sf sessionFlags
		sf.register(fs)
		username := fs.String("u", "", "username")
		password := fs.String("p", os.Getenv("SHOPCTL_PASSWORD"), "password (read from stdin when empty)")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if *username == "" {
			return errors.New("login requires -u")
		}

		if *password == "" {
			fmt.Fprint(out, "Password: ")
			line, err := bufio.NewReader(in).ReadString('\n')
			if err != nil && !errors.Is(err, io.EOF) {
				return err
			}
			*password = strings.TrimRight(line, "\r\n")
		}

		s, store, err := sf.open()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		user, err := s.Login(ctx, *username, *password)
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "Logged in as %s (%s)\n", user.Username, strings.Join(user.Roles, ", "))
		fmt.Fprintf(out, "Session saved to %s\n", store.Path())
		return nil
	}

	return cmd
}

func newWhoamiCommand(out io.Writer) *Command {
	cmd := &Command{Name: "whoami", Description: "Show the current user"}

	cmd.Run = func(args []string) error {
		fs := flag.NewFlagSet("whoami", flag.ContinueOnError)
		var sf sessionFlags
		sf.register(fs)
		local := fs.Bool("local", false, "decode the stored token without contacting the server")
		if err := fs.Parse(args); err != nil {
			return err
		}

		s, _, err := sf.open()
		if err != nil {
			return err
		}

		if *local {
			claims := s.Claims()
			if claims.Username == "" {
				return session.ErrNotAuthenticated
			}
			expiry := "never"
			if claims.ExpiresAt != nil {
				expiry = claims.ExpiresAt.Format(time.RFC3339)
			}
			fmt.Fprintf(out, "%s roles=%s expires=%s valid=%t\n", claims.Username, strings.Join(claims.Roles, ","), expiry, s.IsAuthenticated())
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		user, err := s.Profile(ctx)
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "%s <%s> id=%d roles=%s\n", user.Username, user.Email, user.ID, strings.Join(user.Roles, ","))
		return nil
	}

	return cmd
}

func newLogoutCommand(out io.Writer) *Command {
	cmd := &Command{Name: "logout", Description: "Revoke the refresh token and forget the session"}

	cmd.Run = func(args []string) error {
		fs := flag.NewFlagSet("logout", flag.ContinueOnError)
		var sf sessionFlags
		sf.register(fs)
		if err := fs.Parse(args); err != nil {
			return err
		}

		s, _, err := sf.open()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := s.Logout(ctx); err != nil {
			fmt.Fprintf(out, "Local session cleared; server logout failed: %v\n", err)
			return nil
		}

		fmt.Fprintln(out, "Logged out")
		return nil
	}

	return cmd
}

func defaultSessionPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "shopctl", "session.json")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
