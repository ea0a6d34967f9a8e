// Package console implements the operator's line-oriented command
// interface: issuing and revoking tokens and listing sessions.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/harrylevesque/roombridge/internal/models"
)

var ErrUnknownCommand = errors.New("unknown command")

// Tokens is the token-store surface the console drives.
type Tokens interface {
	IssueToken(roomKey, grantCode string) (models.JoinCredential, error)
	Revoke(token string) bool
	List() []models.JoinCredential
}

// Sessions lists the session manager's sessions.
type Sessions interface {
	Sessions() []models.SessionInfo
}

type command struct {
	name    string
	usage   string
	summary string
	flags   func(fs *pflag.FlagSet)
	run     func(fs *pflag.FlagSet, args []string) error
}

// Console executes operator commands and writes their output to out.
type Console struct {
	tokens   Tokens
	sessions Sessions
	out      io.Writer
	logger   *slog.Logger
	commands map[string]*command
}

func New(tokens Tokens, sessions Sessions, out io.Writer, logger *slog.Logger) *Console {
	c := &Console{
		tokens:   tokens,
		sessions: sessions,
		out:      out,
		logger:   logger.With("component", "console"),
		commands: make(map[string]*command),
	}
	for _, cmd := range []*command{
		{
			name:    "issuetoken",
			usage:   "issuetoken <roomKey> <grantCode>",
			summary: "issue a join token for a room",
			run:     c.issueToken,
		},
		{
			name:    "revoketoken",
			usage:   "revoketoken <token>",
			summary: "revoke a token and drop its session",
			run:     c.revokeToken,
		},
		{
			name:    "listsessions",
			usage:   "listsessions [--room KEY] [--live]",
			summary: "list sessions bound to tokens",
			flags: func(fs *pflag.FlagSet) {
				fs.String("room", "", "only sessions joined to this room")
				fs.Bool("live", false, "only sessions with a live connection")
			},
			run: c.listSessions,
		},
		{
			name:    "listtokens",
			usage:   "listtokens [--room KEY]",
			summary: "list issued tokens",
			flags: func(fs *pflag.FlagSet) {
				fs.String("room", "", "only tokens for this room")
			},
			run: c.listTokens,
		},
		{
			name:    "help",
			usage:   "help",
			summary: "show this help",
			run:     func(*pflag.FlagSet, []string) error { c.printHelp(); return nil },
		},
	} {
		c.commands[cmd.name] = cmd
	}
	return c
}

// Execute runs one command line. Blank lines are ignored.
func (c *Console) Execute(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, ok := c.commands[strings.ToLower(fields[0])]
	if !ok {
		return fmt.Errorf("%w: %s (try 'help')", ErrUnknownCommand, fields[0])
	}

	fs := pflag.NewFlagSet(cmd.name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	// Tokens and grant codes may start with '-'; commands without flags
	// take their arguments verbatim.
	if cmd.flags == nil {
		return cmd.run(fs, fields[1:])
	}
	cmd.flags(fs)
	if err := fs.Parse(fields[1:]); err != nil {
		return fmt.Errorf("%s: %w\nusage: %s", cmd.name, err, cmd.usage)
	}
	return cmd.run(fs, fs.Args())
}

// Run reads commands from in until it is exhausted or ctx is done. Command
// errors are printed and do not stop the loop.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					return err
				default:
					return nil
				}
			}
			if err := c.Execute(line); err != nil {
				fmt.Fprintln(c.out, "error:", err)
			}
		}
	}
}

func (c *Console) issueToken(_ *pflag.FlagSet, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: issuetoken <roomKey> <grantCode>")
	}
	cred, err := c.tokens.IssueToken(args[0], args[1])
	if err != nil {
		c.logger.Warn("token issue refused", "room_key", args[0], "error", err)
		return err
	}
	fmt.Fprintf(c.out, "token: %s\nroom: %s\nroom code: %s\nclient id: %s\n",
		cred.Token, cred.RoomKey, cred.RoomCode, cred.ClientID)
	return nil
}

func (c *Console) revokeToken(_ *pflag.FlagSet, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: revoketoken <token>")
	}
	if !c.tokens.Revoke(args[0]) {
		fmt.Fprintln(c.out, "no such token")
		return nil
	}
	fmt.Fprintln(c.out, "revoked")
	return nil
}

func (c *Console) listSessions(fs *pflag.FlagSet, _ []string) error {
	room, _ := fs.GetString("room")
	liveOnly, _ := fs.GetBool("live")

	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ROOM\tCLIENT\tSTATE\tCONNECTED\tTOKEN")
	n := 0
	for _, s := range c.sessions.Sessions() {
		if (room != "" && s.RoomKey != room) || (liveOnly && !s.Live) {
			continue
		}
		state, since := "idle", "-"
		if s.Live {
			state, since = "live", s.ConnectedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.RoomKey, s.ClientID, state, since, shorten(s.Token))
		n++
	}
	tw.Flush()
	fmt.Fprintf(c.out, "%d session(s)\n", n)
	return nil
}

func (c *Console) listTokens(fs *pflag.FlagSet, _ []string) error {
	room, _ := fs.GetString("room")

	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ROOM\tCLIENT\tISSUED\tTOKEN")
	n := 0
	for _, cred := range c.tokens.List() {
		if room != "" && cred.RoomKey != room {
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", cred.RoomKey, cred.ClientID, cred.IssuedAt.Format(time.RFC3339), cred.Token)
		n++
	}
	tw.Flush()
	fmt.Fprintf(c.out, "%d token(s)\n", n)
	return nil
}

func (c *Console) printHelp() {
	names := make([]string, 0, len(c.commands))
	for name := range c.commands {
		names = append(names, name)
	}
	sort.Strings(names)

	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	for _, name := range names {
		cmd := c.commands[name]
		fmt.Fprintf(tw, "%s\t%s\n", cmd.usage, cmd.summary)
	}
	tw.Flush()
}

// shorten keeps enough of a token to identify it in a session listing.
func shorten(token string) string {
	if len(token) <= 12 {
		return token
	}
	return token[:12] + "…"
}
