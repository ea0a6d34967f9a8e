package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

// Default server base URL; override with ROOMBRIDGE_SERVER or --server.
var serverBaseURL = "http://localhost:50000"

const usage = `usage: client [--server URL] <command>

commands:
  version          print the server version descriptor
  join <token>     print the join bootstrap for a token
  connect <token>  open the persistent connection and print every message
`

func main() {
	_ = godotenv.Load()

	server, args, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if env := os.Getenv("ROOMBRIDGE_SERVER"); env != "" {
		serverBaseURL = strings.TrimRight(env, "/")
	}
	if server != "" {
		serverBaseURL = strings.TrimRight(server, "/")
	}

	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	switch args[0] {
	case "version":
		err = getJSON("/version")
	case "join":
		if len(args) != 2 {
			err = errors.New("join requires a token")
			break
		}
		err = getJSON("/join?token=" + url.QueryEscape(args[1]))
	case "connect":
		if len(args) != 2 {
			err = errors.New("connect requires a token")
			break
		}
		err = connect(args[1])
	default:
		err = fmt.Errorf("unknown command %q", args[0])
	}
	if err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}
}

// parseArgs splits the global flags from the command and its arguments.
func parseArgs(argv []string) (server string, args []string, err error) {
	fs := pflag.NewFlagSet("client", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&server, "server", "", "server base URL (e.g. https://bridge.example.com)")
	// Flags end at the command name so a token starting with '-' is not read as one.
	fs.SetInterspersed(false)
	if err := fs.Parse(argv); err != nil {
		return "", nil, err
	}
	return server, fs.Args(), nil
}

func getJSON(path string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(serverBaseURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return printIndented(body)
}

func connect(token string) error {
	u, err := url.Parse(serverBaseURL)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/join/" + url.PathEscape(token)

	ws, resp, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("connect: status %d", resp.StatusCode)
		}
		return err
	}
	defer ws.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	go func() {
		<-ctx.Done()
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		ws.Close()
	}()

	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		if err := printIndented(msg); err != nil {
			fmt.Println(string(msg))
		}
	}
}

func printIndented(raw []byte) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
