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
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/darkden-lab/herald/internal/ws"
)

type listenOptions struct {
	server string
	token  string
	origin string
	raw    bool
}

func newListenCmd() *cobra.Command {
	opts := &listenOptions{}
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Follow the new-user notification stream",
		Long: `Opens an authenticated websocket to the server and prints every
notification until the server closes the connection or you press Ctrl+C.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return opts.run(ctx, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.server, "server", envOr("HERALD_SERVER", "http://localhost:8080"), "server URL (defaults to $HERALD_SERVER)")
	cmd.Flags().StringVar(&opts.token, "token", os.Getenv("HERALD_TOKEN"), "access token (defaults to $HERALD_TOKEN)")
	cmd.Flags().StringVar(&opts.origin, "origin", "", "Origin header to send, if the server restricts origins")
	cmd.Flags().BoolVar(&opts.raw, "raw", false, "print frames exactly as received")

	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// streamURL turns an http(s) or ws(s) server URL into the token-in-path
// websocket endpoint.
func streamURL(server, token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("--token is required or set HERALD_TOKEN")
	}
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server URL scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/ws/" + url.PathEscape(token)
	return u.String(), nil
}

func (o *listenOptions) run(ctx context.Context, out io.Writer) error {
	target, err := streamURL(o.server, o.token)
	if err != nil {
		return err
	}

	header := http.Header{}
	if o.origin != "" {
		header.Set("Origin", o.origin)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, target, header)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		if resp != nil {
			defer resp.Body.Close()
			return fmt.Errorf("connect failed: %s", resp.Status)
		}
		return fmt.Errorf("connect failed: %w", err)
	}
	defer conn.Close()

	// Closing the socket unblocks ReadMessage when the user interrupts.
	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
			deadline := time.Now().Add(time.Second)
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			conn.Close() //nolint:errcheck
		case <-stopped:
		}
	}()

	fmt.Fprintf(out, "listening on %s\n", strings.SplitN(target, "/api/ws/", 2)[0])
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				fmt.Fprintf(out, "connection closed by server (%d %s)\n", closeErr.Code, closeErr.Text)
				return nil
			}
			return fmt.Errorf("read failed: %w", err)
		}
		printEvent(out, data, o.raw)
	}
}

func printEvent(out io.Writer, data []byte, raw bool) {
	if raw {
		fmt.Fprintln(out, string(data))
		return
	}
	var event ws.Event
	if err := json.Unmarshal(data, &event); err != nil || event.Type == "" {
		fmt.Fprintf(out, "? %s\n", data)
		return
	}
	if event.Message == "" {
		fmt.Fprintf(out, "[%s]\n", event.Type)
		return
	}
	fmt.Fprintf(out, "[%s] %s\n", event.Type, event.Message)
}
