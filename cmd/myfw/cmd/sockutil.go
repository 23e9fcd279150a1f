package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/plexsphere/myfw/internal/agent"
	"github.com/plexsphere/myfw/internal/ctlapi"
)

// newSocketClient creates an HTTP client that connects via Unix socket.
func newSocketClient(path string) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: func(_ context.Context, _, _ string) (net.Conn, error) {
				return net.Dial("unix", path)
			},
		},
	}
}

// socketURL returns a URL for the given path using the Unix socket.
func socketURL(path string) string {
	return "http://localhost" + path
}

// socketDo sends a request to the daemon via Unix socket. body may be nil.
func socketDo(method, path string, body io.Reader) (*http.Response, error) {
	sock := clientSocketPath()
	req, err := http.NewRequest(method, socketURL(path), body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	}
	resp, err := newSocketClient(sock).Do(req)
	if err != nil {
		return nil, fmt.Errorf("daemon not running or socket unavailable at %s: %w", sock, err)
	}
	return resp, nil
}

// socketCall sends a request and decodes a JSON response into out, which may
// be nil. A response status other than want is turned into an error carrying
// the daemon's message.
func socketCall(method, path string, body io.Reader, want int, out any) error {
	resp, err := socketDo(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		return apiError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

// apiError builds an error from a non-success response.
func apiError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		return fmt.Errorf("%s (HTTP %d)", body.Error, resp.StatusCode)
	}
	msg := strings.TrimSpace(string(data))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return fmt.Errorf("%s (HTTP %d)", msg, resp.StatusCode)
}

// clientSocketPath returns the socket named by --socket, else the one in the
// config file, else the default.
func clientSocketPath() string {
	if socketPath != "" {
		return socketPath
	}
	if cfg, err := agent.ParseConfig(cfgFile); err == nil {
		return cfg.ControlAPI.SocketPath
	}
	return ctlapi.DefaultSocketPath
}
