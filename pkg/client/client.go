package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Client is a struct for communicating with the tvroll daemon
type Client struct {
	socketPath string
	httpClient *http.Client
}

// StatusError is a non-2xx answer from the daemon.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("got %d: %s", e.Code, e.Message)
}

// Unwrap lets errors.Is(err, ErrNotFound) match 404s.
func (e *StatusError) Unwrap() error {
	if e.Code == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

func dialSocket(socketPath string) func(context.Context, string, string) (net.Conn, error) {
	return func(ctx context.Context, _, _ string) (net.Conn, error) {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "unix", socketPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, ErrDaemonNotRunning
			}
			if errors.Is(err, os.ErrPermission) {
				return nil, ErrPermissionDenied
			}
			logrus.Errorf("failed to connect to unix socket: %v", err)
			return nil, err
		}
		return conn, nil
	}
}

// NewClient is a constructor for creating a new Client
func NewClient(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		httpClient: &http.Client{
			Transport: &http.Transport{
				DialContext: dialSocket(socketPath),
			},
		},
	}
}

// Do sends a request to the tvroll daemon and returns the response body.
func (c *Client) Do(ctx context.Context, method string, path string, data string) (string, error) {
	logrus.WithFields(logrus.Fields{
		"method": method,
		"path":   path,
		"data":   data,
		"unix":   c.socketPath,
	}).Debug("sending request")

	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut:
	default:
		return "", fmt.Errorf("unknown method: %s", method)
	}

	var body io.Reader
	if data != "" {
		body = strings.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, "http://unix"+path, body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	if data != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			logrus.Errorf("failed to close response body: %v", err)
		}
	}()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}
	ret := string(b)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Errors come back as a JSON string.
		var msg string
		if json.Unmarshal(b, &msg) != nil {
			msg = strings.TrimSpace(ret)
		}
		return "", &StatusError{Code: resp.StatusCode, Message: msg}
	}

	return ret, nil
}

// Send is a method for sending a request to the tvroll daemon
func (c *Client) Send(method string, path string, data string) (string, error) {
	return c.Do(context.Background(), method, path, data)
}

// Get is a method for sending a GET request to the tvroll daemon
func (c *Client) Get(path string) (string, error) {
	return c.Send(http.MethodGet, path, "")
}

// Put is a method for sending a PUT request to the tvroll daemon
func (c *Client) Put(path string, data string) (string, error) {
	return c.Send(http.MethodPut, path, data)
}

// Post is a method for sending a POST request to the tvroll daemon
func (c *Client) Post(path string, data string) (string, error) {
	return c.Send(http.MethodPost, path, data)
}
