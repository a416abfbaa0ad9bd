// Package connectstore is the client-side DocumentStore that talks to the sync server.
package connectstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"connectrpc.com/connect"
	"github.com/avast/retry-go"
	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/at-ishikawa/phrasebook/internal/remote"
	"github.com/at-ishikawa/phrasebook/internal/remote/wire"
)

var _ remote.DocumentStore = (*Client)(nil)

const (
	DefaultRetryAttempts  = 3
	defaultRetryDelay     = 200 * time.Millisecond
	defaultReconnectDelay = 2 * time.Second
)

type Client struct {
	baseURL        string
	write          *connect.Client[structpb.Struct, structpb.Struct]
	get            *connect.Client[structpb.Struct, structpb.Struct]
	dialer         *websocket.Dialer
	retryAttempts  uint
	retryDelay     time.Duration
	reconnectDelay time.Duration
}

type Option func(*Client)

func WithRetry(attempts uint, delay time.Duration) Option {
	return func(c *Client) {
		c.retryAttempts = attempts
		c.retryDelay = delay
	}
}

func WithReconnectDelay(d time.Duration) Option {
	return func(c *Client) { c.reconnectDelay = d }
}

// New creates a client for the sync server at baseURL, e.g. "https://sync.example.com".
func New(httpClient connect.HTTPClient, baseURL string, opts ...Option) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	c := &Client{
		baseURL:        baseURL,
		write:          connect.NewClient[structpb.Struct, structpb.Struct](httpClient, baseURL+wire.WriteDocumentProcedure),
		get:            connect.NewClient[structpb.Struct, structpb.Struct](httpClient, baseURL+wire.GetDocumentProcedure),
		dialer:         websocket.DefaultDialer,
		retryAttempts:  DefaultRetryAttempts,
		retryDelay:     defaultRetryDelay,
		reconnectDelay: defaultReconnectDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Write sends a partial document write, retrying transient failures.
func (c *Client) Write(ctx context.Context, path string, fields map[string]json.RawMessage, meta remote.Metadata) error {
	msg, err := wire.EncodeDocument(remote.Document{Path: path, Fields: fields, Metadata: meta})
	if err != nil {
		return fmt.Errorf("wire.EncodeDocument() > %w", err)
	}

	if err := retry.Do(
		func() error {
			_, err := c.write.CallUnary(ctx, connect.NewRequest(msg))
			if err != nil && !isRetryableError(err) {
				return retry.Unrecoverable(err)
			}
			return err
		},
		retry.Context(ctx),
		retry.Attempts(c.retryAttempts),
		retry.Delay(c.retryDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			slog.Default().Debug("retrying document write", "path", path, "attempt", n+1, "error", err)
		}),
	); err != nil {
		return fmt.Errorf("WriteDocument(%s) > %w", path, err)
	}
	return nil
}

func (c *Client) Get(ctx context.Context, path string) (remote.Document, error) {
	res, err := c.get.CallUnary(ctx, connect.NewRequest(wire.PathRequest(path)))
	if connect.CodeOf(err) == connect.CodeNotFound {
		return remote.Document{}, remote.ErrNotFound
	}
	if err != nil {
		return remote.Document{}, fmt.Errorf("GetDocument(%s) > %w", path, err)
	}
	doc, err := wire.DecodeDocument(res.Msg)
	if err != nil {
		return remote.Document{}, fmt.Errorf("wire.DecodeDocument() > %w", err)
	}
	return doc, nil
}

// Subscribe keeps a websocket open to the server, reconnecting after failures,
// until the returned function is called.
func (c *Client) Subscribe(ctx context.Context, path string, onChange func(remote.Document)) (func(), error) {
	endpoint, err := c.subscribeURL(path)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if err := c.stream(ctx, endpoint, onChange); err != nil && ctx.Err() == nil {
				slog.Default().Debug("document stream closed", "path", path, "error", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.reconnectDelay):
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}, nil
}

func (c *Client) stream(ctx context.Context, endpoint string, onChange func(remote.Document)) error {
	conn, _, err := c.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("dialer.DialContext(%s) > %w", endpoint, err)
	}
	closed := make(chan struct{})
	defer close(closed)
	go func() {
		select {
		case <-ctx.Done():
		case <-closed:
		}
		_ = conn.Close()
	}()

	for {
		var doc remote.Document
		if err := conn.ReadJSON(&doc); err != nil {
			return fmt.Errorf("conn.ReadJSON() > %w", err)
		}
		if ctx.Err() != nil {
			return nil
		}
		onChange(doc)
	}
}

func (c *Client) subscribeURL(path string) (string, error) {
	u, err := url.Parse(c.baseURL + wire.SubscribePath)
	if err != nil {
		return "", fmt.Errorf("url.Parse(%s) > %w", c.baseURL, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.RawQuery = url.Values{"path": []string{path}}.Encode()
	return u.String(), nil
}

func isRetryableError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch connect.CodeOf(err) {
	case connect.CodeUnavailable, connect.CodeDeadlineExceeded, connect.CodeResourceExhausted,
		connect.CodeAborted, connect.CodeUnknown, connect.CodeInternal:
		return true
	}
	return false
}
