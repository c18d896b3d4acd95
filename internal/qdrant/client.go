package qdrant

import (
	"context"
	"sync"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"

	apperrors "github.com/ricesearch/greeneval/internal/pkg/errors"
)

const (
	// CollectionPrefix namespaces greeneval collections on a shared server.
	CollectionPrefix = "greeneval_"

	DefaultHost    = "localhost"
	DefaultPort    = 6334 // gRPC
	DefaultTimeout = 30 * time.Second
)

// ClientConfig holds connection settings.
type ClientConfig struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool

	// Timeout bounds each operation.
	Timeout time.Duration

	// UserAgent is sent with every gRPC call.
	UserAgent string
}

// DefaultClientConfig returns settings for a local server.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Host:      DefaultHost,
		Port:      DefaultPort,
		Timeout:   DefaultTimeout,
		UserAgent: "greeneval",
	}
}

// Client wraps the Qdrant gRPC client. It is safe for concurrent use; Close
// waits for in-flight operations.
type Client struct {
	client *qdrant.Client
	cfg    ClientConfig

	mu     sync.RWMutex
	closed bool
}

// NewClient connects to Qdrant. The connection is lazy: use HealthCheck to
// verify the server is reachable.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	var dialOpts []grpc.DialOption
	if cfg.UserAgent != "" {
		dialOpts = append(dialOpts, grpc.WithUserAgent(cfg.UserAgent))
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:        cfg.Host,
		Port:        cfg.Port,
		APIKey:      cfg.APIKey,
		UseTLS:      cfg.UseTLS,
		GrpcOptions: dialOpts,
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConfiguration, "create qdrant client", err)
	}
	return &Client{client: client, cfg: cfg}, nil
}

// begin checks that the client is open and bounds ctx by the operation
// timeout. done must be called when the operation finishes.
func (c *Client) begin(ctx context.Context) (opCtx context.Context, done func(), err error) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return nil, nil, apperrors.New(apperrors.CodeUnavailable, "qdrant client is closed")
	}
	opCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	return opCtx, func() {
		cancel()
		c.mu.RUnlock()
	}, nil
}

// Close closes the connection. Closing twice is a no-op.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.client.Close()
}

// HealthCheck pings the server and returns its version.
func (c *Client) HealthCheck(ctx context.Context) (string, error) {
	ctx, done, err := c.begin(ctx)
	if err != nil {
		return "", err
	}
	defer done()

	reply, err := c.client.HealthCheck(ctx)
	if err != nil {
		return "", unavailable("health check", err)
	}
	if reply.GetTitle() == "" {
		return "", apperrors.New(apperrors.CodeUnavailable, "unexpected qdrant health check response")
	}
	return reply.GetVersion(), nil
}

func collectionName(name string) string {
	return CollectionPrefix + name
}

func unavailable(op string, err error) error {
	return apperrors.Wrap(apperrors.CodeUnavailable, "qdrant "+op, err)
}
