package kv

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	defaultDialTimeout = 10 * time.Second
	envEmulatorHost    = "FIRESTORE_EMULATOR_HOST"
	envGoogleProjectID = "GOOGLE_CLOUD_PROJECT"
)

// ErrProviderClosed is returned by Client after Close.
var ErrProviderClosed = errors.New("kv: firestore provider is closed")

// Provider lazily initialises a shared Firestore client. Concurrent callers wait on a
// single initialisation; a failed attempt is retried by the next caller.
type Provider struct {
	projectID    string
	emulatorHost string
	dialTimeout  time.Duration
	clientOpts   []option.ClientOption

	mu     sync.Mutex
	initCh chan struct{}
	client *firestore.Client

	closed atomic.Bool
}

// ProviderOption customises the Provider.
type ProviderOption func(*Provider)

// WithDialTimeout overrides the timeout used when creating the client.
func WithDialTimeout(timeout time.Duration) ProviderOption {
	return func(p *Provider) {
		if timeout > 0 {
			p.dialTimeout = timeout
		}
	}
}

// WithClientOptions appends client options applied during initialisation.
func WithClientOptions(opts ...option.ClientOption) ProviderOption {
	return func(p *Provider) {
		p.clientOpts = append(p.clientOpts, opts...)
	}
}

// NewProvider constructs a Provider. An empty emulatorHost falls back to FIRESTORE_EMULATOR_HOST.
func NewProvider(projectID, emulatorHost string, opts ...ProviderOption) *Provider {
	p := &Provider{
		projectID:    strings.TrimSpace(projectID),
		emulatorHost: strings.TrimSpace(emulatorHost),
		dialTimeout:  defaultDialTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Client returns the shared client, creating it on first use.
func (p *Provider) Client(ctx context.Context) (*firestore.Client, error) {
	for {
		if p.closed.Load() {
			return nil, ErrProviderClosed
		}

		p.mu.Lock()
		if p.client != nil {
			client := p.client
			p.mu.Unlock()
			return client, nil
		}
		if waitCh := p.initCh; waitCh != nil {
			p.mu.Unlock()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-waitCh:
				continue
			}
		}
		waitCh := make(chan struct{})
		p.initCh = waitCh
		p.mu.Unlock()

		client, err := p.createClient(ctx)

		p.mu.Lock()
		p.initCh = nil
		if err == nil && !p.closed.Load() {
			p.client = client
		}
		p.mu.Unlock()
		close(waitCh)

		if err != nil {
			return nil, err
		}
		if p.closed.Load() {
			_ = client.Close()
			return nil, ErrProviderClosed
		}
		return client, nil
	}
}

func (p *Provider) createClient(ctx context.Context) (*firestore.Client, error) {
	if p.dialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.dialTimeout)
		defer cancel()
	}

	projectID := p.projectID
	if projectID == "" {
		projectID = strings.TrimSpace(os.Getenv(envGoogleProjectID))
	}
	if projectID == "" {
		return nil, errors.New("kv: firestore project id is required")
	}

	opts := append([]option.ClientOption(nil), p.clientOpts...)
	if host := p.resolveEmulatorHost(); host != "" {
		opts = append(opts,
			option.WithoutAuthentication(),
			option.WithEndpoint(host),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}

	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("kv: create firestore client: %w", err)
	}
	return client, nil
}

func (p *Provider) resolveEmulatorHost() string {
	if p.emulatorHost != "" {
		return p.emulatorHost
	}
	return strings.TrimSpace(os.Getenv(envEmulatorHost))
}

// Close releases the client. The Provider cannot be reused afterwards.
func (p *Provider) Close() error {
	if p == nil || p.closed.Swap(true) {
		return nil
	}
	p.mu.Lock()
	client := p.client
	p.client = nil
	p.mu.Unlock()
	if client == nil {
		return nil
	}
	return client.Close()
}
