package websocket

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultFragmentThreshold = 0x4000
	DefaultCloseTimeout      = 15 * time.Second
	DefaultHandshakeTimeout  = 30 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultReadBufferSize    = 4096
	DefaultMaxMessageSize    = 32 << 20
)

// Dialer holds the configuration shared by the clients it creates.
// The zero value is usable; zero fields take the Default* values.
type Dialer struct {
	Subprotocols []string

	// Extra request headers for the opening handshake.
	Header http.Header

	// Cookies are sent with the handshake and updated from its response.
	Jar http.CookieJar

	// Proxy returns the HTTP proxy for a request, or nil for a direct
	// connection. Defaults to http.ProxyFromEnvironment.
	Proxy func(*http.Request) (*url.URL, error)

	// Used to open TCP connections to the target or the proxy.
	NetDial func(ctx context.Context, network, addr string) (net.Conn, error)

	TLSConfig *tls.Config

	// Outbound files are split into frames of at most this many bytes.
	FragmentThreshold int

	// How long Disconnect waits for the peer's close frame.
	CloseTimeout time.Duration

	// Bounds the tunnel and the opening handshake together.
	HandshakeTimeout time.Duration

	// Per write deadline. A write that times out is retried.
	WriteTimeout time.Duration

	ReadBufferSize int

	// Largest reassembled text or binary message accepted from the peer.
	MaxMessageSize int64

	// Received files are stored here. Defaults to os.TempDir().
	DownloadDir string

	Logger *zap.Logger
}

func (d *Dialer) withDefaults() (*Dialer, error) {
	c := *d

	if c.Proxy == nil {
		c.Proxy = http.ProxyFromEnvironment
	}
	if c.NetDial == nil {
		nd := &net.Dialer{}
		c.NetDial = nd.DialContext
	}
	if c.FragmentThreshold <= 0 {
		c.FragmentThreshold = DefaultFragmentThreshold
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = DefaultCloseTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = DefaultReadBufferSize
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.DownloadDir == "" {
		c.DownloadDir = os.TempDir()
	}
	if c.Logger == nil {
		l, err := loggerFromEnv()
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: [%w]", err)
		}
		c.Logger = l
	}

	return &c, nil
}

// NewClient creates a client in StateIdle that reports to delegate.
// A nil delegate discards all events.
func (d *Dialer) NewClient(delegate Delegate) (*Client, error) {
	cfg, err := d.withDefaults()
	if err != nil {
		return nil, err
	}

	if delegate == nil {
		delegate = NopDelegate{}
	}

	return &Client{
		d:        cfg,
		delegate: delegate,
		l:        cfg.Logger,
		state:    StateIdle,
	}, nil
}

func parseURL(urlStr string) (*url.URL, error) {
	u, err := url.Parse(urlStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse url: [%w]", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("url schema must be ws or wss, actual %q", u.Scheme)
	}

	if u.Host == "" {
		return nil, fmt.Errorf("url %q has no host", urlStr)
	}

	return u, nil
}

// hostPort returns u's host with the default port of its scheme applied.
func hostPort(u *url.URL) string {
	if u.Port() != "" {
		return u.Host
	}

	port := "80"
	if u.Scheme == "wss" || u.Scheme == "https" {
		port = "443"
	}

	return net.JoinHostPort(u.Hostname(), port)
}

// httpURL maps a ws/wss URL onto the http/https URL used for proxies, cookies
// and the Origin header.
func httpURL(u *url.URL) *url.URL {
	hu := *u
	switch u.Scheme {
	case "ws":
		hu.Scheme = "http"
	case "wss":
		hu.Scheme = "https"
	}
	return &hu
}
