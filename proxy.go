package websocket

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"go.uber.org/zap"
)

// Stream is the byte stream a websocket session runs over. Reads go through
// Reader, which may hold bytes already received from Conn.
type Stream struct {
	Conn   net.Conn
	Reader *bufio.Reader
}

func (s *Stream) Close() error {
	return s.Conn.Close()
}

// Tunnel opens streams to one target URL, through an HTTP CONNECT proxy when
// one is configured for it.
type Tunnel struct {
	d      *Dialer
	target *url.URL
	l      *zap.Logger

	stream *Stream
}

func newTunnel(d *Dialer, target *url.URL, l *zap.Logger) *Tunnel {
	return &Tunnel{
		d:      d,
		target: target,
		l:      l,
	}
}

// Connect returns the current stream, opening one if there is none.
func (t *Tunnel) Connect(ctx context.Context) (*Stream, error) {
	if t.stream != nil {
		return t.stream, nil
	}

	s, err := t.open(ctx)
	if err != nil {
		return nil, err
	}

	t.stream = s
	return s, nil
}

// Reconnect discards the current stream, if any, and negotiates a new one.
func (t *Tunnel) Reconnect(ctx context.Context) (*Stream, error) {
	err := t.Close()
	if err != nil {
		t.l.Debug("failed to close previous stream", zap.Error(err))
	}
	return t.Connect(ctx)
}

func (t *Tunnel) Close() error {
	if t.stream == nil {
		return nil
	}
	s := t.stream
	t.stream = nil
	return s.Close()
}

func (t *Tunnel) open(ctx context.Context) (*Stream, error) {
	targetAddr := hostPort(t.target)

	proxyURL, err := t.d.Proxy(&http.Request{URL: httpURL(t.target)})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to resolve proxy: [%w]", ErrTunnel, err)
	}

	var netConn net.Conn
	if proxyURL == nil {
		t.l.Debug("dialing websocket server", zap.String("addr", targetAddr))
		netConn, err = t.d.NetDial(ctx, "tcp", targetAddr)
		if err != nil {
			return nil, transportError(fmt.Sprintf("dial remote address %q", targetAddr), err)
		}
	} else {
		netConn, err = t.dialProxy(ctx, proxyURL, targetAddr)
		if err != nil {
			return nil, err
		}
	}

	if t.target.Scheme == "wss" {
		netConn, err = t.handshakeTLS(ctx, netConn)
		if err != nil {
			return nil, err
		}
	}

	return &Stream{
		Conn:   netConn,
		Reader: bufio.NewReaderSize(netConn, t.d.ReadBufferSize),
	}, nil
}

func (t *Tunnel) dialProxy(ctx context.Context, proxyURL *url.URL, targetAddr string) (net.Conn, error) {
	if proxyURL.Scheme != "http" {
		return nil, fmt.Errorf("%w: proxy scheme %q is not supported", ErrTunnel, proxyURL.Scheme)
	}

	proxyAddr := hostPort(proxyURL)
	l := t.l.With(zap.String("proxy", proxyAddr), zap.String("target", targetAddr))

	l.Debug("dialing proxy")
	netConn, err := t.d.NetDial(ctx, "tcp", proxyAddr)
	if err != nil {
		return nil, transportError(fmt.Sprintf("dial proxy %q", proxyAddr), err)
	}
	defer func() {
		if netConn != nil {
			_ = netConn.Close()
		}
	}()

	if deadline, ok := ctx.Deadline(); ok {
		_ = netConn.SetDeadline(deadline)
	}

	connectReq := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: targetAddr},
		Host:   targetAddr,
		Header: make(http.Header),
	}
	if u := proxyURL.User; u != nil {
		password, _ := u.Password()
		credentials := base64.StdEncoding.EncodeToString([]byte(u.Username() + ":" + password))
		connectReq.Header.Set("Proxy-Authorization", "Basic "+credentials)
	}

	err = connectReq.Write(netConn)
	if err != nil {
		return nil, transportError("write CONNECT request", err)
	}

	br := bufio.NewReader(netConn)
	res, err := http.ReadResponse(br, connectReq)
	if err != nil {
		return nil, transportError("read CONNECT response", err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		res.Body.Close()
		return nil, fmt.Errorf("%w: proxy rejected CONNECT to %q with status %q", ErrTunnel, targetAddr, res.Status)
	}

	l.Debug("proxy tunnel established", zap.Int("status", res.StatusCode))

	_ = netConn.SetDeadline(noDeadline)

	c := netConn
	netConn = nil
	if br.Buffered() > 0 {
		return &bufferedConn{Conn: c, r: br}, nil
	}
	return c, nil
}

func (t *Tunnel) handshakeTLS(ctx context.Context, netConn net.Conn) (net.Conn, error) {
	cfg := t.d.TLSConfig
	if cfg == nil {
		cfg = &tls.Config{}
	} else {
		cfg = cfg.Clone()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = t.target.Hostname()
	}

	tlsConn := tls.Client(netConn, cfg)
	err := tlsConn.HandshakeContext(ctx)
	if err != nil {
		_ = netConn.Close()
		return nil, transportError("complete TLS handshake", err)
	}

	return tlsConn, nil
}

// bufferedConn serves bytes the proxy sent right after its CONNECT response
// before reading from the connection again.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}
