package websocket

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/wmdanor/wsclient/frame"
)

const (
	headerHost         = "Host"
	headerOrigin       = "Origin"
	headerUpgrade      = "Upgrade"
	headerConn         = "Connection"
	headerSecWsVersion = "Sec-WebSocket-Version"
	headerSecWsProto   = "Sec-WebSocket-Protocol"
	headerSecWsExt     = "Sec-WebSocket-Extensions"
	headerSecWsKey     = "Sec-WebSocket-Key"
	headerSecWsAccept  = "Sec-WebSocket-Accept"

	headerUpgradeExpected      = "websocket"
	headerConnExpected         = "Upgrade"
	headerSecWsVersionExpected = "13"
)

var reservedHeaders = []string{
	headerUpgrade,
	headerConn,
	headerSecWsVersion,
	headerSecWsExt,
	headerSecWsKey,
	headerSecWsAccept,
}

// handshake is one opening handshake attempt: the upgrade request and the
// key its response has to echo back.
type handshake struct {
	req            *http.Request
	key            string
	expectedAccept string
	subprotocols   []string
}

func newHandshake(d *Dialer, u *url.URL) (*handshake, error) {
	hu := httpURL(u)

	req := &http.Request{
		Method:     http.MethodGet,
		URL:        hu,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Host:       u.Host,
		Header:     make(http.Header),
	}

	for hk, hv := range d.Header {
		for _, reserved := range reservedHeaders {
			if strings.EqualFold(hk, reserved) {
				return nil, fmt.Errorf("%w: header %q is set by the handshake itself", ErrHandshakeFailure, hk)
			}
		}
		req.Header[hk] = slices.Clone(hv)
	}

	if req.Header.Get(headerOrigin) == "" {
		req.Header.Set(headerOrigin, hu.Scheme+"://"+hu.Host)
	}

	req.Header[headerUpgrade] = []string{headerUpgradeExpected}
	req.Header[headerConn] = []string{headerConnExpected}
	req.Header[headerSecWsVersion] = []string{headerSecWsVersionExpected}

	if len(d.Subprotocols) > 0 {
		req.Header[headerSecWsProto] = []string{strings.Join(d.Subprotocols, ", ")}
	}

	if d.Jar != nil {
		for _, cookie := range d.Jar.Cookies(hu) {
			req.AddCookie(cookie)
		}
	}

	key := frame.NewKey()
	req.Header[headerSecWsKey] = []string{key}

	return &handshake{
		req:            req,
		key:            key,
		expectedAccept: frame.ComputeAcceptKey(key),
		subprotocols:   d.Subprotocols,
	}, nil
}

func (h *handshake) write(w io.Writer) error {
	err := h.req.Write(w)
	if err != nil {
		return transportError("write handshake request", err)
	}
	return nil
}

// readResponse reads the server's answer from r and validates it. Bytes the
// server sent after the response stay buffered in r.
func (h *handshake) readResponse(r *bufio.Reader, jar http.CookieJar) (*http.Response, error) {
	res, err := http.ReadResponse(r, h.req)
	if err != nil {
		return nil, transportError("read handshake response", err)
	}
	if res.StatusCode != http.StatusSwitchingProtocols {
		// error responses may carry a body, which we do not need
		res.Body.Close()
	}

	if jar != nil {
		if cookies := res.Cookies(); len(cookies) > 0 {
			jar.SetCookies(h.req.URL, cookies)
		}
	}

	err = h.validate(res)
	if err != nil {
		return nil, err
	}

	return res, nil
}

func (h *handshake) validate(res *http.Response) error {
	if res.StatusCode != http.StatusSwitchingProtocols {
		return fmt.Errorf(`%w: status code must be %d , actual %d`,
			ErrHandshakeFailure, http.StatusSwitchingProtocols, res.StatusCode)
	}

	actual, ok := headerEquals(res.Header, headerUpgrade, headerUpgradeExpected)
	if !ok {
		return fmt.Errorf(`%w: %q header must be %q , actual %q`,
			ErrHandshakeFailure, headerUpgrade, headerUpgradeExpected, actual)
	}

	if !headerContainsToken(res.Header, headerConn, headerConnExpected) {
		return fmt.Errorf(`%w: %q header must contain %q , actual %q`,
			ErrHandshakeFailure, headerConn, headerConnExpected, res.Header.Get(headerConn))
	}

	secWsAccept := res.Header.Get(headerSecWsAccept)
	if len(secWsAccept) == 0 {
		return fmt.Errorf("%w: missing %q header", ErrHandshakeFailure, headerSecWsAccept)
	} else if secWsAccept != h.expectedAccept {
		return fmt.Errorf("%w: %q header does not equal expected value", ErrHandshakeFailure, headerSecWsAccept)
	}

	if ext := res.Header.Get(headerSecWsExt); ext != "" {
		return fmt.Errorf("%w: server negotiated extensions %q, but none were offered", ErrHandshakeFailure, ext)
	}

	if proto := res.Header.Get(headerSecWsProto); proto != "" && !slices.Contains(h.subprotocols, proto) {
		return fmt.Errorf("%w: server selected subprotocol %q, which was not offered", ErrHandshakeFailure, proto)
	}

	return nil
}
