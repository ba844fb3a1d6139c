package websocket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wmdanor/wsclient/frame"
)

// Client is a websocket client connection. It connects, sends text and
// files, and reports everything it receives to its Delegate.
//
// All methods are safe for concurrent use and return without waiting for
// network I/O. The work happens on an event loop goroutine owned by the
// current connection attempt.
type Client struct {
	d        *Dialer
	delegate Delegate
	l        *zap.Logger

	mu     sync.Mutex
	state  State
	err    error
	sess   *session
	url    *url.URL
	tunnel *Tunnel
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the reason of the last failure while in StateFailed.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateFailed {
		return nil
	}
	return c.err
}

func (c *Client) IsConnected() bool {
	return c.State() == StateOpen
}

// Done is closed once the current connection attempt has ended.
func (c *Client) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return c.sess.done
}

// Connect starts connecting to urlStr. ctx bounds the tunnel and the opening
// handshake. Success is reported by Delegate.OnOpen, failure by OnError.
func (c *Client) Connect(ctx context.Context, urlStr string) error {
	u, err := parseURL(urlStr)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.IsTerminal() {
		return fmt.Errorf("%w: connection is %s", ErrAlreadyConnected, c.state)
	}

	c.url = u
	c.tunnel = newTunnel(c.d, u, c.l)
	c.startLocked(ctx, false)

	return nil
}

// Reconnect drops the current connection, if any, and connects again to the
// last URL passed to Connect over a freshly negotiated stream. It waits for
// the dropped connection to shut down, so among the Delegate methods only
// OnClose may call it.
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	s := c.sess
	if c.url == nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: Connect was never called", ErrNotConnected)
	}
	live := !c.state.IsTerminal()
	c.mu.Unlock()

	if s != nil && live {
		s.abort("reconnect")
		select {
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.IsTerminal() {
		return fmt.Errorf("%w: connection is %s", ErrAlreadyConnected, c.state)
	}

	c.startLocked(ctx, true)

	return nil
}

func (c *Client) startLocked(ctx context.Context, reconnect bool) {
	s := newSession(c, c.url, c.tunnel)
	c.sess = s
	c.state = StateTunnelConnecting
	c.err = nil
	stateTransitions.WithLabelValues(StateTunnelConnecting.String()).Inc()

	go s.run(ctx, reconnect)
}

// openSession returns the current session if the connection is open.
func (c *Client) openSession() *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateOpen {
		return nil
	}
	return c.sess
}

// SendText queues text as a single text frame.
func (c *Client) SendText(text string) error {
	if !utf8.ValidString(text) {
		return fmt.Errorf("text must be valid UTF-8")
	}

	s := c.openSession()
	if s == nil {
		return ErrNotConnected
	}

	if !s.box.post(command{kind: cmdSendText, text: text}) {
		return ErrNotConnected
	}
	return nil
}

// SendFile queues the file at path. It is announced by a marker message and
// sent as one binary message fragmented at Dialer.FragmentThreshold.
func (c *Client) SendFile(path string) error {
	s := c.openSession()
	if s == nil {
		return ErrNotConnected
	}

	sender, err := openFileSender(path, c.d.FragmentThreshold, s.l)
	if err != nil {
		return err
	}

	return s.enqueueFile(sender)
}

// Disconnect starts the closing handshake with a normal closure status and
// reason. Queued data that has not been written yet is discarded. A
// connection attempt that is not open yet is abandoned.
func (c *Client) Disconnect(reason string) error {
	err := validateCloseReason(reason)
	if err != nil {
		return err
	}

	c.mu.Lock()
	state, s := c.state, c.sess
	c.mu.Unlock()

	switch state {
	case StateOpen:
		if !s.box.post(command{kind: cmdDisconnect, reason: reason}) {
			return ErrNotConnected
		}
	case StateTunnelConnecting, StateHandshaking:
		s.abort(reason)
	default:
		return ErrNotConnected
	}

	return nil
}

// session is one connection attempt and, once open, the connection itself.
// Everything below run is only touched by the event loop goroutine.
type session struct {
	c  *Client
	d  *Dialer
	u  *url.URL
	t  *Tunnel
	id string
	l  *zap.Logger

	ctx         context.Context
	cancel      context.CancelFunc
	aborted     atomic.Bool
	abortReason atomic.Pointer[string]

	box  *mailbox
	done chan struct{}
	quit chan struct{}

	stream    *Stream
	pumping   bool
	reads     chan readResult
	writeReqs chan []byte
	writeDone chan writeResult

	queue    sendQueue
	inFlight []byte
	stalls   int

	des  *deserializer
	recv *fileReceiver

	sentClose     bool
	recvClose     bool
	closeCode     CloseCode
	closeReason   string
	closeDeadline <-chan time.Time
	closeTimer    *time.Timer

	finished bool
}

func newSession(c *Client, u *url.URL, t *Tunnel) *session {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	l := c.l.With(zap.String("session", id), zap.String("url", u.String()))

	s := &session{
		c:         c,
		d:         c.d,
		u:         u,
		t:         t,
		id:        id,
		l:         l,
		ctx:       ctx,
		cancel:    cancel,
		box:       newMailbox(),
		done:      make(chan struct{}),
		quit:      make(chan struct{}),
		reads:     make(chan readResult),
		writeReqs: make(chan []byte, 1),
		writeDone: make(chan writeResult, 1),
	}
	s.des = newDeserializer(s, c.d.MaxMessageSize, l)

	return s
}

// enqueueFile hands sender to the event loop. If the session has already
// finished the file is closed here.
func (s *session) enqueueFile(sender *fileSender) error {
	if !s.box.post(command{kind: cmdSendFile, file: sender}) {
		return multierr.Append(ErrNotConnected, sender.abort())
	}
	return nil
}

// abort ends the session whatever state it is in.
func (s *session) abort(reason string) {
	s.abortReason.Store(&reason)
	s.aborted.Store(true)
	s.cancel()
	s.box.post(command{kind: cmdAbort, reason: reason})
}

func (s *session) reasonForAbort() string {
	if r := s.abortReason.Load(); r != nil {
		return *r
	}
	return ""
}

func (s *session) run(ctx context.Context, reconnect bool) {
	defer close(s.done)
	defer func() {
		s.discardCommands(s.box.close())
	}()

	start := time.Now()
	err := s.open(ctx, reconnect)
	if err != nil {
		if s.aborted.Load() {
			s.finish(StateClosed, CloseGoingAway, s.reasonForAbort())
		} else {
			s.fail(err)
		}
		return
	}
	handshakeLatency.Observe(time.Since(start).Seconds())

	if !s.setState(StateOpen, nil) {
		s.finish(StateClosed, CloseGoingAway, s.reasonForAbort())
		return
	}
	s.l.Debug("websocket connection opened")
	s.c.delegate.OnOpen()

	s.pumping = true
	go readPump(s.stream.Reader, s.d.ReadBufferSize, s.reads, s.quit)
	go writePump(s.stream.Conn, s.d.WriteTimeout, s.writeReqs, s.writeDone, s.quit)

	s.loop()
}

// open negotiates the tunnel and the opening handshake.
func (s *session) open(parent context.Context, reconnect bool) (err error) {
	ctx, cancel := context.WithTimeout(parent, s.d.HandshakeTimeout)
	defer cancel()
	stopAbort := context.AfterFunc(s.ctx, cancel)
	defer stopAbort()

	ctx, span := tracer.Start(ctx, "websocket.connect",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("url.full", s.u.String()),
			attribute.String("websocket.session", s.id),
			attribute.Bool("websocket.reconnect", reconnect),
		))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if reconnect {
		s.stream, err = s.t.Reconnect(ctx)
	} else {
		s.stream, err = s.t.Connect(ctx)
	}
	if err != nil {
		return s.connectError(ctx, err)
	}

	if !s.setState(StateHandshaking, nil) {
		return fmt.Errorf("connection attempt abandoned")
	}

	conn := s.stream.Conn
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	// unblocks the handshake read when ctx ends early
	stopInterrupt := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})

	h, err := newHandshake(s.d, s.u)
	if err == nil {
		err = h.write(conn)
	}
	if err == nil {
		_, err = h.readResponse(s.stream.Reader, s.d.Jar)
	}

	if !stopInterrupt() {
		return s.connectError(ctx, multierr.Append(err, ctx.Err()))
	}
	if err != nil {
		return s.connectError(ctx, err)
	}
	_ = conn.SetDeadline(noDeadline)

	return nil
}

func (s *session) connectError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || isTimeout(err) {
		return fmt.Errorf("%w: opening handshake did not finish within %s: [%w]", ErrTimeout, s.d.HandshakeTimeout, err)
	}
	return err
}

func (s *session) loop() {
	for !s.finished {
		s.pump()
		if s.finished {
			return
		}

		select {
		case <-s.box.notify:
			cmds := s.box.drain()
			for i, cmd := range cmds {
				s.handleCommand(cmd)
				if s.finished {
					s.discardCommands(cmds[i+1:])
					return
				}
			}
		case r := <-s.reads:
			s.handleRead(r)
		case w := <-s.writeDone:
			s.handleWrite(w)
		case <-s.closeDeadline:
			s.closeTimedOut()
		}
	}
}

// pump hands the next queued bytes to the write pump when it is idle.
func (s *session) pump() {
	if s.inFlight != nil {
		return
	}

	b, err := s.queue.pop()
	if err != nil {
		s.fail(err)
		return
	}
	if b == nil {
		s.maybeFinishClose()
		return
	}

	s.inFlight = b
	s.writeReqs <- b
}

func (s *session) handleWrite(w writeResult) {
	bytesWritten.Add(float64(w.n))

	rest := s.inFlight[w.n:]
	s.inFlight = nil

	if w.err != nil {
		if !isTimeout(w.err) {
			s.transportFailed(transportError("write frame", w.err))
			return
		}
		if w.n > 0 {
			s.stalls = 0
		} else {
			s.stalls++
		}
		if s.stalls >= maxWriteStalls {
			s.transportFailed(transportError("write frame", w.err))
			return
		}
		s.l.Debug("write timed out, retrying remainder", zap.Int("written", w.n), zap.Int("remaining", len(rest)))
	} else {
		s.stalls = 0
	}

	if len(rest) > 0 {
		s.queue.requeue(rest)
	}
}

func (s *session) handleRead(r readResult) {
	if r.err != nil {
		if s.recvClose {
			s.finish(StateClosed, s.closeCode, s.closeReason)
			return
		}
		if errors.Is(r.err, io.EOF) {
			s.l.Debug("peer closed the transport without a close frame")
			s.finish(StateClosed, CloseAbnormalClosure, "")
			return
		}
		s.fail(transportError("read from transport", r.err))
		return
	}

	bytesRead.Add(float64(len(r.data)))

	err := s.des.feed(r.data)
	if err != nil {
		s.fail(err)
	}
}

func (s *session) handleCommand(cmd command) {
	open := s.c.State() == StateOpen

	switch cmd.kind {
	case cmdSendText:
		if !open {
			s.l.Debug("dropping text queued after the connection stopped being open")
			return
		}
		s.queue.pushJob(&textJob{payload: []byte(cmd.text)})

	case cmdSendFile:
		if !open {
			s.l.Debug("dropping file queued after the connection stopped being open")
			_ = cmd.file.abort()
			return
		}
		s.queue.pushJob(cmd.file)

	case cmdDisconnect:
		if !open {
			return
		}
		s.setState(StateClosing, nil)
		err := s.queue.discardData()
		if err != nil {
			s.l.Debug("failed to release discarded data", zap.Error(err))
		}
		s.closeCode, s.closeReason = CloseNormalClosure, cmd.reason
		s.sendClose(CloseNormalClosure, cmd.reason)
		s.closeTimer = time.NewTimer(s.d.CloseTimeout)
		s.closeDeadline = s.closeTimer.C

	case cmdAbort:
		s.finish(StateClosed, CloseGoingAway, cmd.reason)
	}
}

// discardCommands releases commands the session will never handle.
func (s *session) discardCommands(cmds []command) {
	for _, cmd := range cmds {
		if cmd.kind != cmdSendFile {
			continue
		}
		s.l.Debug("dropping file queued for a finished connection")
		err := cmd.file.abort()
		if err != nil {
			s.l.Debug("failed to close dropped file", zap.Error(err))
		}
	}
}

func (s *session) sendClose(code CloseCode, reason string) {
	s.l.Debug("writing close message", zap.Uint16("code", code.U()), zap.String("reason", reason))
	s.sentClose = true
	framesSent.WithLabelValues(frame.OpcodeConnectionClose.String()).Inc()
	s.queue.pushControl(frame.Encode(CloseMessageData(code, reason), frame.OpcodeConnectionClose, true))
}

// Both close frames are exchanged and ours is on the wire.
func (s *session) maybeFinishClose() {
	if s.sentClose && s.recvClose && s.queue.empty() && s.inFlight == nil {
		s.finish(StateClosed, s.closeCode, s.closeReason)
	}
}

func (s *session) closeTimedOut() {
	err := fmt.Errorf("%w: peer did not acknowledge close within %s", ErrTimeout, s.d.CloseTimeout)
	s.l.Debug("close handshake timed out, forcing transport shutdown")
	s.c.delegate.OnError(err)
	s.finish(StateClosed, CloseAbnormalClosure, "")
}

func (s *session) handleControl(opcode frame.Opcode, payload []byte) error {
	switch opcode {
	case frame.OpcodePing:
		s.l.Debug("received ping message", zap.ByteString("data", payload))
		if !s.sentClose {
			framesSent.WithLabelValues(frame.OpcodePong.String()).Inc()
			s.queue.pushControl(frame.Encode(payload, frame.OpcodePong, true))
		}

	case frame.OpcodePong:
		s.l.Debug("received pong message", zap.ByteString("data", payload))

	case frame.OpcodeConnectionClose:
		code, reason, err := parseClosePayload(payload)
		if err != nil {
			return err
		}
		s.l.Debug("received close message", zap.Uint16("code", code.U()), zap.String("reason", reason))

		s.recvClose = true
		s.closeCode, s.closeReason = code, reason

		if !s.sentClose {
			s.setState(StateClosing, nil)
			err = s.queue.discardData()
			if err != nil {
				s.l.Debug("failed to release discarded data", zap.Error(err))
			}
			s.sendClose(code, reason)
		}
	}

	return nil
}

func (s *session) handleMessage(mt MessageType, payload []byte) error {
	if mt == BinaryMessage {
		s.c.delegate.OnBinary(payload)
		return nil
	}

	marker, ok, err := parseFileMarker(payload)
	if err != nil {
		return err
	}
	if !ok {
		s.c.delegate.OnText(string(payload))
		return nil
	}

	if s.recv != nil && s.recv.started {
		return newProtocolError(CloseProtocolError, "file marker for %q received while another file is in flight", marker.Name)
	}
	s.recv = newFileReceiver(s.d.DownloadDir, marker, s.fileReceived, s.l)

	return nil
}

func (s *session) fileSink() fragmentWriter {
	if s.recv == nil || s.recv.started {
		return nil
	}
	s.recv.started = true
	return s.recv
}

func (s *session) fileReceived(path string) error {
	s.recv = nil
	s.c.delegate.OnFile(path)
	return nil
}

// setState moves the client to state to on behalf of s. It reports false if
// s is no longer the client's current session or the move is not allowed.
func (s *session) setState(to State, err error) bool {
	c := s.c

	c.mu.Lock()
	from := c.state
	if c.sess != s || !canTransition(from, to) {
		c.mu.Unlock()
		s.l.Debug("ignoring state transition", zap.Stringer("from", from), zap.Stringer("to", to))
		return false
	}
	c.state = to
	c.err = err
	c.mu.Unlock()

	stateTransitions.WithLabelValues(to.String()).Inc()
	s.l.Debug("state changed", zap.Stringer("from", from), zap.Stringer("to", to))

	return true
}

// transportFailed handles an I/O error. Once the peer's close frame is in,
// the connection counts as closed rather than failed.
func (s *session) transportFailed(err error) {
	if s.recvClose {
		s.finish(StateClosed, s.closeCode, s.closeReason)
		return
	}
	s.fail(err)
}

// finish ends the session cleanly and reports OnClose.
func (s *session) finish(to State, code CloseCode, reason string) {
	if s.finished {
		return
	}
	s.finished = true

	err := s.teardown()

	s.setState(to, nil)
	s.l.Debug("websocket connection closed", zap.Uint16("code", code.U()), zap.String("reason", reason))

	if err != nil {
		s.c.delegate.OnError(err)
	}
	s.c.delegate.OnClose(code, reason)
}

// fail ends the session with err and reports it through OnError, once.
func (s *session) fail(err error) {
	if s.finished {
		return
	}
	s.finished = true

	s.l.Debug("connection fatal error, closing connection", zap.Error(err))

	var pe *ProtocolError
	if errors.As(err, &pe) {
		s.writeCloseNow(pe.Code, pe.Err.Error())
	}

	err = multierr.Append(err, s.teardown())

	s.setState(StateFailed, err)
	s.c.delegate.OnError(err)
}

// writeCloseNow makes a best effort to tell the peer why the connection is
// being dropped. Only possible while the write pump is idle.
func (s *session) writeCloseNow(code CloseCode, message string) {
	if !s.pumping || s.sentClose || s.inFlight != nil || s.queue.head != nil {
		return
	}
	s.sentClose = true

	if len(message) > maxCloseReason {
		message = message[:maxCloseReason]
		for !utf8.ValidString(message) {
			message = message[:len(message)-1]
		}
	}

	conn := s.stream.Conn
	_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
	_, err := conn.Write(frame.Encode(CloseMessageData(code, message), frame.OpcodeConnectionClose, true))
	if err != nil {
		s.l.Debug("failed to send close frame", zap.Error(err))
	}
}

// teardown releases everything the session holds. Errors about interrupted
// file transfers are returned, transport close errors are only logged.
func (s *session) teardown() error {
	close(s.quit)
	s.cancel()

	if s.closeTimer != nil {
		s.closeTimer.Stop()
	}

	s.des.abort()

	err := s.queue.discardData()
	if s.recv != nil {
		err = multierr.Append(err, s.recv.abort())
		s.recv = nil
	}

	closeErr := s.t.Close()
	if closeErr != nil && !errors.Is(closeErr, net.ErrClosed) {
		s.l.Debug("failed to close transport", zap.Error(closeErr))
	}

	return err
}
