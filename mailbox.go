package websocket

import "sync"

type commandKind uint8

const (
	cmdSendText commandKind = iota
	cmdSendFile
	cmdDisconnect
	cmdAbort
)

type command struct {
	kind   commandKind
	text   string
	file   *fileSender
	reason string
}

// mailbox carries commands from callers to the session's event loop.
// post never blocks, so it is safe to call from delegate callbacks.
type mailbox struct {
	mu     sync.Mutex
	cmds   []command
	closed bool
	notify chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{notify: make(chan struct{}, 1)}
}

// post reports false once the mailbox is closed. The command is not queued
// then, and whatever it carries stays with the caller.
func (m *mailbox) post(cmd command) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.cmds = append(m.cmds, cmd)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return true
}

func (m *mailbox) drain() []command {
	m.mu.Lock()
	defer m.mu.Unlock()

	cmds := m.cmds
	m.cmds = nil
	return cmds
}

// close refuses further commands and returns the ones never drained.
func (m *mailbox) close() []command {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	cmds := m.cmds
	m.cmds = nil
	return cmds
}
