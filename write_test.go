package websocket

import (
	"errors"
	"testing"
)

type scriptedJob struct {
	frames  []string
	err     error
	aborted bool
}

func (j *scriptedJob) next() ([]byte, error) {
	if len(j.frames) == 0 {
		if j.err != nil {
			return nil, j.err
		}
		return nil, nil
	}
	b := []byte(j.frames[0])
	j.frames = j.frames[1:]
	return b, nil
}

func (j *scriptedJob) abort() error {
	j.aborted = true
	return nil
}

func popAll(t *testing.T, q *sendQueue) []string {
	t.Helper()

	var out []string
	for {
		b, err := q.pop()
		if err != nil {
			t.Fatalf("pop(), ERROR returned unexpected error %q", err.Error())
		}
		if b == nil {
			return out
		}
		out = append(out, string(b))
	}
}

func TestSendQueueOrder(t *testing.T) {
	q := &sendQueue{}

	q.pushJob(&scriptedJob{frames: []string{"a1", "a2"}})
	q.pushJob(&scriptedJob{frames: []string{"b1"}})
	q.pushControl([]byte("ping"))

	first, _ := q.pop()
	if string(first) != "ping" {
		t.Errorf("first pop() = %q, ERROR expected control frame first", first)
	}

	second, _ := q.pop()
	q.requeue(second[1:])
	q.pushControl([]byte("pong"))

	actual := popAll(t, q)
	expected := []string{"1", "pong", "a2", "b1"}
	if len(actual) != len(expected) {
		t.Fatalf("pop order = %q, ERROR expected %q", actual, expected)
	}
	for i := range expected {
		if actual[i] != expected[i] {
			t.Errorf("pop order = %q, ERROR expected %q", actual, expected)
			break
		}
	}

	if !q.empty() {
		t.Errorf("queue not empty after draining, ERROR")
	}
}

func TestSendQueueDiscardData(t *testing.T) {
	q := &sendQueue{}
	job := &scriptedJob{frames: []string{"d1", "d2"}}

	q.pushJob(job)
	q.requeue([]byte("half"))
	q.pushControl([]byte("close"))

	err := q.discardData()
	if err != nil {
		t.Errorf("discardData(), ERROR returned unexpected error %q", err.Error())
	}
	if !job.aborted {
		t.Errorf("discarded job was not aborted, ERROR")
	}

	actual := popAll(t, q)
	if len(actual) != 2 || actual[0] != "half" || actual[1] != "close" {
		t.Errorf("pop after discard = %q, ERROR expected [half close]", actual)
	}
}

func TestSendQueueJobError(t *testing.T) {
	q := &sendQueue{}
	broken := errors.New("disk gone")
	job := &scriptedJob{frames: []string{"x"}, err: broken}
	q.pushJob(job)

	b, err := q.pop()
	if err != nil || string(b) != "x" {
		t.Fatalf("pop() = (%q, %v), ERROR expected first frame", b, err)
	}

	_, err = q.pop()
	if !errors.Is(err, broken) || !job.aborted {
		t.Errorf("pop() error = %v, aborted = %v, ERROR expected job error and abort", err, job.aborted)
	}
	if !q.empty() {
		t.Errorf("failed job left in the queue, ERROR")
	}
}

func TestMailbox(t *testing.T) {
	m := newMailbox()

	m.post(command{kind: cmdSendText, text: "a"})
	m.post(command{kind: cmdSendText, text: "b"})
	m.post(command{kind: cmdDisconnect, reason: "bye"})

	select {
	case <-m.notify:
	default:
		t.Fatalf("mailbox did not notify")
	}

	cmds := m.drain()
	if len(cmds) != 3 || cmds[0].text != "a" || cmds[1].text != "b" || cmds[2].kind != cmdDisconnect {
		t.Errorf("drain() = %+v, ERROR expected commands in post order", cmds)
	}

	if cmds := m.drain(); len(cmds) != 0 {
		t.Errorf("second drain() = %+v, ERROR expected nothing", cmds)
	}
}

func TestMailboxClose(t *testing.T) {
	m := newMailbox()

	m.post(command{kind: cmdSendText, text: "a"})
	m.post(command{kind: cmdSendFile})

	left := m.close()
	if len(left) != 2 || left[1].kind != cmdSendFile {
		t.Errorf("close() = %+v, ERROR expected the two undrained commands", left)
	}

	if m.post(command{kind: cmdSendText, text: "late"}) {
		t.Errorf("post() after close = true, ERROR expected false")
	}
	if cmds := m.drain(); len(cmds) != 0 {
		t.Errorf("drain() after close = %+v, ERROR expected nothing", cmds)
	} else {
		t.Logf("closed mailbox refuses commands, OK")
	}
}
