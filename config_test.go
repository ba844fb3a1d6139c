package websocket

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewDialerFromEnv(t *testing.T) {
	t.Setenv("WS_FRAGMENT_THRESHOLD", "1024")
	t.Setenv("WS_CLOSE_TIMEOUT", "2s")
	t.Setenv("WS_READ_BUFFER_SIZE", "lots")
	t.Setenv("WS_HANDSHAKE_TIMEOUT", "")
	t.Setenv("WS_DOWNLOAD_DIR", "/srv/downloads")

	d := NewDialerFromEnv()

	if d.FragmentThreshold != 1024 {
		t.Errorf("FragmentThreshold = %d, ERROR expected 1024", d.FragmentThreshold)
	}
	if d.CloseTimeout != 2*time.Second {
		t.Errorf("CloseTimeout = %s, ERROR expected 2s", d.CloseTimeout)
	}
	if d.ReadBufferSize != DefaultReadBufferSize {
		t.Errorf("ReadBufferSize = %d, ERROR expected default for malformed value", d.ReadBufferSize)
	}
	if d.HandshakeTimeout != DefaultHandshakeTimeout {
		t.Errorf("HandshakeTimeout = %s, ERROR expected default for unset value", d.HandshakeTimeout)
	}
	if d.DownloadDir != "/srv/downloads" {
		t.Errorf("DownloadDir = %q, ERROR expected /srv/downloads", d.DownloadDir)
	}
}

func TestDialerDefaults(t *testing.T) {
	t.Setenv("WS_LOG", "")

	d, err := (&Dialer{}).withDefaults()
	if err != nil {
		t.Fatalf("withDefaults(), ERROR returned unexpected error %q", err.Error())
	}

	if d.FragmentThreshold != DefaultFragmentThreshold || d.CloseTimeout != DefaultCloseTimeout ||
		d.WriteTimeout != DefaultWriteTimeout || d.MaxMessageSize != DefaultMaxMessageSize {
		t.Errorf("withDefaults() = %+v, ERROR expected Default* values", d)
	}
	if d.Proxy == nil || d.NetDial == nil || d.Logger == nil || d.DownloadDir == "" {
		t.Errorf("withDefaults() left a nil field, ERROR")
	}
}

func TestLoggerFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ws.log")
	t.Setenv("WS_LOG", "1")
	t.Setenv("WS_LOG_FILE", path)

	l, err := loggerFromEnv()
	if err != nil {
		t.Fatalf("loggerFromEnv(), ERROR returned unexpected error %q", err.Error())
	}
	l.Debug("frame decoded")
	_ = l.Sync()

	content, err := os.ReadFile(path)
	if err != nil || !strings.Contains(string(content), "frame decoded") {
		t.Errorf("log file = (%q, %v), ERROR expected the debug entry", content, err)
	}

	t.Setenv("WS_LOG", "")
	l, err = loggerFromEnv()
	if err != nil || l.Core().Enabled(-1) {
		t.Errorf("loggerFromEnv() without WS_LOG, ERROR expected a no-op logger")
	}
}
