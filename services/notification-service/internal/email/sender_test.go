package email

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/md-rashed-zaman/freelance-notify/libs/breaker"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// smtpStub accepts one message per connection and records the DATA section.
type smtpStub struct {
	ln   net.Listener
	mu   sync.Mutex
	data []string
	rcpt []string
}

func newSMTPStub(t *testing.T) *smtpStub {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &smtpStub{ln: ln}
	go s.serve()
	t.Cleanup(func() { _ = ln.Close() })
	return s
}

func (s *smtpStub) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *smtpStub) handle(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	reply := func(line string) { _, _ = io.WriteString(conn, line+"\r\n") }
	reply("220 stub ESMTP")
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.ToUpper(strings.TrimSpace(line))
		switch {
		case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
			reply("250 stub")
		case strings.HasPrefix(cmd, "MAIL FROM"):
			reply("250 ok")
		case strings.HasPrefix(cmd, "RCPT TO"):
			s.mu.Lock()
			s.rcpt = append(s.rcpt, strings.TrimSpace(line))
			s.mu.Unlock()
			if strings.Contains(cmd, "@NOWHERE") {
				reply("550 no such user")
				continue
			}
			reply("250 ok")
		case cmd == "DATA":
			reply("354 go ahead")
			var buf strings.Builder
			for {
				l, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if l == ".\r\n" {
					break
				}
				buf.WriteString(l)
			}
			s.mu.Lock()
			s.data = append(s.data, buf.String())
			s.mu.Unlock()
			reply("250 queued")
		case cmd == "QUIT":
			reply("221 bye")
			return
		default:
			reply("502 not implemented")
		}
	}
}

func TestSMTPSenderSend(t *testing.T) {
	stub := newSMTPStub(t)
	host, port, err := net.SplitHostPort(stub.ln.Addr().String())
	require.NoError(t, err)

	sender := NewSMTPSender(host, port, "no-reply@freelance.local", 2*time.Second)
	require.NoError(t, sender.Send(context.Background(), "a@x.com", "You were assigned to \"Fix bug\"", "Hello alice"))

	stub.mu.Lock()
	defer stub.mu.Unlock()
	require.Len(t, stub.data, 1)
	assert.Contains(t, stub.rcpt[0], "<a@x.com>")
	assert.Contains(t, stub.data[0], "Subject: You were assigned to \"Fix bug\"\r\n")
	assert.Contains(t, stub.data[0], "Hello alice")
}

func TestSMTPSenderUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	host, port, _ := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, ln.Close())

	sender := NewSMTPSender(host, port, "", 500*time.Millisecond)
	require.Error(t, sender.Send(context.Background(), "a@x.com", "s", "b"))
}

func TestSMTPRejectedRecipientDoesNotOpenBreaker(t *testing.T) {
	stub := newSMTPStub(t)
	host, port, err := net.SplitHostPort(stub.ln.Addr().String())
	require.NoError(t, err)

	b := breaker.New(nil, breaker.Config{Name: "email", Failures: 2, OpenFor: time.Hour, Ignore: IsRecipientRejected})
	sender := WithBreaker(NewSMTPSender(host, port, "", 2*time.Second), b)
	for i := 0; i < 5; i++ {
		err := sender.Send(context.Background(), "typo@nowhere", "s", "b")
		require.ErrorIs(t, err, ErrRecipientRejected)
		assert.Contains(t, err.Error(), "550")
	}
	require.NoError(t, sender.Send(context.Background(), "good@x.com", "s", "b"))
	assert.Equal(t, "closed", b.State())

	stub.mu.Lock()
	defer stub.mu.Unlock()
	require.Len(t, stub.data, 1)
}

func TestBuildMessageFoldsHeaderBreaks(t *testing.T) {
	msg := buildMessage("from@x.com", "a@x.com", "Fix\r\nBcc: evil@x.com", "body")
	assert.Contains(t, msg, "Subject: Fix Bcc: evil@x.com\r\n")
	assert.NotContains(t, msg, "\r\nBcc:")
}

func TestWebhookSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	require.NoError(t, NewWebhookSender(srv.URL, "tok", time.Second).Send(context.Background(), "a@x.com", "subj", "body"))
	assert.Equal(t, map[string]string{"to": "a@x.com", "subject": "subj", "body": "body"}, got)

	err := NewWebhookSender(srv.URL, "wrong", time.Second).Send(context.Background(), "a@x.com", "subj", "body")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")

	require.Error(t, NewWebhookSender("", "", 0).Send(context.Background(), "a@x.com", "s", "b"))
}

func TestWebhookClassifiesRejections(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusUnprocessableEntity)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()
	sender := NewWebhookSender(srv.URL, "", time.Second)

	err := sender.Send(context.Background(), "typo@nowhere", "s", "b")
	require.ErrorIs(t, err, ErrRecipientRejected)

	for _, code := range []int{http.StatusUnauthorized, http.StatusTooManyRequests, http.StatusBadGateway} {
		status.Store(int32(code))
		err = sender.Send(context.Background(), "a@x.com", "s", "b")
		require.Error(t, err)
		assert.False(t, IsRecipientRejected(err), "status %d", code)
	}
}

type failingSender struct{ calls int }

func (f *failingSender) Send(context.Context, string, string, string) error {
	f.calls++
	return errors.New("relay down")
}

func TestSenderBreaker(t *testing.T) {
	inner := &failingSender{}
	s := WithBreaker(inner, breaker.New(nil, breaker.Config{Name: "email", Failures: 2, OpenFor: time.Hour}))
	for i := 0; i < 4; i++ {
		require.Error(t, s.Send(context.Background(), "a@x.com", "s", "b"))
	}
	assert.Equal(t, 2, inner.calls)
}

func TestLogSender(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewLogSender(slog.New(slog.NewJSONHandler(&buf, nil))).Send(context.Background(), "a@x.com", "subj", "body"))
	assert.Contains(t, buf.String(), `"to":"a@x.com"`)
}
