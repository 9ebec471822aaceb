package notify

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSMTP accepts one session and returns the DATA payload on the channel.
func fakeSMTP(t *testing.T) (host string, port int, got <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	out := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		r := bufio.NewReader(conn)
		reply := func(s string) { _, _ = conn.Write([]byte(s + "\r\n")) }

		reply("220 localhost ESMTP")
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			cmd := strings.ToUpper(strings.TrimSpace(line))
			switch {
			case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
				reply("250 localhost")
			case strings.HasPrefix(cmd, "MAIL"), strings.HasPrefix(cmd, "RCPT"):
				reply("250 OK")
			case cmd == "DATA":
				reply("354 go ahead")
				var b strings.Builder
				for {
					l, err := r.ReadString('\n')
					if err != nil {
						return
					}
					if l == ".\r\n" {
						break
					}
					b.WriteString(l)
				}
				out <- b.String()
				reply("250 queued")
			case cmd == "QUIT":
				reply("221 bye")
				return
			default:
				reply("250 OK")
			}
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port, out
}

func TestSMTPSender_Send(t *testing.T) {
	host, port, got := fakeSMTP(t)
	sender, err := NewSMTPSender(SMTPConfig{Host: host, Port: port, From: "registry@example.com"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msg := Render(Event{Kind: EventPublished, PackageID: "com.acme.lib", Version: "1.0.0", ContentHash: "abc", At: time.Now()},
		Recipient{ID: "bob", Email: "bob@example.com"})
	require.NoError(t, sender.Send(ctx, msg))

	select {
	case data := <-got:
		assert.Contains(t, data, "To: bob@example.com")
		assert.Contains(t, data, "Subject: [relreg] com.acme.lib 1.0.0 published")
	case <-ctx.Done():
		t.Fatal("no message received")
	}
}

func TestSMTPSender_RequiresAddress(t *testing.T) {
	_, err := NewSMTPSender(SMTPConfig{})
	assert.Error(t, err)

	sender, err := NewSMTPSender(SMTPConfig{Host: "localhost", From: "x@example.com"})
	require.NoError(t, err)
	assert.ErrorIs(t, sender.Send(context.Background(), Message{To: Recipient{ID: "bob"}}), errNoAddress)
}

func TestSMTPSender_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	sender, err := NewSMTPSender(SMTPConfig{Host: "127.0.0.1", Port: port, From: "x@example.com"})
	require.NoError(t, err)
	err = sender.Send(context.Background(), Message{To: Recipient{Email: "bob@example.com"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp dial 127.0.0.1:"+strconv.Itoa(port))
}
