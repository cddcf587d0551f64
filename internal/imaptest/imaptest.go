// Package imaptest provides a scripted connection for protocol tests.
package imaptest

import (
	"bytes"
	"strings"
)

// Conn is a connection that replays a fixed server script and records what
// the client writes.
//
// Client tags are deterministic (a0001, a0002, ...), so scripts can embed
// tagged replies up front.
type Conn struct {
	r *strings.Reader
	w bytes.Buffer
}

// NewConn creates a connection which will return the given server lines,
// each terminated with CRLF.
func NewConn(lines ...string) *Conn {
	var sb strings.Builder
	for _, l := range lines {
		sb.WriteString(l)
		sb.WriteString("\r\n")
	}
	return &Conn{r: strings.NewReader(sb.String())}
}

func (c *Conn) Read(b []byte) (int, error) {
	return c.r.Read(b)
}

func (c *Conn) Write(b []byte) (int, error) {
	return c.w.Write(b)
}

// Written returns everything the client wrote so far.
func (c *Conn) Written() string {
	return c.w.String()
}

// Lines returns the client lines written so far, without CRLF.
func (c *Conn) Lines() []string {
	s := strings.TrimSuffix(c.w.String(), "\r\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\r\n")
}

// Remaining returns the number of unread script bytes.
func (c *Conn) Remaining() int {
	return c.r.Len()
}
