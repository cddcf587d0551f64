// Package imapclient implements the client side of the IMAP tagged command
// protocol, as needed to authenticate.
//
// A Channel drives one tagged command at a time over an already connected
// transport. Callers send a command, then repeatedly call Step to consume
// server lines until a terminal status is returned.
package imapclient

import (
	"bufio"
	"bytes"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/mailkit/go-imapauth"
	"github.com/mailkit/go-imapauth/internal"
	"github.com/mailkit/go-imapauth/internal/imapwire"
)

// Status is the classification of a server line, as returned by Step.
type Status int

const (
	// StatusContinue means the command is still running: the server sent
	// untagged data, a reply for another tag, or a literal is still arriving.
	StatusContinue Status = iota
	// StatusRespond means the server sent a continuation request and waits
	// for a client line.
	StatusRespond
	StatusOK
	StatusNO
	StatusBAD
)

func (s Status) String() string {
	switch s {
	case StatusContinue:
		return "CONTINUE"
	case StatusRespond:
		return "RESPOND"
	case StatusOK:
		return "OK"
	case StatusNO:
		return "NO"
	case StatusBAD:
		return "BAD"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Terminal reports whether the status completes the in-flight command.
func (s Status) Terminal() bool {
	return s == StatusOK || s == StatusNO || s == StatusBAD
}

// State is the state of a Channel.
type State int

const (
	// StateIdle means no command has been sent yet.
	StateIdle State = iota
	// StateAwaitingContinuation means a command is in flight.
	StateAwaitingContinuation
	// StateDone means the last command has completed.
	StateDone
)

// Options contains options for Channel.
type Options struct {
	// Protocol lines will be written to this writer, if any. Client lines
	// carrying secrets are redacted.
	DebugWriter io.Writer
	// SecurityStrength overrides the detected strength of the transport
	// security layer. Zero means detect from the connection.
	SecurityStrength int
	// Logger defaults to the logrus standard logger.
	Logger logrus.FieldLogger
}

// Channel is an IMAP command channel bound to one connection.
//
// A Channel must not be used from multiple goroutines concurrently.
type Channel struct {
	conn    io.ReadWriter
	options Options
	log     logrus.FieldLogger
	br      *bufio.Reader
	bw      *bufio.Writer

	tagNum         uint64
	tag            string
	state          State
	line           *imapwire.Line
	pendingLiteral int64
	caps           imapauth.CapSet
}

// New creates a new command channel over conn.
//
// This function doesn't perform I/O.
//
// A nil options pointer is equivalent to a zero options value.
func New(conn io.ReadWriter, options *Options) *Channel {
	if options == nil {
		options = &Options{}
	}

	log := options.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &Channel{
		conn:           conn,
		options:        *options,
		log:            log,
		br:             bufio.NewReader(conn),
		bw:             bufio.NewWriter(conn),
		pendingLiteral: -1,
	}
}

// Dial connects to an IMAP server without TLS.
func Dial(address string, timeout time.Duration, options *Options) (*Channel, error) {
	conn, err := net.DialTimeout("tcp", address, timeout)
	if err != nil {
		return nil, err
	}
	return New(conn, options), nil
}

// DialTLS connects to an IMAP server with implicit TLS.
func DialTLS(address string, timeout time.Duration, tlsConfig *tls.Config, options *Options) (*Channel, error) {
	dialer := &net.Dialer{Timeout: timeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", address, tlsConfig)
	if err != nil {
		return nil, err
	}
	return New(conn, options), nil
}

// Close closes the underlying connection, if it can be closed.
func (c *Channel) Close() error {
	if closer, ok := c.conn.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// State returns the state of the channel.
func (c *Channel) State() State {
	return c.state
}

// Tag returns the tag of the in-flight or last command.
func (c *Channel) Tag() string {
	return c.tag
}

// Text returns the text of the last line read by Step. For continuation
// requests, this is the data following "+ ".
func (c *Channel) Text() string {
	if c.line == nil {
		return ""
	}
	return c.line.Text
}

// Code returns the response code of the last line read by Step, e.g.
// "AUTHENTICATIONFAILED".
func (c *Channel) Code() string {
	if c.line == nil {
		return ""
	}
	return c.line.Code
}

// Caps returns the last capabilities announced by the server, or nil if
// none are known.
func (c *Channel) Caps() imapauth.CapSet {
	return c.caps
}

// SetCaps overrides the known capability set.
func (c *Channel) SetCaps(caps imapauth.CapSet) {
	c.caps = caps
}

// SecurityStrength returns the strength of the transport security layer, in
// bits. Zero means the transport is not protected.
func (c *Channel) SecurityStrength() int {
	if c.options.SecurityStrength != 0 {
		return c.options.SecurityStrength
	}
	if conn, ok := c.conn.(*tls.Conn); ok {
		return tlsStrength(conn.ConnectionState())
	}
	return 0
}

// ReadGreeting reads the server greeting.
//
// It reports whether the connection is already authenticated (PREAUTH).
// Capabilities announced in the greeting are recorded.
func (c *Channel) ReadGreeting() (preauth bool, err error) {
	s, err := c.readLine()
	if err != nil {
		return false, err
	}
	line, err := imapwire.ParseLine(s)
	if err != nil {
		return false, errors.Wrap(imapauth.ErrProtocol, err.Error())
	}
	if line.Kind != imapwire.LineUntagged {
		return false, imapauth.ProtocolError("invalid greeting %q", strings.TrimSpace(s))
	}
	c.line = line
	c.handleCaps(line)

	switch line.Type {
	case "OK":
		return false, nil
	case "PREAUTH":
		return true, nil
	case "BYE":
		return false, imapauth.ProtocolError("server refused connection: %v", line.Text)
	default:
		return false, imapauth.ProtocolError("invalid greeting type %q", line.Type)
	}
}

// Send assigns a fresh tag and writes "<tag> <command>\r\n".
func (c *Channel) Send(command string) error {
	return c.send(command, false)
}

// SendSecret is like Send, but the arguments of the command are redacted
// from debug output.
func (c *Channel) SendSecret(command string) error {
	return c.send(command, true)
}

func (c *Channel) send(command string, secret bool) error {
	if c.state == StateAwaitingContinuation {
		return fmt.Errorf("imapclient: command %v still in flight", c.tag)
	}

	c.tagNum++
	c.tag = fmt.Sprintf("a%04d", c.tagNum)
	c.state = StateAwaitingContinuation
	c.line = nil
	c.pendingLiteral = -1

	debug := c.tag + " " + command
	if secret {
		name, _, _ := strings.Cut(command, " ")
		debug = c.tag + " " + name + " [redacted]"
	}
	c.log.WithField("tag", c.tag).Debug("imapclient: sending command")
	return c.writeLine(c.tag+" "+command, debug)
}

// SendLine writes a client line in response to a continuation request.
//
// The line is redacted from debug output: it usually carries SASL data.
func (c *Channel) SendLine(data string) error {
	if c.state != StateAwaitingContinuation {
		return fmt.Errorf("imapclient: no command in flight")
	}
	return c.writeLine(data, "[redacted]")
}

func (c *Channel) writeLine(s, debug string) error {
	if c.options.DebugWriter != nil {
		fmt.Fprintf(c.options.DebugWriter, "C: %v\r\n", debug)
	}
	if _, err := c.bw.WriteString(s + "\r\n"); err != nil {
		return errors.Wrap(err, "imapclient: write")
	}
	if err := c.bw.Flush(); err != nil {
		return errors.Wrap(err, "imapclient: write")
	}
	return nil
}

func (c *Channel) readLine() (string, error) {
	s, err := c.br.ReadString('\n')
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return "", errors.Wrap(err, "imapclient: read")
	}
	if c.options.DebugWriter != nil {
		fmt.Fprintf(c.options.DebugWriter, "S: %v", s)
	}
	return s, nil
}

// Step reads exactly one line from the server and classifies it.
//
// Callers performing a multi-step exchange must loop while Step returns
// StatusContinue. A line that cannot be parsed is reported as StatusBAD and
// completes the command.
func (c *Channel) Step() (Status, error) {
	if c.state != StateAwaitingContinuation {
		return StatusBAD, fmt.Errorf("imapclient: no command in flight")
	}

	if c.pendingLiteral >= 0 {
		if _, err := io.CopyN(io.Discard, c.br, c.pendingLiteral); err != nil {
			return StatusBAD, errors.Wrap(err, "imapclient: read literal")
		}
		s, err := c.readLine()
		if err != nil {
			return StatusBAD, err
		}
		c.pendingLiteral = imapwire.LiteralSize(s)
		return StatusContinue, nil
	}

	s, err := c.readLine()
	if err != nil {
		return StatusBAD, err
	}

	line, err := imapwire.ParseLine(s)
	if err != nil {
		c.log.WithError(err).Warn("imapclient: unparseable server line")
		c.line = &imapwire.Line{Text: strings.TrimSpace(s), Literal: -1}
		c.state = StateDone
		return StatusBAD, nil
	}
	c.line = line
	c.pendingLiteral = line.Literal

	switch line.Kind {
	case imapwire.LineContinuation:
		return StatusRespond, nil
	case imapwire.LineUntagged:
		c.handleCaps(line)
		if line.Type == "BYE" {
			c.state = StateDone
			return StatusBAD, nil
		}
		return StatusContinue, nil
	}

	if line.Tag != c.tag {
		c.log.WithField("tag", line.Tag).Debug("imapclient: ignoring reply for unknown tag")
		return StatusContinue, nil
	}

	c.handleCaps(line)
	c.state = StateDone
	switch line.Type {
	case "OK":
		return StatusOK, nil
	case "NO":
		return StatusNO, nil
	default:
		return StatusBAD, nil
	}
}

// Wait calls Step until it returns something other than StatusContinue.
func (c *Channel) Wait() (Status, error) {
	for {
		st, err := c.Step()
		if err != nil || st != StatusContinue {
			return st, err
		}
	}
}

// Exec sends a command and waits for it to complete or request a
// continuation.
func (c *Channel) Exec(command string) (Status, error) {
	if err := c.Send(command); err != nil {
		return StatusBAD, err
	}
	return c.Wait()
}

// Abort cancels the in-flight AUTHENTICATE exchange by sending "*", then
// drains the channel up to the terminal reply.
func (c *Channel) Abort() (Status, error) {
	if err := c.SendLine(internal.SASLAbort); err != nil {
		return StatusBAD, err
	}
	for {
		st, err := c.Wait()
		if err != nil || st.Terminal() {
			return st, err
		}
		// Server insists on more data, keep cancelling
		if err := c.SendLine(internal.SASLAbort); err != nil {
			return StatusBAD, err
		}
	}
}

// Capability sends a CAPABILITY command and returns the capabilities.
func (c *Channel) Capability() (imapauth.CapSet, error) {
	st, err := c.Exec("CAPABILITY")
	if err != nil {
		return nil, err
	}
	if st != StatusOK {
		return nil, imapauth.ProtocolError("CAPABILITY failed: %v %v", st, c.Text())
	}
	if c.caps == nil {
		c.caps = imapauth.CapSet{}
	}
	return c.caps, nil
}

func (c *Channel) handleCaps(line *imapwire.Line) {
	var list string
	switch {
	case line.Kind == imapwire.LineUntagged && line.Type == "CAPABILITY":
		list = line.Text
	case line.Code == "CAPABILITY":
		list = line.CodeArgs
	default:
		return
	}
	c.caps = imapauth.NewCapSet(strings.Fields(list)...)
}

// StartTLS sends a STARTTLS command and upgrades the connection.
//
// Known capabilities are discarded, as required by RFC 9051.
func (c *Channel) StartTLS(config *tls.Config) error {
	st, err := c.Exec("STARTTLS")
	if err != nil {
		return err
	}
	if st != StatusOK {
		return imapauth.ProtocolError("STARTTLS failed: %v %v", st, c.Text())
	}

	conn, ok := c.conn.(net.Conn)
	if !ok {
		return fmt.Errorf("imapclient: STARTTLS requires a net.Conn")
	}

	// Drain buffered data from our bufio.Reader
	var buf bytes.Buffer
	if _, err := io.CopyN(&buf, c.br, int64(c.br.Buffered())); err != nil {
		panic(err) // unreachable
	}

	var cleartextConn net.Conn
	if buf.Len() > 0 {
		r := io.MultiReader(&buf, conn)
		cleartextConn = startTLSConn{conn, r}
	} else {
		cleartextConn = conn
	}

	tlsConn := tls.Client(cleartextConn, config)
	if err := tlsConn.Handshake(); err != nil {
		return errors.Wrap(err, "imapclient: TLS handshake")
	}

	c.conn = tlsConn
	c.br.Reset(tlsConn)
	c.bw.Reset(tlsConn)
	c.caps = nil
	return nil
}

type startTLSConn struct {
	net.Conn
	r io.Reader
}

func (conn startTLSConn) Read(b []byte) (int, error) {
	return conn.r.Read(b)
}

// tlsStrength returns the symmetric key strength of the negotiated cipher
// suite, in bits.
func tlsStrength(state tls.ConnectionState) int {
	if !state.HandshakeComplete {
		return 0
	}
	name := tls.CipherSuiteName(state.CipherSuite)
	switch {
	case strings.Contains(name, "AES_256"), strings.Contains(name, "CHACHA20"):
		return 256
	case strings.Contains(name, "AES_128"):
		return 128
	case strings.Contains(name, "3DES"):
		return 112
	default:
		return 1
	}
}
