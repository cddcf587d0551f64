package imapclient_test

import (
	"bufio"
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"io"
	"math/big"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailkit/go-imapauth"
	"github.com/mailkit/go-imapauth/imapclient"
	"github.com/mailkit/go-imapauth/internal/imaptest"
)

func TestChannel_Send(t *testing.T) {
	conn := imaptest.NewConn("a0001 OK done", "a0002 OK done")
	c := imapclient.New(conn, nil)

	assert.Equal(t, imapclient.StateIdle, c.State())

	require.NoError(t, c.Send("NOOP"))
	assert.Equal(t, imapclient.StateAwaitingContinuation, c.State())
	assert.Error(t, c.Send("NOOP"), "Send() with a command in flight")

	st, err := c.Step()
	require.NoError(t, err)
	assert.Equal(t, imapclient.StatusOK, st)
	assert.Equal(t, imapclient.StateDone, c.State())

	require.NoError(t, c.Send("LOGOUT"))
	assert.Equal(t, []string{"a0001 NOOP", "a0002 LOGOUT"}, conn.Lines())
}

func TestChannel_Step(t *testing.T) {
	conn := imaptest.NewConn(
		"* 3 EXISTS",
		"x9 OK stale reply",
		"+ aGVsbG8=",
		"* 1 FETCH (BODY[] {12}",
		"hello\r\nworld)",
		"a0001 NO [AUTHENTICATIONFAILED] nope",
	)
	c := imapclient.New(conn, nil)
	require.NoError(t, c.Send("AUTHENTICATE PLAIN"))

	want := []imapclient.Status{
		imapclient.StatusContinue,
		imapclient.StatusContinue,
		imapclient.StatusRespond,
		imapclient.StatusContinue,
		imapclient.StatusContinue,
		imapclient.StatusNO,
	}
	for i, w := range want {
		st, err := c.Step()
		require.NoErrorf(t, err, "Step() #%v", i)
		assert.Equalf(t, w, st, "Step() #%v", i)
		if st == imapclient.StatusRespond {
			assert.Equal(t, "aGVsbG8=", c.Text())
		}
	}
	assert.Equal(t, "AUTHENTICATIONFAILED", c.Code())
	assert.Equal(t, "nope", c.Text())
	assert.Zero(t, conn.Remaining())
}

func TestChannel_Step_terminal(t *testing.T) {
	tests := []struct {
		reply string
		want  imapclient.Status
	}{
		{"a0001 OK done", imapclient.StatusOK},
		{"a0001 ok done", imapclient.StatusOK},
		{"a0001 NO failed", imapclient.StatusNO},
		{"a0001 BAD syntax", imapclient.StatusBAD},
		{"a0001 WHAT is this", imapclient.StatusBAD},
		{"!!garbage", imapclient.StatusBAD},
		{"* BYE shutting down", imapclient.StatusBAD},
	}
	for _, tc := range tests {
		c := imapclient.New(imaptest.NewConn(tc.reply), nil)
		require.NoError(t, c.Send("NOOP"))

		st, err := c.Wait()
		require.NoError(t, err)
		assert.Equalf(t, tc.want, st, "reply %q", tc.reply)
		assert.Equal(t, imapclient.StateDone, c.State())
	}
}

func TestChannel_Step_statusText(t *testing.T) {
	conn := imaptest.NewConn("* OK [ALERT] quota {3}", "a0001 OK done")
	c := imapclient.New(conn, nil)
	require.NoError(t, c.Send("NOOP"))

	st, err := c.Wait()
	require.NoError(t, err)
	assert.Equal(t, imapclient.StatusOK, st)
	assert.Equal(t, "done", c.Text())
}

func TestChannel_Step_eof(t *testing.T) {
	c := imapclient.New(imaptest.NewConn("* OK partial"), nil)
	require.NoError(t, c.Send("NOOP"))

	_, err := c.Wait()
	require.Error(t, err)
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
}

func TestChannel_Step_idle(t *testing.T) {
	c := imapclient.New(imaptest.NewConn(), nil)
	_, err := c.Step()
	assert.Error(t, err)
}

func TestChannel_ReadGreeting(t *testing.T) {
	c := imapclient.New(imaptest.NewConn("* OK [CAPABILITY IMAP4rev1 SASL-IR AUTH=GSSAPI] ready"), nil)
	preauth, err := c.ReadGreeting()
	require.NoError(t, err)
	assert.False(t, preauth)
	assert.True(t, c.Caps().Has(imapauth.CapAuthGSSAPI))
	assert.True(t, c.Caps().Has(imapauth.CapSASLIR))

	c = imapclient.New(imaptest.NewConn("* PREAUTH welcome back"), nil)
	preauth, err = c.ReadGreeting()
	require.NoError(t, err)
	assert.True(t, preauth)
	assert.Nil(t, c.Caps())

	c = imapclient.New(imaptest.NewConn("* BYE go away"), nil)
	_, err = c.ReadGreeting()
	assert.True(t, errors.Is(err, imapauth.ErrProtocol))
}

func TestChannel_Capability(t *testing.T) {
	conn := imaptest.NewConn(
		"* CAPABILITY IMAP4rev1 AUTH=PLAIN LOGINDISABLED",
		"a0001 OK CAPABILITY completed",
		"a0002 OK [CAPABILITY IMAP4rev2 AUTH=OAUTHBEARER] done",
	)
	c := imapclient.New(conn, nil)

	caps, err := c.Capability()
	require.NoError(t, err)
	assert.True(t, caps.Has(imapauth.CapAuthPlain))
	assert.True(t, caps.Has(imapauth.CapLoginDisabled))

	st, err := c.Exec("NOOP")
	require.NoError(t, err)
	assert.Equal(t, imapclient.StatusOK, st)
	assert.True(t, c.Caps().Has(imapauth.CapAuthOAuthBearer))
	assert.False(t, c.Caps().Has(imapauth.CapAuthPlain))
}

func TestChannel_Abort(t *testing.T) {
	conn := imaptest.NewConn(
		"+ ",
		"+ ",
		"a0001 BAD AUTHENTICATE cancelled",
	)
	c := imapclient.New(conn, nil)
	require.NoError(t, c.Send("AUTHENTICATE X-UNKNOWN"))

	st, err := c.Wait()
	require.NoError(t, err)
	require.Equal(t, imapclient.StatusRespond, st)

	st, err = c.Abort()
	require.NoError(t, err)
	assert.Equal(t, imapclient.StatusBAD, st)
	assert.Equal(t, []string{"a0001 AUTHENTICATE X-UNKNOWN", "*", "*"}, conn.Lines())
}

func TestChannel_DebugWriter(t *testing.T) {
	var debug bytes.Buffer
	conn := imaptest.NewConn("+ ", "a0001 OK done")
	c := imapclient.New(conn, &imapclient.Options{DebugWriter: &debug})

	require.NoError(t, c.SendSecret("AUTHENTICATE PLAIN AHVzZXIAcGFzcw=="))
	_, err := c.Wait()
	require.NoError(t, err)
	require.NoError(t, c.SendLine("c2VjcmV0"))
	_, err = c.Wait()
	require.NoError(t, err)

	out := debug.String()
	assert.Contains(t, out, "C: a0001 AUTHENTICATE [redacted]")
	assert.Contains(t, out, "S: a0001 OK done")
	assert.False(t, strings.Contains(out, "AHVzZXIAcGFzcw=="), "debug output leaks the initial response")
	assert.False(t, strings.Contains(out, "c2VjcmV0"), "debug output leaks the continuation data")
}

func TestChannel_SecurityStrength(t *testing.T) {
	c := imapclient.New(imaptest.NewConn(), nil)
	assert.Zero(t, c.SecurityStrength())

	c = imapclient.New(imaptest.NewConn(), &imapclient.Options{SecurityStrength: 256})
	assert.Equal(t, 256, c.SecurityStrength())
}

// newTestTLS returns a server configuration with a self-signed certificate
// for imap.example.com, and a client configuration trusting it. TLS 1.2
// with a fixed cipher suite keeps the negotiated strength deterministic.
func newTestTLS(t *testing.T) (server, client *tls.Config) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "imap.example.com"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"imap.example.com"},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	pool := x509.NewCertPool()
	pool.AddCert(cert)

	server = &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key}},
		MinVersion:   tls.VersionTLS12,
		MaxVersion:   tls.VersionTLS12,
		CipherSuites: []uint16{tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256},
	}
	client = &tls.Config{
		RootCAs:    pool,
		ServerName: "imap.example.com",
	}
	return server, client
}

func expectLine(br *bufio.Reader, want string) error {
	line, err := br.ReadString('\n')
	if err != nil {
		return err
	}
	if line != want+"\r\n" {
		return fmt.Errorf("got client line %q, want %q", line, want)
	}
	return nil
}

func TestChannel_StartTLS(t *testing.T) {
	serverTLS, clientTLS := newTestTLS(t)
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	done := make(chan error, 1)
	go func() {
		defer serverConn.Close()
		done <- func() error {
			if _, err := io.WriteString(serverConn, "* OK [CAPABILITY IMAP4rev1 STARTTLS LOGINDISABLED] ready\r\n"); err != nil {
				return err
			}
			if err := expectLine(bufio.NewReader(serverConn), "a0001 STARTTLS"); err != nil {
				return err
			}
			if _, err := io.WriteString(serverConn, "a0001 OK begin TLS negotiation now\r\n"); err != nil {
				return err
			}

			tlsConn := tls.Server(serverConn, serverTLS)
			if err := expectLine(bufio.NewReader(tlsConn), "a0002 CAPABILITY"); err != nil {
				return err
			}
			_, err := io.WriteString(tlsConn, "* CAPABILITY IMAP4rev1 SASL-IR AUTH=PLAIN AUTH=OAUTHBEARER\r\n"+
				"a0002 OK CAPABILITY completed\r\n")
			return err
		}()
	}()

	c := imapclient.New(clientConn, nil)
	preauth, err := c.ReadGreeting()
	require.NoError(t, err)
	require.False(t, preauth)
	assert.True(t, c.Caps().Has(imapauth.CapLoginDisabled))
	assert.Zero(t, c.SecurityStrength())

	require.NoError(t, c.StartTLS(clientTLS))
	assert.Nil(t, c.Caps(), "capabilities kept across STARTTLS")
	assert.Equal(t, 128, c.SecurityStrength())

	caps, err := c.Capability()
	require.NoError(t, err)
	assert.True(t, caps.Has(imapauth.CapAuthOAuthBearer))
	assert.True(t, caps.Has(imapauth.CapSASLIR))
	assert.False(t, caps.Has(imapauth.CapLoginDisabled))

	require.NoError(t, <-done)
}

func TestChannel_StartTLS_bufferedData(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	go func() {
		defer serverConn.Close()
		if err := expectLine(bufio.NewReader(serverConn), "a0001 STARTTLS"); err != nil {
			return
		}
		// The reply and a fatal handshake_failure alert record arrive in
		// the same read
		io.WriteString(serverConn, "a0001 OK begin TLS\r\n\x15\x03\x03\x00\x02\x02\x28")
		io.Copy(io.Discard, serverConn)
	}()

	c := imapclient.New(clientConn, nil)
	err := c.StartTLS(&tls.Config{ServerName: "imap.example.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handshake failure")
}

func TestChannel_StartTLS_refused(t *testing.T) {
	c := imapclient.New(imaptest.NewConn("a0001 NO [PRIVACYREQUIRED] not now"), nil)
	err := c.StartTLS(&tls.Config{})
	assert.True(t, errors.Is(err, imapauth.ErrProtocol))
}
