package bodycache_test

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailkit/go-imapauth"
	"github.com/mailkit/go-imapauth/bodycache"
)

var testAccount = &imapauth.Account{
	Type: imapauth.AccountIMAP,
	Host: "imap.example.com",
	Port: 993,
	User: "bob",
	TLS:  true,
}

type countingMetrics struct {
	hits, misses, puts, commits, deletes int
}

func (m *countingMetrics) ObserveGet(hit bool) {
	if hit {
		m.hits++
	} else {
		m.misses++
	}
}

func (m *countingMetrics) RecordPut()    { m.puts++ }
func (m *countingMetrics) RecordCommit() { m.commits++ }
func (m *countingMetrics) RecordDelete() { m.deletes++ }

func openMem(t *testing.T, mailbox string) (*bodycache.Cache, afero.Fs) {
	fs := afero.NewMemMapFs()
	c, err := bodycache.Open("/cache", testAccount, mailbox, &bodycache.Options{Fs: fs})
	require.NoError(t, err)
	return c, fs
}

func write(t *testing.T, c *bodycache.Cache, id string, temporary bool, body string) {
	f, err := c.Put(id, temporary)
	require.NoError(t, err)
	_, err = io.WriteString(f, body)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func read(t *testing.T, c *bodycache.Cache, id string) string {
	f, ok, err := c.Get(id)
	require.NoError(t, err)
	require.True(t, ok, "Get(%q) reports absent body", id)
	defer f.Close()
	b, err := io.ReadAll(f)
	require.NoError(t, err)
	return string(b)
}

func TestOpen_path(t *testing.T) {
	tests := []struct {
		mailbox string
		want    string
	}{
		{"INBOX", "/cache/imaps:bob@imap.example.com:993/INBOX/"},
		{"", "/cache/imaps:bob@imap.example.com:993/"},
		{"Archive/2024", "/cache/imaps:bob@imap.example.com:993/Archive/2024/"},
		{"Entwürfe", "/cache/imaps:bob@imap.example.com:993/Entw&APw-rfe/"},
		{"a//b/", "/cache/imaps:bob@imap.example.com:993/a/b/"},
		{"../etc", "/cache/imaps:bob@imap.example.com:993/%2E%2E/etc/"},
		{"with space", "/cache/imaps:bob@imap.example.com:993/with%20space/"},
	}
	for _, tc := range tests {
		t.Run(tc.mailbox, func(t *testing.T) {
			c, err := bodycache.Open("/cache", testAccount, tc.mailbox, &bodycache.Options{Fs: afero.NewMemMapFs()})
			require.NoError(t, err)
			assert.Equal(t, tc.want, c.Path())
		})
	}
}

func TestOpen_normalization(t *testing.T) {
	fs := afero.NewMemMapFs()
	composed, err := bodycache.Open("/cache", testAccount, "Entwürfe", &bodycache.Options{Fs: fs})
	require.NoError(t, err)
	decomposed, err := bodycache.Open("/cache", testAccount, "Entwu\u0308rfe", &bodycache.Options{Fs: fs})
	require.NoError(t, err)
	assert.Equal(t, composed.Path(), decomposed.Path())
}

func TestOpen_configError(t *testing.T) {
	_, err := bodycache.Open("", testAccount, "INBOX", nil)
	assert.True(t, errors.Is(err, imapauth.ErrConfig))

	_, err = bodycache.Open("/cache", &imapauth.Account{Type: imapauth.AccountIMAP}, "INBOX", nil)
	assert.True(t, errors.Is(err, imapauth.ErrConfig))
}

func TestCache_roundTrip(t *testing.T) {
	m := &countingMetrics{}
	c, err := bodycache.Open("/cache", testAccount, "INBOX", &bodycache.Options{
		Fs:      afero.NewMemMapFs(),
		Metrics: m,
	})
	require.NoError(t, err)

	_, ok, err := c.Get("1-42")
	require.NoError(t, err)
	assert.False(t, ok)

	write(t, c, "1-42", true, "Subject: hi\r\n\r\nbody\r\n")

	_, ok, err = c.Get("1-42")
	require.NoError(t, err)
	assert.False(t, ok, "uncommitted body is visible")

	require.NoError(t, c.Commit("1-42"))
	assert.Equal(t, "Subject: hi\r\n\r\nbody\r\n", read(t, c, "1-42"))

	exists, err := c.Exists("1-42")
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = c.Exists("1-42.tmp")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, c.Delete("1-42"))
	require.NoError(t, c.Delete("1-42"), "deleting an absent body")
	exists, err = c.Exists("1-42")
	require.NoError(t, err)
	assert.False(t, exists)

	assert.Equal(t, &countingMetrics{hits: 1, misses: 2, puts: 1, commits: 1, deletes: 2}, m)
}

func TestCache_Move(t *testing.T) {
	c, _ := openMem(t, "INBOX")
	write(t, c, "old", false, "data")

	require.NoError(t, c.Move("old", "new"))
	assert.Equal(t, "data", read(t, c, "new"))
	_, ok, err := c.Get("old")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Error(t, c.Move("missing", "other"))
}

func TestCache_Put_staleFile(t *testing.T) {
	c, fs := openMem(t, "INBOX")
	require.NoError(t, afero.WriteFile(fs, c.Path()+"7.tmp", []byte("partial garbage"), 0600))

	write(t, c, "7", true, "fresh")
	require.NoError(t, c.Commit("7"))
	assert.Equal(t, "fresh", read(t, c, "7"))
}

func TestCache_Exists_empty(t *testing.T) {
	c, _ := openMem(t, "INBOX")
	write(t, c, "empty", false, "")

	exists, err := c.Exists("empty")
	require.NoError(t, err)
	assert.False(t, exists)

	_, ok, err := c.Get("empty")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCache_List(t *testing.T) {
	c, _ := openMem(t, "INBOX")

	_, err := c.List(func(string) error { return nil })
	assert.Error(t, err, "List() on a missing directory")

	for _, id := range []string{"1", "2", "3"} {
		write(t, c, id, false, "x")
	}
	write(t, c, "4", true, "x")

	var ids []string
	n, err := c.List(func(id string) error {
		ids = append(ids, id)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	sort.Strings(ids)
	assert.Equal(t, []string{"1", "2", "3", "4.tmp"}, ids)

	stop := errors.New("stop")
	calls := 0
	_, err = c.List(func(id string) error {
		calls++
		return stop
	})
	assert.Equal(t, stop, err)
	assert.Equal(t, 1, calls)
}

func TestCache_invalidID(t *testing.T) {
	c, _ := openMem(t, "INBOX")
	for _, id := range []string{"", "/etc/passwd", "../other/1"} {
		_, err := c.Put(id, false)
		assert.Errorf(t, err, "Put(%q)", id)
		_, _, err = c.Get(id)
		assert.Errorf(t, err, "Get(%q)", id)
	}
}

func TestCache_os(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "imaps:bob@imap.example.com:993", "Archive", "sibling"), 0700))

	c, err := bodycache.Open(root, testAccount, "Archive/2024/Q1", nil)
	require.NoError(t, err)

	write(t, c, "9", true, "on disk")
	require.NoError(t, c.Commit("9"))
	assert.Equal(t, "on disk", read(t, c, "9"))

	fi, err := os.Stat(filepath.Join(root, "imaps:bob@imap.example.com:993", "Archive", "2024", "Q1"))
	require.NoError(t, err)
	assert.True(t, fi.IsDir())
	assert.Equal(t, os.FileMode(0700), fi.Mode().Perm())

	_, err = os.Stat(filepath.Join(root, "imaps:bob@imap.example.com:993", "Archive", "sibling"))
	assert.NoError(t, err, "sibling directory disturbed")

	// Commit replaces an existing body
	write(t, c, "9", true, "replaced")
	require.NoError(t, c.Commit("9"))
	assert.Equal(t, "replaced", read(t, c, "9"))

	n, err := c.List(func(string) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
