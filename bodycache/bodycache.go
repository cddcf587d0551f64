// Package bodycache stores downloaded message bodies on disk, so that they
// don't need to be fetched again.
//
// Bodies are stored in one directory per account and mailbox, one file per
// message. Writes go to a temporary file first and are made visible with an
// atomic rename by Commit.
package bodycache

import (
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/text/unicode/norm"

	"github.com/mailkit/go-imapauth"
	"github.com/mailkit/go-imapauth/utf7"
)

const tmpSuffix = ".tmp"

const (
	fileMode os.FileMode = 0600
	dirMode  os.FileMode = 0700
)

// Metrics records cache operations.
type Metrics interface {
	ObserveGet(hit bool)
	RecordPut()
	RecordCommit()
	RecordDelete()
}

type noopMetrics struct{}

func (noopMetrics) ObserveGet(bool) {}
func (noopMetrics) RecordPut()      {}
func (noopMetrics) RecordCommit()   {}
func (noopMetrics) RecordDelete()   {}

// Options contains options for Open.
type Options struct {
	// Fs defaults to the OS filesystem.
	Fs      afero.Fs
	Metrics Metrics
	Logger  logrus.FieldLogger
}

// Cache is the body cache of one mailbox.
//
// Cache does no locking. Concurrent writers of the same id resolve
// last-writer-wins.
type Cache struct {
	fs      afero.Fs
	path    string
	metrics Metrics
	log     logrus.FieldLogger
}

// Open returns the cache for a mailbox of an account. Mailbox hierarchy
// levels are separated with '/'. The directory is created lazily by Put.
func Open(root string, account *imapauth.Account, mailbox string, options *Options) (*Cache, error) {
	if root == "" {
		return nil, imapauth.ConfigError("no body cache directory configured")
	}
	if account == nil || account.Host == "" {
		return nil, imapauth.ConfigError("body cache: account has no host")
	}
	if options == nil {
		options = &Options{}
	}

	mbox, err := encodeMailbox(mailbox)
	if err != nil {
		return nil, errors.Wrapf(err, "bodycache: invalid mailbox name %q", mailbox)
	}

	p := path.Join(root, encodeAccount(account), mbox) + "/"

	c := &Cache{
		fs:      options.Fs,
		path:    p,
		metrics: options.Metrics,
		log:     options.Logger,
	}
	if c.fs == nil {
		c.fs = afero.NewOsFs()
	}
	if c.metrics == nil {
		c.metrics = noopMetrics{}
	}
	if c.log == nil {
		c.log = logrus.StandardLogger()
	}
	c.log = c.log.WithFields(logrus.Fields{
		"account": account.Redacted(),
		"mailbox": mailbox,
	})
	return c, nil
}

// encodeAccount turns the account URL into a single path segment, for
// instance "imaps:bob@imap.example.com:993".
func encodeAccount(a *imapauth.Account) string {
	u := a.URL(true)
	return u.Scheme + ":" + u.User.String() + "@" + url.PathEscape(u.Host)
}

// encodeMailbox returns the relative directory of a mailbox. Each level is
// normalized, converted to modified UTF-7 and escaped.
func encodeMailbox(name string) (string, error) {
	enc, err := utf7.Encoding.NewEncoder().String(norm.NFC.String(name))
	if err != nil {
		return "", err
	}

	var elems []string
	for _, elem := range strings.Split(enc, "/") {
		switch elem {
		case "":
			continue
		case ".", "..":
			elem = strings.Repeat("%2E", len(elem))
		default:
			elem = url.PathEscape(elem)
		}
		elems = append(elems, elem)
	}
	return strings.Join(elems, "/"), nil
}

// Path returns the directory of the cache, with a trailing separator.
func (c *Cache) Path() string {
	return c.path
}

func (c *Cache) filename(id string) (string, error) {
	if id == "" || strings.HasPrefix(id, "/") {
		return "", errors.Errorf("bodycache: invalid id %q", id)
	}
	for _, elem := range strings.Split(id, "/") {
		if elem == ".." {
			return "", errors.Errorf("bodycache: invalid id %q", id)
		}
	}
	return c.path + id, nil
}

// Get opens a cached body for reading. If the body is not cached, ok is
// false and err is nil.
func (c *Cache) Get(id string) (f afero.File, ok bool, err error) {
	name, err := c.filename(id)
	if err != nil {
		return nil, false, err
	}

	f, err = c.fs.Open(name)
	if os.IsNotExist(err) {
		c.metrics.ObserveGet(false)
		return nil, false, nil
	} else if err != nil {
		return nil, false, errors.Wrap(err, "bodycache: get")
	}
	c.metrics.ObserveGet(true)
	return f, true, nil
}

// Put creates the file for a body and opens it for reading and writing. If
// temporary is set, the file is created under a temporary name and must be
// made visible with Commit once fully written.
//
// A file left over by an interrupted write is replaced. Missing directories
// are created.
func (c *Cache) Put(id string, temporary bool) (afero.File, error) {
	name, err := c.filename(id)
	if err != nil {
		return nil, err
	}
	if temporary {
		name += tmpSuffix
	}

	f, err := c.create(name)
	switch {
	case err == nil:
	case os.IsExist(err):
		c.log.WithField("id", id).Debug("bodycache: removing stale file")
		if err := c.fs.Remove(name); err != nil {
			return nil, errors.Wrap(err, "bodycache: put")
		}
		f, err = c.create(name)
	case os.IsNotExist(err):
		if err := c.mkdirs(path.Dir(name)); err != nil {
			return nil, errors.Wrap(err, "bodycache: put")
		}
		f, err = c.create(name)
	}
	if err != nil {
		return nil, errors.Wrap(err, "bodycache: put")
	}

	c.metrics.RecordPut()
	return f, nil
}

func (c *Cache) create(name string) (afero.File, error) {
	return c.fs.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_RDWR, fileMode)
}

// mkdirs creates each missing directory of dir, from the top down.
func (c *Cache) mkdirs(dir string) error {
	prefix := ""
	if strings.HasPrefix(dir, "/") {
		prefix = "/"
	}
	for _, elem := range strings.Split(strings.Trim(dir, "/"), "/") {
		prefix = path.Join(prefix, elem)

		fi, err := c.fs.Stat(prefix)
		if err == nil {
			if !fi.IsDir() {
				return errors.Errorf("%v is not a directory", prefix)
			}
			continue
		} else if !os.IsNotExist(err) {
			return err
		}

		c.log.WithField("dir", prefix).Debug("bodycache: creating directory")
		if err := c.fs.Mkdir(prefix, dirMode); err != nil && !os.IsExist(err) {
			return err
		}
	}
	return nil
}

// Commit makes a body written with Put(id, true) visible under id.
func (c *Cache) Commit(id string) error {
	if err := c.Move(id+tmpSuffix, id); err != nil {
		return err
	}
	c.metrics.RecordCommit()
	return nil
}

// Move renames a body. The rename is atomic: readers see either the old
// content of newID or the new one.
func (c *Cache) Move(id, newID string) error {
	from, err := c.filename(id)
	if err != nil {
		return err
	}
	to, err := c.filename(newID)
	if err != nil {
		return err
	}

	if err := c.fs.Rename(from, to); err != nil {
		return errors.Wrap(err, "bodycache: move")
	}
	return nil
}

// Delete removes a body. Deleting a body which isn't cached is not an error.
func (c *Cache) Delete(id string) error {
	name, err := c.filename(id)
	if err != nil {
		return err
	}

	if err := c.fs.Remove(name); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "bodycache: delete")
	}
	c.metrics.RecordDelete()
	return nil
}

// Exists reports whether a non-empty body is cached under id.
func (c *Cache) Exists(id string) (bool, error) {
	name, err := c.filename(id)
	if err != nil {
		return false, err
	}

	fi, err := c.fs.Stat(name)
	if os.IsNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, errors.Wrap(err, "bodycache: stat")
	}
	return fi.Mode().IsRegular() && fi.Size() > 0, nil
}

// List calls fn for each entry of the cache directory, including temporary
// files, and returns the number of entries visited. If fn returns an error,
// List stops and returns it.
func (c *Cache) List(fn func(id string) error) (int, error) {
	entries, err := afero.ReadDir(c.fs, c.path)
	if err != nil {
		return 0, errors.Wrap(err, "bodycache: list")
	}

	n := 0
	for _, fi := range entries {
		name := fi.Name()
		if name == "." || name == ".." {
			continue
		}
		n++
		if err := fn(name); err != nil {
			return n, err
		}
	}
	return n, nil
}
