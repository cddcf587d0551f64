package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/mailkit/go-imapauth/bodycache"
)

var cacheMailbox string

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and manage the message body cache",
	Long: `Inspect and manage the cache of downloaded message bodies.

Bodies are stored under cache.dir, in one directory per account and
mailbox. Mailbox hierarchy levels are separated with '/'.

Examples:
  # List cached bodies of INBOX
  imapauth cache ls

  # Show the headers of a cached body
  imapauth cache headers --mailbox Archive/2024 1700000000-42`,
}

var cachePathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the cache directory of a mailbox",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCache()
		if err != nil {
			return err
		}
		fmt.Println(c.Path())
		return nil
	},
}

var cacheLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List cached bodies",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCache()
		if err != nil {
			return err
		}
		n, err := c.List(func(id string) error {
			_, err := fmt.Println(id)
			return err
		})
		if os.IsNotExist(errors.Cause(err)) {
			return nil
		} else if err != nil {
			return err
		}
		log.WithField("count", n).Debug("listed cache entries")
		return nil
	},
}

var cacheCatCmd = &cobra.Command{
	Use:   "cat <id>",
	Short: "Print a cached body",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := getCached(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		_, err = io.Copy(os.Stdout, f)
		return err
	},
}

var cacheHeadersCmd = &cobra.Command{
	Use:   "headers <id>",
	Short: "Print the main header fields of a cached body",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := getCached(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		th, err := textproto.ReadHeader(bufio.NewReader(f))
		if err != nil {
			return errors.Wrap(err, "failed to parse header")
		}
		return printHeader(os.Stdout, mail.Header{Header: message.Header{Header: th}})
	},
}

var cachePutCmd = &cobra.Command{
	Use:   "put <id>",
	Short: "Store a body read from standard input",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCache()
		if err != nil {
			return err
		}
		id := args[0]

		f, err := c.Put(id, true)
		if err != nil {
			return err
		}
		if _, err := io.Copy(f, os.Stdin); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		return c.Commit(id)
	},
}

var cacheRmCmd = &cobra.Command{
	Use:   "rm <id>...",
	Short: "Remove cached bodies",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCache()
		if err != nil {
			return err
		}
		for _, id := range args {
			if err := c.Delete(id); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	cacheCmd.PersistentFlags().StringVarP(&cacheMailbox, "mailbox", "m", "INBOX", "Mailbox name")

	cacheCmd.AddCommand(cachePathCmd)
	cacheCmd.AddCommand(cacheLsCmd)
	cacheCmd.AddCommand(cacheCatCmd)
	cacheCmd.AddCommand(cacheHeadersCmd)
	cacheCmd.AddCommand(cachePutCmd)
	cacheCmd.AddCommand(cacheRmCmd)
}

func openCache() (*bodycache.Cache, error) {
	acct, err := account()
	if err != nil {
		return nil, err
	}
	return bodycache.Open(cfg.Cache.Dir, acct, cacheMailbox, &bodycache.Options{Logger: log})
}

func getCached(id string) (io.ReadCloser, error) {
	c, err := openCache()
	if err != nil {
		return nil, err
	}
	f, ok, err := c.Get(id)
	if err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("%v is not cached in %v", id, cacheMailbox)
	}
	return f, nil
}

func printHeader(w io.Writer, h mail.Header) error {
	var lines []string
	add := func(k, v string) {
		if v != "" {
			lines = append(lines, fmt.Sprintf("%-11v %v", k+":", v))
		}
	}

	if date, err := h.Date(); err == nil && !date.IsZero() {
		add("Date", date.Format("Mon, 02 Jan 2006 15:04:05 -0700"))
	}
	for _, k := range []string{"From", "To", "Cc"} {
		addrs, err := h.AddressList(k)
		if err != nil {
			add(k, h.Get(k))
			continue
		}
		var l []string
		for _, addr := range addrs {
			l = append(l, addr.String())
		}
		add(k, strings.Join(l, ", "))
	}
	if subject, err := h.Subject(); err == nil {
		add("Subject", subject)
	}
	if id, err := h.MessageID(); err == nil && id != "" {
		add("Message-ID", "<"+id+">")
	}

	_, err := fmt.Fprintln(w, strings.Join(lines, "\n"))
	return err
}
