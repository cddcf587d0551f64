// Package imapauth implements the authentication and body cache layer of a
// mail client's remote mailbox engine.
//
// The root package holds the shared data model: accounts, server
// capabilities and the error taxonomy. Authentication mechanisms live in the
// auth package, the tagged command channel in imapclient, credential
// resolution in credential and the on-disk message body cache in bodycache.
package imapauth

// AccountType is the protocol an account is used with.
type AccountType int

const (
	AccountIMAP AccountType = 1 + iota
	AccountPOP
	AccountSMTP
)

func (t AccountType) String() string {
	switch t {
	case AccountIMAP:
		return "imap"
	case AccountPOP:
		return "pop"
	case AccountSMTP:
		return "smtp"
	default:
		return "unknown"
	}
}

// scheme returns the URL scheme for the account type.
func (t AccountType) scheme(tls bool) string {
	s := t.String()
	if tls {
		s += "s"
	}
	return s
}

// DefaultPort returns the well-known port for the account type.
func (t AccountType) DefaultPort(tls bool) int {
	switch t {
	case AccountIMAP:
		if tls {
			return 993
		}
		return 143
	case AccountPOP:
		if tls {
			return 995
		}
		return 110
	case AccountSMTP:
		if tls {
			return 465
		}
		return 25
	default:
		return 0
	}
}

// ParseAccountType parses a protocol name such as "imap" or "pops".
//
// The second return value reports whether the name denotes implicit TLS.
func ParseAccountType(s string) (t AccountType, tls bool, ok bool) {
	switch s {
	case "imap":
		return AccountIMAP, false, true
	case "imaps":
		return AccountIMAP, true, true
	case "pop":
		return AccountPOP, false, true
	case "pops":
		return AccountPOP, true, true
	case "smtp":
		return AccountSMTP, false, true
	case "smtps":
		return AccountSMTP, true, true
	default:
		return 0, false, false
	}
}
