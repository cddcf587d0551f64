package krb5

import (
	krb5client "github.com/jcmturner/gokrb5/v8/client"
	"github.com/jcmturner/gokrb5/v8/crypto"
	"github.com/jcmturner/gokrb5/v8/gssapi"
	"github.com/jcmturner/gokrb5/v8/iana/flags"
	"github.com/jcmturner/gokrb5/v8/iana/keyusage"
	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/spnego"
	"github.com/jcmturner/gokrb5/v8/types"
	"github.com/pkg/errors"
)

// Wrap token flags (RFC 4121 section 4.2.2).
const (
	wrapFlagSentByAcceptor = 0x01
	wrapFlagSealed         = 0x02
	wrapFlagAcceptorSubkey = 0x04
)

// secContext is an initiator context with mutual authentication.
type secContext struct {
	client *krb5client.Client
	spn    string

	sessionKey  types.EncryptionKey
	acceptorKey *types.EncryptionKey
	sent        bool
	established bool
}

func (c *secContext) Step(input []byte) ([]byte, bool, error) {
	if !c.sent {
		tkt, key, err := c.client.GetServiceTicket(c.spn)
		if err != nil {
			return nil, false, errors.Wrapf(err, "krb5: cannot get service ticket for %v", c.spn)
		}
		token, err := spnego.NewKRB5TokenAPREQ(c.client, tkt, key,
			[]int{gssapi.ContextFlagMutual, gssapi.ContextFlagInteg},
			[]int{flags.APOptionMutualRequired})
		if err != nil {
			return nil, false, errors.Wrap(err, "krb5: cannot build AP-REQ")
		}
		b, err := token.Marshal()
		if err != nil {
			return nil, false, errors.Wrap(err, "krb5: cannot marshal AP-REQ")
		}
		c.sessionKey = key
		c.sent = true
		return b, true, nil
	}

	if c.established {
		return nil, false, errors.New("krb5: context already established")
	}

	var token spnego.KRB5Token
	if err := token.Unmarshal(input); err != nil {
		return nil, false, errors.Wrap(err, "krb5: invalid acceptor token")
	}
	switch {
	case token.IsKRBError():
		return nil, false, errors.Wrap(token.KRBError, "krb5: acceptor error")
	case !token.IsAPRep():
		return nil, false, errors.New("krb5: acceptor token is not an AP-REP")
	}

	plain, err := crypto.DecryptEncPart(token.APRep.EncPart, c.sessionKey, keyusage.AP_REP_ENCPART)
	if err != nil {
		return nil, false, errors.Wrap(err, "krb5: cannot decrypt AP-REP")
	}
	var part messages.EncAPRepPart
	if err := part.Unmarshal(plain); err != nil {
		return nil, false, errors.Wrap(err, "krb5: invalid AP-REP")
	}
	if part.Subkey.KeyType != 0 {
		subkey := part.Subkey
		c.acceptorKey = &subkey
	}

	c.established = true
	return nil, false, nil
}

func (c *secContext) key() types.EncryptionKey {
	if c.acceptorKey != nil {
		return *c.acceptorKey
	}
	return c.sessionKey
}

func (c *secContext) Unwrap(b []byte) ([]byte, error) {
	if !c.established {
		return nil, errors.New("krb5: context not established")
	}

	var wt gssapi.WrapToken
	if err := wt.Unmarshal(b, true); err != nil {
		return nil, errors.Wrap(err, "krb5: invalid wrap token")
	}
	if wt.Flags&wrapFlagSealed != 0 {
		return nil, errors.New("krb5: sealed wrap tokens are not supported")
	}

	key := c.sessionKey
	if wt.Flags&wrapFlagAcceptorSubkey != 0 {
		if c.acceptorKey == nil {
			return nil, errors.New("krb5: wrap token uses an acceptor subkey, but none was negotiated")
		}
		key = *c.acceptorKey
	}
	if ok, err := wt.Verify(key, keyusage.GSSAPI_ACCEPTOR_SEAL); err != nil {
		return nil, errors.Wrap(err, "krb5: wrap token verification failed")
	} else if !ok {
		return nil, errors.New("krb5: wrap token verification failed")
	}
	return wt.Payload, nil
}

func (c *secContext) Wrap(payload []byte) ([]byte, error) {
	if !c.established {
		return nil, errors.New("krb5: context not established")
	}

	key := c.key()
	etype, err := crypto.GetEtype(key.KeyType)
	if err != nil {
		return nil, errors.Wrap(err, "krb5: unsupported key type")
	}

	wt := gssapi.WrapToken{
		EC:      uint16(etype.GetHMACBitLength() / 8),
		Payload: payload,
	}
	if c.acceptorKey != nil {
		wt.Flags |= wrapFlagAcceptorSubkey
	}
	if err := wt.SetCheckSum(key, keyusage.GSSAPI_INITIATOR_SEAL); err != nil {
		return nil, errors.Wrap(err, "krb5: cannot compute wrap token checksum")
	}
	return wt.Marshal()
}
