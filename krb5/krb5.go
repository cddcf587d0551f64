// Package krb5 provides client-side GSS-API security contexts backed by a
// Kerberos credential cache, for the GSSAPI SASL mechanism (RFC 4752).
//
// Only the Kerberos V5 mechanism is supported. Wrap tokens are RFC 4121
// integrity tokens: the SASL GSSAPI exchange never negotiates a
// confidentiality layer.
package krb5

import (
	"fmt"
	"os"
	"strings"

	krb5client "github.com/jcmturner/gokrb5/v8/client"
	krb5config "github.com/jcmturner/gokrb5/v8/config"
	"github.com/jcmturner/gokrb5/v8/credentials"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/mailkit/go-imapauth/auth"
)

// DefaultConfigPath is the krb5.conf path used when neither the
// configuration nor $KRB5_CONFIG specify one.
const DefaultConfigPath = "/etc/krb5.conf"

// Config locates the Kerberos configuration and credentials.
type Config struct {
	// ConfigPath is the krb5.conf path. Defaults to $KRB5_CONFIG, then
	// DefaultConfigPath.
	ConfigPath string `mapstructure:"krb5_conf"`
	// CCachePath is the credential cache path. Defaults to $KRB5CCNAME,
	// then /tmp/krb5cc_<uid>. Only FILE caches are supported.
	CCachePath string `mapstructure:"ccache"`
	// Service is the service part of the target principal name.
	Service string `mapstructure:"service"`
}

// Provider creates security contexts from the user's credential cache.
type Provider struct {
	config Config
	log    logrus.FieldLogger
}

var _ auth.GSSProvider = (*Provider)(nil)

// NewProvider creates a provider. A nil logger means the logrus standard
// logger.
func NewProvider(config Config, logger logrus.FieldLogger) *Provider {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Provider{config: config, log: logger}
}

// NewContext loads the credential cache and creates a context for the
// service principal "<service>/<host>". No network traffic happens until
// the first Step.
func (p *Provider) NewContext(service, host string) (auth.GSSContext, error) {
	if service == "" || host == "" {
		return nil, fmt.Errorf("krb5: invalid service name %q", service+"/"+host)
	}

	conf, err := krb5config.Load(p.configPath())
	if err != nil {
		return nil, errors.Wrap(err, "krb5: cannot load configuration")
	}

	path, err := p.ccachePath()
	if err != nil {
		return nil, err
	}
	ccache, err := credentials.LoadCCache(path)
	if err != nil {
		return nil, errors.Wrapf(err, "krb5: cannot load credential cache %v", path)
	}

	cl, err := krb5client.NewFromCCache(ccache, conf, krb5client.DisablePAFXFAST(true))
	if err != nil {
		return nil, errors.Wrap(err, "krb5: cannot create client")
	}

	spn := service + "/" + host
	p.log.WithFields(logrus.Fields{
		"principal": ccache.GetClientPrincipalName().PrincipalNameString(),
		"spn":       spn,
	}).Debug("krb5: created security context")

	return &secContext{client: cl, spn: spn}, nil
}

func (p *Provider) configPath() string {
	if p.config.ConfigPath != "" {
		return p.config.ConfigPath
	}
	if path := os.Getenv("KRB5_CONFIG"); path != "" {
		return path
	}
	return DefaultConfigPath
}

func (p *Provider) ccachePath() (string, error) {
	name := p.config.CCachePath
	if name == "" {
		name = os.Getenv("KRB5CCNAME")
	}
	if name == "" {
		return fmt.Sprintf("/tmp/krb5cc_%d", os.Getuid()), nil
	}

	if typ, rest, ok := strings.Cut(name, ":"); ok {
		if !strings.EqualFold(typ, "FILE") {
			return "", fmt.Errorf("krb5: unsupported credential cache type %q", typ)
		}
		name = rest
	}
	return name, nil
}
