// Package config loads connection profiles. A profile defines how to reach the database (host, credentials,
// optional ssh tunnel), the default table prefix and a set of named tenants, each with its own prefix.
// Profiles can be yaml or toml, the format is picked by file extension.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/go-pkgz/stringutils"
	"github.com/go-sql-driver/mysql"
	"github.com/hashicorp/go-multierror"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

//go:generate moq -out mocks/secrets.go -pkg mocks -skip-ensure -fmt goimports . SecretsProvider:SecretProvider

// TunnelNet is the network name the ssh tunnel dialer registered with, used in DSN for tunneled profiles
const TunnelNet = "ssh-tunnel"

// DefaultTenant is the name of tenant using profile's own prefix and database
const DefaultTenant = "default"

// Profile defines the top-level config object
type Profile struct {
	DSN            string            `yaml:"dsn" toml:"dsn"`                         // full mysql dsn, alternative to host/user/etc
	Host           string            `yaml:"host" toml:"host"`                       // host:port
	User           string            `yaml:"user" toml:"user"`                       // db user
	Password       string            `yaml:"password" toml:"password"`               // db password, plain
	PasswordSecret string            `yaml:"password_secret" toml:"password_secret"` // key of the password in secrets provider
	Database       string            `yaml:"database" toml:"database"`               // default database
	Prefix         string            `yaml:"prefix" toml:"prefix"`                   // default table prefix
	Location       string            `yaml:"location" toml:"location"`               // location for timestamps, default UTC
	Timeout        string            `yaml:"timeout" toml:"timeout"`                 // dial timeout, i.e. "5s"
	Params         map[string]string `yaml:"params" toml:"params"`                   // extra dsn params
	Tunnel         *Tunnel           `yaml:"tunnel" toml:"tunnel"`                   // optional ssh tunnel
	Tenants        map[string]Tenant `yaml:"tenants" toml:"tenants"`                 // named tenants

	secretsProvider SecretsProvider
	secrets         []string // resolved secret values, for masking
}

// Tenant defines a logical deployment sharing the physical schema, distinguished by table prefix
type Tenant struct {
	Name     string `yaml:"-" toml:"-"`               // name of tenant, set from the map key
	Prefix   string `yaml:"prefix" toml:"prefix"`     // table prefix
	Database string `yaml:"database" toml:"database"` // optional database override
}

// Tunnel defines ssh bastion used to reach the database
type Tunnel struct {
	Host string `yaml:"host" toml:"host"` // bastion host:port
	User string `yaml:"user" toml:"user"` // ssh user
	Key  string `yaml:"key" toml:"key"`   // private key file
}

// Overrides defines values passed from cli, they win over the profile file
type Overrides struct {
	DSN      string
	Host     string
	User     string
	Password string
	Database string
	Prefix   string
}

// SecretsProvider defines interface for secrets providers
type SecretsProvider interface {
	Get(key string) (string, error)
}

var rePrefix = regexp.MustCompile(`^\w*$`)

// New loads profile from the file and applies overrides. If the file can't be found but dsn or host passed in
// overrides, profile is made from overrides only. Password referenced by password_secret is resolved with
// secrets provider.
func New(fname string, overrides *Overrides, secProvider SecretsProvider) (res *Profile, err error) {
	log.Printf("[DEBUG] request to load profile %q", fname)
	res = &Profile{secretsProvider: secProvider}

	data, err := os.ReadFile(fname) // nolint
	switch {
	case err == nil:
		if err = unmarshalProfileFile(fname, data, res); err != nil {
			return nil, fmt.Errorf("can't unmarshal profile: %w", err)
		}
		log.Printf("[INFO] profile %s loaded with %d tenants", fname, len(res.Tenants))
	case errors.Is(err, os.ErrNotExist) && overrides != nil && (overrides.DSN != "" || overrides.Host != ""):
		log.Printf("[DEBUG] no profile file %s found, using cli overrides", fname)
	default:
		return nil, fmt.Errorf("can't read profile %s: %w", fname, err)
	}

	res.applyOverrides(overrides)
	if err = res.checkConfig(); err != nil {
		return nil, fmt.Errorf("profile %s is invalid: %w", fname, err)
	}

	if err = res.loadSecrets(); err != nil {
		return nil, err
	}

	for k, v := range res.Tenants {
		v.Name = k
		res.Tenants[k] = v
	}
	return res, nil
}

// unmarshalProfileFile parses yaml or toml, by file extension. Names with no extension treated as yaml.
// Unknown fields are rejected in both formats.
func unmarshalProfileFile(fname string, data []byte, res *Profile) error {
	switch {
	case strings.HasSuffix(fname, ".yml") || strings.HasSuffix(fname, ".yaml") || filepath.Ext(fname) == "":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(res); err != nil {
			return fmt.Errorf("can't unmarshal yaml profile %s: %w", fname, err)
		}
	case strings.HasSuffix(fname, ".toml"):
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(res); err != nil {
			return fmt.Errorf("can't unmarshal toml profile %s: %w", fname, err)
		}
	default:
		return fmt.Errorf("unknown profile format %s", fname)
	}
	return nil
}

func (p *Profile) applyOverrides(o *Overrides) {
	if o == nil {
		return
	}
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	if o.DSN != "" {
		p.Host = "" // full dsn replaces host from profile
	}
	if o.Host != "" {
		p.DSN = ""
	}
	set(&p.DSN, o.DSN)
	set(&p.Host, o.Host)
	set(&p.User, o.User)
	set(&p.Database, o.Database)
	set(&p.Prefix, o.Prefix)
	if o.Password != "" {
		p.Password, p.PasswordSecret = o.Password, ""
	}
}

// checkConfig validates profile and reports all found problems at once
func (p *Profile) checkConfig() error {
	errs := new(multierror.Error)
	if p.DSN == "" && p.Host == "" {
		errs = multierror.Append(errs, errors.New("host or dsn must be set"))
	}
	if p.DSN != "" && p.Host != "" {
		errs = multierror.Append(errs, errors.New("host and dsn are mutually exclusive"))
	}
	if p.DSN != "" {
		if _, err := mysql.ParseDSN(p.DSN); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("invalid dsn: %w", err))
		}
	}
	if p.Password != "" && p.PasswordSecret != "" {
		errs = multierror.Append(errs, errors.New("password and password_secret are mutually exclusive"))
	}
	if !rePrefix.MatchString(p.Prefix) {
		errs = multierror.Append(errs, fmt.Errorf("invalid prefix %q", p.Prefix))
	}
	for name, t := range p.Tenants {
		if name == DefaultTenant {
			errs = multierror.Append(errs, fmt.Errorf("tenant name %q is reserved", name))
		}
		if !rePrefix.MatchString(t.Prefix) {
			errs = multierror.Append(errs, fmt.Errorf("invalid prefix %q for tenant %s", t.Prefix, name))
		}
	}
	if _, err := p.TimeLocation(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if _, err := p.dialTimeout(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if p.Tunnel != nil && (p.Tunnel.Host == "" || p.Tunnel.User == "") {
		errs = multierror.Append(errs, errors.New("tunnel requires host and user"))
	}
	return errs.ErrorOrNil()
}

func (p *Profile) loadSecrets() error {
	if p.PasswordSecret != "" {
		if p.secretsProvider == nil {
			return fmt.Errorf("password_secret %q set, but no secrets provider defined", p.PasswordSecret)
		}
		val, err := p.secretsProvider.Get(p.PasswordSecret)
		if err != nil {
			return fmt.Errorf("can't get password secret %q: %w", p.PasswordSecret, err)
		}
		p.Password = val
	}
	if p.Password != "" {
		p.secrets = append(p.secrets, p.Password)
	}
	if p.DSN != "" {
		if cfg, err := mysql.ParseDSN(p.DSN); err == nil && cfg.Passwd != "" {
			p.secrets = append(p.secrets, cfg.Passwd)
		}
	}
	return nil
}

// AllSecretValues returns resolved secret values, used to mask them in logs and output
func (p *Profile) AllSecretValues() []string {
	return append([]string{}, p.secrets...)
}

// TenantNames returns sorted names of all tenants, including the default one
func (p *Profile) TenantNames() []string {
	res := make([]string, 0, len(p.Tenants)+1)
	res = append(res, DefaultTenant)
	for k := range p.Tenants {
		res = append(res, k)
	}
	sort.Strings(res[1:])
	return res
}

// Tenant returns tenant by name. The default tenant is made from the profile's prefix and database.
func (p *Profile) Tenant(name string) (Tenant, error) {
	if name == "" || name == DefaultTenant {
		return Tenant{Name: DefaultTenant, Prefix: p.Prefix, Database: p.Database}, nil
	}
	t, ok := p.Tenants[name]
	if !ok {
		return Tenant{}, fmt.Errorf("tenant %q not found", name)
	}
	if t.Database == "" {
		t.Database = p.Database
	}
	return t, nil
}

// SelectTenants returns tenants by names, in the order of names with duplicates dropped.
// Empty list selects the default tenant, "*" selects all tenants, default one included.
func (p *Profile) SelectTenants(names []string) ([]Tenant, error) {
	names = stringutils.DeDup(names)
	if len(names) == 0 {
		names = []string{DefaultTenant}
	}
	if stringutils.Contains("*", names) {
		names = p.TenantNames()
	}

	res := make([]Tenant, 0, len(names))
	errs := new(multierror.Error)
	for _, name := range names {
		t, err := p.Tenant(name)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		res = append(res, t)
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return res, nil
}

// TimeLocation returns location for timestamp formatting, UTC if not set
func (p *Profile) TimeLocation() (*time.Location, error) {
	if p.Location == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(p.Location)
	if err != nil {
		return nil, fmt.Errorf("invalid location %q: %w", p.Location, err)
	}
	return loc, nil
}

// MakeDSN returns mysql dsn for the tenant
func (p *Profile) MakeDSN(tenant Tenant) (string, error) {
	cfg := mysql.NewConfig()
	if p.DSN != "" {
		parsed, err := mysql.ParseDSN(p.DSN)
		if err != nil {
			return "", fmt.Errorf("invalid dsn: %w", err)
		}
		cfg = parsed
	} else {
		cfg.Net = "tcp"
		cfg.Addr = p.Host
		cfg.User = p.User
		cfg.Passwd = p.Password
	}

	if tenant.Database != "" {
		cfg.DBName = tenant.Database
	}
	if len(p.Params) > 0 && cfg.Params == nil {
		cfg.Params = make(map[string]string, len(p.Params))
	}
	for k, v := range p.Params {
		cfg.Params[k] = v
	}
	timeout, err := p.dialTimeout()
	if err != nil {
		return "", err
	}
	if timeout > 0 {
		cfg.Timeout = timeout
	}
	if p.Tunnel != nil {
		cfg.Net = TunnelNet
	}
	return cfg.FormatDSN(), nil
}

func (p *Profile) dialTimeout() (time.Duration, error) {
	if p.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(p.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q: %w", p.Timeout, err)
	}
	return d, nil
}
