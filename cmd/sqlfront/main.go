package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"os/user"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/go-pkgz/lgr"
	"github.com/jessevdk/go-flags"
	"golang.org/x/term"

	"github.com/umputun/sqlfront/pkg/config"
	"github.com/umputun/sqlfront/pkg/report"
	"github.com/umputun/sqlfront/pkg/runner"
	"github.com/umputun/sqlfront/pkg/secrets"
	"github.com/umputun/sqlfront/pkg/tunnel"
)

type options struct {
	ProfileFile string        `short:"p" long:"profile" env:"SQLFRONT_PROFILE" description:"profile file" default:"sqlfront.yml"`
	Tenants     []string      `short:"t" long:"tenant" description:"tenant name, * for all tenants"`
	Concurrent  int           `short:"c" long:"concurrent" env:"SQLFRONT_CONCURRENT" description:"concurrent tenants" default:"4"`
	Timeout     time.Duration `long:"timeout" env:"SQLFRONT_TIMEOUT" description:"overall timeout" default:"5m"`

	// overrides
	DSN          string            `long:"dsn" env:"SQLFRONT_DSN" description:"full mysql dsn"`
	Host         string            `short:"H" long:"host" description:"mysql host:port"`
	User         string            `short:"u" long:"user" description:"mysql user"`
	Database     string            `short:"d" long:"database" description:"database name"`
	Prefix       string            `long:"prefix" description:"table prefix"`
	AskPassword  bool              `long:"ask-password" description:"ask for mysql password"`
	NamedArgs    map[string]string `short:"a" long:"arg" description:"named query argument, name:value"`
	SecretsGroup SecretsProvider   `group:"secrets" namespace:"secrets" env-namespace:"SQLFRONT_SECRETS"`

	NoColor bool `long:"no-color" env:"SQLFRONT_NO_COLOR" description:"disable colorized output"`
	Dbg     bool `long:"dbg" description:"debug mode"`

	AllCmd    queryCmd  `command:"all" description:"fetch all rows"`
	RowCmd    queryCmd  `command:"row" description:"fetch the first row"`
	AssocCmd  queryCmd  `command:"assoc" description:"fetch rows as map keyed by the first column"`
	ColCmd    queryCmd  `command:"col" description:"fetch the first column of all rows"`
	OneCmd    queryCmd  `command:"one" description:"fetch a single value"`
	ExecCmd   queryCmd  `command:"exec" description:"execute statement"`
	MetaCmd   metaCmd   `command:"meta" description:"show table columns"`
	UpsertCmd upsertCmd `command:"upsert" description:"insert or update a row"`
}

type queryCmd struct {
	PositionalArgs struct {
		Query string   `positional-arg-name:"query" description:"sql query, {name} for prefixed tables" required:"yes"`
		Binds []string `positional-arg-name:"bind" description:"positional bind values"`
	} `positional-args:"yes"`
}

type metaCmd struct {
	PositionalArgs struct {
		Table string `positional-arg-name:"table" description:"table name, {name} for prefixed table" required:"yes"`
	} `positional-args:"yes"`
}

type upsertCmd struct {
	Fields    map[string]string `short:"f" long:"field" description:"field value, name:value" required:"yes"`
	Where     string            `short:"w" long:"where" description:"where clause, update if set, insert otherwise"`
	WhereArgs []string          `long:"where-arg" description:"where clause bind value"`

	PositionalArgs struct {
		Table string `positional-arg-name:"table" description:"table name, {name} for prefixed table" required:"yes"`
	} `positional-args:"yes"`
}

// SecretsProvider defines secrets provider options, for all supported providers
type SecretsProvider struct {
	Provider string `long:"provider" env:"PROVIDER" description:"secret provider type" choice:"none" choice:"store" choice:"vault" choice:"aws" choice:"ansible-vault" default:"none"`

	Key  string `long:"key" env:"KEY" description:"secure key for secrets store"`
	Conn string `long:"conn" env:"CONN" description:"connection string for secrets store" default:"sqlfront.db"`

	Vault struct {
		Token string `long:"token" env:"TOKEN" description:"vault token"`
		Path  string `long:"path"  env:"PATH" description:"vault path"`
		URL   string `long:"url" env:"URL" description:"vault url"`
	} `group:"vault" namespace:"vault" env-namespace:"VAULT"`

	Aws struct {
		Region    string `long:"region" env:"REGION" description:"aws region"`
		AccessKey string `long:"access-key" env:"ACCESS_KEY" description:"aws access key"`
		SecretKey string `long:"secret-key" env:"SECRET_KEY" description:"aws secret key"`
	} `group:"aws" namespace:"aws" env-namespace:"AWS"`

	AnsibleVault struct {
		File     string `long:"file" env:"FILE" description:"ansible-vault file"`
		Password string `long:"password" env:"PASSWORD" description:"ansible-vault password"`
	} `group:"ansible-vault" namespace:"ansible-vault" env-namespace:"ANSIBLE_VAULT"`
}

var revision = "latest"

// readPassword reads password from terminal, replaced in tests
var readPassword = func() (string, error) {
	fmt.Fprint(os.Stderr, "password: ")
	pwd, err := term.ReadPassword(int(os.Stdin.Fd())) //nolint:gosec // fd fits int
	fmt.Fprintln(os.Stderr)
	return string(pwd), err
}

func main() {
	var opts options
	p := flags.NewParser(&opts, flags.PrintErrors|flags.PassDoubleDash|flags.HelpFlag)
	if _, err := p.Parse(); err != nil {
		os.Exit(1)
	}
	setupLog(opts.Dbg)
	log.Printf("[DEBUG] sqlfront %s", revision)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, p.Active.Name, opts, os.Stdout); err != nil {
		if opts.Dbg {
			log.Panicf("[ERROR] %v", err)
		}
		fmt.Fprintf(os.Stderr, "failed, %v\n", formatErrorString(err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, command string, opts options, out io.Writer) error {
	st := time.Now()
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	job, err := makeJob(command, opts)
	if err != nil {
		return err
	}

	overrides := config.Overrides{DSN: opts.DSN, Host: opts.Host, User: opts.User, Database: opts.Database,
		Prefix: opts.Prefix}
	if opts.AskPassword {
		if overrides.Password, err = readPassword(); err != nil {
			return fmt.Errorf("can't read password: %w", err)
		}
	}

	secretsProvider, err := makeSecretsProvider(opts.SecretsGroup)
	if err != nil {
		return fmt.Errorf("can't make secrets provider: %w", err)
	}

	profileFile, err := expandPath(opts.ProfileFile)
	if err != nil {
		return fmt.Errorf("can't expand profile path %q: %w", opts.ProfileFile, err)
	}
	profile, err := config.New(profileFile, &overrides, secretsProvider)
	if err != nil {
		return fmt.Errorf("can't load profile %q: %w", profileFile, err)
	}
	setupLog(opts.Dbg, profile.AllSecretValues()...) // mask secrets in logs

	if profile.Tunnel != nil {
		tn, tErr := makeTunnel(profile)
		if tErr != nil {
			return tErr
		}
		defer tn.Close()
	}

	tenants, err := profile.SelectTenants(opts.Tenants)
	if err != nil {
		return fmt.Errorf("can't select tenants: %w", err)
	}

	proc := runner.Process{
		Concurrency: opts.Concurrent,
		Connector:   &runner.ProfileConnector{Profile: profile},
		Writer:      report.NewWriter(out, opts.NoColor, profile.AllSecretValues()),
	}
	res, err := proc.Run(ctx, tenants, job)
	if err != nil {
		return fmt.Errorf("%s failed for %d of %d tenants: %w", command, res.Failed, res.Tenants, err)
	}
	log.Printf("[INFO] completed %s for %d tenants in %v", command, res.Tenants, time.Since(st).Truncate(time.Millisecond))
	return nil
}

func makeTunnel(profile *config.Profile) (*tunnel.Tunnel, error) {
	keyFile := profile.Tunnel.Key
	if keyFile == "" {
		u, err := user.Current()
		if err != nil {
			return nil, fmt.Errorf("can't get current user: %w", err)
		}
		keyFile = filepath.Join(u.HomeDir, ".ssh", "id_rsa")
	}
	keyFile, err := expandPath(keyFile)
	if err != nil {
		return nil, fmt.Errorf("can't expand key path: %w", err)
	}
	tn, err := tunnel.New(profile.Tunnel.Host, profile.Tunnel.User, keyFile, 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("can't make ssh tunnel: %w", err)
	}
	tn.Register(config.TunnelNet)
	log.Printf("[INFO] using ssh tunnel via %s", profile.Tunnel.Host)
	return tn, nil
}

// makeSecretsProvider creates secrets provider based on options
func makeSecretsProvider(sopts SecretsProvider) (config.SecretsProvider, error) {
	switch sopts.Provider {
	case "", "none":
		return secrets.NoOp{}, nil
	case "store":
		return secrets.NewDBStore(sopts.Conn, []byte(sopts.Key))
	case "vault":
		return secrets.NewHashiVault(sopts.Vault.URL, sopts.Vault.Path, sopts.Vault.Token)
	case "aws":
		return secrets.NewAWS(sopts.Aws.AccessKey, sopts.Aws.SecretKey, sopts.Aws.Region)
	case "ansible-vault":
		return secrets.NewAnsibleVault(sopts.AnsibleVault.File, sopts.AnsibleVault.Password)
	}
	return nil, errors.New("unknown secrets provider " + sopts.Provider)
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		usr, err := user.Current()
		if err != nil {
			return "", err
		}
		return filepath.Join(usr.HomeDir, path[1:]), nil
	}
	return path, nil
}

// formatErrorString makes multi-error output readable, one error per line
func formatErrorString(input string) string {
	headerRe := regexp.MustCompile(`(\d+ errors? occurred:)`)
	headerMatch := headerRe.FindStringSubmatchIndex(input)
	if headerMatch == nil {
		return input
	}

	res := strings.TrimSpace(input[:headerMatch[3]]) + "\n"
	for _, line := range strings.Split(input[headerMatch[3]:], "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		res += "   " + line + "\n"
	}
	return res
}

func setupLog(dbg bool, secs ...string) {
	logOpts := []lgr.Option{lgr.Out(io.Discard), lgr.Err(io.Discard)} // default to discard
	if dbg {
		logOpts = []lgr.Option{lgr.Debug, lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError, lgr.Out(os.Stderr)}
	}
	if len(secs) > 0 {
		logOpts = append(logOpts, lgr.Secret(secs...))
	}

	colorizer := lgr.Mapper{
		ErrorFunc:  func(s string) string { return color.New(color.FgHiRed).Sprint(s) },
		WarnFunc:   func(s string) string { return color.New(color.FgRed).Sprint(s) },
		InfoFunc:   func(s string) string { return color.New(color.FgYellow).Sprint(s) },
		DebugFunc:  func(s string) string { return color.New(color.FgWhite).Sprint(s) },
		CallerFunc: func(s string) string { return color.New(color.FgBlue).Sprint(s) },
		TimeFunc:   func(s string) string { return color.New(color.FgCyan).Sprint(s) },
	}
	logOpts = append(logOpts, lgr.Map(colorizer))

	lgr.SetupStdLogger(logOpts...)
	lgr.Setup(logOpts...)
}
