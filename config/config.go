// Package config provides the configuration of grdisco.
// A configuration is merged from the global config file, the project local config file,
// environment variables and command line flags, in ascending order of priority.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/grdisco/grdisco/format"
	"github.com/grdisco/grdisco/logger"
	"github.com/grdisco/grdisco/meta"
	"github.com/hashicorp/go-multierror"
	homedir "github.com/mitchellh/go-homedir"
	toml "github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	xdgbasedir "github.com/zchee/go-xdgbasedir"
)

const (
	localConfigName  = ".grdisco.toml"
	globalConfigName = "config.toml"
	envPrefix        = "grdisco"
)

// Config is the conclusive configuration of grdisco. The discovery logic only reads it.
type Config struct {
	Server     *Server     `toml:"server" mapstructure:"server"`
	Security   *Security   `toml:"security" mapstructure:"security"`
	OAuth      *OAuth      `toml:"oauth" mapstructure:"oauth"`
	Request    *Request    `toml:"request" mapstructure:"request"`
	Reflection *Reflection `toml:"reflection" mapstructure:"reflection"`
	Default    *Default    `toml:"default" mapstructure:"default"`
	Output     *Output     `toml:"output" mapstructure:"output"`
	Meta       *Meta       `toml:"meta" mapstructure:"meta"`
}

type Server struct {
	// Endpoint is the target formatted as host:port.
	Endpoint string `toml:"endpoint" mapstructure:"endpoint"`
}

// Security is the transport security setting of the channel.
type Security struct {
	TLS bool `toml:"tls" mapstructure:"tls"`
	// CACertFile is a PEM file that verifies the server certificate. If empty, the system pool is used.
	CACertFile string `toml:"cacert" mapstructure:"cacert"`
	// CertFile and CertKeyFile enable mutual TLS. Both or neither must be set.
	CertFile    string `toml:"cert" mapstructure:"cert"`
	CertKeyFile string `toml:"certkey" mapstructure:"certkey"`
	// ServerName overrides the name used to verify the server certificate.
	ServerName string `toml:"servername" mapstructure:"servername"`
	// Insecure skips the verification of the server certificate.
	Insecure bool `toml:"insecure" mapstructure:"insecure"`
}

// OAuth holds an existing OAuth2 credential. Exactly one of the following
// shapes is expected:
//
//   - AccessTokenPath: a file containing a static access token.
//   - RefreshTokenPath with TokenURL, ClientID and ClientSecret: the refresh token grant.
//   - TokenURL, ClientID and ClientSecret: the client credentials grant.
type OAuth struct {
	AccessTokenPath  string   `toml:"accessTokenPath" mapstructure:"accessTokenPath"`
	TokenURL         string   `toml:"tokenURL" mapstructure:"tokenURL"`
	ClientID         string   `toml:"clientID" mapstructure:"clientID"`
	ClientSecret     string   `toml:"clientSecret" mapstructure:"clientSecret"`
	RefreshTokenPath string   `toml:"refreshTokenPath" mapstructure:"refreshTokenPath"`
	Scopes           []string `toml:"scopes" mapstructure:"scopes"`
}

func (o *OAuth) isZero() bool {
	return o.AccessTokenPath == "" &&
		o.TokenURL == "" &&
		o.ClientID == "" &&
		o.ClientSecret == "" &&
		o.RefreshTokenPath == "" &&
		len(o.Scopes) == 0
}

type Request struct {
	// Timeout bounds each reflection call. Zero means no timeout.
	Timeout time.Duration `toml:"timeout" mapstructure:"timeout"`
	// Header is attached to every outgoing call.
	Header Header `toml:"header" mapstructure:"header"`
}

// Header is a set of request metadata.
type Header map[string][]string

type Reflection struct {
	Enabled bool `toml:"enabled" mapstructure:"enabled"`
}

// Default specifies proto files that are used when reflection is disabled.
type Default struct {
	ProtoPath []string `toml:"protoPath" mapstructure:"protoPath"`
	ProtoFile []string `toml:"protoFile" mapstructure:"protoFile"`
}

type Output struct {
	// Format is the rendering of descriptors. See the format package.
	Format  string `toml:"format" mapstructure:"format"`
	Colored bool   `toml:"colored" mapstructure:"colored"`
}

type Meta struct {
	ConfigVersion string `toml:"configVersion" mapstructure:"configVersion"`
}

// ValidationError represents a configuration which cannot be used.
type ValidationError struct {
	err error
}

func (e *ValidationError) Error() string {
	return e.err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.err
}

// Validate reports every invalid condition of c at once.
func (c *Config) Validate() error {
	var result error
	invalidCases := []struct {
		name string
		cond bool
	}{
		{"negative request timeout", c.Request.Timeout < 0},
		{"both of --cert and --certkey are required for mutual TLS", c.Security.TLS && ((c.Security.CertFile == "") != (c.Security.CertKeyFile == ""))},
		{"proto files are required if reflection is disabled", !c.Reflection.Enabled && len(c.Default.ProtoFile) == 0},
		{fmt.Sprintf("unknown output format '%s'", c.Output.Format), !format.IsValid(c.Output.Format)},
	}
	for _, ic := range invalidCases {
		if ic.cond {
			result = multierror.Append(result, errors.New(ic.name))
		}
	}
	if result != nil {
		return &ValidationError{err: result}
	}
	return nil
}

// flagKeys maps command line flag names to config keys.
var flagKeys = map[string]string{
	"endpoint":                 "server.endpoint",
	"tls":                      "security.tls",
	"cacert":                   "security.cacert",
	"cert":                     "security.cert",
	"certkey":                  "security.certkey",
	"servername":               "security.servername",
	"insecure":                 "security.insecure",
	"oauth-access-token-path":  "oauth.accessTokenPath",
	"oauth-token-url":          "oauth.tokenURL",
	"oauth-client-id":          "oauth.clientID",
	"oauth-client-secret":      "oauth.clientSecret",
	"oauth-refresh-token-path": "oauth.refreshTokenPath",
	"oauth-scopes":             "oauth.scopes",
	"timeout":                  "request.timeout",
	"reflection":               "reflection.enabled",
	"path":                     "default.protoPath",
	"proto":                    "default.protoFile",
	"format":                   "output.format",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.endpoint", "")
	v.SetDefault("security.tls", false)
	v.SetDefault("security.insecure", false)
	v.SetDefault("request.timeout", "0s")
	v.SetDefault("request.header", map[string][]string{"grpc-client": {meta.AppName}})
	v.SetDefault("reflection.enabled", true)
	v.SetDefault("default.protoPath", []string{})
	v.SetDefault("default.protoFile", []string{})
	v.SetDefault("output.format", format.Text)
	v.SetDefault("output.colored", true)
	v.SetDefault("meta.configVersion", meta.Version.String())
}

// Get returns the merged configuration. fs may be nil.
// If explicitPath is not empty, it is used instead of the project local config file.
func Get(fs *pflag.FlagSet, explicitPath ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")
	setDefaults(v)

	globalPath, err := initGlobalConfig()
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize the global config file")
	}
	v.SetConfigFile(globalPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read the global config file '%s'", globalPath)
	}
	logger.Printf("global config loaded: %s", globalPath)

	localPath := localConfigName
	if len(explicitPath) > 0 && explicitPath[0] != "" {
		localPath = explicitPath[0]
	}
	if _, err := os.Stat(localPath); err == nil {
		v.SetConfigFile(localPath)
		if err := v.MergeInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to merge the config file '%s'", localPath)
		}
		logger.Printf("config merged: %s", localPath)
	} else if localPath != localConfigName {
		return nil, errors.Wrapf(err, "failed to find the config file '%s'", localPath)
	}

	migrate(v.GetString("meta.configVersion"), v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for name, key := range flagKeys {
			f := fs.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, errors.Wrapf(err, "failed to bind flag '%s'", name)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode the config")
	}
	if err := normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// normalize fills nil sections and expands "~" in file paths.
func normalize(cfg *Config) error {
	if cfg.Server == nil {
		cfg.Server = &Server{}
	}
	if cfg.Security == nil {
		cfg.Security = &Security{}
	}
	if cfg.Request == nil {
		cfg.Request = &Request{}
	}
	if cfg.Reflection == nil {
		cfg.Reflection = &Reflection{Enabled: true}
	}
	if cfg.Default == nil {
		cfg.Default = &Default{}
	}
	if cfg.Output == nil {
		cfg.Output = &Output{Format: format.Text}
	}
	if cfg.Meta == nil {
		cfg.Meta = &Meta{}
	}
	// Flags bound to oauth keys always make the section exist.
	if cfg.OAuth != nil && cfg.OAuth.isZero() {
		cfg.OAuth = nil
	}
	if cfg.Request.Header == nil {
		cfg.Request.Header = Header{}
	}

	paths := []*string{
		&cfg.Security.CACertFile,
		&cfg.Security.CertFile,
		&cfg.Security.CertKeyFile,
	}
	if cfg.OAuth != nil {
		paths = append(paths, &cfg.OAuth.AccessTokenPath, &cfg.OAuth.RefreshTokenPath)
	}
	for i := range cfg.Default.ProtoPath {
		paths = append(paths, &cfg.Default.ProtoPath[i])
	}
	for _, p := range paths {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return errors.Wrapf(err, "failed to expand the path '%s'", *p)
		}
		*p = expanded
	}
	return nil
}

// GlobalPath returns the path of the global config file.
func GlobalPath() string {
	return filepath.Join(xdgbasedir.ConfigHome(), meta.AppName, globalConfigName)
}

// initGlobalConfig creates the global config file with default values if it doesn't exist.
func initGlobalConfig() (string, error) {
	p := GlobalPath()
	if _, err := os.Stat(p); err == nil {
		return p, nil
	} else if !os.IsNotExist(err) {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return "", errors.Wrap(err, "failed to create the config dir")
	}

	v := viper.New()
	setDefaults(v)
	tree, err := toml.TreeFromMap(v.AllSettings())
	if err != nil {
		return "", errors.Wrap(err, "failed to encode the default config")
	}
	f, err := os.Create(p)
	if err != nil {
		return "", errors.Wrap(err, "failed to create the global config file")
	}
	defer f.Close()
	if _, err := tree.WriteTo(f); err != nil {
		return "", errors.Wrap(err, "failed to write the default config")
	}
	logger.Printf("default global config created: %s", p)
	return p, nil
}
