package config

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-zoox/core-utils/regexp"
	"github.com/go-zoox/devproxy"
	"github.com/go-zoox/devproxy/utils/rewriter"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config is the declarative dev-server artifact. Everything except
// Server.Proxy is opaque metadata handed to collaborators as-is: the client
// router consumes Routes, the bundler consumes Build, the document template
// consumes Title/Favicon/Links.
type Config struct {
	Title   string  `mapstructure:"title"`
	Favicon string  `mapstructure:"favicon"`
	Links   []Link  `mapstructure:"links"`
	Routes  []Route `mapstructure:"routes"`
	Build   Build   `mapstructure:"build"`
	Server  Server  `mapstructure:"server"`
}

// Link is a static asset link injected by the document template.
type Link struct {
	Rel  string `mapstructure:"rel"`
	Href string `mapstructure:"href"`
}

// Route is a client-side route entry, mapping a URL path to a UI component.
type Route struct {
	Path      string `mapstructure:"path"`
	Component string `mapstructure:"component"`
}

// Build holds bundler output options.
type Build struct {
	OutDir    string `mapstructure:"outDir"`
	AssetsDir string `mapstructure:"assetsDir"`
	Minify    bool   `mapstructure:"minify"`
}

// Server holds the dev server options, including the proxy rule entries.
type Server struct {
	Host    string        `mapstructure:"host"`
	Port    int           `mapstructure:"port"`
	Root    string        `mapstructure:"root"`
	Timeout time.Duration `mapstructure:"timeout"`
	Proxy   []ProxyEntry  `mapstructure:"proxy"`
}

// ProxyEntry is the on-disk form of a devproxy.Rule.
type ProxyEntry struct {
	Prefix          string            `mapstructure:"prefix"`
	Target          string            `mapstructure:"target"`
	ChangeOrigin    bool              `mapstructure:"changeOrigin"`
	Rewrite         []RewriteEntry    `mapstructure:"rewrite"`
	ResponseHeaders map[string]string `mapstructure:"responseHeaders"`
}

// RewriteEntry is the on-disk form of a rewriter.Rewriter.
type RewriteEntry struct {
	From string `mapstructure:"from"`
	To   string `mapstructure:"to"`
}

// Load reads the config file at path, or ./devproxy.yml when path is empty.
// An empty path with no config file present yields the defaults; an explicit
// path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 5173)
	v.SetDefault("server.timeout", "30s")
	v.SetDefault("build.outDir", "dist")

	if err := v.BindEnv("server.host", "DEVPROXY_HOST"); err != nil {
		return nil, err
	}
	if err := v.BindEnv("server.port", "DEVPROXY_PORT"); err != nil {
		return nil, err
	}
	if err := v.BindEnv("server.root", "DEVPROXY_ROOT"); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("devproxy")
		v.SetConfigType("yml")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound || path != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
	)))
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// ListenAddress returns the host:port the dev server listens on.
func (c *Config) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// BuildRules converts the server.proxy entries into a validated rule set.
// Invalid entries fail here, at startup.
func (c *Config) BuildRules() (*devproxy.RuleSet, error) {
	rules := make([]devproxy.Rule, 0, len(c.Server.Proxy))

	for i, entry := range c.Server.Proxy {
		if !regexp.Match(`^https?://`, entry.Target) {
			return nil, fmt.Errorf("server.proxy[%d].target: %q is not an http(s) origin", i, entry.Target)
		}

		rule := devproxy.Rule{
			MatchPrefix:  entry.Prefix,
			Target:       entry.Target,
			ChangeOrigin: entry.ChangeOrigin,
		}

		for _, rw := range entry.Rewrite {
			rule.Rewrites = append(rule.Rewrites, &rewriter.Rewriter{From: rw.From, To: rw.To})
		}

		if len(entry.ResponseHeaders) > 0 {
			rule.ResponseHeaders = make(http.Header, len(entry.ResponseHeaders))
			for k, val := range entry.ResponseHeaders {
				rule.ResponseHeaders.Set(k, val)
			}
		}

		rules = append(rules, rule)
	}

	return devproxy.NewRuleSet(rules...)
}
