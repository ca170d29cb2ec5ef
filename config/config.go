// Package config loads the dnsproxy TOML file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"

	"github.com/treemana/dnsproxy/model"
)

const DefaultPath = "dnsproxy.toml"

type Config struct {
	Log         Log         `toml:"log"`
	Server      Server      `toml:"server"`
	Upstream    Upstream    `toml:"upstream"`
	Passthrough Passthrough `toml:"passthrough"`
}

type Log struct {
	File       string `toml:"file"`
	STDOUT     bool   `toml:"stdout"`
	Verbose    bool   `toml:"verbose"`
	JSON       bool   `toml:"json"`
	MaxSize    int    `toml:"max_size" validate:"gte=0"`
	MaxAge     int    `toml:"max_age" validate:"gte=0"`
	MaxBackups int    `toml:"max_backups" validate:"gte=0"`
}

type Server struct {
	Host string `toml:"host" validate:"omitempty,ipv4"`
	Port int    `toml:"port" validate:"gte=0,lte=65535"`
	// ProxyIP the address redirected names resolve to, defaults to Host
	ProxyIP string `toml:"proxy_ip" validate:"omitempty,ipv4"`
}

type Upstream struct {
	Nameservers []string `toml:"nameservers" validate:"required,min=1,dive,required"`
	TimeoutMS   int      `toml:"timeout_ms" validate:"gte=0"`
}

type Passthrough struct {
	// Enabled lets private hosts resolve to their real address
	Enabled   bool     `toml:"enabled"`
	SkipHosts []string `toml:"skip_hosts" validate:"dive,required"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("toml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func Default() *Config {
	return &Config{
		Log: Log{
			STDOUT:     true,
			MaxSize:    10,
			MaxAge:     2,
			MaxBackups: 100,
		},
		Server: Server{
			Host: "127.0.0.1",
			Port: 53,
		},
		Upstream: Upstream{
			Nameservers: []string{"8.8.8.8"},
			TimeoutMS:   2000,
		},
		Passthrough: Passthrough{
			Enabled: true,
		},
	}
}

// Load reads path over Default and validates the result
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Config, error) {
	c := Default()

	dec := toml.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(c); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return nil, &model.ConfigurationError{Field: "file", Reason: fmt.Sprintf("line %d, column %d: %s", row, col, derr.Error())}
		}
		var serr *toml.StrictMissingError
		if errors.As(err, &serr) {
			return nil, &model.ConfigurationError{Field: "file", Reason: serr.String()}
		}
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return c, nil
}

// Validate returns the first violation as *model.ConfigurationError
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}

	fe := verrs[0]
	field := fe.Namespace()
	// drop the "Config." root
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}

	reason := fmt.Sprintf("failed on %q", fe.Tag())
	if len(fe.Param()) > 0 {
		reason = fmt.Sprintf("failed on %q=%s", fe.Tag(), fe.Param())
	}
	if fe.Value() != nil && fe.Kind() != reflect.Slice {
		reason = fmt.Sprintf("%v %s", fe.Value(), reason)
	}

	return &model.ConfigurationError{Field: field, Reason: reason}
}

func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Upstream.TimeoutMS) * time.Millisecond
}

// ProxyAddr is proxy_ip, or host when that is a specific address, else invalid
// IPv4-mapped addresses are returned unmapped
func (c *Config) ProxyAddr() netip.Addr {
	if ip, err := netip.ParseAddr(c.Server.ProxyIP); err == nil {
		return ip.Unmap()
	}
	if ip, err := netip.ParseAddr(c.Server.Host); err == nil && !ip.IsUnspecified() {
		return ip.Unmap()
	}
	return netip.Addr{}
}

// LogLevel debug -1 when verbose, else info 0
func (c *Config) LogLevel() int8 {
	if c.Log.Verbose {
		return -1
	}
	return 0
}
