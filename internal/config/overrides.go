package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Build-time overrides, set with
//
//	-ldflags "-X nautconsole/internal/config.BuildTradingAPIURL=https://..."
//
// The matching environment variable wins when both are set.
var (
	BuildTradingAPIURL string
	BuildAdminAPIURL   string
	BuildForceMock     string
)

const (
	EnvTradingAPIURL = "NAUTILUS_API_URL"
	EnvAdminAPIURL   = "ADMIN_DB_API_URL"
	EnvForceMock     = "NAUTCONSOLE_FORCE_MOCK"
)

// Overrides are deployment-level endpoint pins. They are applied when an
// endpoint is read, never stored into resolver state.
type Overrides struct {
	TradingAPIURL string
	AdminAPIURL   string
	ForceMock     bool

	err error
}

// Err reports an override that was set but could not be used. The
// remaining fields are still valid; an unparseable force-mock flag reads
// as false.
func (o Overrides) Err() error { return o.err }

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ReadOverrides resolves overrides from the process environment and build values.
func ReadOverrides() Overrides { return ReadOverridesFrom(os.LookupEnv) }

func ReadOverridesFrom(lookup LookupFunc) Overrides {
	if lookup == nil {
		lookup = func(string) (string, bool) { return "", false }
	}
	pick := func(env, build string) (value, source string) {
		if v, ok := lookup(env); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), env
		}
		return strings.TrimSpace(build), "build flag"
	}
	o := Overrides{}
	o.TradingAPIURL, _ = pick(EnvTradingAPIURL, BuildTradingAPIURL)
	o.AdminAPIURL, _ = pick(EnvAdminAPIURL, BuildAdminAPIURL)
	if raw, src := pick(EnvForceMock, BuildForceMock); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			o.err = fmt.Errorf("%w: force mock %s=%q is not a boolean", ErrInvalid, src, raw)
		}
		o.ForceMock = v
	}
	return o
}
