// Package config implements the session configuration surface of
// spec.md §3 "Configuration keys (accepted by zp_config_insert)": a
// typed Config struct mutated either programmatically (Insert, mirroring
// zp_config_insert's key/value API) or loaded from a YAML file / the
// environment via koanf, the way route-beacon-ri's internal/config
// layers a typed struct with defaults over koanf's file+env providers.
// The teacher itself has no config-file layer (PartitionConfig is
// built up in Go code by its caller), so this package follows the rest
// of the pack instead, per the module's ambient-stack convention.
package config

import (
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Key is a zp_config_insert key code (spec.md §3).
type Key byte

const (
	KeyMode                Key = 0x40
	KeyConnect             Key = 0x41
	KeyListener            Key = 0x42
	KeyUser                Key = 0x43
	KeyPassword            Key = 0x44
	KeyMulticastScouting   Key = 0x45
	KeyMulticastInterface  Key = 0x46
	KeyMulticastAddress    Key = 0x47
	KeyScoutingTimeoutMs   Key = 0x48
	KeyAddTimestamp        Key = 0x4A
)

// ErrUnknownKey is returned by Insert for a key code spec.md §3 doesn't
// list (matches the ConfigError taxonomy entry: "unparseable locator or
// configuration key").
var ErrUnknownKey = errors.New("config: unknown key")

const defaultMulticastAddress = "udp/224.0.0.224:7447"
const defaultScoutingTimeoutMs = 3000

// Config is the Session's configuration (spec.md §3 "Session... Owns:
// configuration (enumerated options, §6)"). Zero value is not valid;
// use Default.
type Config struct {
	Mode                string `koanf:"mode"`
	Connect             string `koanf:"connect"`
	Listener            string `koanf:"listener"`
	User                string `koanf:"user"`
	Password            string `koanf:"password"`
	MulticastScouting   bool   `koanf:"multicast_scouting"`
	MulticastInterface  string `koanf:"multicast_interface"`
	MulticastAddress    string `koanf:"multicast_address"`
	ScoutingTimeoutMs   int    `koanf:"scouting_timeout_ms"`
	AddTimestamp        bool   `koanf:"add_timestamp"`
}

// Default returns the spec-mandated defaults: multicast scouting on,
// the standard multicast locator, and a 3s scouting timeout (spec.md
// §3's per-key defaults; "mode" has no default and must be set).
func Default() Config {
	return Config{
		MulticastScouting: true,
		MulticastAddress:  defaultMulticastAddress,
		ScoutingTimeoutMs: defaultScoutingTimeoutMs,
	}
}

// Insert mutates one key in place, mirroring zp_config_insert's
// programmatic key/value mutation API (spec.md §3). value is always a
// string, matching the wire/CLI representation of every key.
func (c *Config) Insert(key Key, value string) error {
	switch key {
	case KeyMode:
		c.Mode = value
	case KeyConnect:
		c.Connect = value
	case KeyListener:
		c.Listener = value
	case KeyUser:
		c.User = value
	case KeyPassword:
		c.Password = value
	case KeyMulticastScouting:
		c.MulticastScouting = value == "true"
	case KeyMulticastInterface:
		c.MulticastInterface = value
	case KeyMulticastAddress:
		c.MulticastAddress = value
	case KeyScoutingTimeoutMs:
		ms, err := strconv.Atoi(value)
		if err != nil {
			return errors.Wrapf(err, "config: scouting_timeout_ms")
		}
		c.ScoutingTimeoutMs = ms
	case KeyAddTimestamp:
		c.AddTimestamp = value == "true"
	default:
		return errors.Wrapf(ErrUnknownKey, "key 0x%02x", byte(key))
	}
	return nil
}

// Validate enforces the invariants spec.md §3/§7 pin: mode must be
// "client" or "peer" (router is unsupported as a local role), and a
// client must have at least one connect locator.
func (c Config) Validate() error {
	if c.Mode != "client" && c.Mode != "peer" {
		return errors.Newf("config: mode must be \"client\" or \"peer\", got %q", c.Mode)
	}
	if c.Mode == "client" && c.Connect == "" {
		return errors.New("config: client mode requires a connect locator")
	}
	return nil
}

// ConfigFromFile layers a YAML file over Default (route-beacon-ri's
// config.Load shape, narrowed to this module's single flat Config).
func ConfigFromFile(path string) (Config, error) {
	cfg := Default()
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return Config{}, errors.Wrapf(err, "config: loading %s", path)
	}
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, errors.Wrap(err, "config: unmarshaling")
	}
	return cfg, nil
}

// ConfigFromEnv layers environment variables with the given prefix over
// Default, e.g. prefix "ZENOH_PICO_" maps ZENOH_PICO_CONNECT to
// "connect" (route-beacon-ri's RIB_INGESTER_ env mapping, adapted to
// this module's flat key set with no nested sections).
func ConfigFromEnv(prefix string) (Config, error) {
	cfg := Default()
	k := koanf.New(".")
	if err := k.Load(env.Provider(prefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, prefix))
	}), nil); err != nil {
		return Config{}, errors.Wrap(err, "config: loading env")
	}
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, errors.Wrap(err, "config: unmarshaling")
	}
	return cfg, nil
}
