// Copyright 2021 PairMesh, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the YAML-backed configuration of a mesh node:
// the address/channel/gateway-mode seed and the tunable constants the
// specification lists as defaults.
package config

import (
	"io"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/jeremywohl/flatten"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/meshvane/meshcore/errs"
	"github.com/meshvane/meshcore/wire"
)

// envPrefix is prepended to the dotted, upper-cased path of every tunable
// when looking for an environment override, e.g. tunables.maxPeers ->
// MESHCORE_TUNABLES_MAXPEERS.
const envPrefix = "MESHCORE_"

// Tunables carries every constant §6 of the specification lists as a
// default, so a deployment can override them without a rebuild.
type Tunables struct {
	MaxPeers           int           `yaml:"maxPeers"`
	PeerTimeout        time.Duration `yaml:"peerTimeout"`
	HeartbeatInterval  time.Duration `yaml:"heartbeatInterval"`
	MaxHopCount        uint8         `yaml:"maxHopCount"`
	DiscoveryHopLimit  uint8         `yaml:"discoveryHopLimit"`
	MaxDataSize        int           `yaml:"maxDataSize"`
	DedupCacheSize     int           `yaml:"dedupCacheSize"`
}

// DefaultTunables returns the specification's §6 defaults.
func DefaultTunables() Tunables {
	return Tunables{
		MaxPeers:          20,
		PeerTimeout:       120 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		MaxHopCount:       5,
		DiscoveryHopLimit: 3,
		MaxDataSize:       wire.MaxDataSize,
		DedupCacheSize:    64,
	}
}

// Validate reports an error for any tunable that would make the engine
// meaningless (e.g. a non-positive table capacity).
func (t Tunables) Validate() error {
	if t.MaxPeers <= 0 {
		return errors.New("maxPeers must be positive")
	}
	if t.MaxDataSize <= 0 || t.MaxDataSize > wire.MaxDataSize {
		return errors.Errorf("maxDataSize must be in (0, %d]", wire.MaxDataSize)
	}
	if t.DiscoveryHopLimit > t.MaxHopCount {
		return errors.New("discoveryHopLimit must not exceed maxHopCount")
	}
	return nil
}

// Config is the full configuration of one mesh node.
type Config struct {
	// OwnAddress, if empty, is generated as a random locally-administered
	// address when the engine starts.
	OwnAddress string `yaml:"ownAddress,omitempty"`
	// ChannelHint is stored on the Engine; the core does not pass it to the
	// link driver, log it, or otherwise act on it.
	ChannelHint int `yaml:"channelHint"`
	// GatewayMode seeds Engine.SetGatewayMode at startup.
	GatewayMode bool     `yaml:"gatewayMode"`
	Tunables    Tunables `yaml:"tunables"`
}

// New returns a config with the specification's default tunables and
// channel 1, matching the original firmware's MESH_CHANNEL.
func New() *Config {
	return &Config{
		ChannelHint: 1,
		Tunables:    DefaultTunables(),
	}
}

// FromReader parses a YAML document into a Config seeded with defaults,
// then applies environment-variable overrides.
func FromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, errs.WrapConfig(err, "read configuration")
	}
	return FromBytes(raw)
}

// FromBytes parses a YAML document into a Config seeded with defaults and
// applies environment overrides. If the Tunables block as a whole is zero
// afterward, the default tunables are restored; an individual zero-valued
// tunable is kept as it is.
func FromBytes(data []byte) (*Config, error) {
	cfg := New()
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errs.WrapConfig(err, "parse configuration yaml")
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, errs.WrapConfig(err, "apply environment overrides")
	}

	if cfg.Tunables == (Tunables{}) {
		cfg.Tunables = DefaultTunables()
	}
	if err := cfg.Tunables.Validate(); err != nil {
		return nil, errs.WrapConfig(err, "validate tunables")
	}

	return cfg, nil
}

// FromPath reads and parses the YAML configuration file at path.
func FromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.WrapConfig(err, "read configuration file")
	}
	return FromBytes(data)
}

// ParseAddress parses a colon-hex MAC address such as "AA:BB:CC:DD:EE:01".
func ParseAddress(s string) (wire.Address, error) {
	var addr wire.Address
	parts := strings.Split(s, ":")
	if len(parts) != 6 {
		return addr, errors.Errorf("address %q must have 6 colon-separated octets", s)
	}
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return addr, errors.WithMessagef(err, "invalid octet %q in address %q", p, s)
		}
		addr[i] = byte(v)
	}
	return addr, nil
}

// applyEnvOverrides re-marshals cfg to a flat, dotted-path map purely to
// enumerate the set of overridable keys (the same flatten step the teacher
// stack uses to turn nested YAML into a lookup table, borrowed here for
// environment overrides instead of locale strings), then, for every dotted
// key with a matching MESHCORE_-prefixed environment variable set, walks
// cfg's own fields by yaml tag and assigns the typed value directly. There
// is no unflatten/re-marshal round trip: env values are strings and must be
// parsed into whatever type the target field actually is, not piped back
// through YAML as quoted strings.
func applyEnvOverrides(cfg *Config) error {
	encoded, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	var nested map[string]interface{}
	if err := yaml.Unmarshal(encoded, &nested); err != nil {
		return err
	}

	flat, err := flatten.Flatten(nested, "", flatten.DotStyle)
	if err != nil {
		return err
	}

	for dottedKey := range flat {
		envKey := envPrefix + strings.ToUpper(strings.ReplaceAll(dottedKey, ".", "_"))
		v, ok := os.LookupEnv(envKey)
		if !ok {
			continue
		}
		if err := setByDottedPath(cfg, dottedKey, v); err != nil {
			return errors.WithMessagef(err, "override %s", envKey)
		}
	}
	return nil
}

// setByDottedPath walks cfg's fields by yaml tag, one path segment at a
// time, and assigns raw to the leaf field, parsed into that field's actual
// type.
func setByDottedPath(cfg *Config, dottedPath, raw string) error {
	v := reflect.ValueOf(cfg).Elem()
	segments := strings.Split(dottedPath, ".")

	for i, seg := range segments {
		field, ok := fieldByYAMLTag(v, seg)
		if !ok {
			return errors.Errorf("unknown configuration key %q", dottedPath)
		}
		if i == len(segments)-1 {
			return setScalar(field, raw)
		}
		v = field
	}
	return nil
}

// fieldByYAMLTag returns the struct field of v whose yaml tag (ignoring any
// ",omitempty" suffix) matches tag.
func fieldByYAMLTag(v reflect.Value, tag string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		yamlTag := t.Field(i).Tag.Get("yaml")
		name := strings.Split(yamlTag, ",")[0]
		if name == tag {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// setScalar parses raw into field's own type and assigns it. time.Duration
// is checked ahead of the generic int kinds since it is itself an int64.
func setScalar(field reflect.Value, raw string) error {
	switch {
	case field.Type() == reflect.TypeOf(time.Duration(0)):
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))

	case field.Kind() == reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case field.Kind() == reflect.String:
		field.SetString(raw)

	case field.Kind() >= reflect.Int && field.Kind() <= reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(n)

	case field.Kind() >= reflect.Uint && field.Kind() <= reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(n)

	default:
		return errors.Errorf("unsupported configuration field kind %s", field.Kind())
	}
	return nil
}
