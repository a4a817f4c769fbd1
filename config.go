// Copyright [2019] LinkedIn Corp. Licensed under the Apache License, Version
// 2.0 (the "License"); you may not use this file except in compliance with the
// License.  You may obtain a copy of the License at
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.

package numcodecs

import "fmt"

// Config is a codec configuration value: JSON-isomorphic, always a
// string-keyed map at the top level so an "id" and "_version" can be
// threaded in and out by the registry without the codec itself knowing
// about either.
type Config map[string]any

// VersionTriple is the major.minor.patch carried under a config's
// "_version" key. Only Major participates in compatibility decisions; see
// CheckVersion.
type VersionTriple struct {
	Major int
	Minor int
	Patch int
}

// versionKey is the reserved config key carrying a codec's config schema
// version, kept out of the codec's own view of its configuration.
const versionKey = "_version"

// WithVersion returns a copy of cfg with _version set to v.
func (cfg Config) WithVersion(v VersionTriple) Config {
	out := make(Config, len(cfg)+1)
	for k, val := range cfg {
		out[k] = val
	}
	out[versionKey] = []any{v.Major, v.Minor, v.Patch}
	return out
}

// Version extracts the _version triple from cfg, if present.
func (cfg Config) Version() (VersionTriple, bool) {
	raw, ok := cfg[versionKey]
	if !ok {
		return VersionTriple{}, false
	}
	parts, ok := raw.([]any)
	if !ok || len(parts) != 3 {
		return VersionTriple{}, false
	}
	get := func(v any) int {
		switch n := v.(type) {
		case int:
			return n
		case float64:
			return int(n)
		default:
			return 0
		}
	}
	return VersionTriple{Major: get(parts[0]), Minor: get(parts[1]), Patch: get(parts[2])}, true
}

// withoutID returns a copy of cfg with the "id" key removed, the form a
// codec class's constructor expects.
func (cfg Config) withoutID() Config {
	if _, ok := cfg["id"]; !ok {
		return cfg
	}
	out := make(Config, len(cfg))
	for k, v := range cfg {
		if k == "id" {
			continue
		}
		out[k] = v
	}
	return out
}

// withoutVersion returns a copy of cfg with the _version key removed, for
// handing to a CodecType.FromConfig implementation that should never see
// it.
func (cfg Config) withoutVersion() Config {
	if _, ok := cfg[versionKey]; !ok {
		return cfg
	}
	out := make(Config, len(cfg))
	for k, v := range cfg {
		if k == versionKey {
			continue
		}
		out[k] = v
	}
	return out
}

// CheckVersion implements the config versioning rule: a config with no
// _version is accepted (treated as matching current); a config whose major
// version differs from current is rejected; minor/patch never gate
// acceptance.
func CheckVersion(current VersionTriple, cfg Config) error {
	v, ok := cfg.Version()
	if !ok {
		return nil
	}
	if v.Major != current.Major {
		return fmt.Errorf("numcodecs: config major version %d is incompatible with current major version %d", v.Major, current.Major)
	}
	return nil
}
