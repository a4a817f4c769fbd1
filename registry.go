// Copyright [2019] LinkedIn Corp. Licensed under the Apache License, Version
// 2.0 (the "License"); you may not use this file except in compliance with the
// License.  You may obtain a copy of the License at
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.

package numcodecs

import (
	"fmt"
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/juntyr/numcodecs-go/internal/ncx"
)

// ConfigProvider is implemented by Codec instances that can report the
// Config that would reconstruct them, for SerializeCodecConfigWithID.
// Codecs that are write-only (no meaningful serialization, e.g. one built
// directly from Go values rather than from a Config) may leave it
// unimplemented.
type ConfigProvider interface {
	Config() (Config, error)
}

// Registry maps stable codec ids to CodecType classes. It separates
// natively compiled ("static") codec classes from ones discovered at
// runtime from a loaded WASM component ("dynamic"); both kinds resolve
// through the same id lookup, so callers never care which they got.
type Registry struct {
	mu           sync.RWMutex
	staticTypes  map[string]CodecType
	dynamicTypes map[string]CodecType
	log          ncx.Logger
}

// NewRegistry creates an empty Registry. A nil logger falls back to a
// no-op logger.
func NewRegistry(log ncx.Logger) *Registry {
	if log == nil {
		log = ncx.NoOp()
	}
	return &Registry{
		staticTypes:  make(map[string]CodecType),
		dynamicTypes: make(map[string]CodecType),
		log:          log,
	}
}

// RegisterStatic adds a natively implemented codec class. It fails if the
// id is already registered, whether static or dynamic.
func (r *Registry) RegisterStatic(t CodecType) error {
	return r.register(r.staticTypes, t, "static")
}

// RegisterDynamic adds a codec class discovered from a loaded WASM
// component (see wasmhost.Host.Load). It fails if the id is already
// registered, whether static or dynamic.
func (r *Registry) RegisterDynamic(t CodecType) error {
	return r.register(r.dynamicTypes, t, "dynamic")
}

func (r *Registry) register(into map[string]CodecType, t CodecType, kind string) error {
	id := t.ID()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.staticTypes[id]; exists {
		return fmt.Errorf("numcodecs: codec id %q is already registered", id)
	}
	if _, exists := r.dynamicTypes[id]; exists {
		return fmt.Errorf("numcodecs: codec id %q is already registered", id)
	}
	into[id] = t
	r.log.Debugw("registered codec type", "id", id, "kind", kind)
	return nil
}

// Unregister removes a dynamic codec class previously added by
// RegisterDynamic, e.g. when its backing WASM component is unloaded.
// Static classes cannot be unregistered.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.dynamicTypes, id)
}

// IDs returns every registered codec id, static and dynamic, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := maps.Keys(r.staticTypes)
	ids = append(ids, maps.Keys(r.dynamicTypes)...)
	slices.Sort(ids)
	return ids
}

func (r *Registry) lookup(id string) (CodecType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.staticTypes[id]; ok {
		return t, true
	}
	t, ok := r.dynamicTypes[id]
	return t, ok
}

// CodecFromConfigWithID looks up the codec class named by cfg's "id"
// key, removes that key, validates the remainder against the class's
// declared schema, checks the version-compatibility rule (see
// CheckVersion), and constructs a Codec instance.
func CodecFromConfigWithID(r *Registry, cfg Config) (Codec, error) {
	id, ok := cfg["id"].(string)
	if !ok {
		return nil, fmt.Errorf("numcodecs: config carries no \"id\" string")
	}
	t, ok := r.lookup(id)
	if !ok {
		return nil, fmt.Errorf("numcodecs: no codec registered for id %q", id)
	}
	cfg = cfg.withoutID()
	if err := ValidateConfig(id, t.ConfigSchema(), cfg); err != nil {
		return nil, err
	}
	if vt, ok := t.(VersionedCodecType); ok {
		if err := CheckVersion(vt.Version(), cfg); err != nil {
			return nil, &ConfigError{Codec: id, Path: "/_version", Message: err.Error(), Cause: err}
		}
	}
	codec, err := t.FromConfig(cfg.withoutVersion())
	if err != nil {
		return nil, err
	}
	return codec, nil
}

// SerializeCodecConfigWithID reports codec's current configuration as a
// Config carrying the given id under "id", suitable for round-tripping
// through CodecFromConfigWithID. It requires codec to implement
// ConfigProvider.
func SerializeCodecConfigWithID(codec Codec, id string) (Config, error) {
	provider, ok := codec.(ConfigProvider)
	if !ok {
		return nil, fmt.Errorf("numcodecs: codec %q does not support config serialization", id)
	}
	cfg, err := provider.Config()
	if err != nil {
		return nil, err
	}
	out := make(Config, len(cfg)+1)
	for k, v := range cfg {
		out[k] = v
	}
	out["id"] = id
	return out, nil
}
