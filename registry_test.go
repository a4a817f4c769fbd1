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
	"context"
	"reflect"
	"testing"

	"github.com/mohae/deepcopy"
)

// doublerCodec doubles every byte; a minimal codec for registry tests.
type doublerCodec struct {
	rounds int
}

func (c *doublerCodec) Encode(_ context.Context, data Array) (Array, error) {
	src := data.AsBytes()
	out, _ := WithZerosBytes(data.Dtype(), data.Shape(), func(b []byte) struct{} {
		for i, v := range src {
			b[i] = v * byte(c.rounds)
		}
		return struct{}{}
	})
	return out, nil
}

func (c *doublerCodec) Decode(_ context.Context, data Array) (Array, error) {
	src := data.AsBytes()
	out, _ := WithZerosBytes(data.Dtype(), data.Shape(), func(b []byte) struct{} {
		for i, v := range src {
			b[i] = v / byte(c.rounds)
		}
		return struct{}{}
	})
	return out, nil
}

func (c *doublerCodec) DecodeInto(ctx context.Context, data Array, out Array) error {
	decoded, err := c.Decode(ctx, data)
	if err != nil {
		return err
	}
	return out.Assign(decoded)
}

func (c *doublerCodec) Config() (Config, error) {
	return Config{"rounds": float64(c.rounds)}, nil
}

type doublerType struct{}

func (doublerType) ID() string { return "test.doubler" }

func (doublerType) ConfigSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []any{"rounds"},
		"properties": map[string]any{
			"rounds": map[string]any{"type": "integer", "minimum": 1},
		},
	}
}

func (doublerType) FromConfig(cfg Config) (Codec, error) {
	rounds, ok := cfg["rounds"].(float64)
	if !ok {
		return nil, &ConfigError{Codec: "test.doubler", Path: "/rounds", Message: "must be an integer"}
	}
	return &doublerCodec{rounds: int(rounds)}, nil
}

func TestRegistryConfigRoundTrip(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.RegisterStatic(doublerType{}); err != nil {
		t.Fatalf("RegisterStatic: %s", err)
	}

	cfg := Config{"id": "test.doubler", "rounds": float64(2)}
	// the registry must not mutate a caller's config
	original := deepcopy.Copy(cfg).(Config)

	codec, err := CodecFromConfigWithID(r, cfg)
	if err != nil {
		t.Fatalf("CodecFromConfigWithID: %s", err)
	}
	if !reflect.DeepEqual(cfg, original) {
		t.Fatalf("config mutated by construction: %v != %v", cfg, original)
	}

	out, err := SerializeCodecConfigWithID(codec, "test.doubler")
	if err != nil {
		t.Fatalf("SerializeCodecConfigWithID: %s", err)
	}
	if out["id"] != "test.doubler" {
		t.Errorf("id = %v", out["id"])
	}
	if out["rounds"] != float64(2) {
		t.Errorf("rounds = %v", out["rounds"])
	}

	// a codec rebuilt from the serialized config behaves identically
	rebuilt, err := CodecFromConfigWithID(r, out)
	if err != nil {
		t.Fatalf("CodecFromConfigWithID (rebuilt): %s", err)
	}
	data, _ := WithZerosBytes(U8, []int{4}, func(b []byte) struct{} {
		for i := range b {
			b[i] = byte(i + 1)
		}
		return struct{}{}
	})
	a, err := codec.Encode(context.Background(), data)
	if err != nil {
		t.Fatalf("Encode: %s", err)
	}
	b, err := rebuilt.Encode(context.Background(), data)
	if err != nil {
		t.Fatalf("Encode (rebuilt): %s", err)
	}
	if !reflect.DeepEqual(a.AsBytes(), b.AsBytes()) {
		t.Fatal("rebuilt codec encodes differently")
	}
}

func TestRegistryRejectsDuplicateID(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.RegisterStatic(doublerType{}); err != nil {
		t.Fatalf("RegisterStatic: %s", err)
	}
	if err := r.RegisterDynamic(doublerType{}); err == nil {
		t.Fatal("expected duplicate id rejection")
	}
}

func TestRegistryValidatesAgainstSchema(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.RegisterStatic(doublerType{}); err != nil {
		t.Fatalf("RegisterStatic: %s", err)
	}
	_, err := CodecFromConfigWithID(r, Config{"id": "test.doubler", "rounds": "two"})
	if err == nil {
		t.Fatal("expected schema violation")
	}
	if _, ok := err.(*ConfigError); !ok {
		t.Fatalf("expected *ConfigError, got %T: %s", err, err)
	}
}

// versionedDoublerType declares a current config version for the
// registry's major-version gate.
type versionedDoublerType struct{ doublerType }

func (versionedDoublerType) Version() VersionTriple { return VersionTriple{Major: 2} }

func TestRegistryRejectsMismatchedConfigMajor(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.RegisterStatic(versionedDoublerType{}); err != nil {
		t.Fatalf("RegisterStatic: %s", err)
	}
	cfg := Config{"id": "test.doubler", "rounds": float64(2)}.WithVersion(VersionTriple{Major: 1})
	if _, err := CodecFromConfigWithID(r, cfg); err == nil {
		t.Fatal("expected rejection of a mismatched config major version")
	}
	ok := Config{"id": "test.doubler", "rounds": float64(2)}.WithVersion(VersionTriple{Major: 2, Minor: 5})
	if _, err := CodecFromConfigWithID(r, ok); err != nil {
		t.Fatalf("CodecFromConfigWithID: %s", err)
	}
}

func TestRegistryUnknownID(t *testing.T) {
	r := NewRegistry(nil)
	if _, err := CodecFromConfigWithID(r, Config{"id": "test.missing"}); err == nil {
		t.Fatal("expected unknown id rejection")
	}
	if _, err := CodecFromConfigWithID(r, Config{}); err == nil {
		t.Fatal("expected missing id rejection")
	}
}

func TestRegistryIDsSorted(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.RegisterStatic(doublerType{}); err != nil {
		t.Fatalf("RegisterStatic: %s", err)
	}
	if got := r.IDs(); !reflect.DeepEqual(got, []string{"test.doubler"}) {
		t.Fatalf("IDs = %v", got)
	}
}
