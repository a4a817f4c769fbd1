// Copyright [2019] LinkedIn Corp. Licensed under the Apache License, Version
// 2.0 (the "License"); you may not use this file except in compliance with the
// License.  You may obtain a copy of the License at
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.

package numcodecs

import "context"

// Codec is a single configured codec instance. Implementations
// transform an Array in one direction (Encode) and its
// inverse (Decode); DecodeInto additionally writes into caller-supplied
// storage rather than allocating.
//
// A Codec is not required to be safe for concurrent use by multiple
// goroutines; callers needing concurrency should hold one Codec per
// goroutine, or consult the implementation's own documentation (WASM-backed
// codecs in particular serialize calls internally — see wasmhost).
type Codec interface {
	// Encode transforms data, producing a new Array. It never mutates data.
	Encode(ctx context.Context, data Array) (Array, error)

	// Decode is Encode's inverse. It never mutates data.
	Decode(ctx context.Context, data Array) (Array, error)

	// DecodeInto is like Decode but writes the result into out, which must
	// already have the expected dtype and shape; implementations return
	// *MismatchedDecodeIntoError otherwise rather than reallocating.
	DecodeInto(ctx context.Context, data Array, out Array) error
}

// CodecType describes a class of codec: its stable id, its JSON-Schema
// shaped configuration contract, and how to construct an instance from a
// validated Config. Both natively implemented codecs (registered directly)
// and WASM-hosted codec classes (discovered via wasmhost.Host.Load)
// implement this interface identically, so the Registry never has to
// know which kind it is holding.
type CodecType interface {
	// ID is the stable string identifying this codec class in a
	// serialized Config's "id" field, e.g. "numcodecs.asinh".
	ID() string

	// ConfigSchema returns the JSON Schema document describing valid
	// configuration for this codec class. The returned value must not be
	// mutated by callers.
	ConfigSchema() map[string]any

	// FromConfig constructs a Codec instance from cfg. Validation against
	// ConfigSchema and the version-compatibility rule (see CheckVersion)
	// are applied by CodecFromConfigWithID before it calls FromConfig,
	// which receives cfg without its "id" and "_version" keys.
	FromConfig(cfg Config) (Codec, error)
}

// VersionedCodecType is implemented by codec classes that declare a
// current config version. The registry rejects a config whose _version
// major differs from the declared one; classes without a declared
// version accept any _version.
type VersionedCodecType interface {
	CodecType
	Version() VersionTriple
}
