// Copyright [2019] LinkedIn Corp. Licensed under the Apache License, Version
// 2.0 (the "License"); you may not use this file except in compliance with the
// License.  You may obtain a copy of the License at
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.

// Package numcodecs provides a dtype-dispatched, self-describing array
// codec abstraction: a dynamic n-dimensional array over a closed set of
// numeric element types, a Codec trait that transforms such arrays, and a
// registry that maps stable string ids to codec classes.
package numcodecs

import "fmt"

// Dtype is one of the ten numeric element types every Array carries.
//
// The set is closed: callers may switch exhaustively over its values
// without a default case ever being reachable by a well-formed Array.
type Dtype uint8

const (
	U8 Dtype = iota
	U16
	U32
	U64
	I8
	I16
	I32
	I64
	F32
	F64
)

// dtypeNames is indexed by Dtype and used by String, MarshalJSON,
// UnmarshalJSON and ParseDtype.
var dtypeNames = [...]string{"u8", "u16", "u32", "u64", "i8", "i16", "i32", "i64", "f32", "f64"}

// dtypeSizes is the fixed byte width of each dtype, known at all layers.
var dtypeSizes = [...]int{1, 2, 4, 8, 1, 2, 4, 8, 4, 8}

// String returns the canonical lowercase name, e.g. "u8", "f64".
func (d Dtype) String() string {
	if int(d) < len(dtypeNames) {
		return dtypeNames[d]
	}
	return fmt.Sprintf("Dtype(%d)", uint8(d))
}

// Size returns the fixed byte width of the dtype's element.
func (d Dtype) Size() int {
	if int(d) < len(dtypeSizes) {
		return dtypeSizes[d]
	}
	return 0
}

// Valid reports whether d is one of the ten defined dtypes.
func (d Dtype) Valid() bool {
	return d <= F64
}

// MarshalJSON renders the dtype as its canonical lowercase name string,
// so that dtype values round-trip through the JSON-isomorphic Config
// values used by the registry.
func (d Dtype) MarshalJSON() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("numcodecs: cannot marshal invalid dtype %d", uint8(d))
	}
	return []byte(`"` + d.String() + `"`), nil
}

// UnmarshalJSON parses a dtype from its canonical lowercase name string.
func (d *Dtype) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	for i, name := range dtypeNames {
		if name == s {
			*d = Dtype(i)
			return nil
		}
	}
	return fmt.Errorf("numcodecs: unknown dtype %q", s)
}

// ParseDtype converts a canonical dtype name to a Dtype, failing with an
// error that quotes the name if it isn't recognized.
func ParseDtype(name string) (Dtype, error) {
	for i, n := range dtypeNames {
		if n == name {
			return Dtype(i), nil
		}
	}
	return 0, fmt.Errorf("numcodecs: unknown dtype %q", name)
}
