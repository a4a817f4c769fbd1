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

// UnsupportedDtypeError reports that a codec was asked to process a dtype
// outside its declared set. Never retried: the caller must pick a different
// codec or convert the array first.
type UnsupportedDtypeError struct {
	Codec string
	Dtype Dtype
}

func (e *UnsupportedDtypeError) Error() string {
	return fmt.Sprintf("numcodecs: codec %q does not support dtype %s", e.Codec, e.Dtype)
}

// NonFiniteDataError reports that a codec rejecting NaN/infinity encountered
// one during encode.
type NonFiniteDataError struct {
	Codec string
	Index int
}

func (e *NonFiniteDataError) Error() string {
	return fmt.Sprintf("numcodecs: codec %q encountered non-finite value at index %d", e.Codec, e.Index)
}

// ShapeError reports a shape mismatch on encode/decode-into, or an invalid
// reshape request. Never retried.
type ShapeError struct {
	Op       string
	Expected []int
	Actual   []int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("numcodecs: %s: shape mismatch: expected %v, got %v", e.Op, e.Expected, e.Actual)
}

// MismatchedDecodeIntoError reports that a caller-provided decode buffer is
// incompatible (wrong dtype and/or shape) with what the codec will produce.
type MismatchedDecodeIntoError struct {
	ExpectedDtype Dtype
	ActualDtype   Dtype
	ExpectedShape []int
	ActualShape   []int
}

func (e *MismatchedDecodeIntoError) Error() string {
	return fmt.Sprintf(
		"numcodecs: decode_into buffer mismatch: expected dtype %s shape %v, got dtype %s shape %v",
		e.ExpectedDtype, e.ExpectedShape, e.ActualDtype, e.ActualShape,
	)
}

// HeaderEncodeError wraps a failure to serialize a codec's
// self-describing header. The inner cause is opaque to callers but
// chainable.
type HeaderEncodeError struct {
	Codec string
	Cause error
}

func (e *HeaderEncodeError) Error() string {
	return fmt.Sprintf("numcodecs: codec %q failed to encode header: %s", e.Codec, e.Cause)
}

func (e *HeaderEncodeError) Unwrap() error { return e.Cause }

// HeaderDecodeError wraps a failure to parse a codec's self-describing
// header.
type HeaderDecodeError struct {
	Codec string
	Cause error
}

func (e *HeaderDecodeError) Error() string {
	return fmt.Sprintf("numcodecs: codec %q failed to decode header: %s", e.Codec, e.Cause)
}

func (e *HeaderDecodeError) Unwrap() error { return e.Cause }

// CodingFailureError wraps an algorithm-level failure: corrupted bytes,
// invalid config discovered too late to be a ConfigError, numeric
// overflow. Never retried.
type CodingFailureError struct {
	Codec string
	Cause error
}

func (e *CodingFailureError) Error() string {
	return fmt.Sprintf("numcodecs: codec %q coding failure: %s", e.Codec, e.Cause)
}

func (e *CodingFailureError) Unwrap() error { return e.Cause }

// ConfigError reports that a config value does not validate against a
// codec's declared schema. Path points at the offending location within
// the config (JSON-Pointer-like, e.g. "/bits").
type ConfigError struct {
	Codec   string
	Path    string
	Message string
	Cause   error
}

func (e *ConfigError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("numcodecs: codec %q config error at %s: %s", e.Codec, e.Path, e.Message)
	}
	return fmt.Sprintf("numcodecs: codec %q config error: %s", e.Codec, e.Message)
}

func (e *ConfigError) Unwrap() error { return e.Cause }
