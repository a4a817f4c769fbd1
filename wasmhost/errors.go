// Copyright [2019] LinkedIn Corp. Licensed under the Apache License, Version
// 2.0 (the "License"); you may not use this file except in compliance with the
// License.  You may obtain a copy of the License at
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.

package wasmhost

import (
	"fmt"
	"strings"
)

// GuestError is an error value a guest codec returned on purpose: the
// codec ran to completion and reported failure. It carries the guest's
// message plus its cause chain, outermost first.
type GuestError struct {
	Message string
	Chain   []string
}

func (e *GuestError) Error() string {
	if len(e.Chain) == 0 {
		return fmt.Sprintf("numcodecs/wasmhost: guest codec failed: %s", e.Message)
	}
	return fmt.Sprintf("numcodecs/wasmhost: guest codec failed: %s: %s", e.Message, strings.Join(e.Chain, ": "))
}

// RuntimeError reports that the WASM host itself failed: the guest
// trapped, instantiation failed, a resource was exhausted, or marshalling
// across the boundary broke. It is terminal for the codec instance it
// came from; callers recover by constructing a fresh instance from
// config.
type RuntimeError struct {
	Op    string
	Cause error
}

func (e *RuntimeError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("numcodecs/wasmhost: %s failed", e.Op)
	}
	return fmt.Sprintf("numcodecs/wasmhost: %s failed: %s", e.Op, e.Cause)
}

func (e *RuntimeError) Unwrap() error { return e.Cause }
