// Copyright [2019] LinkedIn Corp. Licensed under the Apache License, Version
// 2.0 (the "License"); you may not use this file except in compliance with the
// License.  You may obtain a copy of the License at
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.

package numcodecs

import "testing"

func TestVersionRoundTrip(t *testing.T) {
	cfg := Config{"bits": 8}.WithVersion(VersionTriple{Major: 1, Minor: 2, Patch: 3})
	v, ok := cfg.Version()
	if !ok {
		t.Fatal("version missing after WithVersion")
	}
	if v != (VersionTriple{Major: 1, Minor: 2, Patch: 3}) {
		t.Fatalf("version = %+v", v)
	}
	if _, ok := cfg.withoutVersion()["_version"]; ok {
		t.Fatal("withoutVersion left the _version key in place")
	}
	if cfg["bits"] != 8 {
		t.Fatal("WithVersion dropped an unrelated key")
	}
}

func TestCheckVersionAcceptsAbsentVersion(t *testing.T) {
	if err := CheckVersion(VersionTriple{Major: 2}, Config{"bits": 8}); err != nil {
		t.Fatalf("CheckVersion: %s", err)
	}
}

func TestCheckVersionAcceptsEqualMajor(t *testing.T) {
	current := VersionTriple{Major: 1, Minor: 4, Patch: 0}
	cfg := Config{}.WithVersion(VersionTriple{Major: 1, Minor: 0, Patch: 9})
	if err := CheckVersion(current, cfg); err != nil {
		t.Fatalf("CheckVersion: %s", err)
	}
}

func TestCheckVersionRejectsMismatchedMajor(t *testing.T) {
	current := VersionTriple{Major: 2}
	cfg := Config{}.WithVersion(VersionTriple{Major: 1, Minor: 9, Patch: 9})
	if err := CheckVersion(current, cfg); err == nil {
		t.Fatal("expected rejection of a mismatched major version")
	}
}
