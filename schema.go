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

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ValidateConfig checks cfg (with its _version key stripped) against a
// codec type's declared JSON Schema, returning a *ConfigError describing
// the first violation. codecID is used only to annotate the error.
func ValidateConfig(codecID string, schema map[string]any, cfg Config) error {
	if schema == nil {
		return nil
	}
	url := "mem://numcodecs/" + uuid.NewString()

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, schema); err != nil {
		return &ConfigError{Codec: codecID, Message: fmt.Sprintf("invalid config schema: %s", err), Cause: err}
	}
	sch, err := compiler.Compile(url)
	if err != nil {
		return &ConfigError{Codec: codecID, Message: fmt.Sprintf("invalid config schema: %s", err), Cause: err}
	}

	instance := map[string]any(cfg.withoutVersion())
	if err := sch.Validate(instance); err != nil {
		if verr, ok := err.(*jsonschema.ValidationError); ok {
			path := "/"
			if len(verr.InstanceLocation) > 0 {
				path = "/" + joinPointer(verr.InstanceLocation)
			}
			return &ConfigError{Codec: codecID, Path: path, Message: verr.Error(), Cause: err}
		}
		return &ConfigError{Codec: codecID, Message: err.Error(), Cause: err}
	}
	return nil
}

func joinPointer(segments []string) string {
	out := ""
	for i, s := range segments {
		if i > 0 {
			out += "/"
		}
		out += s
	}
	return out
}
