/*
SPDX-License-Identifier: Apache-2.0

Copyright 2025 kubeflux authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package decode names the byte<->Object collaborator (spec §6): something
// that turns a wire buffer into an api.Object and back. kubeflux ships one
// default codec over apimachinery's unstructured representation; generated
// typed clients may supply their own.
package decode

import (
	"encoding/json"
	"fmt"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/relaykit/kubeflux/api"
)

// Codec converts between wire bytes and api.Object.
type Codec interface {
	Decode(data []byte) (api.Object, error)
	Encode(obj api.Object) ([]byte, error)
}

// JSON is the default Codec: plain JSON into/out of an
// unstructured.Unstructured map.
type JSON struct{}

// Decode implements Codec.
func (JSON) Decode(data []byte) (api.Object, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding object: %w", err)
	}
	return api.NewUnstructured(&unstructured.Unstructured{Object: raw}), nil
}

// Encode implements Codec.
func (JSON) Encode(obj api.Object) ([]byte, error) {
	u, ok := obj.(api.Unstructured)
	if !ok {
		return nil, fmt.Errorf("encode: object is not api.Unstructured")
	}
	b, err := json.Marshal(u.Object)
	if err != nil {
		return nil, fmt.Errorf("encoding object: %w", err)
	}
	return b, nil
}
