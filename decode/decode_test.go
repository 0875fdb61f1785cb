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

package decode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSON_RoundTrip(t *testing.T) {
	var codec JSON
	in := []byte(`{"apiVersion":"v1","kind":"ConfigMap","metadata":{"name":"a","namespace":"ns1","resourceVersion":"7"}}`)

	obj, err := codec.Decode(in)
	require.NoError(t, err)
	assert.Equal(t, "a", obj.Metadata().Name)

	out, err := codec.Encode(obj)
	require.NoError(t, err)

	obj2, err := codec.Decode(out)
	require.NoError(t, err)
	assert.Equal(t, obj.Metadata().Name, obj2.Metadata().Name)
	assert.Equal(t, obj.Metadata().ResourceVersion, obj2.Metadata().ResourceVersion)
}

func TestJSON_DecodeMalformed(t *testing.T) {
	var codec JSON
	_, err := codec.Decode([]byte(`not json`))
	assert.Error(t, err)
}
