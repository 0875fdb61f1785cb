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

package watchstream

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaykit/kubeflux/api"
	"github.com/relaykit/kubeflux/decode"
	"github.com/relaykit/kubeflux/transport/fake"
)

func watchReq(t *testing.T) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, "https://api/api/v1/pods?watch=true", nil)
	require.NoError(t, err)
	return req
}

func TestStream_ModifiedThenClean(t *testing.T) {
	ft := fake.New()
	ft.EnqueueWatch("", fake.Response{Frames: [][]byte{
		[]byte(`{"type":"MODIFIED","object":{"apiVersion":"v1","kind":"ConfigMap","metadata":{"name":"a","resourceVersion":"8"}}}`),
	}})

	s, err := Open(ft, watchReq(t), decode.JSON{})
	require.NoError(t, err)

	ev, ok, err := s.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, api.EventApply, ev.Kind)
	assert.Equal(t, "a", ev.Object.Metadata().Name)

	_, ok, err = s.Next()
	require.NoError(t, err)
	require.False(t, ok)
	term := s.Terminal()
	assert.Equal(t, TerminalCompleted, term.Kind)
	assert.Equal(t, "8", term.LatestResourceVersion)
}

func TestStream_DeletedAndBookmark(t *testing.T) {
	ft := fake.New()
	ft.EnqueueWatch("", fake.Response{Frames: [][]byte{
		[]byte(`{"type":"DELETED","object":{"apiVersion":"v1","kind":"ConfigMap","metadata":{"name":"a","resourceVersion":"9"}}}`),
		[]byte(`{"type":"BOOKMARK","object":{"apiVersion":"v1","kind":"ConfigMap","metadata":{"resourceVersion":"10"}}}`),
	}})

	s, err := Open(ft, watchReq(t), decode.JSON{})
	require.NoError(t, err)

	ev, ok, _ := s.Next()
	require.True(t, ok)
	assert.Equal(t, api.EventDelete, ev.Kind)

	ev, ok, _ = s.Next()
	require.True(t, ok)
	assert.Equal(t, api.EventBookmark, ev.Kind)
	assert.Equal(t, "10", ev.ResourceVersion)

	_, ok, _ = s.Next()
	assert.False(t, ok)
	assert.Equal(t, "10", s.Terminal().LatestResourceVersion)
}

func TestStream_ErrorExpired(t *testing.T) {
	ft := fake.New()
	ft.EnqueueWatch("", fake.Response{Frames: [][]byte{
		[]byte(`{"type":"ERROR","object":{"kind":"Status","status":"Failure","reason":"Expired","code":410}}`),
	}})

	s, err := Open(ft, watchReq(t), decode.JSON{})
	require.NoError(t, err)

	_, ok, _ := s.Next()
	assert.False(t, ok)
	assert.Equal(t, TerminalExpired, s.Terminal().Kind)
}

func TestStream_ErrorOtherIsFailed(t *testing.T) {
	ft := fake.New()
	ft.EnqueueWatch("", fake.Response{Frames: [][]byte{
		[]byte(`{"type":"ERROR","object":{"kind":"Status","status":"Failure","reason":"InternalError","code":500}}`),
	}})

	s, err := Open(ft, watchReq(t), decode.JSON{})
	require.NoError(t, err)

	_, ok, _ := s.Next()
	assert.False(t, ok)
	assert.Equal(t, TerminalFailed, s.Terminal().Kind)
}

func TestStream_OpenWithGoneStatus(t *testing.T) {
	ft := fake.New()
	ft.EnqueueWatch("", fake.Response{StatusCode: http.StatusGone})

	s, err := Open(ft, watchReq(t), decode.JSON{})
	require.NoError(t, err)
	_, ok, _ := s.Next()
	assert.False(t, ok)
	assert.Equal(t, TerminalExpired, s.Terminal().Kind)
}

func TestStream_MidStreamIOFailureIsTransient(t *testing.T) {
	ft := fake.New()
	ft.EnqueueWatch("", fake.Response{
		Frames:    [][]byte{[]byte(`{"type":"MODIFIED","object":{"apiVersion":"v1","kind":"ConfigMap","metadata":{"name":"a","resourceVersion":"1"}}}`)},
		StreamErr: fake.ErrConnReset,
	})

	s, err := Open(ft, watchReq(t), decode.JSON{})
	require.NoError(t, err)

	_, ok, _ := s.Next()
	require.True(t, ok)

	_, ok, _ = s.Next()
	assert.False(t, ok)
	term := s.Terminal()
	assert.Equal(t, TerminalFailed, term.Kind)
	assert.ErrorIs(t, term.Err, fake.ErrConnReset)
}

func TestStream_MalformedFrameIsFailed(t *testing.T) {
	ft := fake.New()
	ft.EnqueueWatch("", fake.Response{Frames: [][]byte{[]byte(`not json`)}})

	s, err := Open(ft, watchReq(t), decode.JSON{})
	require.NoError(t, err)
	_, ok, _ := s.Next()
	assert.False(t, ok)
	assert.Equal(t, TerminalFailed, s.Terminal().Kind)
}
