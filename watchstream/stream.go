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

// Package watchstream implements C2: one list+watch cycle. It issues a
// single watch request, parses the newline-delimited JSON frame protocol,
// and surfaces a finite, pull-style sequence of api.WatchEvent values plus
// one terminal status. It never retries or relists — that is the resilient
// watcher's job (package reflector).
package watchstream

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"

	"github.com/relaykit/kubeflux/api"
	"github.com/relaykit/kubeflux/decode"
	"github.com/relaykit/kubeflux/transport"
)

// TerminalKind names how a Stream ended, per spec §4.2's output contract.
type TerminalKind int

const (
	// TerminalNone means the stream has not ended yet.
	TerminalNone TerminalKind = iota
	// TerminalCompleted means the transport closed cleanly.
	TerminalCompleted
	// TerminalExpired means the server returned 410 Gone or
	// ERROR{reason:"Expired"}.
	TerminalExpired
	// TerminalFailed means a failure other than expiry ended the cycle: an
	// I/O error, a frame decode failure, or a non-expired ERROR frame.
	TerminalFailed
)

// Terminal is the one terminal status a Stream yields after its last event.
type Terminal struct {
	Kind TerminalKind
	// LatestResourceVersion is set only for TerminalCompleted.
	LatestResourceVersion string
	// Err is set only for TerminalFailed. I/O and decode failures classify
	// as api.Transient; an ERROR frame's status is carried as an
	// *apierrors.StatusError, which api.Classify may rate Fatal (401/403).
	Err error
}

// wireFrame is the raw shape of one line of the watch response body.
type wireFrame struct {
	Type   watch.EventType `json:"type"`
	Object json.RawMessage `json:"object"`
}

// Stream is a single, non-restartable list+watch cycle's event sequence.
type Stream struct {
	body     io.ReadCloser
	reader   *bufio.Reader
	codec    decode.Codec
	terminal *Terminal
	latestRV string
}

// Open issues req against rt and, on a 200 response, returns a Stream ready
// to be pulled with Next. A 410 response is reported immediately as a
// TerminalExpired stream with no events, matching spec §4.2.
func Open(rt transport.RoundTripper, req *http.Request, codec decode.Codec) (*Stream, error) {
	resp, err := rt.Send(req)
	if err != nil {
		return nil, fmt.Errorf("opening watch: %w", err)
	}
	if resp.StatusCode == http.StatusGone {
		resp.Body.Close()
		return &Stream{terminal: &Terminal{Kind: TerminalExpired}}, nil
	}
	if resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, statusError(metav1.Status{Status: metav1.StatusFailure, Code: int32(resp.StatusCode)})
	}
	return &Stream{
		body:   resp.Body,
		reader: bufio.NewReader(resp.Body),
		codec:  codec,
	}, nil
}

// Next pulls the next event. It returns (event, true, nil) while the stream
// is live, and (zero, false, nil) exactly once the stream has ended; the
// terminal status is then available via Terminal(). Callers must not call
// Next again after it returns false.
func (s *Stream) Next() (api.WatchEvent, bool, error) {
	if s.terminal != nil {
		return api.WatchEvent{}, false, nil
	}
	if s.reader == nil {
		// Stream opened directly into a terminal state (e.g. 410 on open).
		return api.WatchEvent{}, false, nil
	}

	line, err := s.reader.ReadString('\n')
	if err != nil {
		if err == io.EOF {
			s.finish(&Terminal{Kind: TerminalCompleted, LatestResourceVersion: s.latestRV})
			return api.WatchEvent{}, false, nil
		}
		s.finish(&Terminal{Kind: TerminalFailed, Err: fmt.Errorf("reading watch body: %w", err)})
		return api.WatchEvent{}, false, nil
	}

	var frame wireFrame
	if err := json.Unmarshal([]byte(line), &frame); err != nil {
		s.finish(&Terminal{Kind: TerminalFailed, Err: fmt.Errorf("decoding watch frame: %w", err)})
		return api.WatchEvent{}, false, nil
	}

	return s.translate(frame)
}

// translate maps one wireFrame to a WatchEvent per spec §4.2's decode
// mapping, or ends the stream if the frame is a terminal ERROR.
func (s *Stream) translate(frame wireFrame) (api.WatchEvent, bool, error) {
	switch frame.Type {
	case watch.Added, watch.Modified:
		obj, err := s.codec.Decode(frame.Object)
		if err != nil {
			s.finish(&Terminal{Kind: TerminalFailed, Err: fmt.Errorf("decoding object: %w", err)})
			return api.WatchEvent{}, false, nil
		}
		s.observeRV(obj.Metadata().ResourceVersion)
		return api.ApplyEvent(obj), true, nil

	case watch.Deleted:
		obj, err := s.codec.Decode(frame.Object)
		if err != nil {
			s.finish(&Terminal{Kind: TerminalFailed, Err: fmt.Errorf("decoding object: %w", err)})
			return api.WatchEvent{}, false, nil
		}
		s.observeRV(obj.Metadata().ResourceVersion)
		return api.DeleteEvent(obj), true, nil

	case watch.Bookmark:
		obj, err := s.codec.Decode(frame.Object)
		if err != nil {
			s.finish(&Terminal{Kind: TerminalFailed, Err: fmt.Errorf("decoding bookmark: %w", err)})
			return api.WatchEvent{}, false, nil
		}
		rv := obj.Metadata().ResourceVersion
		s.observeRV(rv)
		return api.BookmarkEvent(rv), true, nil

	case watch.Error:
		var status metav1.Status
		if err := json.Unmarshal(frame.Object, &status); err != nil {
			s.finish(&Terminal{Kind: TerminalFailed, Err: fmt.Errorf("decoding error status: %w", err)})
			return api.WatchEvent{}, false, nil
		}
		if status.Code == http.StatusGone || status.Reason == metav1.StatusReasonExpired {
			s.finish(&Terminal{Kind: TerminalExpired})
		} else {
			s.finish(&Terminal{Kind: TerminalFailed, Err: statusError(status)})
		}
		return api.WatchEvent{}, false, nil

	default:
		s.finish(&Terminal{Kind: TerminalFailed, Err: fmt.Errorf("unknown frame type %q", frame.Type)})
		return api.WatchEvent{}, false, nil
	}
}

func statusError(status metav1.Status) error {
	return &apierrors.StatusError{ErrStatus: status}
}

func (s *Stream) observeRV(rv string) {
	if rv != "" {
		s.latestRV = rv
	}
}

func (s *Stream) finish(t *Terminal) {
	s.terminal = t
	if s.body != nil {
		s.body.Close()
	}
}

// Terminal returns the stream's terminal status. It is the zero Terminal
// (Kind TerminalNone) until Next has returned false.
func (s *Stream) Terminal() Terminal {
	if s.terminal == nil {
		return Terminal{Kind: TerminalNone}
	}
	return *s.terminal
}

// Close cancels the stream early, e.g. on consumer drop (spec §4.3
// cancellation). No events may be emitted after Close.
func (s *Stream) Close() error {
	if s.terminal == nil {
		s.finish(&Terminal{Kind: TerminalCompleted, LatestResourceVersion: s.latestRV})
	}
	return nil
}
