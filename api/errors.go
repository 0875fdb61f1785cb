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

package api

import (
	"errors"
	"fmt"
	"net/http"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
)

// Kind classifies an error into one of the three buckets spec §7 defines.
type Kind int

const (
	// Transient errors are logged and trigger backoff+retry; they never
	// surface above the reflector except as a diagnostic.
	Transient Kind = iota
	// RecoverableProtocol errors (410 Gone, ERROR{reason:"Expired"})
	// trigger a relist.
	RecoverableProtocol
	// Fatal errors terminate the watcher and propagate to the controller
	// driver.
	Fatal
)

// String renders the classification for logs.
func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case RecoverableProtocol:
		return "recoverable-protocol"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Classify inspects err (expected to be, or wrap, a *apierrors.StatusError
// or a status-code-bearing transport error) and assigns it a Kind per spec
// §6-§7: 410 Gone is RecoverableProtocol, 401/403 are Fatal, everything else
// HTTP-shaped is Transient.
func Classify(err error) Kind {
	if err == nil {
		return Transient
	}
	if apierrors.IsGone(err) {
		return RecoverableProtocol
	}
	if apierrors.IsUnauthorized(err) || apierrors.IsForbidden(err) {
		return Fatal
	}
	var statusErr *apierrors.StatusError
	if errors.As(err, &statusErr) {
		code := int(statusErr.Status().Code)
		switch {
		case code == http.StatusGone:
			return RecoverableProtocol
		case code == http.StatusUnauthorized || code == http.StatusForbidden:
			return Fatal
		case code >= 500:
			return Transient
		}
	}
	return Transient
}

// NotFoundError reports that the object identified by Ref does not exist.
// No function in this module returns it; it is provided for callers.
type NotFoundError struct {
	Ref ObjectRef
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: not found", e.Ref)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// InvalidParamsError is returned by the request builder (C1) when the
// supplied parameters violate a documented constraint.
type InvalidParamsError struct {
	Reason string
}

func (e *InvalidParamsError) Error() string {
	return "invalid params: " + e.Reason
}
