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
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
)

// Operation names the REST verb to build a request for.
type Operation int

const (
	OpList Operation = iota
	OpWatch
	OpGet
	OpCreate
	OpReplace
	OpPatch
	OpDelete
	OpDeleteCollection
)

const maxFieldManagerLen = 128
const maxWatchTimeoutSeconds = 295

// Params bundles every optional input the request builder accepts. Only the
// fields relevant to Operation need be set; the rest are ignored.
type Params struct {
	Name               string
	Namespace          string
	LabelSelector      string
	FieldSelector      string
	ResourceVersion    string
	TimeoutSeconds     *int64
	Limit              int64
	Continue           string
	Body               []byte // raw create/replace payload, already encoded
	PatchType          types.PatchType
	FieldManager       string
	Force              bool
	DryRun             []string
	GracePeriodSeconds *int64
	PropagationPolicy  *metav1.DeletionPropagation
	Preconditions      *metav1.Preconditions
}

// deleteBody mirrors the JSON payload spec §4.1 requires on delete requests.
type deleteBody struct {
	DryRun             []string                    `json:"dryRun,omitempty"`
	GracePeriodSeconds *int64                      `json:"gracePeriodSeconds,omitempty"`
	PropagationPolicy  *metav1.DeletionPropagation `json:"propagationPolicy,omitempty"`
	Preconditions      *metav1.Preconditions       `json:"preconditions,omitempty"`
}

// BuildRequest is the C1 request builder: a pure function from
// (descriptor, operation, params) to an *http.Request. baseURL is the
// scheme+host the caller's transport targets, e.g. "https://api.example.com".
func BuildRequest(baseURL string, desc ResourceDescriptor, op Operation, params Params) (*http.Request, error) {
	if op == OpWatch && params.TimeoutSeconds != nil && *params.TimeoutSeconds >= maxWatchTimeoutSeconds {
		return nil, &InvalidParamsError{Reason: fmt.Sprintf("timeoutSeconds must be < %d", maxWatchTimeoutSeconds)}
	}
	if len(params.FieldManager) > maxFieldManagerLen {
		return nil, &InvalidParamsError{Reason: fmt.Sprintf("fieldManager exceeds %d characters", maxFieldManagerLen)}
	}
	if op == OpPatch && params.PatchType == types.ApplyPatchType && params.FieldManager == "" {
		return nil, &InvalidParamsError{Reason: "server-side apply requires a fieldManager"}
	}

	path := buildPath(desc, op, params.Namespace, params.Name)
	method, body, contentType, err := methodAndBody(op, params)
	if err != nil {
		return nil, err
	}

	u, err := url.Parse(strings.TrimRight(baseURL, "/") + path)
	if err != nil {
		return nil, fmt.Errorf("building request url: %w", err)
	}
	u.RawQuery = buildQuery(desc, op, params).Encode()

	req, err := http.NewRequest(method, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("constructing request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// buildPath assembles /{prefix}/{group}/{version}[/namespaces/{ns}]/{plural}[/{name}]
// per spec §4.1.
func buildPath(desc ResourceDescriptor, op Operation, namespace, name string) string {
	prefix := "apis"
	if desc.Group == "" {
		prefix = "api"
	}
	var b strings.Builder
	b.WriteByte('/')
	b.WriteString(prefix)
	if desc.Group != "" {
		b.WriteByte('/')
		b.WriteString(desc.Group)
	}
	b.WriteByte('/')
	b.WriteString(desc.Version)
	if desc.Scope == Namespaced && namespace != "" {
		b.WriteString("/namespaces/")
		b.WriteString(namespace)
	}
	b.WriteByte('/')
	b.WriteString(desc.Plural)
	if name != "" && op != OpList && op != OpWatch && op != OpCreate && op != OpDeleteCollection {
		b.WriteByte('/')
		b.WriteString(name)
	}
	return b.String()
}

func methodAndBody(op Operation, params Params) (method string, body []byte, contentType string, err error) {
	switch op {
	case OpList, OpWatch, OpGet:
		return http.MethodGet, nil, "", nil
	case OpCreate:
		return http.MethodPost, params.Body, "application/json", nil
	case OpReplace:
		return http.MethodPut, params.Body, "application/json", nil
	case OpPatch:
		ct, e := patchContentType(params.PatchType)
		if e != nil {
			return "", nil, "", e
		}
		return http.MethodPatch, params.Body, ct, nil
	case OpDelete, OpDeleteCollection:
		b, e := json.Marshal(deleteBody{
			DryRun:             params.DryRun,
			GracePeriodSeconds: params.GracePeriodSeconds,
			PropagationPolicy:  params.PropagationPolicy,
			Preconditions:      params.Preconditions,
		})
		if e != nil {
			return "", nil, "", fmt.Errorf("encoding delete body: %w", e)
		}
		return http.MethodDelete, b, "application/json", nil
	default:
		return "", nil, "", &InvalidParamsError{Reason: "unknown operation"}
	}
}

// patchContentType selects one of the four content types spec §4.1 names.
func patchContentType(pt types.PatchType) (string, error) {
	switch pt {
	case types.JSONPatchType:
		return "application/json-patch+json", nil
	case types.MergePatchType:
		return "application/merge-patch+json", nil
	case types.StrategicMergePatchType:
		return "application/strategic-merge-patch+json", nil
	case types.ApplyPatchType:
		return "application/apply-patch+yaml", nil
	default:
		return "", &InvalidParamsError{Reason: "unsupported patch type"}
	}
}

func buildQuery(desc ResourceDescriptor, op Operation, params Params) url.Values {
	q := url.Values{}
	switch op {
	case OpWatch:
		q.Set("watch", "true")
		if params.ResourceVersion != "" {
			q.Set("resourceVersion", params.ResourceVersion)
		}
		if params.TimeoutSeconds != nil {
			q.Set("timeoutSeconds", strconv.FormatInt(*params.TimeoutSeconds, 10))
		}
		if desc.BookmarksSupported {
			q.Set("allowWatchBookmarks", "true")
		}
	case OpList:
		if params.ResourceVersion != "" {
			q.Set("resourceVersion", params.ResourceVersion)
		}
		if params.Limit > 0 {
			q.Set("limit", strconv.FormatInt(params.Limit, 10))
		}
		if params.Continue != "" {
			q.Set("continue", params.Continue)
		}
	case OpPatch:
		if params.PatchType == types.ApplyPatchType {
			q.Set("fieldManager", params.FieldManager)
			if params.Force {
				q.Set("force", "true")
			}
		} else if params.FieldManager != "" {
			q.Set("fieldManager", params.FieldManager)
		}
	case OpCreate, OpReplace:
		if params.FieldManager != "" {
			q.Set("fieldManager", params.FieldManager)
		}
	}
	if params.LabelSelector != "" {
		q.Set("labelSelector", params.LabelSelector)
	}
	if params.FieldSelector != "" {
		q.Set("fieldSelector", params.FieldSelector)
	}
	return q
}
