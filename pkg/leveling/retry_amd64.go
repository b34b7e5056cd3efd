// Copyright 2024 The xen Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//go:build amd64
// +build amd64

package leveling

import (
	"github.com/cenkalti/backoff"

	"github.com/thusharams/xen/pkg/cpuid"
)

// retryingControl retries failed installs with the caller's backoff
// policy. Attribute and featureset queries pass through untouched.
type retryingControl struct {
	Control
	policy func() backoff.BackOff
}

// WithRetry wraps a Control so that InstallLeaf failures are retried
// with fresh backoffs from policy. The engine itself never retries;
// wrap the channel instead when its transport is flaky:
//
//	ctl = leveling.WithRetry(ctl, func() backoff.BackOff {
//		return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5)
//	})
//
// Controls keep install idempotent, so retrying a possibly-delivered
// install is safe.
func WithRetry(ctl Control, policy func() backoff.BackOff) Control {
	return &retryingControl{Control: ctl, policy: policy}
}

// InstallLeaf implements Control.InstallLeaf.
func (c *retryingControl) InstallLeaf(id DomainID, in cpuid.In, out cpuid.Out) error {
	op := func() error {
		return c.Control.InstallLeaf(id, in, out)
	}
	return backoff.Retry(op, c.policy())
}
