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
	"fmt"

	"github.com/thusharams/xen/pkg/cpuid"
)

// Control is the channel through which a policy pass reads domain state
// and installs leaves. Implementations decide what installation means;
// the engine only requires that a leaf installed without error is
// durable until the next install of the same leaf.
//
// Implementations must be safe for concurrent use. The engine runs one
// pass per domain single-threaded, but callers may level different
// domains concurrently over one Control.
type Control interface {
	// DomainAttributes returns the attributes of the given domain, or
	// an error wrapping ErrNoSuchDomain if the channel does not know
	// it.
	DomainAttributes(id DomainID) (Attributes, error)

	// HostFeatureSet returns the host featureset with the given index.
	HostFeatureSet(index FeatureSetIndex) (cpuid.FeatureSet, error)

	// InstallLeaf makes out the answer the domain observes for in. An
	// In with the unused sub-leaf sentinel installs a leaf whose
	// sub-leaf index carries no meaning.
	InstallLeaf(id DomainID, in cpuid.In, out cpuid.Out) error
}

// CapsReporter is implemented by controls that can describe how much of
// the identification surface their platform masks for guests.
type CapsReporter interface {
	LevellingCaps() (LevellingCaps, error)
}

// HostPolicyFeatureSet derives the featureset with the given index from
// the processor visible through fn. Controls whose platform keeps no
// featureset state of its own can serve HostFeatureSet queries with it.
func HostPolicyFeatureSet(fn cpuid.Function, index FeatureSetIndex) (cpuid.FeatureSet, error) {
	raw := cpuid.ReadFeatureSet(fn)
	known := raw.And(cpuid.StaticFeatureMask(cpuid.MaskKnown))
	switch index {
	case FeatureSetRaw:
		return raw, nil
	case FeatureSetHost:
		return known, nil
	case FeatureSetPV:
		return known.And(cpuid.StaticFeatureMask(cpuid.MaskPV)).Sanitized(), nil
	case FeatureSetHVM:
		return known.And(cpuid.StaticFeatureMask(cpuid.MaskHVMHAP)).Sanitized(), nil
	}
	return nil, fmt.Errorf("leveling: unknown featureset index %d", index)
}
