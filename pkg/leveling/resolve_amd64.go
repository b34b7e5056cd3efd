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

// DomainInfo is the mode descriptor one policy pass runs under. Resolve
// assembles it once per pass; Transform never consults anything else,
// which keeps the per-leaf computation a pure function.
type DomainInfo struct {
	// Vendor is the host processor's manufacturer.
	Vendor cpuid.Vendor

	// HVM selects the hardware policy table; false selects the
	// paravirtual one.
	HVM bool

	// PVH is true for paravirtual domains hosted in a hardware
	// container.
	PVH bool

	// PAE reports whether the domain may observe physical address
	// extension. Always true for paravirtual domains.
	PAE bool

	// Nested reports whether the domain may observe hardware
	// virtualization features.
	Nested bool

	// PV64 is true when a paravirtual domain runs 64-bit.
	PV64 bool

	// XStateMask enumerates the extended state components enabled for
	// the domain.
	XStateMask uint64

	// XStateMaxSize is the save area size the enabled components need,
	// measured on the host. Zero when XStateMask is zero.
	XStateMaxSize uint32

	// Features bounds the feature words the policy may offer. The set
	// is sanitized, so a feature missing from it drags its dependents
	// down with it.
	Features cpuid.FeatureSet
}

// Resolve builds the mode descriptor for one domain. A non-nil
// featureset bounds the pass instead of the control channel's featureset
// for the domain's mode, letting callers compute what-if policies for
// hosts other than this one. The words are copied and validated, never
// aliased; set bits beyond the known blocks return ErrTruncated.
func (e *Engine) Resolve(id DomainID, featureset []uint32) (*DomainInfo, error) {
	attrs, err := e.ctl.DomainAttributes(id)
	if err != nil {
		return nil, err
	}

	info := &DomainInfo{
		Vendor:     cpuid.VendorOf(e.fn.Query(cpuid.In{Eax: cpuid.LeafVendorID, Ecx: cpuid.SubleafUnused})),
		HVM:        attrs.HVM,
		PVH:        attrs.PVH,
		XStateMask: attrs.XStateMask,
	}
	if attrs.HVM {
		info.PAE = attrs.PAEEnabled
		info.Nested = attrs.NestedVirt
	} else {
		// Paravirtual kernels run on PAE paging by construction; the
		// attribute only varies for hardware domains.
		info.PAE = true
		info.PV64 = attrs.GuestWidth == 64
	}

	words := featureset
	if words == nil {
		index := FeatureSetPV
		if attrs.HVM {
			index = FeatureSetHVM
		}
		words, err = e.ctl.HostFeatureSet(index)
		if err != nil {
			return nil, fmt.Errorf("querying host featureset: %w", err)
		}
	}
	fs, err := cpuid.NewFeatureSet(words)
	if err != nil {
		return nil, err
	}
	info.Features = fs.Sanitized()

	if info.XStateMask != 0 {
		info.XStateMaxSize = xstateMaxSize(e.fn)
	}
	return info, nil
}
