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
	"github.com/thusharams/xen/pkg/bits"
	"github.com/thusharams/xen/pkg/cpuid"
)

// xstateFixedSize is the save area size for a guest that has enabled
// nothing yet: the 512-byte legacy region plus the 64-byte header.
const xstateFixedSize = 512 + 64

// xstateRule levels the extended state leaf. Both mode tables share it;
// the two modes differ only in the save-supervisor feature.
func xstateRule(info *DomainInfo, in cpuid.In, regs *cpuid.Out) {
	if info.XStateMask == 0 {
		*regs = cpuid.Out{}
		return
	}
	switch {
	case in.Ecx == 0:
		regs.Eax = uint32(info.XStateMask)
		regs.Edx = uint32(info.XStateMask >> 32)
		// The size every enabled component together needs, measured on
		// the host.
		regs.Ecx = info.XStateMaxSize
		// The current-size word is dynamic and tracks what the guest
		// has enabled so far, which at install time is nothing.
		regs.Ebx = xstateFixedSize
	case in.Ecx == 1:
		regs.Eax &= cpuid.X86FeatureXSAVEOPT.Mask() | cpuid.X86FeatureXSAVEC.Mask() |
			cpuid.X86FeatureXGETBV1.Mask() | cpuid.X86FeatureXSAVES.Mask()
		if !info.HVM {
			// Supervisor state saving cannot be offered without
			// hardware assistance.
			regs.Eax &^= cpuid.X86FeatureXSAVES.Mask()
		}
		regs.Eax &= info.Features.Word(cpuid.WordXSaveEAX)
		regs.Ecx &= uint32(info.XStateMask)
		regs.Edx = 0
	case in.Ecx >= 2 && in.Ecx < cpuid.XSaveInfoNumLeaves:
		if !bits.IsAnyOn64(info.XStateMask, bits.MaskOf64(int(in.Ecx))) {
			*regs = cpuid.Out{}
			return
		}
		// The component's size and offset stand; the attribute words
		// are not offered.
		regs.Ecx = 0
		regs.Edx = 0
	}
}

// xstateMaxSize measures the largest save area any hardware component
// needs, by scanning the per-component size and offset sub-leaves.
func xstateMaxSize(fn cpuid.Function) uint32 {
	var ret uint32
	for sub := uint32(2); sub < cpuid.XSaveInfoNumLeaves; sub++ {
		out := fn.Query(cpuid.In{Eax: cpuid.LeafXSaveInfo, Ecx: sub})
		if size := out.Eax + out.Ebx; size > ret {
			ret = size
		}
	}
	return ret
}
