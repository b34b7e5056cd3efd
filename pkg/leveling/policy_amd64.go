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
	"github.com/thusharams/xen/pkg/cpuid"
)

// A leafRule rewrites the hardware's answer for one leaf into the
// answer a domain observes. Rules mutate regs in place; in carries the
// leaf and sub-leaf for rules that need them.
type leafRule func(info *DomainInfo, in cpuid.In, regs *cpuid.Out)

// passthrough offers the hardware's answer unchanged. The vendor table
// may still rewrite it afterwards.
func passthrough(*DomainInfo, cpuid.In, *cpuid.Out) {}

// Enumeration ceilings. The basic range never extends past the extended
// state leaf; the extended ceiling depends on the vendor.
const (
	maxBasicLeaf    = cpuid.LeafXSaveInfo
	maxIntelExtLeaf = cpuid.LeafExtendedStart + 0x8
	maxAMDExtLeaf   = cpuid.LeafExtendedStart + 0x1c
)

// The hypervisor-reserved identification band. The policy reports the
// whole band as zero; the virtualization layer populates its own leaves
// there afterwards.
const (
	hypervisorLeafBase uint32 = 0x40000000
	hypervisorLeafMask uint32 = 0xffff0000
)

// extendedCeiling bounds the extended leaf range for a vendor. Hosts
// with an unrecognized vendor keep the Intel range.
func extendedCeiling(v cpuid.Vendor) uint32 {
	if v == cpuid.VendorAMD {
		return maxAMDExtLeaf
	}
	return maxIntelExtLeaf
}

// Transform computes the answer a domain observes for one leaf from the
// answer the hardware gave. It is a pure function of its arguments;
// everything a pass feeds it is captured in info at resolve time, so
// identical calls give identical answers.
//
// Leaves without a rule in the domain's mode table answer all zeroes,
// as does the entire hypervisor-reserved band.
func Transform(info *DomainInfo, in cpuid.In, host cpuid.Out) cpuid.Out {
	if in.Eax&hypervisorLeafMask == hypervisorLeafBase {
		return cpuid.Out{}
	}
	rules := pvRules
	if info.HVM {
		rules = hvmRules
	}
	rule, ok := rules[in.Eax]
	if !ok {
		return cpuid.Out{}
	}
	regs := host
	rule(info, in, &regs)
	if vrule, ok := vendorRules[info.Vendor][in.Eax]; ok {
		vrule(info, in, &regs)
	}
	return regs
}

// hvmRules is the policy table for hardware domains, keyed by leaf.
var hvmRules = map[uint32]leafRule{
	cpuid.LeafVendorID:           hvmLeafRange,
	cpuid.LeafFeatureInfo:        hvmFeatureInfo,
	cpuid.LeafCacheDescriptors:   passthrough,
	cpuid.LeafCacheParams:        passthrough,
	leafPerfMonitoring:           passthrough,
	cpuid.LeafStructuredFeatures: hvmStructuredFeatures,
	cpuid.LeafXSaveInfo:          xstateRule,
	cpuid.LeafExtendedStart:      passthrough, // Vendor pass clamps the range.
	cpuid.LeafExtendedFeatures:   hvmExtFeatureInfo,
	leafBrandString:              passthrough,
	leafBrandString + 1:          passthrough,
	leafBrandString + 2:          passthrough,
	leafL1CacheInfo:              passthrough,
	leafL2CacheInfo:              passthrough,
	cpuid.LeafPowerInfo:          hvmPowerInfo,
	cpuid.LeafAddressSizes:       hvmAddressSizes,
	leafSVMFeatures:              passthrough, // Vendor pass levels or hides it.
	leafLWPFeatures:              passthrough,
}

// pvRules is the policy table for paravirtual domains. A paravirtual
// guest observes far less of the hardware than one behind a hardware
// container, so the table is shorter and everything absent reads zero.
// The basic range leaf itself is absent: zero parks the leaf uninstalled
// and the guest keeps reading it natively.
var pvRules = map[uint32]leafRule{
	cpuid.LeafFeatureInfo:        pvFeatureInfo,
	cpuid.LeafCacheDescriptors:   passthrough,
	cpuid.LeafCacheParams:        passthrough,
	cpuid.LeafStructuredFeatures: pvStructuredFeatures,
	cpuid.LeafXSaveInfo:          xstateRule,
	cpuid.LeafExtendedStart:      passthrough,
	cpuid.LeafExtendedFeatures:   pvExtFeatureInfo,
	leafBrandString:              passthrough,
	leafBrandString + 1:          passthrough,
	leafBrandString + 2:          passthrough,
	leafL1CacheInfo:              passthrough,
	leafL2CacheInfo:              passthrough,
	cpuid.LeafAddressSizes:       passthrough,
}

// Leaves named by the policy tables but not by the enumeration walk.
const (
	leafPerfMonitoring uint32 = 0xa
	leafBrandString    uint32 = cpuid.LeafExtendedStart + 2
	leafL1CacheInfo    uint32 = cpuid.LeafExtendedStart + 5
	leafL2CacheInfo    uint32 = cpuid.LeafExtendedStart + 6
	leafSVMFeatures    uint32 = cpuid.LeafExtendedStart + 0xa
	leafLWPFeatures    uint32 = cpuid.LeafExtendedStart + 0x1c
)

// Feature words offerable to hardware domains at the basic feature
// leaf, before the bounding featureset cuts them down further.
var (
	hvmBasicECXMask = cpuid.X86FeatureSSE3.Mask() |
		cpuid.X86FeaturePCLMULDQ.Mask() |
		cpuid.X86FeatureSSSE3.Mask() |
		cpuid.X86FeatureFMA.Mask() |
		cpuid.X86FeatureCX16.Mask() |
		cpuid.X86FeaturePCID.Mask() |
		cpuid.X86FeatureSSE4_1.Mask() |
		cpuid.X86FeatureSSE4_2.Mask() |
		cpuid.X86FeatureMOVBE.Mask() |
		cpuid.X86FeaturePOPCNT.Mask() |
		cpuid.X86FeatureAES.Mask() |
		cpuid.X86FeatureF16C.Mask() |
		cpuid.X86FeatureRDRAND.Mask()

	hvmBasicEDXMask = cpuid.X86FeatureFPU.Mask() |
		cpuid.X86FeatureVME.Mask() |
		cpuid.X86FeatureDE.Mask() |
		cpuid.X86FeaturePSE.Mask() |
		cpuid.X86FeatureTSC.Mask() |
		cpuid.X86FeatureMSR.Mask() |
		cpuid.X86FeaturePAE.Mask() |
		cpuid.X86FeatureMCE.Mask() |
		cpuid.X86FeatureCX8.Mask() |
		cpuid.X86FeatureAPIC.Mask() |
		cpuid.X86FeatureSEP.Mask() |
		cpuid.X86FeatureMTRR.Mask() |
		cpuid.X86FeaturePGE.Mask() |
		cpuid.X86FeatureMCA.Mask() |
		cpuid.X86FeatureCMOV.Mask() |
		cpuid.X86FeaturePAT.Mask() |
		cpuid.X86FeatureCLFSH.Mask() |
		cpuid.X86FeaturePSE36.Mask() |
		cpuid.X86FeatureMMX.Mask() |
		cpuid.X86FeatureFXSR.Mask() |
		cpuid.X86FeatureSSE.Mask() |
		cpuid.X86FeatureSSE2.Mask() |
		cpuid.X86FeatureHTT.Mask()

	hvmStructEBXMask = cpuid.X86FeatureTSC_ADJUST.Mask() |
		cpuid.X86FeatureBMI1.Mask() |
		cpuid.X86FeatureHLE.Mask() |
		cpuid.X86FeatureAVX2.Mask() |
		cpuid.X86FeatureSMEP.Mask() |
		cpuid.X86FeatureBMI2.Mask() |
		cpuid.X86FeatureERMS.Mask() |
		cpuid.X86FeatureINVPCID.Mask() |
		cpuid.X86FeatureRTM.Mask() |
		cpuid.X86FeatureRDSEED.Mask() |
		cpuid.X86FeatureADX.Mask() |
		cpuid.X86FeatureSMAP.Mask() |
		cpuid.X86FeatureFSGSBase.Mask() |
		cpuid.X86FeaturePCOMMIT.Mask() |
		cpuid.X86FeatureCLWB.Mask() |
		cpuid.X86FeatureCLFLUSHOPT.Mask()

	pvStructEBXMask = cpuid.X86FeatureBMI1.Mask() |
		cpuid.X86FeatureHLE.Mask() |
		cpuid.X86FeatureAVX2.Mask() |
		cpuid.X86FeatureBMI2.Mask() |
		cpuid.X86FeatureERMS.Mask() |
		cpuid.X86FeatureRTM.Mask() |
		cpuid.X86FeatureRDSEED.Mask() |
		cpuid.X86FeatureADX.Mask() |
		cpuid.X86FeatureFSGSBase.Mask()
)

func hvmLeafRange(_ *DomainInfo, _ cpuid.In, regs *cpuid.Out) {
	if regs.Eax > maxBasicLeaf {
		regs.Eax = maxBasicLeaf
	}
}

func hvmFeatureInfo(info *DomainInfo, _ cpuid.In, regs *cpuid.Out) {
	// ebx[23:16] is the maximum logical processor count per package.
	// Stretch it to cover apic IDs spaced two apart.
	regs.Ebx = (regs.Ebx & 0x0000ffff) | ((regs.Ebx & 0x007f0000) << 1)

	ecxMask := hvmBasicECXMask
	if info.XStateMask != 0 {
		ecxMask |= cpuid.X86FeatureXSAVE.Mask() | cpuid.X86FeatureAVX.Mask()
	}
	regs.Ecx &= ecxMask
	regs.Ecx &= info.Features.Word(cpuid.WordBasicECX)
	regs.Ecx |= cpuid.X86FeatureHypervisor.Mask() |
		cpuid.X86FeatureTSCD.Mask() |
		cpuid.X86FeatureX2APIC.Mask()

	regs.Edx &= hvmBasicEDXMask
	regs.Edx &= info.Features.Word(cpuid.WordBasicEDX)
	// MTRR MSRs are always emulated.
	regs.Edx |= cpuid.X86FeatureMTRR.Mask()

	if !info.PAE {
		regs.Edx &^= cpuid.X86FeaturePAE.Mask() | cpuid.X86FeaturePSE36.Mask()
	}
}

func hvmStructuredFeatures(info *DomainInfo, in cpuid.In, regs *cpuid.Out) {
	if in.Ecx == 0 {
		ebxMask := hvmStructEBXMask
		if info.XStateMask != 0 {
			ebxMask |= cpuid.X86FeatureMPX.Mask()
		}
		regs.Ebx &= ebxMask
		regs.Ebx &= info.Features.Word(cpuid.WordStructEBX)
		regs.Ecx &= cpuid.X86FeaturePKU.Mask()
		regs.Ecx &= info.Features.Word(cpuid.WordStructECX)
	} else {
		regs.Ebx = 0
		regs.Ecx = 0
	}
	regs.Eax = 0
	regs.Edx = 0
}

func hvmExtFeatureInfo(info *DomainInfo, _ cpuid.In, regs *cpuid.Out) {
	if !info.PAE {
		regs.Ecx &^= cpuid.X86FeatureLAHF64.Mask()
		regs.Edx &^= cpuid.X86FeatureLM.Mask() |
			cpuid.X86FeatureNX.Mask() |
			cpuid.X86FeaturePSE36.Mask() |
			cpuid.X86FeatureGBPAGES.Mask()
	}
	regs.Ecx &= info.Features.Word(cpuid.WordExtECX)
	regs.Edx &= info.Features.Word(cpuid.WordExtEDX)
}

func hvmPowerInfo(_ *DomainInfo, _ cpuid.In, regs *cpuid.Out) {
	// The invariant TSC bit survives for hardware domains; the
	// migration layer already refuses to move such guests across
	// frequency domains.
	regs.Eax = 0
	regs.Ebx = 0
	regs.Ecx = 0
	regs.Edx &= cpuid.X86FeatureITSC.Mask()
}

func hvmAddressSizes(_ *DomainInfo, _ cpuid.In, regs *cpuid.Out) {
	// Only the physical and virtual address widths survive.
	regs.Eax &= 0x0000ffff
	regs.Ebx = 0
	regs.Edx = 0
}

// pvCommonFeatureClears drops the basic feature bits no paravirtual
// guest may observe, at both the basic leaf and its extended mirror.
func pvCommonFeatureClears(info *DomainInfo, regs *cpuid.Out) {
	regs.Edx &^= cpuid.X86FeatureVME.Mask()
	if !info.PVH {
		regs.Edx &^= cpuid.X86FeaturePSE.Mask() | cpuid.X86FeaturePGE.Mask()
	}
	regs.Edx &^= cpuid.X86FeatureMCE.Mask() |
		cpuid.X86FeatureMCA.Mask() |
		cpuid.X86FeatureMTRR.Mask() |
		cpuid.X86FeaturePSE36.Mask()
}

func pvFeatureInfo(info *DomainInfo, _ cpuid.In, regs *cpuid.Out) {
	pvCommonFeatureClears(info, regs)

	if info.Vendor == cpuid.VendorAMD {
		// Fast system calls are not intercepted on this vendor's
		// paravirtual entry path.
		regs.Edx &^= cpuid.X86FeatureSEP.Mask()
	}
	regs.Edx &^= cpuid.X86FeatureDS.Mask() |
		cpuid.X86FeatureTM.Mask() |
		cpuid.X86FeaturePBE.Mask()

	regs.Ecx &^= cpuid.X86FeatureDTES64.Mask() |
		cpuid.X86FeatureMONITOR.Mask() |
		cpuid.X86FeatureDSCPL.Mask() |
		cpuid.X86FeatureVMX.Mask() |
		cpuid.X86FeatureSMX.Mask() |
		cpuid.X86FeatureEST.Mask() |
		cpuid.X86FeatureTM2.Mask()
	if !info.PV64 {
		regs.Ecx &^= cpuid.X86FeatureCX16.Mask()
	}
	if info.XStateMask == 0 {
		regs.Ecx &^= cpuid.X86FeatureXSAVE.Mask() | cpuid.X86FeatureAVX.Mask()
	}
	regs.Ecx &^= cpuid.X86FeatureXTPR.Mask() |
		cpuid.X86FeaturePDCM.Mask() |
		cpuid.X86FeaturePCID.Mask() |
		cpuid.X86FeatureDCA.Mask()

	regs.Ecx &= info.Features.Word(cpuid.WordBasicECX)
	regs.Edx &= info.Features.Word(cpuid.WordBasicEDX)

	regs.Ecx |= cpuid.X86FeatureHypervisor.Mask()
}

func pvStructuredFeatures(info *DomainInfo, in cpuid.In, regs *cpuid.Out) {
	if in.Ecx == 0 {
		regs.Ebx &= pvStructEBXMask
		regs.Ebx &= info.Features.Word(cpuid.WordStructEBX)
	} else {
		regs.Ebx = 0
	}
	regs.Eax = 0
	regs.Ecx = 0
	regs.Edx = 0
}

func pvExtFeatureInfo(info *DomainInfo, _ cpuid.In, regs *cpuid.Out) {
	pvCommonFeatureClears(info, regs)

	if !info.PV64 {
		regs.Edx &^= cpuid.X86FeatureLM.Mask()
		regs.Ecx &^= cpuid.X86FeatureLAHF64.Mask()
		if info.Vendor != cpuid.VendorAMD {
			regs.Edx &^= cpuid.X86FeatureSYSCALL.Mask()
		}
	}
	if !info.PVH {
		regs.Edx &^= cpuid.X86FeatureGBPAGES.Mask()
	}
	regs.Edx &^= cpuid.X86FeatureRDTSCP.Mask()

	regs.Ecx &^= cpuid.X86FeatureSVM.Mask() |
		cpuid.X86FeatureOSVW.Mask() |
		cpuid.X86FeatureIBS.Mask() |
		cpuid.X86FeatureSKINIT.Mask() |
		cpuid.X86FeatureWDT.Mask() |
		cpuid.X86FeatureLWP.Mask() |
		cpuid.X86FeatureNODEID_MSR.Mask() |
		cpuid.X86FeatureTOPOLOGY.Mask()

	regs.Ecx &= info.Features.Word(cpuid.WordExtECX)
	regs.Edx &= info.Features.Word(cpuid.WordExtEDX)

	// A 64-bit paravirtual kernel always enters through syscall, even
	// when the bounding featureset went quiet about it.
	if info.PV64 {
		regs.Edx |= cpuid.X86FeatureSYSCALL.Mask()
	}
}
