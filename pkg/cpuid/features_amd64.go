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

package cpuid

import "fmt"

// Block 0 constants are all of the "basic" feature bits returned by a cpuid
// in ecx with eax=1.
const (
	X86FeatureSSE3 Feature = iota
	X86FeaturePCLMULDQ
	X86FeatureDTES64
	X86FeatureMONITOR
	X86FeatureDSCPL
	X86FeatureVMX
	X86FeatureSMX
	X86FeatureEST
	X86FeatureTM2
	X86FeatureSSSE3
	X86FeatureCNXTID
	X86FeatureSDBG
	X86FeatureFMA
	X86FeatureCX16
	X86FeatureXTPR
	X86FeaturePDCM
	_ // ecx bit 16 is reserved.
	X86FeaturePCID
	X86FeatureDCA
	X86FeatureSSE4_1
	X86FeatureSSE4_2
	X86FeatureX2APIC
	X86FeatureMOVBE
	X86FeaturePOPCNT
	X86FeatureTSCD
	X86FeatureAES
	X86FeatureXSAVE
	X86FeatureOSXSAVE
	X86FeatureAVX
	X86FeatureF16C
	X86FeatureRDRAND
	X86FeatureHypervisor
)

// Block 1 constants are all of the "basic" feature bits returned by a cpuid
// in edx with eax=1.
const (
	X86FeatureFPU Feature = 32 + iota
	X86FeatureVME
	X86FeatureDE
	X86FeaturePSE
	X86FeatureTSC
	X86FeatureMSR
	X86FeaturePAE
	X86FeatureMCE
	X86FeatureCX8
	X86FeatureAPIC
	_ // edx bit 10 is reserved.
	X86FeatureSEP
	X86FeatureMTRR
	X86FeaturePGE
	X86FeatureMCA
	X86FeatureCMOV
	X86FeaturePAT
	X86FeaturePSE36
	X86FeaturePSN
	X86FeatureCLFSH
	_ // edx bit 20 is reserved.
	X86FeatureDS
	X86FeatureACPI
	X86FeatureMMX
	X86FeatureFXSR
	X86FeatureSSE
	X86FeatureSSE2
	X86FeatureSS
	X86FeatureHTT
	X86FeatureTM
	X86FeatureIA64
	X86FeaturePBE
)

// Block 2 bits are the "structured extended" features returned in ebx for
// eax=7, ecx=0.
const (
	X86FeatureFSGSBase Feature = 2*32 + iota
	X86FeatureTSC_ADJUST
	_ // ebx bit 2 is reserved.
	X86FeatureBMI1
	X86FeatureHLE
	X86FeatureAVX2
	X86FeatureFDP_EXCPTN_ONLY
	X86FeatureSMEP
	X86FeatureBMI2
	X86FeatureERMS
	X86FeatureINVPCID
	X86FeatureRTM
	X86FeatureCQM
	X86FeatureFPCSDS
	X86FeatureMPX
	X86FeatureRDT
	X86FeatureAVX512F
	X86FeatureAVX512DQ
	X86FeatureRDSEED
	X86FeatureADX
	X86FeatureSMAP
	X86FeatureAVX512IFMA
	X86FeaturePCOMMIT
	X86FeatureCLFLUSHOPT
	X86FeatureCLWB
	X86FeatureIPT
	X86FeatureAVX512PF
	X86FeatureAVX512ER
	X86FeatureAVX512CD
	X86FeatureSHA
	X86FeatureAVX512BW
	X86FeatureAVX512VL
)

// Block 3 bits are the "structured extended" features returned in ecx for
// eax=7, ecx=0. Bits 5 and up are reserved in this build.
const (
	X86FeaturePREFETCHWT1 Feature = 3*32 + iota
	X86FeatureAVX512VBMI
	X86FeatureUMIP
	X86FeaturePKU
	X86FeatureOSPKE
)

// Block 4 constants are the extended save state features returned in eax
// for eax=0xd, ecx=1.
const (
	X86FeatureXSAVEOPT Feature = 4*32 + iota
	X86FeatureXSAVEC
	X86FeatureXGETBV1
	X86FeatureXSAVES
)

// Block 5 constants are the extended feature bits in
// CPUID.(EAX=0x80000001):ECX.
const (
	X86FeatureLAHF64 Feature = 5*32 + iota
	X86FeatureCMP_LEGACY
	X86FeatureSVM
	X86FeatureEXTAPIC
	X86FeatureCR8_LEGACY
	X86FeatureLZCNT
	X86FeatureSSE4A
	X86FeatureMISALIGNSSE
	X86FeaturePREFETCHW
	X86FeatureOSVW
	X86FeatureIBS
	X86FeatureXOP
	X86FeatureSKINIT
	X86FeatureWDT
	_ // ecx bit 14 is reserved.
	X86FeatureLWP
	X86FeatureFMA4
	X86FeatureTCE
	_ // ecx bit 18 is reserved.
	X86FeatureNODEID_MSR
	_ // ecx bit 20 is reserved.
	X86FeatureTBM
	X86FeatureTOPOLOGY
	X86FeaturePERFCTR_CORE
	X86FeaturePERFCTR_NB
	_ // ecx bit 25 is reserved.
	X86FeatureBPEXT
	X86FeaturePERFCTR_TSC
	X86FeaturePERFCTR_LLC
	X86FeatureMWAITX
)

// Block 6 constants are the extended feature bits in
// CPUID.(EAX=0x80000001):EDX.
//
// These are sparse, and so the bit positions are assigned manually.
const (
	// On AMD, EDX[24:23] | EDX[17:12] | EDX[9:0] are duplicate features
	// also defined in block 1 (in identical bit positions). Those features
	// are not named here, but the policy tables treat them as valid parts
	// of the word.
	Block6DuplicateMask = 0x183f3ff

	X86FeatureSYSCALL  Feature = 6*32 + 11
	X86FeatureMP       Feature = 6*32 + 19
	X86FeatureNX       Feature = 6*32 + 20
	X86FeatureMMXEXT   Feature = 6*32 + 22
	X86FeatureFXSR_OPT Feature = 6*32 + 25
	X86FeatureGBPAGES  Feature = 6*32 + 26
	X86FeatureRDTSCP   Feature = 6*32 + 27
	X86FeatureLM       Feature = 6*32 + 29
	X86Feature3DNOWEXT Feature = 6*32 + 30
	X86Feature3DNOW    Feature = 6*32 + 31
)

// Block 7 constants are the power management bits in
// CPUID.(EAX=0x80000007):EDX. Only the invariant TSC bit is tracked.
const (
	X86FeatureITSC Feature = 7*32 + 8
)

// Block 8 constants are the capability bits in
// CPUID.(EAX=0x80000008):EBX.
const (
	X86FeatureCLZERO Feature = 8 * 32
)

// allFeatures maps from a Feature to its display name, which follows the
// Linux flag naming where one exists.
var allFeatures = map[Feature]string{
	// Block 0.
	X86FeatureSSE3:       "pni",
	X86FeaturePCLMULDQ:   "pclmulqdq",
	X86FeatureDTES64:     "dtes64",
	X86FeatureMONITOR:    "monitor",
	X86FeatureDSCPL:      "ds_cpl",
	X86FeatureVMX:        "vmx",
	X86FeatureSMX:        "smx",
	X86FeatureEST:        "est",
	X86FeatureTM2:        "tm2",
	X86FeatureSSSE3:      "ssse3",
	X86FeatureCNXTID:     "cid",
	X86FeatureSDBG:       "sdbg",
	X86FeatureFMA:        "fma",
	X86FeatureCX16:       "cx16",
	X86FeatureXTPR:       "xtpr",
	X86FeaturePDCM:       "pdcm",
	X86FeaturePCID:       "pcid",
	X86FeatureDCA:        "dca",
	X86FeatureSSE4_1:     "sse4_1",
	X86FeatureSSE4_2:     "sse4_2",
	X86FeatureX2APIC:     "x2apic",
	X86FeatureMOVBE:      "movbe",
	X86FeaturePOPCNT:     "popcnt",
	X86FeatureTSCD:       "tsc_deadline_timer",
	X86FeatureAES:        "aes",
	X86FeatureXSAVE:      "xsave",
	X86FeatureOSXSAVE:    "osxsave",
	X86FeatureAVX:        "avx",
	X86FeatureF16C:       "f16c",
	X86FeatureRDRAND:     "rdrand",
	X86FeatureHypervisor: "hypervisor",

	// Block 1.
	X86FeatureFPU:   "fpu",
	X86FeatureVME:   "vme",
	X86FeatureDE:    "de",
	X86FeaturePSE:   "pse",
	X86FeatureTSC:   "tsc",
	X86FeatureMSR:   "msr",
	X86FeaturePAE:   "pae",
	X86FeatureMCE:   "mce",
	X86FeatureCX8:   "cx8",
	X86FeatureAPIC:  "apic",
	X86FeatureSEP:   "sep",
	X86FeatureMTRR:  "mtrr",
	X86FeaturePGE:   "pge",
	X86FeatureMCA:   "mca",
	X86FeatureCMOV:  "cmov",
	X86FeaturePAT:   "pat",
	X86FeaturePSE36: "pse36",
	X86FeaturePSN:   "pn",
	X86FeatureCLFSH: "clflush",
	X86FeatureDS:    "dts",
	X86FeatureACPI:  "acpi",
	X86FeatureMMX:   "mmx",
	X86FeatureFXSR:  "fxsr",
	X86FeatureSSE:   "sse",
	X86FeatureSSE2:  "sse2",
	X86FeatureSS:    "ss",
	X86FeatureHTT:   "ht",
	X86FeatureTM:    "tm",
	X86FeatureIA64:  "ia64",
	X86FeaturePBE:   "pbe",

	// Block 2.
	X86FeatureFSGSBase:        "fsgsbase",
	X86FeatureTSC_ADJUST:      "tsc_adjust",
	X86FeatureBMI1:            "bmi1",
	X86FeatureHLE:             "hle",
	X86FeatureAVX2:            "avx2",
	X86FeatureFDP_EXCPTN_ONLY: "fdp_excptn_only",
	X86FeatureSMEP:            "smep",
	X86FeatureBMI2:            "bmi2",
	X86FeatureERMS:            "erms",
	X86FeatureINVPCID:         "invpcid",
	X86FeatureRTM:             "rtm",
	X86FeatureCQM:             "cqm",
	X86FeatureFPCSDS:          "fpcsds",
	X86FeatureMPX:             "mpx",
	X86FeatureRDT:             "rdt_a",
	X86FeatureAVX512F:         "avx512f",
	X86FeatureAVX512DQ:        "avx512dq",
	X86FeatureRDSEED:          "rdseed",
	X86FeatureADX:             "adx",
	X86FeatureSMAP:            "smap",
	X86FeatureAVX512IFMA:      "avx512ifma",
	X86FeaturePCOMMIT:         "pcommit",
	X86FeatureCLFLUSHOPT:      "clflushopt",
	X86FeatureCLWB:            "clwb",
	X86FeatureIPT:             "intel_pt",
	X86FeatureAVX512PF:        "avx512pf",
	X86FeatureAVX512ER:        "avx512er",
	X86FeatureAVX512CD:        "avx512cd",
	X86FeatureSHA:             "sha_ni",
	X86FeatureAVX512BW:        "avx512bw",
	X86FeatureAVX512VL:        "avx512vl",

	// Block 3.
	X86FeaturePREFETCHWT1: "prefetchwt1",
	X86FeatureAVX512VBMI:  "avx512vbmi",
	X86FeatureUMIP:        "umip",
	X86FeaturePKU:         "pku",
	X86FeatureOSPKE:       "ospke",

	// Block 4.
	X86FeatureXSAVEOPT: "xsaveopt",
	X86FeatureXSAVEC:   "xsavec",
	X86FeatureXGETBV1:  "xgetbv1",
	X86FeatureXSAVES:   "xsaves",

	// Block 5.
	X86FeatureLAHF64:       "lahf_lm",
	X86FeatureCMP_LEGACY:   "cmp_legacy",
	X86FeatureSVM:          "svm",
	X86FeatureEXTAPIC:      "extapic",
	X86FeatureCR8_LEGACY:   "cr8_legacy",
	X86FeatureLZCNT:        "abm",
	X86FeatureSSE4A:        "sse4a",
	X86FeatureMISALIGNSSE:  "misalignsse",
	X86FeaturePREFETCHW:    "3dnowprefetch",
	X86FeatureOSVW:         "osvw",
	X86FeatureIBS:          "ibs",
	X86FeatureXOP:          "xop",
	X86FeatureSKINIT:       "skinit",
	X86FeatureWDT:          "wdt",
	X86FeatureLWP:          "lwp",
	X86FeatureFMA4:         "fma4",
	X86FeatureTCE:          "tce",
	X86FeatureNODEID_MSR:   "nodeid_msr",
	X86FeatureTBM:          "tbm",
	X86FeatureTOPOLOGY:     "topoext",
	X86FeaturePERFCTR_CORE: "perfctr_core",
	X86FeaturePERFCTR_NB:   "perfctr_nb",
	X86FeatureBPEXT:        "bpext",
	X86FeaturePERFCTR_TSC:  "ptsc",
	X86FeaturePERFCTR_LLC:  "perfctr_llc",
	X86FeatureMWAITX:       "mwaitx",

	// Block 6.
	X86FeatureSYSCALL:  "syscall",
	X86FeatureMP:       "mp",
	X86FeatureNX:       "nx",
	X86FeatureMMXEXT:   "mmxext",
	X86FeatureFXSR_OPT: "fxsr_opt",
	X86FeatureGBPAGES:  "pdpe1gb",
	X86FeatureRDTSCP:   "rdtscp",
	X86FeatureLM:       "lm",
	X86Feature3DNOWEXT: "3dnowext",
	X86Feature3DNOW:    "3dnow",

	// Block 7.
	X86FeatureITSC: "itsc",

	// Block 8.
	X86FeatureCLZERO: "clzero",
}

var featuresByName = make(map[string]Feature, len(allFeatures))

func init() {
	for f, name := range allFeatures {
		featuresByName[name] = f
	}
}

// String implements fmt.Stringer.
func (f Feature) String() string {
	if name, ok := allFeatures[f]; ok {
		return name
	}
	return fmt.Sprintf("<cpuflag %d>", int(f))
}

// FeatureFromString returns the Feature associated with the given feature
// name, plus a bool to indicate if it could find the feature.
func FeatureFromString(name string) (Feature, bool) {
	f, ok := featuresByName[name]
	return f, ok
}
