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

import (
	"fmt"
	"sort"
)

// MaskKind selects one of the registry's static capability masks.
type MaskKind int

// The registry's static capability masks.
const (
	// MaskKnown holds every feature this build recognizes.
	MaskKnown MaskKind = iota
	// MaskSpecial holds features whose value is managed dynamically at
	// run time rather than leveled from the host.
	MaskSpecial
	// MaskPV holds features that may be offered to paravirtual guests.
	MaskPV
	// MaskHVMShadow holds features that may be offered to hardware
	// guests running on shadow paging.
	MaskHVMShadow
	// MaskHVMHAP holds features that may be offered to hardware guests
	// running on hardware-assisted paging.
	MaskHVMHAP
	// MaskDeep holds the features that key the dependency table.
	MaskDeep
)

// StaticFeatureMask returns a copy of the requested capability mask, or
// nil for an unrecognized kind.
func StaticFeatureMask(kind MaskKind) FeatureSet {
	switch kind {
	case MaskKnown:
		return knownFeatures.Clone()
	case MaskSpecial:
		return specialFeatures.Clone()
	case MaskPV:
		return pvFeatures.Clone()
	case MaskHVMShadow:
		return hvmShadowFeatures.Clone()
	case MaskHVMHAP:
		return hvmHapFeatures.Clone()
	case MaskDeep:
		return deepFeatures.Clone()
	}
	return nil
}

// featureSetOf builds a FeatureSet holding the given features.
func featureSetOf(features ...Feature) FeatureSet {
	fs := newFeatureSet()
	for _, f := range features {
		fs.Add(f)
	}
	return fs
}

// knownFeatures is every named feature, plus the unnamed duplicate bits
// AMD mirrors into the extended feature word.
var knownFeatures = func() FeatureSet {
	fs := newFeatureSet()
	for f := range allFeatures {
		fs.Add(f)
	}
	fs[WordExtEDX] |= Block6DuplicateMask
	return fs
}()

// specialFeatures are set or cleared by the machine as guests run, so a
// leveling pass never copies them from the host directly.
var specialFeatures = featureSetOf(
	X86FeatureAPIC,
	X86FeatureOSXSAVE,
	X86FeatureHypervisor,
	X86FeatureOSPKE,
)

// pvFeatures is the capability mask for paravirtual guests.
var pvFeatures = func() FeatureSet {
	fs := featureSetOf(
		// Block 0.
		X86FeatureSSE3,
		X86FeaturePCLMULDQ,
		X86FeatureSSSE3,
		X86FeatureFMA,
		X86FeatureCX16,
		X86FeatureSSE4_1,
		X86FeatureSSE4_2,
		X86FeatureMOVBE,
		X86FeaturePOPCNT,
		X86FeatureAES,
		X86FeatureXSAVE,
		X86FeatureOSXSAVE,
		X86FeatureAVX,
		X86FeatureF16C,
		X86FeatureRDRAND,
		X86FeatureHypervisor,

		// Block 1.
		X86FeatureFPU,
		X86FeatureDE,
		X86FeaturePSE,
		X86FeatureTSC,
		X86FeatureMSR,
		X86FeaturePAE,
		X86FeatureCX8,
		X86FeatureAPIC,
		X86FeatureSEP,
		X86FeaturePGE,
		X86FeatureCMOV,
		X86FeaturePAT,
		X86FeatureCLFSH,
		X86FeatureMMX,
		X86FeatureFXSR,
		X86FeatureSSE,
		X86FeatureSSE2,
		X86FeatureSS,
		X86FeatureHTT,

		// Block 2.
		X86FeatureFSGSBase,
		X86FeatureBMI1,
		X86FeatureHLE,
		X86FeatureAVX2,
		X86FeatureBMI2,
		X86FeatureERMS,
		X86FeatureRTM,
		X86FeatureRDSEED,
		X86FeatureADX,

		// Block 4.
		X86FeatureXSAVEOPT,
		X86FeatureXSAVEC,
		X86FeatureXGETBV1,

		// Block 5.
		X86FeatureLAHF64,
		X86FeatureCMP_LEGACY,
		X86FeatureCR8_LEGACY,
		X86FeatureLZCNT,
		X86FeatureSSE4A,
		X86FeatureMISALIGNSSE,
		X86FeaturePREFETCHW,
		X86FeatureXOP,
		X86FeatureFMA4,
		X86FeatureTBM,
		X86FeatureBPEXT,

		// Block 6.
		X86FeatureSYSCALL,
		X86FeatureNX,
		X86FeatureMMXEXT,
		X86FeatureFXSR_OPT,
		X86FeatureGBPAGES,
		X86FeatureLM,
		X86Feature3DNOWEXT,
		X86Feature3DNOW,

		// Block 8.
		X86FeatureCLZERO,
	)
	// The mirrored feature bits keep their block 1 positions in the
	// extended word; bits the machine owns outright stay hidden.
	fs[WordExtEDX] |= Block6DuplicateMask &^ (X86FeatureVME.Mask() |
		X86FeatureMCE.Mask() | X86FeatureMTRR.Mask() |
		X86FeatureMCA.Mask() | X86FeaturePSE36.Mask())
	return fs
}()

// hvmShadowFeatures is the capability mask for hardware guests running
// on shadow paging.
var hvmShadowFeatures = func() FeatureSet {
	fs := featureSetOf(
		// Block 0.
		X86FeatureSSE3,
		X86FeaturePCLMULDQ,
		X86FeatureSSSE3,
		X86FeatureFMA,
		X86FeatureCX16,
		X86FeatureSSE4_1,
		X86FeatureSSE4_2,
		X86FeatureX2APIC,
		X86FeatureMOVBE,
		X86FeaturePOPCNT,
		X86FeatureTSCD,
		X86FeatureAES,
		X86FeatureXSAVE,
		X86FeatureOSXSAVE,
		X86FeatureAVX,
		X86FeatureF16C,
		X86FeatureRDRAND,
		X86FeatureHypervisor,

		// Block 1.
		X86FeatureFPU,
		X86FeatureVME,
		X86FeatureDE,
		X86FeaturePSE,
		X86FeatureTSC,
		X86FeatureMSR,
		X86FeaturePAE,
		X86FeatureMCE,
		X86FeatureCX8,
		X86FeatureAPIC,
		X86FeatureSEP,
		X86FeatureMTRR,
		X86FeaturePGE,
		X86FeatureMCA,
		X86FeatureCMOV,
		X86FeaturePAT,
		X86FeaturePSE36,
		X86FeatureCLFSH,
		X86FeatureMMX,
		X86FeatureFXSR,
		X86FeatureSSE,
		X86FeatureSSE2,
		X86FeatureHTT,

		// Block 2.
		X86FeatureFSGSBase,
		X86FeatureTSC_ADJUST,
		X86FeatureBMI1,
		X86FeatureHLE,
		X86FeatureAVX2,
		X86FeatureSMEP,
		X86FeatureBMI2,
		X86FeatureERMS,
		X86FeatureRTM,
		X86FeatureMPX,
		X86FeatureRDSEED,
		X86FeatureADX,
		X86FeatureSMAP,
		X86FeaturePCOMMIT,
		X86FeatureCLFLUSHOPT,
		X86FeatureCLWB,

		// Block 4.
		X86FeatureXSAVEOPT,
		X86FeatureXSAVEC,
		X86FeatureXGETBV1,
		X86FeatureXSAVES,

		// Block 5.
		X86FeatureLAHF64,
		X86FeatureCMP_LEGACY,
		X86FeatureSVM,
		X86FeatureCR8_LEGACY,
		X86FeatureLZCNT,
		X86FeatureSSE4A,
		X86FeatureMISALIGNSSE,
		X86FeaturePREFETCHW,
		X86FeatureOSVW,
		X86FeatureXOP,
		X86FeatureLWP,
		X86FeatureFMA4,
		X86FeatureTBM,
		X86FeatureBPEXT,

		// Block 6.
		X86FeatureSYSCALL,
		X86FeatureNX,
		X86FeatureMMXEXT,
		X86FeatureFXSR_OPT,
		X86FeatureRDTSCP,
		X86FeatureLM,
		X86Feature3DNOWEXT,
		X86Feature3DNOW,

		// Block 7.
		X86FeatureITSC,

		// Block 8.
		X86FeatureCLZERO,
	)
	fs[WordExtEDX] |= Block6DuplicateMask
	return fs
}()

// hvmHapFeatures extends the shadow set with features that need
// hardware-assisted paging to virtualize.
var hvmHapFeatures = func() FeatureSet {
	fs := hvmShadowFeatures.Clone()
	for _, f := range []Feature{
		X86FeaturePCID,
		X86FeatureINVPCID,
		X86FeaturePKU,
		X86FeatureOSPKE,
		X86FeatureGBPAGES,
	} {
		fs.Add(f)
	}
	return fs
}()

// deepFeatures marks the features that key the dependency table.
var deepFeatures = func() FeatureSet {
	fs := newFeatureSet()
	for _, d := range deepDeps {
		fs.Add(d.feature)
	}
	return fs
}()

// deepDep records the transitive dependents of a single feature: every
// feature in depends requires feature and must disappear with it.
type deepDep struct {
	feature Feature
	depends FeatureSet
}

// deepDeps is sorted by feature in strictly ascending order, and every
// entry is transitively closed. Both properties are checked at startup.
var deepDeps = []deepDep{
	{X86FeatureSSE3, featureSetOf(
		X86FeatureSSSE3,
		X86FeatureSSE4_1,
		X86FeatureSSE4_2,
		X86FeatureSSE4A,
	)},
	{X86FeatureSSSE3, featureSetOf(
		X86FeatureSSE4_1,
		X86FeatureSSE4_2,
	)},
	{X86FeatureSSE4_1, featureSetOf(
		X86FeatureSSE4_2,
	)},
	{X86FeatureXSAVE, featureSetOf(
		X86FeatureXSAVEOPT,
		X86FeatureXSAVEC,
		X86FeatureXGETBV1,
		X86FeatureXSAVES,
		X86FeatureAVX,
		X86FeatureAVX2,
		X86FeatureF16C,
		X86FeatureFMA,
		X86FeatureFMA4,
		X86FeatureXOP,
		X86FeatureMPX,
		X86FeaturePKU,
		X86FeatureOSPKE,
	)},
	{X86FeatureAVX, featureSetOf(
		X86FeatureAVX2,
		X86FeatureF16C,
		X86FeatureFMA,
		X86FeatureFMA4,
		X86FeatureXOP,
	)},
	{X86FeaturePSE, featureSetOf(
		X86FeaturePSE36,
	)},
	{X86FeaturePAE, featureSetOf(
		X86FeatureCX16,
		X86FeatureLAHF64,
		X86FeatureGBPAGES,
		X86FeatureLM,
	)},
	{X86FeatureAPIC, featureSetOf(
		X86FeatureX2APIC,
		X86FeatureTSCD,
		X86FeatureEXTAPIC,
	)},
	{X86FeatureSSE, featureSetOf(
		X86FeatureSSE2,
		X86FeatureSSE3,
		X86FeaturePCLMULDQ,
		X86FeatureSSSE3,
		X86FeatureAES,
		X86FeatureSSE4_1,
		X86FeatureSSE4_2,
		X86FeatureSSE4A,
		X86FeatureMISALIGNSSE,
	)},
	{X86FeatureSSE2, featureSetOf(
		X86FeatureSSE3,
		X86FeaturePCLMULDQ,
		X86FeatureSSSE3,
		X86FeatureAES,
		X86FeatureSSE4_1,
		X86FeatureSSE4_2,
		X86FeatureSSE4A,
	)},
	{X86FeaturePKU, featureSetOf(
		X86FeatureOSPKE,
	)},
	{X86FeatureLM, featureSetOf(
		X86FeatureCX16,
		X86FeatureLAHF64,
	)},
}

// DeepDependencies returns a copy of the features that must be cleared
// whenever f is cleared, or nil if f has no recorded dependents.
func DeepDependencies(f Feature) FeatureSet {
	if d := lookupDeepDeps(deepDeps, f); d != nil {
		return d.Clone()
	}
	return nil
}

// lookupDeepDeps binary-searches table for the entry keyed by f.
func lookupDeepDeps(table []deepDep, f Feature) FeatureSet {
	i := sort.Search(len(table), func(i int) bool {
		return table[i].feature >= f
	})
	if i < len(table) && table[i].feature == f {
		return table[i].depends
	}
	return nil
}

func init() {
	for i, d := range deepDeps {
		if i > 0 && deepDeps[i-1].feature >= d.feature {
			panic(fmt.Sprintf("cpuid: dependency table out of order at %v", d.feature))
		}
		for _, e := range deepDeps {
			if !d.depends.HasFeature(e.feature) {
				continue
			}
			for w, bits := range e.depends {
				if d.depends[w]&bits != bits {
					panic(fmt.Sprintf("cpuid: dependents of %v missing from %v", e.feature, d.feature))
				}
			}
		}
	}
	for _, m := range []FeatureSet{specialFeatures, pvFeatures, hvmShadowFeatures, hvmHapFeatures, deepFeatures} {
		for w, bits := range m {
			if knownFeatures[w]&bits != bits {
				panic("cpuid: capability mask exceeds the known features")
			}
		}
	}
	for _, d := range deepDeps {
		for w, bits := range d.depends {
			if knownFeatures[w]&bits != bits {
				panic(fmt.Sprintf("cpuid: dependents of %v exceed the known features", d.feature))
			}
		}
	}
}
