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
	"errors"
	"testing"
)

func TestFeatureSetSize(t *testing.T) {
	fs := newFeatureSet()
	if len(fs) != FeatureSetSize() {
		t.Errorf("Got length %v, want %v", len(fs), FeatureSetSize())
	}
}

func TestNewFeatureSet(t *testing.T) {
	// Short input zero-extends.
	fs, err := NewFeatureSet([]uint32{X86FeatureSSE3.Mask()})
	if err != nil {
		t.Fatalf("NewFeatureSet got error %v, want nil", err)
	}
	if len(fs) != FeatureSetSize() {
		t.Errorf("Got length %v, want %v", len(fs), FeatureSetSize())
	}
	if !fs.HasFeature(X86FeatureSSE3) {
		t.Errorf("Got SSE3 missing, want present")
	}
	if fs.HasFeature(X86FeatureLM) {
		t.Errorf("Got LM present, want missing")
	}

	// Longer input is fine while the tail is zero.
	words := make([]uint32, FeatureSetSize()+3)
	if _, err := NewFeatureSet(words); err != nil {
		t.Errorf("NewFeatureSet got error %v, want nil", err)
	}

	// A feature beyond the known blocks cannot be represented.
	words[FeatureSetSize()+2] = 1
	if _, err := NewFeatureSet(words); !errors.Is(err, ErrTruncated) {
		t.Errorf("NewFeatureSet got error %v, want %v", err, ErrTruncated)
	}
}

func TestNewFeatureSetDoesNotAlias(t *testing.T) {
	words := make([]uint32, FeatureSetSize())
	fs, err := NewFeatureSet(words)
	if err != nil {
		t.Fatalf("NewFeatureSet got error %v, want nil", err)
	}
	words[WordBasicECX] = X86FeatureSSE3.Mask()
	if fs.HasFeature(X86FeatureSSE3) {
		t.Errorf("Got SSE3 present after mutating the input, want missing")
	}
}

func TestAddRemove(t *testing.T) {
	fs := newFeatureSet()
	fs.Add(X86FeatureCLZERO)
	if !fs.HasFeature(X86FeatureCLZERO) {
		t.Errorf("Got CLZERO missing after Add, want present")
	}
	fs.Remove(X86FeatureCLZERO)
	if fs.HasFeature(X86FeatureCLZERO) {
		t.Errorf("Got CLZERO present after Remove, want missing")
	}
}

func TestAnd(t *testing.T) {
	a := featureSetOf(X86FeatureSSE3, X86FeatureLM)
	b := featureSetOf(X86FeatureLM, X86FeatureNX)
	got := a.And(b)
	if got.HasFeature(X86FeatureSSE3) {
		t.Errorf("Got SSE3 present in intersection, want missing")
	}
	if got.HasFeature(X86FeatureNX) {
		t.Errorf("Got NX present in intersection, want missing")
	}
	if !got.HasFeature(X86FeatureLM) {
		t.Errorf("Got LM missing from intersection, want present")
	}
	// The operands are untouched.
	if !a.HasFeature(X86FeatureSSE3) {
		t.Errorf("Got SSE3 removed from the receiver, want intact")
	}
}

func TestSanitized(t *testing.T) {
	fs := StaticFeatureMask(MaskKnown)
	fs.Remove(X86FeatureXSAVE)
	got := fs.Sanitized()
	for _, f := range []Feature{
		X86FeatureAVX,
		X86FeatureAVX2,
		X86FeatureF16C,
		X86FeatureFMA,
		X86FeatureXSAVEOPT,
		X86FeatureXSAVES,
		X86FeaturePKU,
	} {
		if got.HasFeature(f) {
			t.Errorf("Got %v present without XSAVE, want cleared", f)
		}
	}
	// Features with no path to XSAVE survive.
	if !got.HasFeature(X86FeatureSSE2) {
		t.Errorf("Got SSE2 cleared, want present")
	}
	// The original set is untouched.
	if !fs.HasFeature(X86FeatureAVX) {
		t.Errorf("Got AVX cleared in the receiver, want intact")
	}
}

func TestSanitizedTransitive(t *testing.T) {
	// Dropping SSE must clear the whole chain above it, not just the
	// direct dependents.
	fs := StaticFeatureMask(MaskKnown)
	fs.Remove(X86FeatureSSE)
	got := fs.Sanitized()
	for _, f := range []Feature{
		X86FeatureSSE2,
		X86FeatureSSE3,
		X86FeatureSSSE3,
		X86FeatureSSE4_1,
		X86FeatureSSE4_2,
		X86FeatureSSE4A,
		X86FeatureAES,
	} {
		if got.HasFeature(f) {
			t.Errorf("Got %v present without SSE, want cleared", f)
		}
	}
}

func TestDeepDependencies(t *testing.T) {
	deps := DeepDependencies(X86FeatureXSAVE)
	if deps == nil {
		t.Fatalf("Got nil dependents for XSAVE, want a set")
	}
	if !deps.HasFeature(X86FeatureAVX) {
		t.Errorf("Got AVX missing from XSAVE dependents, want present")
	}
	if got := DeepDependencies(X86FeatureFPU); got != nil {
		t.Errorf("Got dependents %v for FPU, want nil", got)
	}

	// The returned set is a copy.
	deps.Remove(X86FeatureAVX)
	if !DeepDependencies(X86FeatureXSAVE).HasFeature(X86FeatureAVX) {
		t.Errorf("Got registry table mutated through the returned copy")
	}
}

func TestLookupDeepDeps(t *testing.T) {
	// A small table exercising all search positions.
	table := []deepDep{
		{X86FeatureSSE3, featureSetOf(X86FeatureSSSE3)},
		{X86FeatureXSAVE, featureSetOf(X86FeatureAVX)},
		{X86FeaturePAE, featureSetOf(X86FeatureLM)},
		{X86FeatureLM, featureSetOf(X86FeatureLAHF64)},
	}
	for _, want := range table {
		got := lookupDeepDeps(table, want.feature)
		if got == nil {
			t.Errorf("Got no entry for %v, want one", want.feature)
			continue
		}
		for i := range got {
			if got[i] != want.depends[i] {
				t.Errorf("Got word %d = %#x for %v, want %#x", i, got[i], want.feature, want.depends[i])
			}
		}
	}
	// Keys between and past the table entries miss.
	for _, f := range []Feature{X86FeatureFPU, X86FeatureSSSE3, X86FeatureCLZERO} {
		if got := lookupDeepDeps(table, f); got != nil {
			t.Errorf("Got entry %v for %v, want nil", got, f)
		}
	}
}

func TestStaticFeatureMask(t *testing.T) {
	for _, kind := range []MaskKind{MaskKnown, MaskSpecial, MaskPV, MaskHVMShadow, MaskHVMHAP, MaskDeep} {
		if got := StaticFeatureMask(kind); got == nil {
			t.Errorf("Got nil mask for kind %v, want a set", kind)
		}
	}
	if got := StaticFeatureMask(MaskKind(42)); got != nil {
		t.Errorf("Got mask %v for unknown kind, want nil", got)
	}

	// Mutating a returned mask must not leak into the registry.
	fs := StaticFeatureMask(MaskKnown)
	fs.Remove(X86FeatureFPU)
	if !StaticFeatureMask(MaskKnown).HasFeature(X86FeatureFPU) {
		t.Errorf("Got registry mask mutated through the returned copy")
	}
}

func TestGuestMasksAreKnown(t *testing.T) {
	known := StaticFeatureMask(MaskKnown)
	for _, kind := range []MaskKind{MaskPV, MaskHVMShadow, MaskHVMHAP} {
		mask := StaticFeatureMask(kind)
		for i := range mask {
			if mask[i]&^known.Word(i) != 0 {
				t.Errorf("Got mask %v word %d = %#x outside the known set %#x", kind, i, mask[i], known.Word(i))
			}
		}
	}
}

func TestVendorOf(t *testing.T) {
	intel := Out{Ebx: 0x756e6547, Ecx: 0x6c65746e, Edx: 0x49656e69}
	if got := VendorOf(intel); got != VendorIntel {
		t.Errorf("Got vendor %v, want %v", got, VendorIntel)
	}
	amd := Out{Ebx: 0x68747541, Ecx: 0x444d4163, Edx: 0x69746e65}
	if got := VendorOf(amd); got != VendorAMD {
		t.Errorf("Got vendor %v, want %v", got, VendorAMD)
	}
	if got := VendorOf(Out{Ebx: 1, Ecx: 2, Edx: 3}); got != VendorUnknown {
		t.Errorf("Got vendor %v, want %v", got, VendorUnknown)
	}
	if got := VendorIntel.String(); got != "Intel" {
		t.Errorf("Got vendor string %q, want %q", got, "Intel")
	}
}

func TestVendorID(t *testing.T) {
	s := make(Static)
	s.Set(In{Eax: LeafVendorID}, Out{Eax: 0xd, Ebx: 0x68747541, Ecx: 0x444d4163, Edx: 0x69746e65})
	want := [12]byte{'A', 'u', 't', 'h', 'e', 'n', 't', 'i', 'c', 'A', 'M', 'D'}
	if got := VendorID(s); got != want {
		t.Errorf("Got vendor ID %q, want %q", got[:], want[:])
	}
}

func TestStaticNormalizesSubleaf(t *testing.T) {
	s := make(Static)
	s.Set(In{Eax: LeafFeatureInfo, Ecx: SubleafUnused}, Out{Eax: 1})
	if got := s.Query(In{Eax: LeafFeatureInfo, Ecx: 0}); got.Eax != 1 {
		t.Errorf("Got Eax %v querying sub-leaf zero, want 1", got.Eax)
	}
	if got := s.Query(In{Eax: LeafFeatureInfo, Ecx: SubleafUnused}); got.Eax != 1 {
		t.Errorf("Got Eax %v querying the unused sentinel, want 1", got.Eax)
	}
	// Unknown leaves answer zero.
	if got := s.Query(In{Eax: 0x12345}); got != (Out{}) {
		t.Errorf("Got %v for an unrecorded leaf, want all zeroes", got)
	}
}

func TestReadFeatureSet(t *testing.T) {
	s := make(Static)
	s.Set(In{Eax: LeafVendorID}, Out{Eax: 0xd, Ebx: 0x756e6547, Ecx: 0x6c65746e, Edx: 0x49656e69})
	s.Set(In{Eax: LeafFeatureInfo}, Out{Ecx: X86FeatureSSE3.Mask(), Edx: X86FeatureFPU.Mask()})
	s.Set(In{Eax: LeafStructuredFeatures, Ecx: 0}, Out{Ebx: X86FeatureSMEP.Mask(), Ecx: X86FeaturePKU.Mask()})
	s.Set(In{Eax: LeafXSaveInfo, Ecx: 1}, Out{Eax: X86FeatureXSAVEOPT.Mask()})
	s.Set(In{Eax: LeafExtendedStart}, Out{Eax: LeafAddressSizes})
	s.Set(In{Eax: LeafExtendedFeatures}, Out{Ecx: X86FeatureLAHF64.Mask(), Edx: X86FeatureLM.Mask()})
	s.Set(In{Eax: LeafPowerInfo}, Out{Edx: X86FeatureITSC.Mask()})
	s.Set(In{Eax: LeafAddressSizes}, Out{Ebx: X86FeatureCLZERO.Mask()})

	fs := ReadFeatureSet(s)
	for _, f := range []Feature{
		X86FeatureSSE3,
		X86FeatureFPU,
		X86FeatureSMEP,
		X86FeaturePKU,
		X86FeatureXSAVEOPT,
		X86FeatureLAHF64,
		X86FeatureLM,
		X86FeatureITSC,
		X86FeatureCLZERO,
	} {
		if !fs.HasFeature(f) {
			t.Errorf("Got %v missing, want present", f)
		}
	}
	if fs.HasFeature(X86FeatureSSE2) {
		t.Errorf("Got SSE2 present, want missing")
	}
}

func TestReadFeatureSetShortHost(t *testing.T) {
	// A processor without leaf 7 or extended leaves reads as zero in
	// those blocks rather than picking up garbage.
	s := make(Static)
	s.Set(In{Eax: LeafVendorID}, Out{Eax: 0x1})
	s.Set(In{Eax: LeafFeatureInfo}, Out{Edx: X86FeatureFPU.Mask()})
	s.Set(In{Eax: LeafStructuredFeatures, Ecx: 0}, Out{Ebx: X86FeatureSMEP.Mask()})

	fs := ReadFeatureSet(s)
	if !fs.HasFeature(X86FeatureFPU) {
		t.Errorf("Got FPU missing, want present")
	}
	if fs.HasFeature(X86FeatureSMEP) {
		t.Errorf("Got SMEP present beyond the basic ceiling, want missing")
	}
}

func TestSnapshot(t *testing.T) {
	s := make(Static)
	s.Set(In{Eax: LeafVendorID}, Out{Eax: 0xd, Ebx: 0x756e6547, Ecx: 0x6c65746e, Edx: 0x49656e69})
	s.Set(In{Eax: LeafFeatureInfo}, Out{Eax: 0x000306c3})
	// Two cache sub-leaves, then a null type.
	s.Set(In{Eax: LeafCacheParams, Ecx: 0}, Out{Eax: 0x121})
	s.Set(In{Eax: LeafCacheParams, Ecx: 1}, Out{Eax: 0x122})
	s.Set(In{Eax: LeafXSaveInfo, Ecx: 0}, Out{Eax: 0x7})
	s.Set(In{Eax: LeafXSaveInfo, Ecx: 2}, Out{Eax: 256, Ebx: 576})
	s.Set(In{Eax: LeafExtendedStart}, Out{Eax: LeafAddressSizes})
	s.Set(In{Eax: LeafAddressSizes}, Out{Eax: 0x3027})

	snap := Snapshot(s)
	if got := snap.Query(In{Eax: LeafFeatureInfo}); got.Eax != 0x000306c3 {
		t.Errorf("Got leaf 1 Eax %#x, want %#x", got.Eax, 0x000306c3)
	}
	if got := snap.Query(In{Eax: LeafCacheParams, Ecx: 1}); got.Eax != 0x122 {
		t.Errorf("Got cache sub-leaf 1 Eax %#x, want %#x", got.Eax, 0x122)
	}
	// The walk stops at the null cache type.
	if _, ok := snap[In{Eax: LeafCacheParams, Ecx: 3}]; ok {
		t.Errorf("Got cache sub-leaf 3 captured, want walk stopped at the null type")
	}
	if got := snap.Query(In{Eax: LeafXSaveInfo, Ecx: 2}); got.Ebx != 576 {
		t.Errorf("Got extended state sub-leaf 2 Ebx %v, want 576", got.Ebx)
	}
	if got := snap.Query(In{Eax: LeafAddressSizes}); got.Eax != 0x3027 {
		t.Errorf("Got leaf %#x Eax %#x, want %#x", LeafAddressSizes, got.Eax, 0x3027)
	}
	// Replaying the snapshot reproduces it.
	again := Snapshot(snap)
	if len(again) != len(snap) {
		t.Errorf("Got %v leaves on replay, want %v", len(again), len(snap))
	}
}

func TestHostFeatureSet(t *testing.T) {
	fs := HostFeatureSet()
	if len(fs) != FeatureSetSize() {
		t.Fatalf("Got length %v, want %v", len(fs), FeatureSetSize())
	}
	// Baseline features of any 64-bit host.
	for _, f := range []Feature{X86FeatureFPU, X86FeatureSSE2, X86FeatureFXSR} {
		if !fs.HasFeature(f) {
			t.Errorf("Got %v missing from the host, want present", f)
		}
	}
}
