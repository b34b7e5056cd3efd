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
	"strings"

	"github.com/thusharams/xen/pkg/bits"
)

const (
	// blockSize is the number of bits in a single feature block.
	blockSize = 32

	// numBlocks is the number of feature blocks this build knows about.
	numBlocks = 9
)

// Feature word indices within a FeatureSet, one per feature block.
//
// Common references:
//
// Intel:
//   - Intel SDM Volume 2, Chapter 3.2 "CPUID"
//
// AMD:
//   - AMD64 APM Volume 3, Appendix 3 "Obtaining Processor Information ..."
const (
	WordBasicECX  = 0 // CPUID.1:ECX.
	WordBasicEDX  = 1 // CPUID.1:EDX.
	WordStructEBX = 2 // CPUID.7.0:EBX.
	WordStructECX = 3 // CPUID.7.0:ECX.
	WordXSaveEAX  = 4 // CPUID.D.1:EAX.
	WordExtECX    = 5 // CPUID.80000001:ECX.
	WordExtEDX    = 6 // CPUID.80000001:EDX.
	WordPowerEDX  = 7 // CPUID.80000007:EDX.
	WordSizesEBX  = 8 // CPUID.80000008:EBX.
)

// FeatureSetSize returns the number of feature words in a FeatureSet.
// Callers exchanging feature words with other builds compare lengths
// against this; see NewFeatureSet for the compatibility rule.
func FeatureSetSize() int {
	return numBlocks
}

// block returns the feature block f belongs to.
func (f Feature) block() int {
	return int(f) / blockSize
}

// Mask returns the bit mask of f within its block's feature word.
func (f Feature) Mask() uint32 {
	return bits.MaskOf32(int(f) % blockSize)
}

// A FeatureSet holds one 32-bit word per feature block. It is the
// portable form in which host capabilities and guest policies travel
// between the registry, the leveling engine, and control channels.
type FeatureSet []uint32

// newFeatureSet returns an all-zero FeatureSet of the build's width.
func newFeatureSet() FeatureSet {
	return make(FeatureSet, numBlocks)
}

// NewFeatureSet builds a FeatureSet from caller-supplied feature words.
// Shorter input is zero-extended. Longer input is accepted only when
// every word beyond the known blocks is zero; otherwise ErrTruncated is
// returned, since the extra features could not be represented.
func NewFeatureSet(words []uint32) (FeatureSet, error) {
	fs := newFeatureSet()
	copy(fs, words)
	for i := numBlocks; i < len(words); i++ {
		if words[i] != 0 {
			return nil, ErrTruncated
		}
	}
	return fs, nil
}

// Clone returns an independent copy of fs.
func (fs FeatureSet) Clone() FeatureSet {
	out := newFeatureSet()
	copy(out, fs)
	return out
}

// Word returns the feature word at index i, or zero if the set does not
// extend that far.
func (fs FeatureSet) Word(i int) uint32 {
	if i < 0 || i >= len(fs) {
		return 0
	}
	return fs[i]
}

// HasFeature tests whether fs contains the given feature.
func (fs FeatureSet) HasFeature(feature Feature) bool {
	return bits.IsAnyOn32(fs.Word(feature.block()), feature.Mask())
}

// Add adds the given feature to fs.
func (fs FeatureSet) Add(feature Feature) {
	if b := feature.block(); b < len(fs) {
		fs[b] |= feature.Mask()
	}
}

// Remove removes the given feature from fs.
func (fs FeatureSet) Remove(feature Feature) {
	if b := feature.block(); b < len(fs) {
		fs[b] &^= feature.Mask()
	}
}

// And returns the intersection of fs and other as a new FeatureSet.
func (fs FeatureSet) And(other FeatureSet) FeatureSet {
	out := fs.Clone()
	for i := range out {
		out[i] &= other.Word(i)
	}
	return out
}

// Sanitized returns a copy of fs with the dependents of every absent
// feature cleared as well, so that no feature is reported without the
// features it builds on. The dependency table is transitively closed,
// which makes a single pass sufficient.
func (fs FeatureSet) Sanitized() FeatureSet {
	out := fs.Clone()
	for _, d := range deepDeps {
		if !out.HasFeature(d.feature) {
			for i, w := range d.depends {
				out[i] &^= w
			}
		}
	}
	return out
}

// FlagString returns the space-separated names of every named feature in
// fs, in block order.
func (fs FeatureSet) FlagString() string {
	var s []string
	for b := 0; b < len(fs); b++ {
		for bit := 0; bit < blockSize; bit++ {
			f := Feature(b*blockSize + bit)
			if !fs.HasFeature(f) {
				continue
			}
			if name, ok := allFeatures[f]; ok {
				s = append(s, name)
			}
		}
	}
	return strings.Join(s, " ")
}

// ReadFeatureSet assembles the feature words visible through the given
// oracle. Blocks belonging to leaves the processor does not implement
// read as zero.
func ReadFeatureSet(fn Function) FeatureSet {
	fs := newFeatureSet()
	maxBasic := fn.Query(In{Eax: LeafVendorID, Ecx: SubleafUnused}).Eax
	maxExt := fn.Query(In{Eax: LeafExtendedStart, Ecx: SubleafUnused}).Eax

	if maxBasic >= LeafFeatureInfo {
		one := fn.Query(In{Eax: LeafFeatureInfo, Ecx: SubleafUnused})
		fs[WordBasicECX] = one.Ecx
		fs[WordBasicEDX] = one.Edx
	}
	if maxBasic >= LeafStructuredFeatures {
		seven := fn.Query(In{Eax: LeafStructuredFeatures, Ecx: 0})
		fs[WordStructEBX] = seven.Ebx
		fs[WordStructECX] = seven.Ecx
	}
	if maxBasic >= LeafXSaveInfo {
		fs[WordXSaveEAX] = fn.Query(In{Eax: LeafXSaveInfo, Ecx: 1}).Eax
	}
	if maxExt >= LeafExtendedFeatures {
		ext := fn.Query(In{Eax: LeafExtendedFeatures, Ecx: SubleafUnused})
		fs[WordExtECX] = ext.Ecx
		fs[WordExtEDX] = ext.Edx
	}
	if maxExt >= LeafPowerInfo {
		fs[WordPowerEDX] = fn.Query(In{Eax: LeafPowerInfo, Ecx: SubleafUnused}).Edx
	}
	if maxExt >= LeafAddressSizes {
		fs[WordSizesEBX] = fn.Query(In{Eax: LeafAddressSizes, Ecx: SubleafUnused}).Ebx
	}
	return fs
}

// hostFeatureSet is initialized at startup.
var hostFeatureSet FeatureSet

// HostFeatureSet returns the feature words of the running processor.
//
// Callers must not mutate the returned FeatureSet.
func HostFeatureSet() FeatureSet {
	return hostFeatureSet
}

func init() {
	hostFeatureSet = ReadFeatureSet(&Native{})
}

// Standard vendor signatures, assembled from the ebx, edx, ecx register
// triple of leaf zero.
var (
	authenticAMD = [12]byte{'A', 'u', 't', 'h', 'e', 'n', 't', 'i', 'c', 'A', 'M', 'D'}
	genuineIntel = [12]byte{'G', 'e', 'n', 'u', 'i', 'n', 'e', 'I', 'n', 't', 'e', 'l'}
)

// Vendor identifies a processor manufacturer.
type Vendor int

// Recognized manufacturers. Unknown vendors receive no vendor-specific
// policy handling.
const (
	VendorUnknown Vendor = iota
	VendorIntel
	VendorAMD
)

// String implements fmt.Stringer.
func (v Vendor) String() string {
	switch v {
	case VendorIntel:
		return "Intel"
	case VendorAMD:
		return "AMD"
	default:
		return "unknown"
	}
}

// vendorIDFromRegs assembles the 12-byte vendor signature from a
// leaf-zero answer.
func vendorIDFromRegs(out Out) (vendorID [12]byte) {
	for i := uint(0); i < 4; i++ {
		vendorID[i] = byte(out.Ebx >> (i * 8))
		vendorID[i+4] = byte(out.Edx >> (i * 8))
		vendorID[i+8] = byte(out.Ecx >> (i * 8))
	}
	return
}

// VendorOf identifies the manufacturer from a leaf-zero answer.
func VendorOf(out Out) Vendor {
	switch vendorIDFromRegs(out) {
	case genuineIntel:
		return VendorIntel
	case authenticAMD:
		return VendorAMD
	default:
		return VendorUnknown
	}
}

// VendorID returns the 12-byte vendor signature visible through fn.
func VendorID(fn Function) [12]byte {
	return vendorIDFromRegs(fn.Query(In{Eax: LeafVendorID, Ecx: SubleafUnused}))
}
