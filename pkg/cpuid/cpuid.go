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

// Package cpuid provides the processor identification primitives the
// leveling engine is built on: an oracle for executing identification
// queries against the running processor (or a recorded stand-in), a
// fixed-width vector of feature words, and the static capability masks
// and dependency tables describing which features may be offered to
// guests.
//
// For example: test for hardware extended state saving, and if the host
// lacks it, stop offering AVX, which cannot be saved with fxsave.
//
//	fs := HostFeatureSet()
//	if !fs.HasFeature(X86FeatureXSAVE) {
//		fs.Remove(X86FeatureAVX)
//	}
package cpuid

import "errors"

// Feature is a unique identifier for a particular cpu feature. Features
// are numbered in 32-bit blocks; each block mirrors one register of one
// identification leaf and one word of a FeatureSet.
type Feature int

// ErrTruncated is returned when caller-supplied feature words carry set
// bits beyond the blocks this build knows about. Accepting such input
// would silently drop the unknown features.
var ErrTruncated = errors.New("cpuid: feature words beyond the known blocks are not zero")
