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

// Static is a static CPUID function.
//
// This implements Function over a recorded answer table, so that policy
// passes can run against machines other than the one executing them.
// Keys are stored with sub-leaves normalized; a query with the unused
// sentinel finds the same answer as a query with sub-leaf zero.
type Static map[In]Out

// Set records an answer.
func (s Static) Set(in In, out Out) {
	s[in.normalized()] = out
}

// Query implements Function.Query.
func (s Static) Query(in In) Out {
	return s[in.normalized()]
}

// Snapshot captures every leaf a leveling pass may visit on the given
// processor: the basic leaves through the extended state leaf, all cache
// sub-leaves, all extended state sub-leaves, and the extended leaves
// through the largest enumeration ceiling.
func Snapshot(fn Function) Static {
	s := make(Static)

	base := fn.Query(In{Eax: LeafVendorID, Ecx: SubleafUnused})
	s.Set(In{Eax: LeafVendorID}, base)
	maxBasic := base.Eax
	if maxBasic > LeafXSaveInfo {
		maxBasic = LeafXSaveInfo
	}
	for leaf := LeafFeatureInfo; leaf <= maxBasic; leaf++ {
		switch leaf {
		case LeafCacheParams:
			for sub := uint32(0); sub < maxCacheLeaves; sub++ {
				in := In{Eax: leaf, Ecx: sub}
				out := fn.Query(in)
				s.Set(in, out)
				if out.Eax&0x1f == 0 {
					break
				}
			}
		case LeafXSaveInfo:
			for sub := uint32(0); sub < XSaveInfoNumLeaves; sub++ {
				in := In{Eax: leaf, Ecx: sub}
				s.Set(in, fn.Query(in))
			}
		default:
			in := In{Eax: leaf, Ecx: SubleafUnused}
			s.Set(in, fn.Query(in))
		}
	}

	ext := fn.Query(In{Eax: LeafExtendedStart, Ecx: SubleafUnused})
	s.Set(In{Eax: LeafExtendedStart}, ext)
	maxExt := ext.Eax
	if maxExt > LeafExtendedCeiling {
		maxExt = LeafExtendedCeiling
	}
	for leaf := LeafExtendedStart + 1; leaf <= maxExt && leaf > LeafExtendedStart; leaf++ {
		in := In{Eax: leaf, Ecx: SubleafUnused}
		s.Set(in, fn.Query(in))
	}

	return s
}
