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

// Package kvm installs computed identification policies into KVM
// virtual machines.
//
// Its Control implements leveling.Control over the KVM_SET_CPUID2
// interface: installed leaves stage into a per-domain table, and Commit
// writes the table to every vCPU of the domain in one ioctl per vCPU.
// KVM intercepts every identification query a guest makes, so the full
// surface is maskable.
package kvm

// KVM ioctls and limits, from the kernel's published ABI.
const (
	_KVM_SET_CPUID2       = 0x4008ae90
	_KVM_NR_CPUID_ENTRIES = 0x100
)

// _KVM_CPUID_FLAG_SIGNIFICANT_INDEX marks entries whose index takes
// part in matching; entries without it answer every sub-leaf.
const _KVM_CPUID_FLAG_SIGNIFICANT_INDEX = 1

// cpuidEntry mirrors kvm_cpuid_entry2.
type cpuidEntry struct {
	function uint32
	index    uint32
	flags    uint32
	eax      uint32
	ebx      uint32
	ecx      uint32
	edx      uint32
	_        [3]uint32
}

// cpuidEntries mirrors kvm_cpuid2.
type cpuidEntries struct {
	nr      uint32
	_       uint32
	entries [_KVM_NR_CPUID_ENTRIES]cpuidEntry
}
