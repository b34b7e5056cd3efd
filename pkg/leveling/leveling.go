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

// Package leveling computes the CPU identification surface guests are
// allowed to observe and installs it through a control channel.
//
// A policy pass walks every identification leaf the hardware reports,
// reduces each one according to the domain's virtualization mode, the
// host vendor and a bounding featureset, and hands the result to a
// Control for installation. Administrators may additionally override
// single leaves bit by bit with Directive strings.
package leveling

import (
	"errors"
	"strings"
)

// DomainID names one guest domain on the control channel.
type DomainID uint32

// Attributes describes a domain as the control plane sees it. A policy
// pass derives everything else from these, the host processor and a
// featureset.
type Attributes struct {
	// HVM is true for hardware-assisted domains, false for paravirtual
	// ones.
	HVM bool

	// PVH is true for paravirtual domains hosted in a hardware
	// container. Such domains keep paravirtual identification but gain
	// the paging features the container provides.
	PVH bool

	// PAEEnabled reports whether a hardware domain was configured with
	// physical address extension. Paravirtual domains are PAE by
	// construction and ignore this.
	PAEEnabled bool

	// NestedVirt reports whether the domain may itself host hardware
	// guests.
	NestedVirt bool

	// GuestWidth is the domain's pointer width in bits, 32 or 64.
	// Meaningful only for paravirtual domains.
	GuestWidth uint32

	// XStateMask enumerates the extended state components enabled for
	// the domain, one bit per component. Zero disables extended state
	// entirely.
	XStateMask uint64
}

// Errors a policy pass can return. Install failures are the control
// channel's own and propagate unchanged.
var (
	// ErrNoSuchDomain is returned when a domain is not known to the
	// control channel.
	ErrNoSuchDomain = errors.New("leveling: no such domain")

	// ErrBadDirective is returned for override directives that are
	// malformed, regardless of what the host looks like.
	ErrBadDirective = errors.New("leveling: malformed override directive")

	// ErrHostIncompatible is returned by directive checks when a
	// well-formed directive demands a bit this host cannot satisfy.
	ErrHostIncompatible = errors.New("leveling: directive incompatible with this host")

	// ErrTooManyLeaves is returned when one batch carries more leaf
	// configurations than a domain may hold.
	ErrTooManyLeaves = errors.New("leveling: too many leaf configurations")
)

// FeatureSetIndex selects one of the featuresets the control plane
// maintains for the host.
type FeatureSetIndex int

// The host featureset indices.
const (
	// FeatureSetRaw is the unfiltered hardware featureset.
	FeatureSetRaw FeatureSetIndex = iota

	// FeatureSetHost is the hardware featureset reduced to the features
	// this build recognizes.
	FeatureSetHost

	// FeatureSetPV is the largest featureset offerable to paravirtual
	// guests on this host.
	FeatureSetPV

	// FeatureSetHVM is the largest featureset offerable to hardware
	// guests on this host.
	FeatureSetHVM
)

// LevellingCaps describes how much of the identification surface a host
// can mask or fault for guests, one bit per maskable register word.
type LevellingCaps uint32

// The individual leveling capabilities.
const (
	// CapFaulting marks hosts that fault unprivileged identification
	// reads instead of rewriting register words.
	CapFaulting LevellingCaps = 1 << iota
	// CapBasicECX covers the basic feature word in ecx of leaf 1.
	CapBasicECX
	// CapBasicEDX covers the basic feature word in edx of leaf 1.
	CapBasicEDX
	// CapExtECX covers the extended feature word in ecx of leaf
	// 0x80000001.
	CapExtECX
	// CapExtEDX covers the extended feature word in edx of leaf
	// 0x80000001.
	CapExtEDX
	// CapXSaveEAX covers the extended state feature word in eax of
	// leaf 0xd sub-leaf 1.
	CapXSaveEAX
	// CapStructEBX covers the structured feature word in ebx of leaf 7.
	CapStructEBX
	// CapStructECX covers the structured feature word in ecx of leaf 7.
	CapStructECX
	// CapThermalECX covers the thermal feature word in ecx of leaf 6.
	CapThermalECX
)

// CapsFull marks hosts able to mask the entire identification surface.
const CapsFull = CapFaulting | CapBasicECX | CapBasicEDX | CapExtECX |
	CapExtEDX | CapXSaveEAX | CapStructEBX | CapStructECX | CapThermalECX

// capNames is ordered to match the capability bits.
var capNames = []string{
	"faulting",
	"basic-ecx",
	"basic-edx",
	"ext-ecx",
	"ext-edx",
	"xsave-eax",
	"struct-ebx",
	"struct-ecx",
	"thermal-ecx",
}

// String implements fmt.Stringer.
func (c LevellingCaps) String() string {
	if c == 0 {
		return "none"
	}
	var s []string
	for i, name := range capNames {
		if c&(1<<uint(i)) != 0 {
			s = append(s, name)
		}
	}
	return strings.Join(s, " ")
}
