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
	"fmt"
	"strings"

	"github.com/thusharams/xen/pkg/cpuid"
)

// A Directive overrides one leaf register by register, in the order
// eax, ebx, ecx, edx. Each non-empty string is exactly 32 characters,
// one per bit with the most significant bit first:
//
//	'1'  force the bit on
//	'0'  force the bit off
//	'x'  use the computed policy value
//	'k'  pass the host bit through
//	's'  pass the host bit through and freeze it: the transformed
//	     directive records the digit it resolved to, so later checks
//	     pin the bit to this host's value
//
// An empty string leaves the whole register to the computed policy.
// Checks accept "10xs" only; 'k' makes no sense without a host to keep
// following.
type Directive [4]string

// directiveBits is the length of a non-empty directive string.
const directiveBits = 32

const (
	applyDirectiveChars = "10xks"
	checkDirectiveChars = "10xs"
)

// maxLeafConfigs bounds one ApplyLeaves batch. It matches the largest
// leaf table any control channel accepts for a domain.
const maxLeafConfigs = 256

// A LeafConfig pairs one leaf with the directive overriding it.
type LeafConfig struct {
	In        cpuid.In
	Directive Directive
}

// reg addresses the i'th register of out in directive order.
func reg(out *cpuid.Out, i int) *uint32 {
	switch i {
	case 0:
		return &out.Eax
	case 1:
		return &out.Ebx
	case 2:
		return &out.Ecx
	default:
		return &out.Edx
	}
}

// mergeBit resolves one directive character against the host and policy
// bits, accepting only characters in legal. The echoed character is the
// input except for 's', which freezes to the digit it resolved to.
func mergeBit(c byte, host, policy bool, legal string) (bit bool, echo byte, ok bool) {
	if strings.IndexByte(legal, c) < 0 {
		return false, 0, false
	}
	switch c {
	case '1':
		bit = true
	case '0':
		bit = false
	case 'x':
		bit = policy
	case 'k', 's':
		bit = host
	}
	echo = c
	if c == 's' {
		echo = '0'
		if bit {
			echo = '1'
		}
	}
	return bit, echo, true
}

// FormatRegisters renders register values in the directive encoding,
// 32 digits per register with the most significant bit first. Feeding
// the result to CheckLeaf succeeds on any host answering the same
// values.
func FormatRegisters(out cpuid.Out) Directive {
	var d Directive
	for i := range d {
		var buf [directiveBits]byte
		v := *reg(&out, i)
		for j := 0; j < directiveBits; j++ {
			buf[j] = '0'
			if v&(1<<uint(31-j)) != 0 {
				buf[j] = '1'
			}
		}
		d[i] = string(buf[:])
	}
	return d
}

// SetLeaf computes one leaf for a domain, merging the administrator's
// directive over the computed policy, and installs the result. Unlike a
// policy pass, an override installs even an all-zero answer.
//
// It returns the installed values and the transformed directive with
// every 's' frozen to the bit it resolved to. Malformed directives
// return ErrBadDirective before anything is installed; install failures
// return the channel's error and discard the transformed directive.
func (e *Engine) SetLeaf(id DomainID, in cpuid.In, d Directive) (cpuid.Out, Directive, error) {
	info, err := e.Resolve(id, nil)
	if err != nil {
		return cpuid.Out{}, Directive{}, err
	}
	return e.setLeaf(info, id, in, d)
}

func (e *Engine) setLeaf(info *DomainInfo, id DomainID, in cpuid.In, d Directive) (cpuid.Out, Directive, error) {
	host := e.fn.Query(in)
	policy := Transform(info, in, host)

	regs := host
	var transformed Directive
	for i := range d {
		if d[i] == "" {
			*reg(&regs, i) = *reg(&policy, i)
			continue
		}
		if len(d[i]) != directiveBits {
			return cpuid.Out{}, Directive{}, fmt.Errorf("register %d directive %q is not %d characters: %w", i, d[i], directiveBits, ErrBadDirective)
		}
		var buf [directiveBits]byte
		for j := 0; j < directiveBits; j++ {
			mask := uint32(1) << uint(31-j)
			bit, echo, ok := mergeBit(d[i][j], *reg(&host, i)&mask != 0, *reg(&policy, i)&mask != 0, applyDirectiveChars)
			if !ok {
				return cpuid.Out{}, Directive{}, fmt.Errorf("register %d directive %q character %q: %w", i, d[i], d[i][j], ErrBadDirective)
			}
			if bit {
				*reg(&regs, i) |= mask
			} else {
				*reg(&regs, i) &^= mask
			}
			buf[j] = echo
		}
		transformed[i] = string(buf[:])
	}

	if err := e.ctl.InstallLeaf(id, in, regs); err != nil {
		return cpuid.Out{}, Directive{}, fmt.Errorf("installing leaf %#x: %w", in.Eax, err)
	}
	overridesApplied.Inc()
	return regs, transformed, nil
}

// CheckLeaf verifies a directive against this host without touching any
// domain: '1' and '0' bits must match the host's answer, 'x' and 's'
// always do. It returns the transformed directive with every 's' frozen,
// ErrBadDirective for malformed input, or ErrHostIncompatible naming
// the first bit the host cannot satisfy.
func (e *Engine) CheckLeaf(in cpuid.In, d Directive) (Directive, error) {
	host := e.fn.Query(in)
	var transformed Directive
	for i := range d {
		if d[i] == "" {
			continue
		}
		if len(d[i]) != directiveBits {
			return Directive{}, fmt.Errorf("register %d directive %q is not %d characters: %w", i, d[i], directiveBits, ErrBadDirective)
		}
		var buf [directiveBits]byte
		for j := 0; j < directiveBits; j++ {
			mask := uint32(1) << uint(31-j)
			hostBit := *reg(&host, i)&mask != 0
			// Checks have no policy to fall back on; the host bit
			// stands in, which makes 'x' unconditionally satisfied.
			bit, echo, ok := mergeBit(d[i][j], hostBit, hostBit, checkDirectiveChars)
			if !ok {
				return Directive{}, fmt.Errorf("register %d directive %q character %q: %w", i, d[i], d[i][j], ErrBadDirective)
			}
			if bit != hostBit {
				return Directive{}, fmt.Errorf("register %d bit %d: %w", i, 31-j, ErrHostIncompatible)
			}
			buf[j] = echo
		}
		transformed[i] = string(buf[:])
	}
	return transformed, nil
}

// ApplyLeaves runs SetLeaf over a batch of leaf configurations in
// order, resolving the domain once. It returns the transformed
// directives of the leaves it installed. The first failure aborts the
// batch; like a policy pass, leaves already installed stay in place.
func (e *Engine) ApplyLeaves(id DomainID, configs []LeafConfig) ([]LeafConfig, error) {
	if len(configs) > maxLeafConfigs {
		return nil, fmt.Errorf("%d leaf configurations, at most %d fit a domain: %w", len(configs), maxLeafConfigs, ErrTooManyLeaves)
	}
	info, err := e.Resolve(id, nil)
	if err != nil {
		return nil, err
	}
	transformed := make([]LeafConfig, 0, len(configs))
	for _, c := range configs {
		_, td, err := e.setLeaf(info, id, c.In, c.Directive)
		if err != nil {
			return nil, err
		}
		transformed = append(transformed, LeafConfig{In: c.In, Directive: td})
	}
	return transformed, nil
}
