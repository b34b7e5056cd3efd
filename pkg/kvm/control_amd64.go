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

package kvm

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/thusharams/xen/pkg/cpuid"
	"github.com/thusharams/xen/pkg/leveling"
)

// Control implements leveling.Control for KVM domains. Installed leaves
// stage in memory until Commit writes them, so a policy pass that
// aborts midway leaves the running vCPUs untouched.
//
// Control is safe for concurrent use.
type Control struct {
	fn cpuid.Function

	mu      sync.Mutex
	domains map[leveling.DomainID]*domain
}

type domain struct {
	attrs   leveling.Attributes
	vcpuFDs []int
	staged  cpuidEntries
}

// New returns a Control whose host featuresets derive from the
// processor visible through fn.
func New(fn cpuid.Function) *Control {
	return &Control{
		fn:      fn,
		domains: make(map[leveling.DomainID]*domain),
	}
}

// AddDomain registers a domain and the vCPU descriptors Commit writes
// to. Registering an id again replaces the previous domain and drops
// its staged leaves.
func (c *Control) AddDomain(id leveling.DomainID, attrs leveling.Attributes, vcpuFDs ...int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.domains[id] = &domain{
		attrs:   attrs,
		vcpuFDs: append([]int(nil), vcpuFDs...),
	}
}

// RemoveDomain forgets a domain and its staged leaves.
func (c *Control) RemoveDomain(id leveling.DomainID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.domains, id)
}

// DomainAttributes implements leveling.Control.DomainAttributes.
func (c *Control) DomainAttributes(id leveling.DomainID) (leveling.Attributes, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.domains[id]
	if !ok {
		return leveling.Attributes{}, errors.Wrapf(leveling.ErrNoSuchDomain, "domain %d", id)
	}
	return d.attrs, nil
}

// HostFeatureSet implements leveling.Control.HostFeatureSet. KVM keeps
// no featureset state of its own; every index derives from the
// processor.
func (c *Control) HostFeatureSet(index leveling.FeatureSetIndex) (cpuid.FeatureSet, error) {
	return leveling.HostPolicyFeatureSet(c.fn, index)
}

// InstallLeaf implements leveling.Control.InstallLeaf. The leaf stages
// in the domain's table; reinstalling a leaf overwrites its staged
// entry, which keeps repeated policy passes from growing the table.
func (c *Control) InstallLeaf(id leveling.DomainID, in cpuid.In, out cpuid.Out) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.domains[id]
	if !ok {
		return errors.Wrapf(leveling.ErrNoSuchDomain, "domain %d", id)
	}

	entry := cpuidEntry{
		function: in.Eax,
		eax:      out.Eax,
		ebx:      out.Ebx,
		ecx:      out.Ecx,
		edx:      out.Edx,
	}
	if in.Ecx != cpuid.SubleafUnused {
		entry.index = in.Ecx
		entry.flags = _KVM_CPUID_FLAG_SIGNIFICANT_INDEX
	}

	for i := uint32(0); i < d.staged.nr; i++ {
		prev := &d.staged.entries[i]
		if prev.function == entry.function && prev.index == entry.index && prev.flags == entry.flags {
			*prev = entry
			return nil
		}
	}
	if d.staged.nr == _KVM_NR_CPUID_ENTRIES {
		return errors.Errorf("domain %d: cpuid table full at %d entries", id, _KVM_NR_CPUID_ENTRIES)
	}
	d.staged.entries[d.staged.nr] = entry
	d.staged.nr++
	return nil
}

// StagedLeaves returns how many leaves are staged for a domain.
func (c *Control) StagedLeaves(id leveling.DomainID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.domains[id]
	if !ok {
		return 0
	}
	return int(d.staged.nr)
}

// Commit writes the staged table to every vCPU of the domain. The
// staged table survives the commit, so a follow-up pass amends it
// rather than starting over.
func (c *Control) Commit(id leveling.DomainID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.domains[id]
	if !ok {
		return errors.Wrapf(leveling.ErrNoSuchDomain, "domain %d", id)
	}
	for _, fd := range d.vcpuFDs {
		if err := setCPUID2(fd, &d.staged); err != nil {
			return errors.Wrapf(err, "domain %d vcpu fd %d", id, fd)
		}
	}
	logrus.WithFields(logrus.Fields{
		"domain": id,
		"leaves": d.staged.nr,
		"vcpus":  len(d.vcpuFDs),
	}).Debug("Committed cpuid table.")
	return nil
}

// LevellingCaps implements leveling.CapsReporter. KVM intercepts every
// identification query, so everything is maskable.
func (c *Control) LevellingCaps() (leveling.LevellingCaps, error) {
	return leveling.CapsFull, nil
}
