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
	"sync"

	"github.com/thusharams/xen/pkg/cpuid"
)

// Recorder is an in-memory Control. It stands in for a live platform
// during dry runs: callers register domains and host featuresets, run a
// pass, and read back the leaves the pass would have installed.
//
// A Recorder is safe for concurrent use.
type Recorder struct {
	mu       sync.Mutex
	domains  map[DomainID]Attributes
	features map[FeatureSetIndex]cpuid.FeatureSet
	installs map[DomainID][]InstalledLeaf
}

// InstalledLeaf is one leaf a Recorder accepted.
type InstalledLeaf struct {
	In  cpuid.In
	Out cpuid.Out
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		domains:  make(map[DomainID]Attributes),
		features: make(map[FeatureSetIndex]cpuid.FeatureSet),
		installs: make(map[DomainID][]InstalledLeaf),
	}
}

// AddDomain registers a domain, replacing any earlier registration and
// the leaves recorded under it.
func (r *Recorder) AddDomain(id DomainID, attrs Attributes) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.domains[id] = attrs
	delete(r.installs, id)
}

// SetFeatureSet registers the featureset served for the given index.
func (r *Recorder) SetFeatureSet(index FeatureSetIndex, fs cpuid.FeatureSet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.features[index] = fs.Clone()
}

// DomainAttributes implements Control.DomainAttributes.
func (r *Recorder) DomainAttributes(id DomainID) (Attributes, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	attrs, ok := r.domains[id]
	if !ok {
		return Attributes{}, fmt.Errorf("domain %d: %w", id, ErrNoSuchDomain)
	}
	return attrs, nil
}

// HostFeatureSet implements Control.HostFeatureSet.
func (r *Recorder) HostFeatureSet(index FeatureSetIndex) (cpuid.FeatureSet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fs, ok := r.features[index]
	if !ok {
		return nil, fmt.Errorf("leveling: no featureset recorded for index %d", index)
	}
	return fs.Clone(), nil
}

// InstallLeaf implements Control.InstallLeaf. Leaves append in install
// order; reinstalling one keeps both records so that callers can see
// exactly what a pass did.
func (r *Recorder) InstallLeaf(id DomainID, in cpuid.In, out cpuid.Out) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.domains[id]; !ok {
		return fmt.Errorf("domain %d: %w", id, ErrNoSuchDomain)
	}
	r.installs[id] = append(r.installs[id], InstalledLeaf{In: in, Out: out})
	return nil
}

// Leaves returns a copy of the leaves recorded for a domain, in install
// order.
func (r *Recorder) Leaves(id DomainID) []InstalledLeaf {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]InstalledLeaf(nil), r.installs[id]...)
}
