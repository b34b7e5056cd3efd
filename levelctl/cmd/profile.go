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

package cmd

import (
	"bytes"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/gofrs/flock"
	"github.com/pkg/errors"

	"github.com/thusharams/xen/pkg/cpuid"
	"github.com/thusharams/xen/pkg/leveling"
)

// A Profile is the on-disk form of a leveled identification surface.
// Each register string is an override directive; profiles saved from a
// policy pass carry directives frozen to plain digits, so checking them
// against another host verifies the whole surface bit for bit.
type Profile struct {
	Name   string        `toml:"name,omitempty"`
	Vendor string        `toml:"vendor,omitempty"`
	Leaves []ProfileLeaf `toml:"leaf"`
}

// ProfileLeaf is one leaf entry of a profile. Leaf and Subleaf are
// integer strings; an empty Subleaf marks a leaf whose sub-leaf index
// carries no meaning. Empty register strings defer to the computed
// policy.
type ProfileLeaf struct {
	Leaf    string `toml:"leaf"`
	Subleaf string `toml:"subleaf,omitempty"`
	Eax     string `toml:"eax,omitempty"`
	Ebx     string `toml:"ebx,omitempty"`
	Ecx     string `toml:"ecx,omitempty"`
	Edx     string `toml:"edx,omitempty"`
}

// In returns the leaf this entry configures.
func (l ProfileLeaf) In() (cpuid.In, error) {
	leaf, err := parseLeaf(l.Leaf)
	if err != nil {
		return cpuid.In{}, err
	}
	sub := cpuid.SubleafUnused
	if l.Subleaf != "" {
		if sub, err = parseLeaf(l.Subleaf); err != nil {
			return cpuid.In{}, err
		}
	}
	return cpuid.In{Eax: leaf, Ecx: sub}, nil
}

// Directive returns the override directive of this entry.
func (l ProfileLeaf) Directive() leveling.Directive {
	return leveling.Directive{l.Eax, l.Ebx, l.Ecx, l.Edx}
}

// newProfileLeaf builds the entry for one leaf.
func newProfileLeaf(in cpuid.In, d leveling.Directive) ProfileLeaf {
	l := ProfileLeaf{
		Leaf: fmt.Sprintf("%#x", in.Eax),
		Eax:  d[0],
		Ebx:  d[1],
		Ecx:  d[2],
		Edx:  d[3],
	}
	if in.Ecx != cpuid.SubleafUnused {
		l.Subleaf = fmt.Sprintf("%#x", in.Ecx)
	}
	return l
}

// loadProfile reads the profile at path. Readers share the profile
// lock so loads never observe a half-written update.
func loadProfile(path string) (*Profile, error) {
	lock := flock.New(path + ".lock")
	if err := lock.RLock(); err != nil {
		return nil, errors.Wrapf(err, "locking profile %s", path)
	}
	defer lock.Unlock()

	var p Profile
	if _, err := toml.DecodeFile(path, &p); err != nil {
		return nil, errors.Wrapf(err, "reading profile %s", path)
	}
	return &p, nil
}

// saveProfile writes the profile to path under the exclusive profile
// lock.
func saveProfile(path string, p *Profile) error {
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return errors.Wrapf(err, "locking profile %s", path)
	}
	defer lock.Unlock()

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(p); err != nil {
		return errors.Wrapf(err, "encoding profile %s", path)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return errors.Wrapf(err, "writing profile %s", path)
	}
	return nil
}
