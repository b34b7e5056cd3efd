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
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"github.com/pkg/errors"

	"github.com/thusharams/xen/pkg/cpuid"
	"github.com/thusharams/xen/pkg/leveling"
)

// regNames orders register names the way directives do.
var regNames = [4]string{"eax", "ebx", "ecx", "edx"}

// Set implements subcommands.Command for the "set" command.
type Set struct {
	domainFlags
	directives [4]string
	savePath   string
}

// Name implements subcommands.Command.Name.
func (*Set) Name() string {
	return "set"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Set) Synopsis() string {
	return "override one identification leaf and print the result"
}

// Usage implements subcommands.Command.Usage.
func (*Set) Usage() string {
	return `set [flags] <leaf> [<sub-leaf>]

Levels the given leaf for a domain with the given attributes, applies
the register directives on top and prints the leaf the domain would
observe. A directive is a 32-character string over '0', '1', 'x', 'k'
and 's', most significant bit first; an empty directive keeps the
computed policy value for the whole register.

OPTIONS:
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Set) SetFlags(f *flag.FlagSet) {
	s.domainFlags.register(f)
	for i, name := range regNames {
		f.StringVar(&s.directives[i], name, "", fmt.Sprintf("directive for the %s register.", name))
	}
	f.StringVar(&s.savePath, "save-profile", "", "merge the transformed directives into the profile at this path.")
}

// Execute implements subcommands.Command.Execute.
func (s *Set) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() < 1 || f.NArg() > 2 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	leaf, err := parseLeaf(f.Arg(0))
	if err != nil {
		Fatalf("%v", err)
	}
	sub := cpuid.SubleafUnused
	if f.NArg() == 2 {
		if sub, err = parseLeaf(f.Arg(1)); err != nil {
			Fatalf("%v", err)
		}
	}
	in := cpuid.In{Eax: leaf, Ecx: sub}

	fn := &cpuid.Native{}
	attrs, err := s.attributes(fn)
	if err != nil {
		Fatalf("%v", err)
	}
	eng := leveling.New(hostControl(fn, attrs), fn)

	d := leveling.Directive{s.directives[0], s.directives[1], s.directives[2], s.directives[3]}
	out, transformed, err := eng.SetLeaf(scratchDomain, in, d)
	if err != nil {
		Fatalf("setting leaf %#x: %v", leaf, err)
	}

	printLeaves(os.Stdout, []leveling.InstalledLeaf{{In: in, Out: out}})
	for i, t := range transformed {
		if t != "" {
			fmt.Printf("%s: %s\n", regNames[i], t)
		}
	}

	if s.savePath != "" {
		if err := s.merge(in, transformed); err != nil {
			Fatalf("%v", err)
		}
	}
	return subcommands.ExitSuccess
}

// merge folds the transformed entry into the profile at savePath,
// replacing an existing entry for the same leaf.
func (s *Set) merge(in cpuid.In, d leveling.Directive) error {
	p, err := loadProfile(s.savePath)
	if err != nil {
		if !os.IsNotExist(errors.Cause(err)) {
			return err
		}
		p = &Profile{}
	}
	entry := newProfileLeaf(in, d)
	replaced := false
	for i := range p.Leaves {
		if other, err := p.Leaves[i].In(); err == nil && other == in {
			p.Leaves[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		p.Leaves = append(p.Leaves, entry)
	}
	return saveProfile(s.savePath, p)
}
