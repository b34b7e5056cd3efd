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
	"path/filepath"
	"strings"

	"github.com/google/subcommands"

	"github.com/thusharams/xen/pkg/cpuid"
	"github.com/thusharams/xen/pkg/leveling"
)

// Plan implements subcommands.Command for the "plan" command.
type Plan struct {
	domainFlags
	featuresetPath string
	disable        string
	profilePath    string
	savePath       string
}

// Name implements subcommands.Command.Name.
func (*Plan) Name() string {
	return "plan"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Plan) Synopsis() string {
	return "compute the identification surface a domain would observe on this host"
}

// Usage implements subcommands.Command.Usage.
func (*Plan) Usage() string {
	return `plan [flags]

Runs a full identification policy pass for a domain with the given
attributes and prints one row per leveled leaf. The pass runs against
an in-memory control channel; nothing reaches a hypervisor.

OPTIONS:
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (p *Plan) SetFlags(f *flag.FlagSet) {
	p.domainFlags.register(f)
	f.StringVar(&p.featuresetPath, "featureset", "", "file of hexadecimal feature words bounding the policy.")
	f.StringVar(&p.disable, "disable", "", "comma-separated feature names to strip from the bounding featureset.")
	f.StringVar(&p.profilePath, "profile", "", "apply the leaf overrides in this profile after the policy pass.")
	f.StringVar(&p.savePath, "save-profile", "", "save the computed leaves as a profile at this path.")
}

// Execute implements subcommands.Command.Execute.
func (p *Plan) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}

	fn := &cpuid.Native{}
	attrs, err := p.attributes(fn)
	if err != nil {
		Fatalf("%v", err)
	}
	rec := hostControl(fn, attrs)
	eng := leveling.New(rec, fn)

	words, err := p.featureset(fn)
	if err != nil {
		Fatalf("%v", err)
	}

	info, err := eng.Resolve(scratchDomain, words)
	if err != nil {
		Fatalf("resolving domain: %v", err)
	}
	mode := "pv"
	switch {
	case info.HVM:
		mode = "hvm"
	case info.PVH:
		mode = "pvh"
	}
	fmt.Printf("host vendor: %v\n", info.Vendor)
	fmt.Printf("mode: %s\n", mode)
	if info.XStateMask != 0 {
		fmt.Printf("extended state: %#x (%d byte save area)\n", info.XStateMask, info.XStateMaxSize)
	}
	fmt.Println()

	if err := eng.ApplyPolicy(scratchDomain, words); err != nil {
		Fatalf("applying policy: %v", err)
	}

	if p.profilePath != "" {
		prof, err := loadProfile(p.profilePath)
		if err != nil {
			Fatalf("%v", err)
		}
		configs := make([]leveling.LeafConfig, 0, len(prof.Leaves))
		for _, l := range prof.Leaves {
			in, err := l.In()
			if err != nil {
				Fatalf("%s: %v", p.profilePath, err)
			}
			configs = append(configs, leveling.LeafConfig{In: in, Directive: l.Directive()})
		}
		if _, err := eng.ApplyLeaves(scratchDomain, configs); err != nil {
			Fatalf("applying %s: %v", p.profilePath, err)
		}
	}

	leaves := collapse(rec.Leaves(scratchDomain))
	printLeaves(os.Stdout, leaves)

	if p.savePath != "" {
		prof := &Profile{
			Name:   strings.TrimSuffix(filepath.Base(p.savePath), filepath.Ext(p.savePath)),
			Vendor: vendorString(fn),
		}
		for _, l := range leaves {
			prof.Leaves = append(prof.Leaves, newProfileLeaf(l.In, leveling.FormatRegisters(l.Out)))
		}
		if err := saveProfile(p.savePath, prof); err != nil {
			Fatalf("%v", err)
		}
	}
	return subcommands.ExitSuccess
}

// featureset resolves the bounding featureset flags. A nil return
// leaves the policy pass on the control channel's featuresets.
func (p *Plan) featureset(fn cpuid.Function) ([]uint32, error) {
	var fs cpuid.FeatureSet
	if p.featuresetPath != "" {
		words, err := loadFeatureset(p.featuresetPath)
		if err != nil {
			return nil, err
		}
		if fs, err = cpuid.NewFeatureSet(words); err != nil {
			return nil, fmt.Errorf("%s: %v", p.featuresetPath, err)
		}
	}
	if p.disable == "" {
		return fs, nil
	}
	if fs == nil {
		index := leveling.FeatureSetPV
		if p.hvm {
			index = leveling.FeatureSetHVM
		}
		var err error
		if fs, err = leveling.HostPolicyFeatureSet(fn, index); err != nil {
			return nil, err
		}
	}
	for _, name := range strings.Split(p.disable, ",") {
		feature, ok := cpuid.FeatureFromString(strings.TrimSpace(name))
		if !ok {
			return nil, fmt.Errorf("unknown feature %q", name)
		}
		fs.Remove(feature)
	}
	return fs, nil
}
