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
	"strings"
	"text/tabwriter"

	"github.com/google/subcommands"

	"github.com/thusharams/xen/pkg/cpuid"
	"github.com/thusharams/xen/pkg/kvm"
	"github.com/thusharams/xen/pkg/leveling"
)

// Features implements subcommands.Command for the "features" command.
type Features struct {
	deps  string
	masks bool
	caps  bool
	names bool
}

// Name implements subcommands.Command.Name.
func (*Features) Name() string {
	return "features"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Features) Synopsis() string {
	return "show the feature surface this host can offer guests"
}

// Usage implements subcommands.Command.Usage.
func (*Features) Usage() string {
	return `features [flags]

Prints the host vendor and the featuresets guests may be bounded by,
one hexadecimal word per feature block.

OPTIONS:
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (fe *Features) SetFlags(f *flag.FlagSet) {
	f.StringVar(&fe.deps, "deps", "", "print the features disabled alongside the named one and exit.")
	f.BoolVar(&fe.masks, "masks", false, "also print the static capability masks.")
	f.BoolVar(&fe.caps, "caps", false, "also print the platform's leveling capabilities.")
	f.BoolVar(&fe.names, "names", false, "print feature names rather than hexadecimal words.")
}

// Execute implements subcommands.Command.Execute.
func (fe *Features) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}

	if fe.deps != "" {
		feature, ok := cpuid.FeatureFromString(fe.deps)
		if !ok {
			Fatalf("unknown feature %q", fe.deps)
		}
		deps := cpuid.DeepDependencies(feature)
		if deps == nil {
			fmt.Printf("%v: no dependent features\n", feature)
		} else {
			fmt.Printf("%v: %s\n", feature, deps.FlagString())
		}
		return subcommands.ExitSuccess
	}

	fn := &cpuid.Native{}
	out := fn.Query(cpuid.In{Eax: cpuid.LeafVendorID, Ecx: cpuid.SubleafUnused})
	fmt.Printf("vendor: %s (%v)\n", vendorString(fn), cpuid.VendorOf(out))
	fmt.Printf("feature words: %d\n", cpuid.FeatureSetSize())

	tw := tabwriter.NewWriter(os.Stdout, 10, 1, 3, ' ', 0)
	for _, set := range []struct {
		name  string
		index leveling.FeatureSetIndex
	}{
		{"raw", leveling.FeatureSetRaw},
		{"host", leveling.FeatureSetHost},
		{"pv", leveling.FeatureSetPV},
		{"hvm", leveling.FeatureSetHVM},
	} {
		fs, err := leveling.HostPolicyFeatureSet(fn, set.index)
		if err != nil {
			Fatalf("deriving %s featureset: %v", set.name, err)
		}
		fmt.Fprintf(tw, "%s\t%s\n", set.name, fe.render(fs))
	}
	tw.Flush()

	if fe.masks {
		fmt.Println()
		tw = tabwriter.NewWriter(os.Stdout, 10, 1, 3, ' ', 0)
		for _, mask := range []struct {
			name string
			kind cpuid.MaskKind
		}{
			{"known", cpuid.MaskKnown},
			{"special", cpuid.MaskSpecial},
			{"pv", cpuid.MaskPV},
			{"hvm-shadow", cpuid.MaskHVMShadow},
			{"hvm-hap", cpuid.MaskHVMHAP},
			{"deep", cpuid.MaskDeep},
		} {
			fmt.Fprintf(tw, "%s\t%s\n", mask.name, fe.render(cpuid.StaticFeatureMask(mask.kind)))
		}
		tw.Flush()
	}

	if fe.caps {
		caps, err := kvm.New(fn).LevellingCaps()
		if err != nil {
			Fatalf("querying leveling capabilities: %v", err)
		}
		fmt.Printf("\ncaps: %v\n", caps)
	}
	return subcommands.ExitSuccess
}

// render formats one featureset the way the command's flags ask for.
func (fe *Features) render(fs cpuid.FeatureSet) string {
	if fe.names {
		return fs.FlagString()
	}
	words := make([]string, len(fs))
	for i, w := range fs {
		words[i] = fmt.Sprintf("%#010x", w)
	}
	return strings.Join(words, " ")
}
