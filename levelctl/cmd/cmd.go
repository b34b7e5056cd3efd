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

// Package cmd holds implementations of the levelctl commands.
package cmd

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/thusharams/xen/pkg/cpuid"
	"github.com/thusharams/xen/pkg/leveling"
)

// scratchDomain is the domain commands level against. It exists only
// inside an in-memory control channel, never on a hypervisor.
const scratchDomain leveling.DomainID = 1

// Fatalf logs to stderr and exits with a failure status code.
func Fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	// Return an error that is unlikely to be used by the application.
	os.Exit(128)
}

// parseLeaf parses a leaf or sub-leaf argument. Decimal and
// hexadecimal spellings are both accepted.
func parseLeaf(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("bad leaf %q: %v", s, err)
	}
	return uint32(v), nil
}

// vendorString returns the processor's raw vendor identification
// string.
func vendorString(fn cpuid.Function) string {
	id := cpuid.VendorID(fn)
	return string(id[:])
}

// hostControl builds a control channel backed by nothing but this
// host's processor, with the scratch domain already registered.
func hostControl(fn cpuid.Function, attrs leveling.Attributes) *leveling.Recorder {
	rec := leveling.NewRecorder()
	for _, index := range []leveling.FeatureSetIndex{
		leveling.FeatureSetRaw,
		leveling.FeatureSetHost,
		leveling.FeatureSetPV,
		leveling.FeatureSetHVM,
	} {
		fs, err := leveling.HostPolicyFeatureSet(fn, index)
		if err != nil {
			Fatalf("deriving host featureset %d: %v", index, err)
		}
		rec.SetFeatureSet(index, fs)
	}
	rec.AddDomain(scratchDomain, attrs)
	return rec
}

// domainFlags collects the attribute flags shared by commands that
// level a scratch domain.
type domainFlags struct {
	hvm    bool
	pvh    bool
	pae    bool
	nested bool
	width  uint
	xstate string
}

func (d *domainFlags) register(f *flag.FlagSet) {
	f.BoolVar(&d.hvm, "hvm", false, "level a hardware-assisted domain rather than a paravirtual one.")
	f.BoolVar(&d.pvh, "pvh", false, "host the paravirtual domain in a hardware container.")
	f.BoolVar(&d.pae, "pae", true, "offer physical address extension to hardware domains.")
	f.BoolVar(&d.nested, "nested", false, "let the domain host hardware guests of its own.")
	f.UintVar(&d.width, "width", 64, "paravirtual guest pointer width in bits, 32 or 64.")
	f.StringVar(&d.xstate, "xstate", "host", "extended state components for the domain: 'host', 'none', or a component mask.")
}

// attributes resolves the flags into domain attributes. The 'host'
// extended state setting reads the enabled component mask off the host
// processor.
func (d *domainFlags) attributes(fn cpuid.Function) (leveling.Attributes, error) {
	if d.width != 32 && d.width != 64 {
		return leveling.Attributes{}, fmt.Errorf("bad guest width %d, must be 32 or 64", d.width)
	}
	var mask uint64
	switch d.xstate {
	case "host":
		out := fn.Query(cpuid.In{Eax: cpuid.LeafXSaveInfo, Ecx: 0})
		mask = uint64(out.Edx)<<32 | uint64(out.Eax)
	case "none":
		mask = 0
	default:
		var err error
		if mask, err = strconv.ParseUint(d.xstate, 0, 64); err != nil {
			return leveling.Attributes{}, fmt.Errorf("bad extended state mask %q: %v", d.xstate, err)
		}
	}
	return leveling.Attributes{
		HVM:        d.hvm,
		PVH:        d.pvh,
		PAEEnabled: d.pae,
		NestedVirt: d.nested,
		GuestWidth: uint32(d.width),
		XStateMask: mask,
	}, nil
}

// collapse reduces an install log to the surviving table: the last
// install of a leaf wins, in first-install order.
func collapse(leaves []leveling.InstalledLeaf) []leveling.InstalledLeaf {
	index := make(map[cpuid.In]int, len(leaves))
	var out []leveling.InstalledLeaf
	for _, l := range leaves {
		if i, ok := index[l.In]; ok {
			out[i] = l
			continue
		}
		index[l.In] = len(out)
		out = append(out, l)
	}
	return out
}

// printLeaves writes one row per leaf.
func printLeaves(w io.Writer, leaves []leveling.InstalledLeaf) {
	tw := tabwriter.NewWriter(w, 10, 1, 3, ' ', 0)
	fmt.Fprintln(tw, "LEAF\tSUBLEAF\tEAX\tEBX\tECX\tEDX")
	for _, l := range leaves {
		sub := "-"
		if l.In.Ecx != cpuid.SubleafUnused {
			sub = fmt.Sprintf("%#x", l.In.Ecx)
		}
		fmt.Fprintf(tw, "%#x\t%s\t%#010x\t%#010x\t%#010x\t%#010x\n",
			l.In.Eax, sub, l.Out.Eax, l.Out.Ebx, l.Out.Ecx, l.Out.Edx)
	}
	tw.Flush()
}

// loadFeatureset reads a featureset file: whitespace-separated
// hexadecimal feature words, '#' to end of line is a comment.
func loadFeatureset(path string) ([]uint32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var words []uint32
	for _, line := range strings.Split(string(data), "\n") {
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		for _, tok := range strings.Fields(line) {
			w, err := strconv.ParseUint(tok, 0, 32)
			if err != nil {
				return nil, fmt.Errorf("%s: bad feature word %q: %v", path, tok, err)
			}
			words = append(words, uint32(w))
		}
	}
	return words, nil
}
