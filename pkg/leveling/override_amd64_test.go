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
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/thusharams/xen/pkg/cpuid"
)

// dirChars builds a 32-character directive string of def, with the
// characters in bits placed at their bit positions.
func dirChars(def byte, bits map[int]byte) string {
	buf := make([]byte, directiveBits)
	for i := range buf {
		buf[i] = def
	}
	for bit, c := range bits {
		buf[31-bit] = c
	}
	return string(buf)
}

// overrideEngine returns an engine over intelHost with one hardware
// domain and a permissive featureset on the control channel.
func overrideEngine() (*Engine, *Recorder) {
	rec := NewRecorder()
	rec.AddDomain(1, Attributes{HVM: true, PAEEnabled: true, XStateMask: 0x7})
	rec.SetFeatureSet(FeatureSetHVM, permissiveFeatures())
	return New(rec, intelHost()), rec
}

func TestFormatRegisters(t *testing.T) {
	d := FormatRegisters(cpuid.Out{Eax: 0x80000001, Ebx: 0xffffffff, Ecx: 0, Edx: 0x2})
	want := Directive{
		"1" + strings.Repeat("0", 30) + "1",
		strings.Repeat("1", 32),
		strings.Repeat("0", 32),
		strings.Repeat("0", 30) + "10",
	}
	if d != want {
		t.Errorf("Got %q, want %q", d, want)
	}
}

func TestSetLeafPolicyDefault(t *testing.T) {
	e, rec := overrideEngine()
	in := cpuid.In{Eax: 0x1, Ecx: cpuid.SubleafUnused}

	out, transformed, err := e.SetLeaf(1, in, Directive{})
	if err != nil {
		t.Fatalf("SetLeaf got error %v, want nil", err)
	}
	want := Transform(hvmInfo(cpuid.VendorIntel), in, intelHost().Query(in))
	if out != want {
		t.Errorf("Got %+v, want the policy value %+v", out, want)
	}
	if transformed != (Directive{}) {
		t.Errorf("Got transformed directive %q, want all empty", transformed)
	}

	leaves := rec.Leaves(1)
	if len(leaves) != 1 || leaves[0].In != in || leaves[0].Out != want {
		t.Errorf("Got recorded leaves %+v, want one install of %+v", leaves, want)
	}
}

func TestSetLeafDirectives(t *testing.T) {
	in := cpuid.In{Eax: 0x1, Ecx: cpuid.SubleafUnused}
	host := intelHost().Query(in)
	policy := Transform(hvmInfo(cpuid.VendorIntel), in, host)

	for _, tc := range []struct {
		name            string
		ecx             string
		want            uint32
		wantTransformed string
	}{
		{
			name:            "keep host",
			ecx:             strings.Repeat("k", 32),
			want:            host.Ecx,
			wantTransformed: strings.Repeat("k", 32),
		},
		{
			name:            "explicit policy",
			ecx:             strings.Repeat("x", 32),
			want:            policy.Ecx,
			wantTransformed: strings.Repeat("x", 32),
		},
		{
			name:            "freeze host",
			ecx:             strings.Repeat("s", 32),
			want:            host.Ecx,
			wantTransformed: FormatRegisters(host)[2],
		},
		{
			name:            "forced bits over policy",
			ecx:             dirChars('x', map[int]byte{31: '0', 16: '1'}),
			want:            (policy.Ecx &^ cpuid.X86FeatureHypervisor.Mask()) | 1<<16,
			wantTransformed: dirChars('x', map[int]byte{31: '0', 16: '1'}),
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			e, _ := overrideEngine()
			out, transformed, err := e.SetLeaf(1, in, Directive{"", "", tc.ecx, ""})
			if err != nil {
				t.Fatalf("SetLeaf got error %v, want nil", err)
			}
			if out.Ecx != tc.want {
				t.Errorf("Got ecx %#x, want %#x", out.Ecx, tc.want)
			}
			// Registers without a directive take the policy value.
			if out.Edx != policy.Edx {
				t.Errorf("Got edx %#x, want the policy value %#x", out.Edx, policy.Edx)
			}
			want := Directive{"", "", tc.wantTransformed, ""}
			if transformed != want {
				t.Errorf("Got transformed directive %q, want %q", transformed, want)
			}
		})
	}
}

func TestSetLeafInstallsZero(t *testing.T) {
	// A policy pass skips all-zero leaves; an explicit override pins
	// them, hiding whatever the platform would otherwise answer.
	e, rec := overrideEngine()
	in := cpuid.In{Eax: 0x3, Ecx: cpuid.SubleafUnused}

	out, _, err := e.SetLeaf(1, in, Directive{})
	if err != nil {
		t.Fatalf("SetLeaf got error %v, want nil", err)
	}
	if out != (cpuid.Out{}) {
		t.Errorf("Got %+v, want all zero", out)
	}
	leaves := rec.Leaves(1)
	if len(leaves) != 1 || leaves[0].In != in || leaves[0].Out != (cpuid.Out{}) {
		t.Errorf("Got recorded leaves %+v, want one all-zero install", leaves)
	}
}

func TestSetLeafBadDirective(t *testing.T) {
	for _, tc := range []struct {
		name string
		d    Directive
	}{
		{name: "wrong length", d: Directive{"101"}},
		{name: "bad character", d: Directive{dirChars('x', map[int]byte{3: 'z'})}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			e, rec := overrideEngine()
			_, _, err := e.SetLeaf(1, cpuid.In{Eax: 0x1, Ecx: cpuid.SubleafUnused}, tc.d)
			if !errors.Is(err, ErrBadDirective) {
				t.Fatalf("Got error %v, want %v", err, ErrBadDirective)
			}
			if got := rec.Leaves(1); len(got) != 0 {
				t.Errorf("Got %v leaves installed from a rejected directive, want 0", len(got))
			}
		})
	}
}

func TestSetLeafInstallFailure(t *testing.T) {
	rec := NewRecorder()
	rec.AddDomain(1, Attributes{HVM: true, PAEEnabled: true, XStateMask: 0x7})
	rec.SetFeatureSet(FeatureSetHVM, permissiveFeatures())
	errBroken := errors.New("channel broken")
	ctl := &failingControl{Recorder: rec, failLeaf: 0x1, fail: true, err: errBroken}
	e := New(ctl, intelHost())

	_, transformed, err := e.SetLeaf(1, cpuid.In{Eax: 0x1, Ecx: cpuid.SubleafUnused}, Directive{strings.Repeat("s", 32)})
	if !errors.Is(err, errBroken) {
		t.Fatalf("Got error %v, want %v", err, errBroken)
	}
	if transformed != (Directive{}) {
		t.Errorf("Got transformed directive %q from a failed install, want empty", transformed)
	}
}

func TestSetLeafUnknownDomain(t *testing.T) {
	e, _ := overrideEngine()
	_, _, err := e.SetLeaf(9, cpuid.In{Eax: 0x1, Ecx: cpuid.SubleafUnused}, Directive{})
	if !errors.Is(err, ErrNoSuchDomain) {
		t.Errorf("Got error %v, want %v", err, ErrNoSuchDomain)
	}
}

func TestCheckLeaf(t *testing.T) {
	e, _ := overrideEngine()
	in := cpuid.In{Eax: 0x1, Ecx: cpuid.SubleafUnused}
	host := intelHost().Query(in)
	digits := FormatRegisters(host)

	for _, tc := range []struct {
		name    string
		d       Directive
		want    Directive
		wantErr error
	}{
		{
			name: "exact digits match",
			d:    digits,
			want: digits,
		},
		{
			name: "wildcards always match",
			d:    Directive{strings.Repeat("x", 32)},
			want: Directive{strings.Repeat("x", 32)},
		},
		{
			name: "freeze resolves to digits",
			d:    Directive{"", "", strings.Repeat("s", 32), ""},
			want: Directive{"", "", digits[2], ""},
		},
		{
			name:    "host mismatch",
			d:       Directive{"", "", dirChars('x', map[int]byte{0: '0'}), ""},
			wantErr: ErrHostIncompatible,
		},
		{
			name:    "keep is not checkable",
			d:       Directive{strings.Repeat("k", 32)},
			wantErr: ErrBadDirective,
		},
		{
			name:    "wrong length",
			d:       Directive{"10x"},
			wantErr: ErrBadDirective,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := e.CheckLeaf(in, tc.d)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("Got error %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("CheckLeaf got error %v, want nil", err)
			}
			if got != tc.want {
				t.Errorf("Got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestCheckLeafNamesFirstBadBit(t *testing.T) {
	e, _ := overrideEngine()
	in := cpuid.In{Eax: 0x1, Ecx: cpuid.SubleafUnused}
	// Bit 0 of leaf 1 ecx is set on this host; demanding it clear must
	// name the bit.
	_, err := e.CheckLeaf(in, Directive{"", "", dirChars('x', map[int]byte{0: '0'}), ""})
	if !errors.Is(err, ErrHostIncompatible) {
		t.Fatalf("Got error %v, want %v", err, ErrHostIncompatible)
	}
	if !strings.Contains(err.Error(), "register 2 bit 0") {
		t.Errorf("Got error %q, want the failing register and bit named", err)
	}
}

func TestApplyLeavesRoundTrip(t *testing.T) {
	e, rec := overrideEngine()
	configs := []LeafConfig{
		{In: cpuid.In{Eax: 0x1, Ecx: cpuid.SubleafUnused}, Directive: Directive{"", "", strings.Repeat("s", 32), strings.Repeat("s", 32)}},
		{In: cpuid.In{Eax: 0x7, Ecx: 0}, Directive: Directive{"", strings.Repeat("s", 32), "", ""}},
	}

	transformed, err := e.ApplyLeaves(1, configs)
	if err != nil {
		t.Fatalf("ApplyLeaves got error %v, want nil", err)
	}
	if len(transformed) != len(configs) {
		t.Fatalf("Got %v transformed configurations, want %v", len(transformed), len(configs))
	}
	if got := len(rec.Leaves(1)); got != len(configs) {
		t.Errorf("Got %v leaves installed, want %v", got, len(configs))
	}

	// Every frozen directive must hold on the host it was frozen on.
	for _, c := range transformed {
		if _, err := e.CheckLeaf(c.In, c.Directive); err != nil {
			t.Errorf("CheckLeaf(%+v) got error %v, want nil", c.In, err)
		}
	}

	// The frozen leaf 1 directives echo the host's digits.
	host := intelHost().Query(configs[0].In)
	want := Directive{"", "", FormatRegisters(host)[2], FormatRegisters(host)[3]}
	if diff := cmp.Diff(want, transformed[0].Directive); diff != "" {
		t.Errorf("Transformed directive mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyLeavesTooMany(t *testing.T) {
	e, rec := overrideEngine()
	configs := make([]LeafConfig, maxLeafConfigs+1)
	for i := range configs {
		configs[i] = LeafConfig{In: cpuid.In{Eax: uint32(i), Ecx: cpuid.SubleafUnused}}
	}
	if _, err := e.ApplyLeaves(1, configs); !errors.Is(err, ErrTooManyLeaves) {
		t.Fatalf("Got error %v, want %v", err, ErrTooManyLeaves)
	}
	if got := rec.Leaves(1); len(got) != 0 {
		t.Errorf("Got %v leaves installed from a rejected batch, want 0", len(got))
	}
}

func TestApplyLeavesAborts(t *testing.T) {
	e, rec := overrideEngine()
	configs := []LeafConfig{
		{In: cpuid.In{Eax: 0x2, Ecx: cpuid.SubleafUnused}},
		{In: cpuid.In{Eax: 0x1, Ecx: cpuid.SubleafUnused}, Directive: Directive{"bad"}},
	}
	transformed, err := e.ApplyLeaves(1, configs)
	if !errors.Is(err, ErrBadDirective) {
		t.Fatalf("Got error %v, want %v", err, ErrBadDirective)
	}
	if transformed != nil {
		t.Errorf("Got transformed configurations %+v from an aborted batch, want none", transformed)
	}
	leaves := rec.Leaves(1)
	if len(leaves) != 1 || leaves[0].In.Eax != 0x2 {
		t.Errorf("Got recorded leaves %+v, want only the leaf before the failure", leaves)
	}
}
