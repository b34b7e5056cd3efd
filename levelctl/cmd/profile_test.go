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
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/thusharams/xen/pkg/cpuid"
	"github.com/thusharams/xen/pkg/leveling"
)

func TestProfileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "web.toml")
	want := &Profile{
		Name:   "web-tier",
		Vendor: "GenuineIntel",
		Leaves: []ProfileLeaf{
			{Leaf: "0x1", Ecx: strings.Repeat("x", 31) + "0"},
			{Leaf: "0x7", Subleaf: "0x0", Ebx: strings.Repeat("s", 32)},
			{Leaf: "0x80000001", Edx: strings.Repeat("x", 22) + "1" + strings.Repeat("x", 9)},
		},
	}
	if err := saveProfile(path, want); err != nil {
		t.Fatalf("saveProfile got error %v, want nil", err)
	}
	got, err := loadProfile(path)
	if err != nil {
		t.Fatalf("loadProfile got error %v, want nil", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Loaded profile differed (-want +got):\n%s", diff)
	}
}

func TestLoadProfileMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.toml")
	if _, err := loadProfile(path); err == nil {
		t.Error("loadProfile got nil error for a missing profile, want error")
	}
}

func TestProfileLeafIn(t *testing.T) {
	for _, tc := range []struct {
		name    string
		leaf    ProfileLeaf
		want    cpuid.In
		wantErr bool
	}{
		{
			name: "plain leaf",
			leaf: ProfileLeaf{Leaf: "0x1"},
			want: cpuid.In{Eax: 0x1, Ecx: cpuid.SubleafUnused},
		},
		{
			name: "sub-leaf",
			leaf: ProfileLeaf{Leaf: "0xd", Subleaf: "0x1"},
			want: cpuid.In{Eax: 0xd, Ecx: 0x1},
		},
		{
			name: "decimal spelling",
			leaf: ProfileLeaf{Leaf: "7", Subleaf: "0"},
			want: cpuid.In{Eax: 7, Ecx: 0},
		},
		{
			name:    "bad leaf",
			leaf:    ProfileLeaf{Leaf: "zebra"},
			wantErr: true,
		},
		{
			name:    "bad sub-leaf",
			leaf:    ProfileLeaf{Leaf: "0x4", Subleaf: "many"},
			wantErr: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			in, err := tc.leaf.In()
			if tc.wantErr {
				if err == nil {
					t.Fatalf("In() got %v, want error", in)
				}
				return
			}
			if err != nil {
				t.Fatalf("In() got error %v, want nil", err)
			}
			if in != tc.want {
				t.Errorf("In() got %v, want %v", in, tc.want)
			}
		})
	}
}

func TestNewProfileLeaf(t *testing.T) {
	d := leveling.Directive{"", "", strings.Repeat("1", 32), ""}

	l := newProfileLeaf(cpuid.In{Eax: 0x7, Ecx: 0}, d)
	if l.Leaf != "0x7" || l.Subleaf != "0x0" {
		t.Errorf("Got leaf %q sub-leaf %q, want 0x7 and 0x0", l.Leaf, l.Subleaf)
	}
	if got := l.Directive(); got != d {
		t.Errorf("Directive() got %v, want %v", got, d)
	}

	// The unused sub-leaf sentinel round-trips as an absent sub-leaf.
	l = newProfileLeaf(cpuid.In{Eax: 0x1, Ecx: cpuid.SubleafUnused}, d)
	if l.Subleaf != "" {
		t.Errorf("Got sub-leaf %q, want empty", l.Subleaf)
	}
	in, err := l.In()
	if err != nil {
		t.Fatalf("In() got error %v, want nil", err)
	}
	if want := (cpuid.In{Eax: 0x1, Ecx: cpuid.SubleafUnused}); in != want {
		t.Errorf("In() got %v, want %v", in, want)
	}
}
