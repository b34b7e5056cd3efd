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

package cpuid

import (
	"strings"
	"testing"
)

func TestFeatureString(t *testing.T) {
	// Check that known features do match.
	for feature, name := range allFeatures {
		if got := feature.String(); got != name {
			t.Errorf("Got feature string %q, want %q", got, name)
		}
	}
	// Unnamed bits fall back to a positional rendering.
	unnamed := Feature(numBlocks*blockSize - 1)
	if _, ok := allFeatures[unnamed]; !ok {
		if got := unnamed.String(); !strings.Contains(got, "cpuflag") {
			t.Errorf("Got feature string %q for an unnamed bit, want a positional fallback", got)
		}
	}
}

func TestFeatureFromString(t *testing.T) {
	// Every named feature parses back to itself.
	for feature, name := range allFeatures {
		got, ok := FeatureFromString(name)
		if !ok {
			t.Errorf("Got no feature for name %q, want %v", name, feature)
			continue
		}
		if got != feature {
			t.Errorf("Got feature %v for name %q, want %v", got, name, feature)
		}
	}
	if got, ok := FeatureFromString("not_a_cpu_flag"); ok {
		t.Errorf("Got feature %v for a bogus name, want none", got)
	}
}

func TestFlagString(t *testing.T) {
	fs := featureSetOf(X86FeatureFPU, X86FeatureSSE2, X86FeatureLM)
	flags := fs.FlagString()
	for _, name := range []string{"fpu", "sse2", "lm"} {
		found := false
		for _, flag := range strings.Fields(flags) {
			if flag == name {
				found = true
			}
		}
		if !found {
			t.Errorf("Got flags %q, want %q present", flags, name)
		}
	}
	if strings.Contains(flags, "avx") {
		t.Errorf("Got flags %q, want avx absent", flags)
	}
}

func TestFlagStringRoundTrip(t *testing.T) {
	want := featureSetOf(X86FeatureSSE3, X86FeatureXSAVE, X86FeatureNX, X86FeatureITSC)
	got := newFeatureSet()
	for _, name := range strings.Fields(want.FlagString()) {
		f, ok := FeatureFromString(name)
		if !ok {
			t.Fatalf("Got unparseable flag %q", name)
		}
		got.Add(f)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Got word %d = %#x after round trip, want %#x", i, got[i], want[i])
		}
	}
}
