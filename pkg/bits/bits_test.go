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

package bits

import (
	"testing"
)

func TestMaskOf32(t *testing.T) {
	for i := 0; i < 32; i++ {
		if got, want := MaskOf32(i), uint32(1)<<uint(i); got != want {
			t.Errorf("MaskOf32(%d): got %#x, wanted %#x", i, got, want)
		}
	}
}

func TestMask32(t *testing.T) {
	if got, want := Mask32(0, 4, 31), uint32(0x80000011); got != want {
		t.Errorf("Mask32(0, 4, 31): got %#x, wanted %#x", got, want)
	}
	if got, want := Mask32(), uint32(0); got != want {
		t.Errorf("Mask32(): got %#x, wanted %#x", got, want)
	}
}

func TestIsOn32(t *testing.T) {
	for _, tc := range []struct {
		mask uint32
		bits uint32
		any  bool
		all  bool
	}{
		{mask: 0x0, bits: 0x0, any: false, all: true},
		{mask: 0xf0, bits: 0x0, any: false, all: true},
		{mask: 0xf0, bits: 0x10, any: true, all: true},
		{mask: 0xf0, bits: 0x11, any: true, all: false},
		{mask: 0xf0, bits: 0x1, any: false, all: false},
	} {
		if got := IsAnyOn32(tc.mask, tc.bits); got != tc.any {
			t.Errorf("IsAnyOn32(%#x, %#x): got %t, wanted %t", tc.mask, tc.bits, got, tc.any)
		}
		if got := IsOn32(tc.mask, tc.bits); got != tc.all {
			t.Errorf("IsOn32(%#x, %#x): got %t, wanted %t", tc.mask, tc.bits, got, tc.all)
		}
	}
}

func TestMask64(t *testing.T) {
	if got, want := Mask64(0, 32, 63), uint64(0x8000000100000001); got != want {
		t.Errorf("Mask64(0, 32, 63): got %#x, wanted %#x", got, want)
	}
}

func TestIsOn64(t *testing.T) {
	if !IsOn64(0xff00, 0x0f00) {
		t.Errorf("IsOn64(0xff00, 0x0f00): got false, wanted true")
	}
	if IsAnyOn64(0xff00, 0xff) {
		t.Errorf("IsAnyOn64(0xff00, 0xff): got true, wanted false")
	}
}
