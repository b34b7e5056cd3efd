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

package kvm

import (
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// setCPUID2 issues KVM_SET_CPUID2 against a vCPU descriptor.
func setCPUID2(fd int, entries *cpuidEntries) error {
	_, _, errno := unix.RawSyscall(
		unix.SYS_IOCTL,
		uintptr(fd),
		_KVM_SET_CPUID2,
		uintptr(unsafe.Pointer(entries)))
	if errno != 0 {
		return errors.Wrap(errno, "KVM_SET_CPUID2")
	}
	return nil
}
