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
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/thusharams/xen/pkg/cpuid"
)

// Engine computes identification policies against one hardware oracle
// and installs them through one control channel.
//
// An Engine is stateless beyond its two collaborators and is safe for
// concurrent use whenever they are.
type Engine struct {
	ctl Control
	fn  cpuid.Function
}

// New returns an Engine that reads the hardware through fn and installs
// through ctl. Pass &cpuid.Native{} to level against the running
// processor, or a cpuid.Static snapshot to level against a recorded
// one.
func New(ctl Control, fn cpuid.Function) *Engine {
	return &Engine{ctl: ctl, fn: fn}
}

// ApplyPolicy computes and installs the full identification surface for
// one domain. Leaves whose policy value is entirely zero are skipped,
// leaving whatever the platform answers for uninstalled leaves.
//
// The first install failure aborts the pass with the channel's error.
// Leaves already installed stay in place; the pass is idempotent, so
// re-running it to completion repairs a partial install.
func (e *Engine) ApplyPolicy(id DomainID, featureset []uint32) error {
	info, err := e.Resolve(id, featureset)
	if err != nil {
		return err
	}

	passesStarted.Inc()

	maxBasic := e.fn.Query(cpuid.In{Eax: cpuid.LeafVendorID, Ecx: cpuid.SubleafUnused}).Eax
	if maxBasic > maxBasicLeaf {
		maxBasic = maxBasicLeaf
	}
	maxExt := e.fn.Query(cpuid.In{Eax: cpuid.LeafExtendedStart, Ecx: cpuid.SubleafUnused}).Eax
	if ceiling := extendedCeiling(info.Vendor); maxExt > ceiling {
		maxExt = ceiling
	}

	log := logrus.WithFields(logrus.Fields{
		"domain": id,
		"hvm":    info.HVM,
		"vendor": info.Vendor,
	})
	log.Debug("Applying identification policy.")

	installed, skipped := 0, 0
	in := cpuid.In{Eax: cpuid.LeafVendorID, Ecx: cpuid.SubleafUnused}
	for {
		host := e.fn.Query(in)
		out := Transform(info, in, host)
		leavesVisited.Inc()

		if out != (cpuid.Out{}) {
			if err := e.ctl.InstallLeaf(id, in, out); err != nil {
				installFailures.Inc()
				log.WithError(err).Warn("Identification policy pass aborted.")
				return fmt.Errorf("installing leaf %#x sub-leaf %#x: %w", in.Eax, in.Ecx, err)
			}
			installed++
			leavesInstalled.Inc()
		} else {
			skipped++
			leavesSkipped.Inc()
		}

		// The deterministic cache leaf continues while the hardware
		// reports another cache in the low bits of its first word. The
		// raw answer decides, not the leveled one, so every cache the
		// host has is visited even when the policy hides some.
		if in.Eax == cpuid.LeafCacheParams {
			in.Ecx++
			if host.Eax&0x1f != 0 {
				continue
			}
		}

		// Every extended state sub-leaf is visited unconditionally;
		// the policy zeroes the disabled ones.
		if in.Eax == cpuid.LeafXSaveInfo {
			in.Ecx++
			if in.Ecx < cpuid.XSaveInfoNumLeaves {
				continue
			}
		}

		in.Eax++
		if in.Eax&cpuid.LeafExtendedStart == 0 && in.Eax > maxBasic {
			in.Eax = cpuid.LeafExtendedStart
		}
		switch in.Eax {
		case cpuid.LeafCacheParams, cpuid.LeafStructuredFeatures, cpuid.LeafXSaveInfo:
			in.Ecx = 0
		default:
			in.Ecx = cpuid.SubleafUnused
		}
		if in.Eax&cpuid.LeafExtendedStart != 0 && in.Eax > maxExt {
			break
		}
	}

	passesCompleted.Inc()
	log.WithFields(logrus.Fields{
		"installed": installed,
		"skipped":   skipped,
	}).Debug("Identification policy applied.")
	return nil
}
