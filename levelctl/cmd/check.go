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

	"github.com/google/subcommands"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/thusharams/xen/pkg/cpuid"
	"github.com/thusharams/xen/pkg/leveling"
)

// Check implements subcommands.Command for the "check" command.
type Check struct {
	update bool
}

// Name implements subcommands.Command.Name.
func (*Check) Name() string {
	return "check"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Check) Synopsis() string {
	return "verify saved profiles remain satisfiable on this host"
}

// Usage implements subcommands.Command.Usage.
func (*Check) Usage() string {
	return `check [flags] <profile> [<profile>...]

Replays every leaf directive in the named profiles against this host's
processor without installing anything. A profile whose directives
demand bits the host cannot deliver fails the check; migrating its
domain here would change what the guest observes.

OPTIONS:
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *Check) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.update, "update", false, "rewrite each profile with its directives frozen to this host.")
}

// Execute implements subcommands.Command.Execute.
func (c *Check) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	eng := leveling.New(leveling.NewRecorder(), &cpuid.Native{})

	// Profiles are independent files, so they check in parallel.
	var g errgroup.Group
	for _, path := range f.Args() {
		path := path
		g.Go(func() error {
			return c.checkProfile(eng, path)
		})
	}
	if err := g.Wait(); err != nil {
		Fatalf("%v", err)
	}
	for _, path := range f.Args() {
		fmt.Printf("%s: ok\n", path)
	}
	return subcommands.ExitSuccess
}

// checkProfile replays one profile. With update set, the profile is
// rewritten with every directive frozen to the bits it resolved to.
func (c *Check) checkProfile(eng *leveling.Engine, path string) error {
	p, err := loadProfile(path)
	if err != nil {
		return err
	}
	for i, l := range p.Leaves {
		in, err := l.In()
		if err != nil {
			return errors.Wrapf(err, "%s: entry %d", path, i)
		}
		transformed, err := eng.CheckLeaf(in, l.Directive())
		if err != nil {
			return errors.Wrapf(err, "%s: leaf %s", path, l.Leaf)
		}
		if c.update {
			p.Leaves[i] = newProfileLeaf(in, transformed)
		}
	}
	if !c.update {
		return nil
	}
	return saveProfile(path, p)
}
