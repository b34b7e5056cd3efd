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

// Package cli is the main entrypoint for levelctl.
package cli

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"github.com/thusharams/xen/levelctl/cmd"
	"github.com/thusharams/xen/levelctl/config"
)

// Main is the main entrypoint.
func Main() {
	// Register all commands.
	forEachCmd(subcommands.Register)

	// Register with the main command line.
	config.RegisterFlags(flag.CommandLine)

	// All subcommands must be registered before flag parsing.
	flag.Parse()

	// Create a new Config from the flags.
	conf, err := config.NewFromFlags(flag.CommandLine)
	if err != nil {
		cmd.Fatalf("%v", err)
	}

	// Reports go to stdout; the log keeps to stderr or the file the
	// administrator named. The file is appended, one log commonly
	// serves every invocation on a host.
	if conf.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	logrus.SetFormatter(newFormatter(conf.LogFormat))
	if conf.LogFilename != "" {
		f, err := os.OpenFile(conf.LogFilename, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			cmd.Fatalf("opening log file %q: %v", conf.LogFilename, err)
		}
		logrus.SetOutput(f)
	}

	logrus.WithFields(logrus.Fields{
		"args": os.Args,
		"pid":  os.Getpid(),
	}).Debug("levelctl starting.")

	os.Exit(int(subcommands.Execute(context.Background(), conf)))
}

// forEachCmd invokes the passed callback for each command supported by
// levelctl.
func forEachCmd(cb func(cmd subcommands.Command, group string)) {
	// Help and flags commands are generated automatically.
	cb(subcommands.HelpCommand(), "")
	cb(subcommands.FlagsCommand(), "")

	cb(new(cmd.Features), "")
	cb(new(cmd.Plan), "")
	cb(new(cmd.Set), "")
	cb(new(cmd.Check), "")
}

func newFormatter(format string) logrus.Formatter {
	switch format {
	case "text":
		return &logrus.TextFormatter{}
	case "json":
		return &logrus.JSONFormatter{}
	}
	// Config validation rejects everything else.
	panic("unreachable")
}
