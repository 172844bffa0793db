/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version reports build information.
package version

import (
	"fmt"
	"runtime"
)

// Version is set at build time via ldflags:
//
//	-X github.com/friendsincode/notincredibox/internal/version.Version=X.Y.Z
var Version = "0.3.0"

// Commit is the short git revision, also set via ldflags.
var Commit = "dev"

// Info is the build information exposed by the health endpoint.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	GoVersion string `json:"go_version"`
}

// Current returns the running build's information.
func Current() Info {
	return Info{Version: Version, Commit: Commit, GoVersion: runtime.Version()}
}

func (i Info) String() string {
	return fmt.Sprintf("notincredibox %s (%s, %s)", i.Version, i.Commit, i.GoVersion)
}
