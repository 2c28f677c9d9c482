// Package config holds the step catalog and the operator's configuration.
//
// # Overview
//
// The catalog is fixed: thirteen steps in execution order, each with its
// dependencies, criticality and default state. A Configuration records,
// per step, whether it is enabled and whether it is locked. Locked steps
// can only be changed by editing the file directly.
//
// # Sources
//
// Load resolves a configuration with precedence profile > file > defaults:
//
//	cfg, err := config.Load(config.LoadOptions{
//	    Path:    config.DefaultPath,
//	    Profile: "server",
//	})
//
// The YAML file is checked three times:
//
//   - yaml.v3 with KnownFields rejects unknown struct keys
//   - a closed CUE schema generated from the catalog rejects unknown step
//     ids and out-of-range values
//   - validator/v10 tags check ranges, enums and paths on the decoded struct
//
// Nothing in the file is executed.
//
// # Dependencies
//
// Validate reports every enabled step whose dependency is disabled, for
// example "upgrade requires repo_refresh". It never fixes the configuration.
//
// # Profiles
//
// Built-in profiles are default, minimal, server and full. Custom profiles
// live in <profile_dir>/<name>.yaml and hold a steps map of booleans:
//
//	description: nightly desktop run
//	steps:
//	  flatpak: true
//	  snap: true
//
// Steps not listed keep their current state. Profiles never change locked
// steps.
package config
