// Package policy evaluates Open Policy Agent (OPA) policies against the
// package removals a maintenance step proposes.
//
// Every policy is a Rego module that defines a deny set. Each member is
// either a string or an object with message, severity and package keys:
//
//	package upkeep.policies.local
//
//	import rego.v1
//
//	deny contains violation if {
//	    some pkg in input.removals
//	    pkg.name == "docker-ce"
//	    violation := {"message": "docker must stay", "severity": "critical", "package": pkg.name}
//	}
//
// The input document is Input serialized as JSON:
//
//	{
//	  "operation": "upgrade",
//	  "removals": [{"name": "libfoo1", "version": "1.2-3"}],
//	  "protected": ["docker-ce"],
//	  "running_kernel": "linux-image-6.8.0-45-generic",
//	  "dry_run": false
//	}
//
// # Built-in Policies
//
//   - protected-packages: removal of an essential package such as apt, dpkg,
//     libc6, systemd or sudo is critical.
//   - running-kernel: removal of the booted kernel image is critical.
//
// Extra .rego and .json policies are loaded from the policy directory with
// LoadPolicies. Error and critical violations make a risk report risky
// regardless of how many packages are removed.
package policy
