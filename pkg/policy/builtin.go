package policy

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		protectedPackagesPolicy(),
		runningKernelPolicy(),
	}
}

// ProtectedPackages are the packages whose removal always needs an
// operator decision.
var ProtectedPackages = []string{
	"apt",
	"base-files",
	"bash",
	"coreutils",
	"dpkg",
	"grub-common",
	"grub-efi-amd64",
	"grub-pc",
	"init",
	"libc6",
	"linux-generic",
	"login",
	"openssh-server",
	"passwd",
	"sudo",
	"systemd",
	"systemd-sysv",
	"ubuntu-minimal",
	"ubuntu-standard",
}

// protectedPackagesPolicy flags the removal of essential packages.
func protectedPackagesPolicy() Policy {
	return Policy{
		Name:        "protected-packages",
		Description: "Blocks removal of packages the system cannot boot or be administered without",
		Severity:    SeverityCritical,
		Enabled:     true,
		Rego: `package upkeep.policies.protected

import rego.v1

builtin_protected := {` + regoSet(ProtectedPackages) + `}

protected contains name if {
	some name in builtin_protected
}

protected contains name if {
	some name in input.protected
}

deny contains violation if {
	some pkg in input.removals
	pkg.name in protected
	violation := {
		"message": sprintf("%s would remove protected package %s", [input.operation, pkg.name]),
		"severity": "critical",
		"package": pkg.name,
	}
}

# The apt library is versioned in its package name (libapt-pkg6.0, libapt-pkg6.0t64).
deny contains violation if {
	some pkg in input.removals
	startswith(pkg.name, "libapt-pkg")
	violation := {
		"message": sprintf("%s would remove the apt library %s", [input.operation, pkg.name]),
		"severity": "critical",
		"package": pkg.name,
	}
}
`,
	}
}

// runningKernelPolicy flags the removal of the booted kernel image.
func runningKernelPolicy() Policy {
	return Policy{
		Name:        "running-kernel",
		Description: "Blocks removal of the kernel image the system is running",
		Severity:    SeverityCritical,
		Enabled:     true,
		Rego: `package upkeep.policies.kernel

import rego.v1

deny contains violation if {
	input.running_kernel != ""
	some pkg in input.removals
	pkg.name == input.running_kernel
	violation := {
		"message": sprintf("%s would remove the running kernel %s", [input.operation, pkg.name]),
		"severity": "critical",
		"package": pkg.name,
	}
}
`,
	}
}

func regoSet(names []string) string {
	out := ""
	for i, name := range names {
		if i > 0 {
			out += ", "
		}
		out += `"` + name + `"`
	}
	return out
}
