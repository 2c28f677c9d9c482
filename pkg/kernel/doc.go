// Package kernel decides which installed kernel packages survive cleanup.
//
// PlanRetention is pure: it sorts the installed images by Debian version,
// keeps the newest ones and always keeps the running kernel. Inventory gathers
// the inputs from dpkg-query and uname, and Expand turns a plan into the list
// of packages to purge, including headers and modules of removed releases.
package kernel
