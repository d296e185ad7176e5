// Package preflight provides readiness checks for the filesystem paths and
// remote sink tracespool depends on.
//
// The daemon runs RunAll at startup and logs failures without refusing to
// start: a spool that cannot reach its sink still accepts items. The CLI
// "tracespool status" command renders the same results as a table.
package preflight
