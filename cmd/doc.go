// Package cmd implements the command-line interface for the DS message
// store. It provides a hierarchical command structure for administering
// databases and their generations, and for storing and replaying messages
// directly against a store.
//
// The package is organized into several subpackages:
//
//   - dsctl: Commands for opening/dropping databases, generation lifecycle,
//     and storing or replaying messages, mounted as the "ds" command group
//     (see ds ds -help)
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See ds -help for a list of all commands.
package cmd
