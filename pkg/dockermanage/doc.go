// Package dockermanage provides the container runtime layer used to run ephemeral service
// containers for integration testing.
//
// A [Runtime] pulls images, runs a single container as a supervised [Process], and stops
// containers by name. Two implementations are provided:
//
//   - [CLI] drives the docker command line (docker pull, docker run -t --rm, docker stop). The
//     local docker run process is the process handle; killing it is the forceful fallback.
//     Because of -t the container has a TTY and its stderr arrives on stdout, so
//     [Process.Stderr] stays empty.
//   - [Manager] talks to the Docker Engine API through the native moby client. Container options
//     are given in docker run flag syntax and translated into the create request. It runs
//     without a TTY and keeps stderr separate.
//
// Every container started through this package is tagged with the [ManagedLabelKey] label, which
// allows [CLI.RemoveManaged] and [Manager.RemoveManaged] to clean up leftovers in bulk.
package dockermanage
