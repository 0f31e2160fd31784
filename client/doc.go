// Package qubesadmin implements a client for the qubesd admin API.
//
// The API is reachable either over the local unix socket (when running in
// dom0) or through qrexec service calls (when running in a management VM).
// Use one of the Connect functions to obtain an App, then navigate the
// managed objects through its Domains, Labels and Pools collections.
//
// Remote properties are accessed through PropertyHolder, which caches
// values fetched from the daemon. An App combined with a running
// EventsDispatcher keeps those caches consistent with daemon-side changes.
package qubesadmin
