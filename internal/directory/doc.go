// Package directory wraps LDAP access: the connection/bind/search plumbing,
// the built-in base tools and server probes, and the only code path that
// turns a generated blueprint into a callable implementation.
package directory
