// Package resolver contains the dependency tree core. It creates nodes from
// manifest descriptors, normalizes and resolves their locations, and computes
// the set of paths each node must wait for before it can be checked out.
package resolver
