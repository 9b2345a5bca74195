// Package library implements the read-side and housekeeping operations on
// registered media: fetching and listing items, deleting them with their
// stored objects, toggling favorites, and deciding whether a file is
// served by redirecting to a signed URL or by streaming it.
package library
