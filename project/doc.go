// Package project is the project model the refactoring providers work against.
//
// # Overview
//
// A Project is opened once per process from a root directory and the startup
// configuration. Analyze parses every Python module under the source folders
// with tree-sitter and keeps the results in a bounded cache. Requests then
// resolve caller-supplied paths to Resources and ask for the Module snapshot
// of a resource.
//
// # Freshness
//
// Module stats the file on every call and re-parses it when its size or
// modification time differ from the cached snapshot, so a snapshot always
// reflects the file as it was on disk when Module was called. When watching is
// enabled, written files are re-parsed in the background so the request path
// usually finds a fresh entry; the stat check stays authoritative.
//
// # Thread Safety
//
// Snapshots are immutable once returned. The cache and watcher are safe for
// concurrent use; providers never mutate the project.
package project
