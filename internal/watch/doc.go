// Package watch provides the file watcher behind assetpipe's watch and
// serve commands. Watches are registered per glob pattern, relative to the
// project root; every change that matches a pattern is delivered to that
// watch's handler as a [ChangeEvent], optionally debounced.
package watch
