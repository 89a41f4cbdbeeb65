// Package crawler walks a remote directory tree depth-first and yields leaf file
// locations one at a time. The walk is an explicit stack of frames, one per depth,
// each owning the open listing cursor of its directory.
package crawler
