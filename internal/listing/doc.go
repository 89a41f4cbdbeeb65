// Package listing opens remote directory listings and turns their lines into
// records. Transports live in sub-packages (ftp, httpindex, memory); this
// package holds the line grammar, the cursor contract and the retry wrapper
// applied to every open.
package listing
