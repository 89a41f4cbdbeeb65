// The main package for the archive-ingest executable.
package main

import "github.com/JakeFAU/archive-ingest/cmd"

func main() {
	cmd.Execute()
}
