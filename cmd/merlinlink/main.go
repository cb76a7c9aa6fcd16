// Command merlinlink links Merlin-family REL object units: it decodes each
// unit, resolves external symbols, applies relocations, and writes a
// loadable image or (linker version 3) a REL-to-OMF-object stream, either
// driven directly from argv inputs or by interpreting a link script.
package main

import (
	"os"

	"github.com/ksherlock/merlin-utils/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
