// assetpipe builds, watches and serves front-end assets.
package main

import (
	"os"

	"github.com/hupe1980/assetpipe/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
