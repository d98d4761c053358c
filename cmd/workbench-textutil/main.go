// Command workbench-textutil is a capability plugin exposing small text
// helpers. Install it next to workbench-textutil.manifest.json and declare
// it under plugins in the workbench config.
package main

import (
	"github.com/harun/workbench/pkg/tools/plugin"
)

func main() {
	plugin.Serve(textutil{})
}
