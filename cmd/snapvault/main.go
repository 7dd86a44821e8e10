package main

import (
	"github.com/treeverse/snapvault/cmd/snapvault/cmd"
)

func main() {
	cmd.Execute()
}
