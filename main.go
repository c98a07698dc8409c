package main

import (
	"github.com/nextlevelbuilder/matrixclaw/cmd"
)

func main() {
	cmd.Execute()
}
