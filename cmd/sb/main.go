package main

import (
	"github.com/sourcebuilder/sb/pkg/cmd"
)

func main() {
	cmd.Execute()
}
