package main

import (
	"github.com/enervia/edge-acpw-agent/cmd"
)

func main() {
	cmd.Execute()
}
