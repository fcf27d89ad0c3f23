package main

import (
	"log"

	"github.com/clrdbg/clrdbg-mcp/cmd"
)

func main() {
	log.SetFlags(log.Lshortfile)
	log.SetPrefix("clrdbg-mcp: fatal error: ")
	cmd.Execute()
}
