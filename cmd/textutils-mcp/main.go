// Command textutils-mcp serves the text utilities MCP server over SSE or stdio, and includes a
// small client for calling it.
package main

import (
	"fmt"
	"os"

	"github.com/TangGee/textutils-mcp/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
