// Command daydreamer-memory runs the MCP graph-memory gateway.
package main

import "github.com/DayDreamerAI/daydreamer-memory/cmd/daydreamer-memory/cmd"

func main() {
	cmd.Execute()
}
