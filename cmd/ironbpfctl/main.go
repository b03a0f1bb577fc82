// Command ironbpfctl is a CLI client for the ironbpfd daemon's read-only
// introspection endpoint.
package main

import "github.com/raytheonbbn/iron-bpf/cmd/ironbpfctl/commands"

func main() {
	commands.Execute()
}
