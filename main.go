// annis-go imports linguistic annotation documents into a corpus graph
// store and exports documents and subgraphs back out.
package main

import (
	"fmt"
	"os"

	"github.com/Benny93/annis-go/cmd"
)

func main() {
	cli := cmd.NewCLI()

	if err := cli.Execute(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
