// Kirogate is the OpenAI/Anthropic-compatible API gateway described in
// spec §1: it translates both dialects to a single upstream vendor
// protocol, multiplexes requests across a pool of upstream credentials,
// and re-encodes the upstream's event stream back into each dialect's SSE
// format.
package main

import (
	"flag"
	"fmt"
	"os"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "configs/kirogate.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("kirogate", version)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
