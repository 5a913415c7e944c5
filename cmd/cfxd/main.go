// Cfxd is the CFX routing gateway: an OpenAI-compatible front door that
// routes coding-assistant traffic to stage-bound models behind a LiteLLM
// proxy, with per-user quotas, stream caps, and async request accounting.
package main

import (
	"flag"
	"fmt"
	"os"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to config file (default configs/cfx.yaml)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("cfxd", version)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
