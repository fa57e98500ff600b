package main

import (
	"flag"
	"fmt"
	"os"

	"nexoj/internal/cli"

	"gopkg.in/yaml.v3"
)

var (
	configFile = flag.String("f", "", "optional config file path")
	addr       = flag.String("addr", "", "contest-core base URL (overrides config)")
)

func main() {
	flag.Parse()

	cfg := cli.ClientConfig{}
	if *configFile != "" {
		data, err := os.ReadFile(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "read config: %v\n", err)
			os.Exit(1)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			fmt.Fprintf(os.Stderr, "parse config: %v\n", err)
			os.Exit(1)
		}
	}
	if *addr != "" {
		cfg.BaseURL = *addr
	}

	if err := cli.RunREPL(cli.NewClient(cfg)); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
