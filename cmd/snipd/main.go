// snipd - text snippet expansion daemon
//
// snipd watches the keyboard for trigger commands such as /sig and
// replaces them with stored content. The daemon is controlled over a
// local socket with snipctl.
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/urfave/cli/v2"
)

// Version is set via -ldflags at build time.
var Version = "dev"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "snipd",
		Usage:   "Text snippet expansion daemon",
		Version: Version,
		Commands: []*cli.Command{
			runCmd(),
			versionCmd(),
		},
	}
}

func runCmd() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run the daemon in the foreground",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "Path to config file"},
			&cli.BoolFlag{Name: "paused", Usage: "Start with expansion paused"},
		},
		Action: func(c *cli.Context) error {
			return runDaemon(c.String("config"), c.Bool("paused"))
		},
	}
}

func versionCmd() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print build information",
		Action: func(c *cli.Context) error {
			fmt.Printf("snipd %s (%s, %s/%s)\n", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
			return nil
		},
	}
}
