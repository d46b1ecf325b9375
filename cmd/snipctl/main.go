// snipctl is the control client for the snipd daemon. IPC subcommands
// talk to a running daemon over its socket; library subcommands operate
// on the snippet store directly and nudge the daemon to reload.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"snipd/internal/config"
	"snipd/internal/ipc"
)

// Version is set via -ldflags at build time.
var Version = "dev"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "snipctl: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "snipctl",
		Usage:   "Control client for the snipd daemon",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "socket", Aliases: []string{"s"}, Usage: "Daemon socket path (default: from config)"},
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "Config file path"},
			&cli.BoolFlag{Name: "json", Usage: "Print responses as JSON"},
		},
		Commands: []*cli.Command{
			statusCmd(),
			pingCmd(),
			pauseCmd(),
			resumeCmd(),
			reloadCmd(),
			listCmd(),
			statsCmd(),
			expandCmd(),
			shutdownCmd(),
			addCmd(),
			removeCmd(),
			getCmd(),
			exportCmd(),
			importCmd(),
		},
	}
}

// loadConfig resolves the effective configuration for both socket
// discovery and direct store access.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	if path == "" {
		path = config.ConfigPath()
	}
	return config.Load(path)
}

// withClient connects to the daemon, runs fn, and closes the connection.
func withClient(c *cli.Context, fn func(*ipc.DaemonClient) error) error {
	socketPath := c.String("socket")
	if socketPath == "" {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		socketPath = cfg.IPC.SocketPath
	}

	client := ipc.NewClient(ipc.ClientConfig{SocketPath: socketPath})
	if err := client.Connect(); err != nil {
		return fmt.Errorf("cannot reach daemon at %s (is snipd running?): %w", socketPath, err)
	}
	defer client.Close()
	return fn(client)
}

func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func statusCmd() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show daemon status and expansion counters",
		Action: func(c *cli.Context) error {
			return withClient(c, func(client *ipc.DaemonClient) error {
				status, err := client.Status()
				if err != nil {
					return err
				}
				if c.Bool("json") {
					return outputJSON(status)
				}

				state := "running"
				switch {
				case !status.Running:
					state = "idle"
				case status.Paused:
					state = "paused"
				}
				fmt.Printf("snipd %s\n", status.Version)
				fmt.Printf("  state:     %s\n", state)
				if status.PermissionDenied {
					fmt.Printf("  warning:   keyboard access denied; grant permission and run 'snipctl resume'\n")
				}
				fmt.Printf("  uptime:    %s\n", status.Uptime.Round(time.Second))
				fmt.Printf("  snippets:  %d\n", status.SnippetCount)
				fmt.Printf("  expansions: %d (matches %d, failed inserts %d, aborted field sessions %d)\n",
					status.Counters.Expansions, status.Counters.Matches,
					status.Counters.FailedInserts, status.Counters.AbortedSessions)
				if status.DroppedEvents > 0 {
					fmt.Printf("  dropped events: %d\n", status.DroppedEvents)
				}
				return nil
			})
		},
	}
}

func pingCmd() *cli.Command {
	return &cli.Command{
		Name:  "ping",
		Usage: "Check that the daemon answers on its socket",
		Action: func(c *cli.Context) error {
			return withClient(c, func(client *ipc.DaemonClient) error {
				start := time.Now()
				if err := client.Ping(); err != nil {
					return err
				}
				fmt.Printf("pong (%s)\n", time.Since(start).Round(time.Microsecond))
				return nil
			})
		},
	}
}

func pauseCmd() *cli.Command {
	return &cli.Command{
		Name:  "pause",
		Usage: "Pause expansion; keystrokes pass through untouched",
		Action: func(c *cli.Context) error {
			return withClient(c, func(client *ipc.DaemonClient) error {
				if _, err := client.Pause(); err != nil {
					return err
				}
				fmt.Println("expansion paused")
				return nil
			})
		},
	}
}

func resumeCmd() *cli.Command {
	return &cli.Command{
		Name:  "resume",
		Usage: "Resume expansion",
		Action: func(c *cli.Context) error {
			return withClient(c, func(client *ipc.DaemonClient) error {
				if _, err := client.Resume(); err != nil {
					return err
				}
				fmt.Println("expansion resumed")
				return nil
			})
		},
	}
}

func reloadCmd() *cli.Command {
	return &cli.Command{
		Name:  "reload",
		Usage: "Reload the snippet library from the store and pack files",
		Action: func(c *cli.Context) error {
			return withClient(c, func(client *ipc.DaemonClient) error {
				resp, err := client.ReloadLibrary()
				if err != nil {
					return err
				}
				fmt.Printf("loaded %d snippets\n", resp.SnippetCount)
				return nil
			})
		},
	}
}

func listCmd() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List loaded snippets",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "category", Usage: "Only snippets in this category"},
		},
		Action: func(c *cli.Context) error {
			return withClient(c, func(client *ipc.DaemonClient) error {
				resp, err := client.ListSnippets(c.String("category"))
				if err != nil {
					return err
				}
				if c.Bool("json") {
					return outputJSON(resp.Snippets)
				}
				for _, snip := range resp.Snippets {
					marker := " "
					if snip.Sensitive {
						marker = "*"
					}
					line := fmt.Sprintf("%s %-20s %s", marker, snip.Command, snip.Description)
					if snip.Category != "" {
						line += fmt.Sprintf("  [%s]", snip.Category)
					}
					fmt.Println(line)
				}
				if len(resp.Snippets) == 0 {
					fmt.Println("no snippets loaded")
				}
				return nil
			})
		},
	}
}

func statsCmd() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show expansion usage statistics",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "since", Usage: "Only count expansions from the last N hours (0 = all)"},
		},
		Action: func(c *cli.Context) error {
			return withClient(c, func(client *ipc.DaemonClient) error {
				resp, err := client.UsageStats(c.Int("since"))
				if err != nil {
					return err
				}
				if c.Bool("json") {
					return outputJSON(resp.Stats)
				}
				if len(resp.Stats) == 0 {
					fmt.Println("no expansions recorded")
					return nil
				}
				for _, stat := range resp.Stats {
					fmt.Printf("%-20s %6d  last %s\n", stat.Command, stat.Count,
						stat.LastUsed.Local().Format("2006-01-02 15:04"))
				}
				return nil
			})
		},
	}
}

func expandCmd() *cli.Command {
	return &cli.Command{
		Name:      "expand",
		Usage:     "Resolve a snippet's placeholders and print the result without injecting it",
		ArgsUsage: "<command>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("usage: snipctl expand <command>")
			}
			return withClient(c, func(client *ipc.DaemonClient) error {
				resp, err := client.ExpandPreview(c.Args().First())
				if err != nil {
					return err
				}
				fmt.Println(resp.Content)
				return nil
			})
		},
	}
}

func shutdownCmd() *cli.Command {
	return &cli.Command{
		Name:  "shutdown",
		Usage: "Stop the daemon",
		Action: func(c *cli.Context) error {
			return withClient(c, func(client *ipc.DaemonClient) error {
				if err := client.Shutdown(); err != nil {
					return err
				}
				fmt.Println("daemon stopping")
				return nil
			})
		},
	}
}
