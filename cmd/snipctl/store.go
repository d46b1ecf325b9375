package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"snipd/internal/ipc"
	"snipd/internal/snippet"
	"snipd/internal/store"
)

// withStore opens the snippet store directly. Used by the library
// subcommands so they work whether or not the daemon is up.
func withStore(c *cli.Context, fn func(*store.Store) error) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.Storage.Path, cfg.Storage.KeyPath)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(st)
}

// nudgeDaemon asks a running daemon to reload after a store change.
// A daemon that is not running picks the change up at next start.
func nudgeDaemon(c *cli.Context) {
	err := withClient(c, func(client *ipc.DaemonClient) error {
		_, err := client.ReloadLibrary()
		return err
	})
	if err == nil {
		fmt.Println("daemon reloaded")
	}
}

// readStdin reads piped content, if any.
func readStdin() (string, bool) {
	info, err := os.Stdin.Stat()
	if err != nil || info.Mode()&os.ModeCharDevice != 0 {
		return "", false
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", false
	}
	return string(data), true
}

func addCmd() *cli.Command {
	return &cli.Command{
		Name:      "add",
		Usage:     "Add a snippet to the store (content from --content or stdin)",
		ArgsUsage: "<command>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "content", Usage: "Replacement content"},
			&cli.StringFlag{Name: "kind", Aliases: []string{"k"}, Value: "text", Usage: "Content kind: text|markdown"},
			&cli.StringFlag{Name: "description", Aliases: []string{"d"}, Usage: "Display description"},
			&cli.StringFlag{Name: "category", Usage: "Display category"},
			&cli.BoolFlag{Name: "sensitive", Usage: "Seal the content at rest"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("usage: snipctl add <command>")
			}
			content := c.String("content")
			if content == "" {
				piped, ok := readStdin()
				if !ok {
					return fmt.Errorf("no content: pass --content or pipe it on stdin")
				}
				content = strings.TrimRight(piped, "\n")
			}
			kind := snippet.ContentKind(c.String("kind"))
			if kind != snippet.KindText && kind != snippet.KindMarkdown {
				return fmt.Errorf("kind %q: only text and markdown can be added from the command line", kind)
			}

			snip := &snippet.Snippet{
				Command:     c.Args().First(),
				Content:     content,
				Kind:        kind,
				Description: c.String("description"),
				Category:    c.String("category"),
				Sensitive:   c.Bool("sensitive"),
			}
			err := withStore(c, func(st *store.Store) error {
				id, err := st.Create(snip)
				if err != nil {
					return err
				}
				fmt.Printf("added %s (%s)\n", snip.Command, id)
				return nil
			})
			if err != nil {
				return err
			}
			nudgeDaemon(c)
			return nil
		},
	}
}

func removeCmd() *cli.Command {
	return &cli.Command{
		Name:      "rm",
		Usage:     "Remove a snippet from the store",
		ArgsUsage: "<command>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("usage: snipctl rm <command>")
			}
			err := withStore(c, func(st *store.Store) error {
				if err := st.Delete(c.Args().First()); err != nil {
					return err
				}
				fmt.Printf("removed %s\n", c.Args().First())
				return nil
			})
			if err != nil {
				return err
			}
			nudgeDaemon(c)
			return nil
		},
	}
}

func getCmd() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Show one stored snippet, content included",
		ArgsUsage: "<command>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("usage: snipctl get <command>")
			}
			return withStore(c, func(st *store.Store) error {
				snip, err := st.Get(c.Args().First())
				if err != nil {
					return err
				}
				if c.Bool("json") {
					return outputJSON(snip)
				}
				fmt.Printf("command:     %s\n", snip.Command)
				fmt.Printf("kind:        %s\n", snip.Kind)
				if snip.Description != "" {
					fmt.Printf("description: %s\n", snip.Description)
				}
				if snip.Category != "" {
					fmt.Printf("category:    %s\n", snip.Category)
				}
				if snip.Sensitive {
					fmt.Printf("sensitive:   yes\n")
				}
				fmt.Printf("content:\n%s\n", snip.Content)
				return nil
			})
		},
	}
}

func exportCmd() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Write the stored library to stdout",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "yaml", Usage: "Output format: yaml|json"},
		},
		Action: func(c *cli.Context) error {
			return withStore(c, func(st *store.Store) error {
				switch c.String("format") {
				case "yaml":
					return st.ExportYAML(os.Stdout)
				case "json":
					return st.ExportJSON(os.Stdout)
				default:
					return fmt.Errorf("unknown format %q", c.String("format"))
				}
			})
		},
	}
}

func importCmd() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Import a JSON library document into the store",
		ArgsUsage: "[file]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Value: "skip", Usage: "Duplicate command handling: skip|replace|error"},
		},
		Action: func(c *cli.Context) error {
			var data []byte
			var err error
			if c.NArg() == 1 {
				data, err = os.ReadFile(c.Args().First())
			} else {
				data, err = io.ReadAll(os.Stdin)
			}
			if err != nil {
				return err
			}

			err = withStore(c, func(st *store.Store) error {
				res, err := st.ImportJSON(data, store.ConflictMode(c.String("mode")))
				if err != nil {
					return err
				}
				fmt.Printf("imported %d, replaced %d, skipped %d\n",
					res.Imported, res.Replaced, res.Skipped)
				return nil
			})
			if err != nil {
				return err
			}
			nudgeDaemon(c)
			return nil
		},
	}
}
