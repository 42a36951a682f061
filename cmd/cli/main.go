package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"github.com/jaywantadh/msgvault/config"
	"github.com/jaywantadh/msgvault/internal/metadata"
	"github.com/jaywantadh/msgvault/pkg/env"
	"github.com/jaywantadh/msgvault/pkg/httpserver"
	"github.com/jaywantadh/msgvault/pkg/logging"
)

func main() {
	env.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		logging.Logger().Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "msgvault",
		Usage: "Store files of any size as parts on a remote message store",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Value: ".", Usage: "directory holding config.yaml"},
			&cli.BoolFlag{Name: "debug", Usage: "verbose text logging"},
			&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "no progress output"},
		},
		Before: func(c *cli.Context) error {
			cfg, err := config.LoadConfig(c.String("config"))
			if err != nil {
				return err
			}
			logging.InitLogger(cfg.Debug || c.Bool("debug"))
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "upload",
				Aliases:   []string{"up"},
				Usage:     "Upload one or more files",
				ArgsUsage: "<path>...",
				Action: withVault(func(ctx context.Context, c *cli.Context, v *vault) error {
					if c.NArg() == 0 {
						return cli.Exit("upload needs at least one path", 1)
					}
					for _, path := range c.Args().Slice() {
						rec, err := v.controller.Upload(ctx, path)
						if err != nil {
							if rec.ID != "" {
								logging.ForFile(rec.ID).Warnf("⚠️ Upload stopped, resume with: msgvault resume %s %s", rec.ID, path)
							}
							return fmt.Errorf("%s: %w", path, err)
						}
						fmt.Fprintf(c.App.Writer, "%s\t%s\t%s\n", rec.ID, rec.Name, humanize.IBytes(uint64(rec.Size)))
					}
					return nil
				}),
			},
			{
				Name:      "resume",
				Usage:     "Continue an interrupted upload",
				ArgsUsage: "<file-id> <path>",
				Action: withVault(func(ctx context.Context, c *cli.Context, v *vault) error {
					if c.NArg() != 2 {
						return cli.Exit("resume needs a file id and the source path", 1)
					}
					rec, err := v.controller.Resume(ctx, c.Args().Get(0), c.Args().Get(1))
					if err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "%s\t%s\n", rec.ID, rec.Status)
					return nil
				}),
			},
			{
				Name:      "download",
				Aliases:   []string{"down"},
				Usage:     "Download a stored file",
				ArgsUsage: "<file-id> <destination>",
				Action: withVault(func(ctx context.Context, c *cli.Context, v *vault) error {
					if c.NArg() != 2 {
						return cli.Exit("download needs a file id and a destination", 1)
					}
					return v.controller.DownloadTo(ctx, c.Args().Get(0), c.Args().Get(1))
				}),
			},
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List stored files, newest first",
				Action: withVault(func(ctx context.Context, c *cli.Context, v *vault) error {
					files, err := v.controller.List(ctx)
					if err != nil {
						return err
					}
					return printFiles(c.App.Writer, files)
				}),
			},
			{
				Name:      "status",
				Usage:     "Show a file and its parts",
				ArgsUsage: "<file-id>",
				Action: withVault(func(ctx context.Context, c *cli.Context, v *vault) error {
					if c.NArg() != 1 {
						return cli.Exit("status needs a file id", 1)
					}
					rec, parts, err := v.controller.Status(ctx, c.Args().First())
					if err != nil {
						return err
					}
					return printStatus(c.App.Writer, rec, parts)
				}),
			},
			{
				Name:      "verify",
				Usage:     "Download and check a file without keeping it",
				ArgsUsage: "<file-id>",
				Action: withVault(func(ctx context.Context, c *cli.Context, v *vault) error {
					if c.NArg() != 1 {
						return cli.Exit("verify needs a file id", 1)
					}
					if err := v.controller.Verify(ctx, c.Args().First()); err != nil {
						return err
					}
					fmt.Fprintln(c.App.Writer, "ok")
					return nil
				}),
			},
			{
				Name:      "delete",
				Aliases:   []string{"rm"},
				Usage:     "Remove a file and its stored parts",
				ArgsUsage: "<file-id>",
				Action: withVault(func(ctx context.Context, c *cli.Context, v *vault) error {
					if c.NArg() != 1 {
						return cli.Exit("delete needs a file id", 1)
					}
					return v.controller.Delete(ctx, c.Args().First())
				}),
			},
			{
				Name:  "export",
				Usage: "Write the ledger as a YAML manifest",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output file (default stdout)"},
				},
				Action: withVault(func(ctx context.Context, c *cli.Context, v *vault) error {
					m, err := metadata.Export(ctx, v.ledger)
					if err != nil {
						return err
					}
					out := c.App.Writer
					if path := c.String("out"); path != "" {
						f, err := os.Create(path)
						if err != nil {
							return err
						}
						defer f.Close()
						out = f
					}
					return m.WriteYAML(out)
				}),
			},
			{
				Name:      "import",
				Usage:     "Load a YAML manifest into the ledger",
				ArgsUsage: "<manifest.yaml>",
				Action: withVault(func(ctx context.Context, c *cli.Context, v *vault) error {
					if c.NArg() != 1 {
						return cli.Exit("import needs a manifest file", 1)
					}
					f, err := os.Open(c.Args().First())
					if err != nil {
						return err
					}
					defer f.Close()
					m, err := metadata.ReadManifest(f)
					if err != nil {
						return err
					}
					n, err := metadata.Import(ctx, v.ledger, m)
					if err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "imported %d of %d files\n", n, len(m.Files))
					return nil
				}),
			},
			{
				Name:      "recover",
				Usage:     "Rebuild a file from stored parts alone, without the ledger",
				ArgsUsage: "<file-id> <destination>",
				Action: withVault(func(ctx context.Context, c *cli.Context, v *vault) error {
					if c.NArg() != 2 {
						return cli.Exit("recover needs a file id and a destination", 1)
					}
					lister, err := v.lister()
					if err != nil {
						return err
					}
					f, err := os.Create(c.Args().Get(1))
					if err != nil {
						return err
					}
					rec, err := v.controller.Recover(ctx, lister, f, c.Args().Get(0))
					if cerr := f.Close(); err == nil {
						err = cerr
					}
					if err != nil {
						_ = os.Remove(c.Args().Get(1))
						return err
					}
					fmt.Fprintf(c.App.Writer, "%s\t%s\t%s\n", rec.ID, humanize.IBytes(uint64(rec.Size)), rec.Checksum)
					return nil
				}),
			},
			{
				Name:  "rebuild",
				Usage: "Recreate ledger entries for every complete file found in storage",
				Action: withVault(func(ctx context.Context, c *cli.Context, v *vault) error {
					lister, err := v.lister()
					if err != nil {
						return err
					}
					created, err := v.controller.Rebuild(ctx, lister)
					if err != nil {
						return err
					}
					return printFiles(c.App.Writer, created)
				}),
			},
			{
				Name:  "serve",
				Usage: "Expose the configured storage as a remote object server",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "addr", Usage: "listen address (default listen_addr from config)"},
				},
				Action: withVault(func(ctx context.Context, c *cli.Context, v *vault) error {
					addr := c.String("addr")
					if addr == "" {
						addr = v.cfg.ListenAddr
					}
					return httpserver.New(v.store, logging.Logger()).ListenAndServe(ctx, addr)
				}),
			},
		},
	}
}

func printFiles(w io.Writer, files []metadata.FileRecord) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSIZE\tPARTS\tSTATUS\tCREATED")
	for _, f := range files {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			f.ID, f.Name, humanize.IBytes(uint64(f.Size)), f.TotalParts, f.Status, humanize.Time(f.CreatedAt))
	}
	return tw.Flush()
}

func printStatus(w io.Writer, rec metadata.FileRecord, parts []metadata.PartRecord) error {
	fmt.Fprintf(w, "ID:        %s\n", rec.ID)
	fmt.Fprintf(w, "Name:      %s\n", rec.Name)
	fmt.Fprintf(w, "Size:      %s (%s bytes)\n", humanize.IBytes(uint64(rec.Size)), humanize.Comma(rec.Size))
	fmt.Fprintf(w, "Part size: %s\n", humanize.IBytes(uint64(rec.PartSize)))
	fmt.Fprintf(w, "Checksum:  %s\n", rec.Checksum)
	fmt.Fprintf(w, "Status:    %s\n", rec.Status)
	if rec.Error != "" {
		fmt.Fprintf(w, "Error:     %s\n", rec.Error)
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PART\tLENGTH\tSTATUS\tATTEMPTS\tREF")
	for _, p := range parts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			strconv.Itoa(p.Index), humanize.IBytes(uint64(p.Length)), p.Status, p.Attempts, p.RemoteRef)
	}
	return tw.Flush()
}
