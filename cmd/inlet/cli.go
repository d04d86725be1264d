package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/inlet-sh/inlet/internal/capture"
	"github.com/inlet-sh/inlet/internal/config"
	"github.com/inlet-sh/inlet/internal/errors"
	"github.com/inlet-sh/inlet/internal/ingest"
)

// newCLIApp creates the CLI application with all commands.
func newCLIApp(db *sql.DB, cfg *config.Config, baseDir string) *cli.App {
	app := &cli.App{
		Name:    "inlet",
		Usage:   "Durable capture staging for your vault",
		Version: Version,
		Commands: []*cli.Command{
			ingestCmd(db, cfg),
			verifyCmd(db, cfg),
			stageCmd(db, cfg),
			enrichCmd(db, cfg),
			publishCmd(db, cfg),
			recoverCmd(db, cfg),
			pendingCmd(db, cfg),
			showCmd(db, cfg),
			auditsCmd(db, cfg),
			errorsCmd(db, cfg),
			statsCmd(db, cfg),
			cursorCmd(db, cfg),
			snapshotCmd(db, cfg, baseDir),
			checkCmd(db, cfg),
			sweepCmd(db, cfg),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// ingestCmd creates the ingest command.
func ingestCmd(db *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "ingest",
		Usage: "Admit a capture envelope (reads inline content from stdin unless --external-ref is given)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "source", Aliases: []string{"s"}, Required: true, Usage: "Origin channel: voice|email"},
			&cli.StringFlag{Name: "channel-id", Aliases: []string{"c"}, Required: true, Usage: "Channel-native identifier (message id, file path)"},
			&cli.StringFlag{Name: "external-ref", Usage: "Path to an out-of-band artifact; referenced, never copied"},
			&cli.StringFlag{Name: "fingerprint", Usage: "Adapter-computed hex fingerprint of the external artifact"},
			&cli.Int64Flag{Name: "size", Usage: "External artifact size in bytes"},
			&cli.StringSliceFlag{Name: "meta", Aliases: []string{"m"}, Usage: "Metadata key=value pair (repeatable)"},
			&cli.StringFlag{Name: "id", Usage: "Pre-assigned ULID (optional)"},
		},
		Action: func(c *cli.Context) error {
			env := capture.Envelope{
				ID:              c.String("id"),
				Source:          c.String("source"),
				ChannelNativeID: c.String("channel-id"),
			}
			if ref := c.String("external-ref"); ref != "" {
				env.ExternalRef = &ref
			}
			if fp := c.String("fingerprint"); fp != "" {
				env.ExternalFingerprint = &fp
			}
			if c.IsSet("size") {
				size := c.Int64("size")
				env.SizeBytes = &size
			}
			meta, err := parseMeta(c.StringSlice("meta"))
			if err != nil {
				return outputError(errors.NewInvalidRequest(err.Error()))
			}
			env.Metadata = meta
			if env.ExternalRef == nil && stdinHasData() {
				text, err := readStdin()
				if err != nil {
					return outputError(errors.NewInternal(err))
				}
				env.RawContent = text
			}

			output, err := ingest.Ingest(c.Context, db, cfg, ingest.IngestInput{Envelope: env})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// verifyCmd creates the verify command.
func verifyCmd(db *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:      "verify",
		Usage:     "Confirm a discovered capture's external artifact is reachable",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return outputError(errors.NewInvalidRequest("capture id is required"))
			}
			output, err := ingest.Verify(c.Context, db, cfg, ingest.VerifyInput{ID: c.Args().First()})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// stageCmd creates the stage command.
func stageCmd(db *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:      "stage",
		Usage:     "Stage a verified capture and pin its content identity",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return outputError(errors.NewInvalidRequest("capture id is required"))
			}
			output, err := ingest.Stage(c.Context, db, cfg, ingest.StageInput{ID: c.Args().First()})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// enrichCmd creates the enrich command group.
func enrichCmd(db *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "enrich",
		Usage: "Track external enrichment of a staged capture",
		Subcommands: []*cli.Command{
			{
				Name:      "begin",
				Usage:     "Hand a staged capture to an external enricher",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					if c.NArg() < 1 {
						return outputError(errors.NewInvalidRequest("capture id is required"))
					}
					output, err := ingest.BeginEnrichment(c.Context, db, cfg, ingest.BeginEnrichmentInput{ID: c.Args().First()})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:      "complete",
				Usage:     "Record the enricher's output (reads text from stdin)",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					if c.NArg() < 1 {
						return outputError(errors.NewInvalidRequest("capture id is required"))
					}
					var text string
					if stdinHasData() {
						var err error
						text, err = readStdin()
						if err != nil {
							return outputError(errors.NewInternal(err))
						}
					}
					output, err := ingest.CompleteEnrichment(c.Context, db, cfg, ingest.CompleteEnrichmentInput{
						ID:   c.Args().First(),
						Text: text,
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:      "fail",
				Usage:     "Record a permanent enrichment failure",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "reason", Aliases: []string{"r"}, Usage: "Failure description for the error log"},
				},
				Action: func(c *cli.Context) error {
					if c.NArg() < 1 {
						return outputError(errors.NewInvalidRequest("capture id is required"))
					}
					output, err := ingest.FailEnrichment(c.Context, db, cfg, ingest.FailEnrichmentInput{
						ID:     c.Args().First(),
						Reason: c.String("reason"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
		},
	}
}

// publishCmd creates the publish command.
func publishCmd(db *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:      "publish",
		Usage:     "Export a capture into the vault inbox",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return outputError(errors.NewInvalidRequest("capture id is required"))
			}
			output, err := ingest.Publish(c.Context, db, cfg, ingest.PublishInput{ID: c.Args().First()})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// recoverCmd creates the recover command.
func recoverCmd(db *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "recover",
		Usage: "Sweep orphaned temp files and re-drive unfinished captures",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "dry-run", Usage: "Report without changing anything"},
		},
		Action: func(c *cli.Context) error {
			output, err := ingest.Recover(c.Context, db, cfg, ingest.RecoverInput{DryRun: c.Bool("dry-run")})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// pendingCmd creates the pending command.
func pendingCmd(db *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "pending",
		Usage: "List unfinished captures oldest-first",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "status", Usage: "Narrow to one lifecycle status"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Usage: "Maximum captures to return"},
		},
		Action: func(c *cli.Context) error {
			output, err := ingest.Pending(c.Context, db, cfg, ingest.PendingInput{
				Status: c.String("status"),
				Limit:  c.Int("limit"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// showCmd creates the show command.
func showCmd(db *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Show one capture with its export history",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "content", Usage: "Include the raw body"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return outputError(errors.NewInvalidRequest("capture id is required"))
			}
			output, err := ingest.Show(c.Context, db, cfg, ingest.ShowInput{
				ID:          c.Args().First(),
				WithContent: c.Bool("content"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// auditsCmd creates the audits command.
func auditsCmd(db *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:      "audits",
		Usage:     "Show a capture's append-only export audit trail",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return outputError(errors.NewInvalidRequest("capture id is required"))
			}
			output, err := ingest.Audits(c.Context, db, cfg, ingest.AuditsInput{ID: c.Args().First()})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// errorsCmd creates the errors command.
func errorsCmd(db *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "errors",
		Usage: "Show recent pipeline errors grouped by stage",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "per-stage", Value: 10, Usage: "Entries per stage"},
		},
		Action: func(c *cli.Context) error {
			output, err := ingest.RecentErrors(c.Context, db, cfg, ingest.RecentErrorsInput{PerStage: c.Int("per-stage")})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// statsCmd creates the stats command.
func statsCmd(db *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Report ledger occupancy and backlog",
		Action: func(c *cli.Context) error {
			output, err := ingest.Stats(c.Context, db, cfg, ingest.StatsInput{})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// cursorCmd creates the cursor command group.
func cursorCmd(db *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "cursor",
		Usage: "Read or advance a channel adapter's resume position",
		Subcommands: []*cli.Command{
			{
				Name:      "get",
				Usage:     "Read the stored cursor for a source",
				ArgsUsage: "<source>",
				Action: func(c *cli.Context) error {
					if c.NArg() < 1 {
						return outputError(errors.NewInvalidRequest("source is required"))
					}
					output, err := ingest.CursorGet(c.Context, db, cfg, ingest.CursorGetInput{Source: c.Args().First()})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:      "set",
				Usage:     "Advance the cursor for a source",
				ArgsUsage: "<source> <cursor>",
				Action: func(c *cli.Context) error {
					if c.NArg() < 2 {
						return outputError(errors.NewInvalidRequest("source and cursor are required"))
					}
					output, err := ingest.CursorSet(c.Context, db, cfg, ingest.CursorSetInput{
						Source: c.Args().Get(0),
						Cursor: c.Args().Get(1),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
		},
	}
}

// snapshotCmd creates the snapshot command.
func snapshotCmd(db *sql.DB, cfg *config.Config, baseDir string) *cli.Command {
	return &cli.Command{
		Name:  "snapshot",
		Usage: "Write a consistent point-in-time copy of the ledger",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Usage: "Destination file (default: <base>/snapshots/inlet-<timestamp>.db)"},
		},
		Action: func(c *cli.Context) error {
			output, err := ingest.Snapshot(c.Context, db, cfg, ingest.SnapshotInput{
				Path:    c.String("path"),
				BaseDir: baseDir,
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// checkCmd creates the check command.
func checkCmd(db *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "check",
		Usage: "Run ledger integrity and foreign-key checks",
		Action: func(c *cli.Context) error {
			output, err := ingest.Check(c.Context, db, cfg, ingest.CheckInput{})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// sweepCmd creates the sweep command.
func sweepCmd(db *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "sweep",
		Usage: "Remove finished captures older than the retention floor",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "older-than", Usage: "Age floor, e.g. 30d (default: configured retention)"},
		},
		Action: func(c *cli.Context) error {
			days := 0
			if s := c.String("older-than"); s != "" {
				var err error
				days, err = parseDuration(s)
				if err != nil {
					return outputError(errors.NewInvalidRequest(err.Error()))
				}
			}
			output, err := ingest.Sweep(c.Context, db, cfg, ingest.SweepInput{OlderThanDays: days})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// Helper functions

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if inletErr, ok := err.(*errors.InletError); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", inletErr.Code, inletErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads all content from stdin.
func readStdin() (string, error) {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// parseMeta parses repeated key=value pairs into a metadata map.
func parseMeta(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	meta := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("metadata must be key=value, got %q", pair)
		}
		meta[key] = strings.TrimSpace(value)
	}
	return meta, nil
}

// parseDuration parses "30d" format to days.
func parseDuration(s string) (int, error) {
	if numStr, ok := strings.CutSuffix(s, "d"); ok {
		days, err := strconv.Atoi(numStr)
		if err != nil {
			return 0, fmt.Errorf("invalid duration: %s", s)
		}
		if days < 0 {
			return 0, fmt.Errorf("duration must be non-negative")
		}
		return days, nil
	}
	return 0, fmt.Errorf("duration must end with 'd' (days), e.g., 30d")
}
