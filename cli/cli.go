package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"

	"github.com/ChristianF88/lgl/config"
	"github.com/ChristianF88/lgl/version"
)

// parseDate attempts to parse the build date
func parseDate(d string) time.Time {
	t, err := time.Parse(time.RFC3339, d)
	if err != nil {
		return time.Now()
	}
	return t
}

// Shared flag definitions to eliminate duplication
var (
	// Configuration flags
	configFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "Path to an lgl.toml configuration file (entries replace the grammar flags)",
	}

	// Log selection flags
	logfileFlag = &cli.StringFlag{
		Name:  "logfile",
		Usage: "Path to the log file",
	}
	lglDirFlag = &cli.StringFlag{
		Name:  "lglDir",
		Usage: "Artifact directory (default: a '.lgl' directory beside the log)",
	}

	// Grammar flags
	delimitersFlag = &cli.StringFlag{
		Name:  "delimiters",
		Usage: "Token delimiter characters (e.g. ' ,'); empty means any whitespace",
	}
	commentPrefixFlag = &cli.StringFlag{
		Name:  "commentPrefix",
		Usage: "Lines starting with this prefix are not ledgered (e.g. '#')",
	}
	keepBlankFlag = &cli.BoolFlag{
		Name:  "keepBlank",
		Usage: "Ledger blank lines instead of skipping them",
		Value: false,
	}

	// Init flags
	saltFlag = &cli.BoolFlag{
		Name:  "salt",
		Usage: "Generate a 32-byte table salt; cell hashes become one-way salted",
		Value: false,
	}

	// Update/verify flags
	noIndexFlag = &cli.BoolFlag{
		Name:  "noIndex",
		Usage: "Skip maintaining the row-offset index",
		Value: false,
	}
	overwriteFlag = &cli.BoolFlag{
		Name:  "overwrite",
		Usage: "Discard existing chain and index contents and rebuild from scratch",
		Value: false,
	}
	indexVerifyFlag = &cli.BoolFlag{
		Name:  "index",
		Usage: "Also verify the row-offset index",
		Value: false,
	}

	// Row selection and output flags
	rowsFlag = &cli.StringFlag{
		Name:  "rows",
		Usage: "Comma-separated row numbers (e.g. '1,78,5833')",
	}
	withPathFlag = &cli.BoolFlag{
		Name:  "withPath",
		Usage: "Also emit the skip path covering the selected rows",
		Value: false,
	}
	outFlag = &cli.StringFlag{
		Name:  "out",
		Usage: "Write JSON output to this file instead of stdout",
	}
	compactFlag = &cli.BoolFlag{
		Name:  "compact",
		Usage: "Output compact JSON (no pretty printing)",
		Value: false,
	}
	verboseFlag = &cli.BoolFlag{
		Name:  "verbose",
		Usage: "Enable debug logging",
		Value: false,
	}
)

// resolveOptions builds LedgerOptions from the flags, or from the config
// file when --config is given.
func resolveOptions(c *cli.Context) (LedgerOptions, error) {
	logfile := c.String("logfile")

	if configPath := c.String("config"); configPath != "" {
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return LedgerOptions{}, fmt.Errorf("failed to load config: %w", err)
		}
		if logfile == "" {
			return LedgerOptions{}, fmt.Errorf("logfile (path or config entry name) is required")
		}
		lc, ok := cfg.Lookup(logfile)
		if !ok {
			return LedgerOptions{}, fmt.Errorf("no config entry for %q", logfile)
		}
		return LedgerOptions{
			LogFile:        lc.LogFile,
			LglDir:         lc.LglDir,
			SkipBlankLines: lc.SkipBlankLines,
			Delimiters:     lc.Delimiters,
			CommentPrefix:  lc.CommentPrefix,
			Salted:         lc.Salted,
		}, nil
	}

	if logfile == "" {
		return LedgerOptions{}, fmt.Errorf("logfile is required when not using --config")
	}
	return LedgerOptions{
		LogFile:        logfile,
		LglDir:         c.String("lglDir"),
		SkipBlankLines: !c.Bool("keepBlank"),
		Delimiters:     c.String("delimiters"),
		CommentPrefix:  c.String("commentPrefix"),
		Salted:         c.Bool("salt"),
	}, nil
}

// parseRowNos parses the --rows flag.
func parseRowNos(spec string) ([]uint64, error) {
	if spec == "" {
		return nil, fmt.Errorf("rows is required (e.g. --rows 1,78,5833)")
	}
	var rows []uint64
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.ParseUint(part, 10, 64)
		if err != nil || n == 0 {
			return nil, fmt.Errorf("invalid row number %q", part)
		}
		rows = append(rows, n)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no row numbers in %q", spec)
	}
	return rows, nil
}

func setupLogging(c *cli.Context) {
	if c.Bool("verbose") {
		logrus.SetLevel(logrus.DebugLevel)
	}
}

// Command handlers

func handleInitCommand(c *cli.Context) error {
	setupLogging(c)
	opts, err := resolveOptions(c)
	if err != nil {
		return err
	}
	if err := validateLogFileExists(opts.LogFile); err != nil {
		return err
	}
	return InitLedger(opts)
}

func handleStatusCommand(c *cli.Context) error {
	setupLogging(c)
	opts, err := resolveOptions(c)
	if err != nil {
		return err
	}
	return Status(opts)
}

func handleUpdateCommand(c *cli.Context) error {
	setupLogging(c)
	opts, err := resolveOptions(c)
	if err != nil {
		return err
	}
	if err := validateLogFileExists(opts.LogFile); err != nil {
		return err
	}
	if !rulesExist(opts) {
		return fmt.Errorf("ledger not initialized; run 'lgl init' first")
	}
	return Update(opts, !c.Bool("noIndex"), c.Bool("overwrite"))
}

func handleVerifyCommand(c *cli.Context) error {
	setupLogging(c)
	opts, err := resolveOptions(c)
	if err != nil {
		return err
	}
	if err := validateLogFileExists(opts.LogFile); err != nil {
		return err
	}
	return Verify(opts, c.Bool("index"))
}

func handleCheckpointCommand(c *cli.Context) error {
	setupLogging(c)
	opts, err := resolveOptions(c)
	if err != nil {
		return err
	}
	if err := validateLogFileExists(opts.LogFile); err != nil {
		return err
	}
	return SaveCheckpoint(opts, c.Bool("overwrite"))
}

func handlePathCommand(c *cli.Context) error {
	setupLogging(c)
	opts, err := resolveOptions(c)
	if err != nil {
		return err
	}
	rows, err := parseRowNos(c.String("rows"))
	if err != nil {
		return err
	}
	return EmitPath(opts, rows, c.String("out"), c.Bool("compact"))
}

func handleRowsCommand(c *cli.Context) error {
	setupLogging(c)
	opts, err := resolveOptions(c)
	if err != nil {
		return err
	}
	rows, err := parseRowNos(c.String("rows"))
	if err != nil {
		return err
	}
	return EmitRows(opts, rows, c.Bool("withPath"), c.String("out"), c.Bool("compact"))
}

var App = &cli.App{
	Name:     "lgl",
	Usage:    "Maintain and prove tamper-evident skip ledgers over append-only text logs",
	Version:  version.Version,
	Compiled: parseDate(version.Date),
	Commands: []*cli.Command{
		{
			Name:  "init",
			Usage: "Create the rules file and artifact directory for a log",
			Flags: []cli.Flag{
				configFlag,
				logfileFlag,
				lglDirFlag,
				delimitersFlag,
				commentPrefixFlag,
				keepBlankFlag,
				saltFlag,
				verboseFlag,
			},
			Action: handleInitCommand,
		},
		{
			Name:  "status",
			Usage: "Show recorded rows, frontier hash, checkpoints, and artifact state",
			Flags: []cli.Flag{
				configFlag,
				logfileFlag,
				lglDirFlag,
				verboseFlag,
			},
			Action: handleStatusCommand,
		},
		{
			Name:  "update",
			Usage: "Extend the skip-ledger chain (and offset index) to the end of the log",
			Flags: []cli.Flag{
				configFlag,
				logfileFlag,
				lglDirFlag,
				noIndexFlag,
				overwriteFlag,
				verboseFlag,
			},
			Action: handleUpdateCommand,
		},
		{
			Name:  "verify",
			Usage: "Recompute every row hash and compare against the recorded chain",
			Flags: []cli.Flag{
				configFlag,
				logfileFlag,
				lglDirFlag,
				indexVerifyFlag,
				verboseFlag,
			},
			Action: handleVerifyCommand,
		},
		{
			Name:  "checkpoint",
			Usage: "Hash to the end of the log and save a resumable checkpoint",
			Flags: []cli.Flag{
				configFlag,
				logfileFlag,
				lglDirFlag,
				overwriteFlag,
				verboseFlag,
			},
			Action: handleCheckpointCommand,
		},
		{
			Name:  "path",
			Usage: "Emit a skip-path proof connecting the given rows to the ledger state",
			Flags: []cli.Flag{
				configFlag,
				logfileFlag,
				lglDirFlag,
				rowsFlag,
				outFlag,
				compactFlag,
				verboseFlag,
			},
			Action: handlePathCommand,
		},
		{
			Name:  "rows",
			Usage: "Emit selected source rows (cells, salts, and input hashes) as JSON",
			Flags: []cli.Flag{
				configFlag,
				logfileFlag,
				lglDirFlag,
				rowsFlag,
				withPathFlag,
				outFlag,
				compactFlag,
				verboseFlag,
			},
			Action: handleRowsCommand,
		},
	},
}
