package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ChristianF88/lgl/grammar"
	"github.com/ChristianF88/lgl/ledger"
	"github.com/ChristianF88/lgl/lglfile"
	"github.com/ChristianF88/lgl/sldg"
)

// LedgerOptions is the resolved per-log configuration a command runs with,
// whether it came from flags or from an lgl.toml entry.
type LedgerOptions struct {
	LogFile        string
	LglDir         string
	SkipBlankLines bool
	Delimiters     string
	CommentPrefix  string
	Salted         bool
}

// InitLedger creates the artifact directory and rules file.
func InitLedger(opts LedgerOptions) error {
	lgr, err := ledger.Init(opts.LogFile, opts.LglDir, opts.SkipBlankLines, opts.Delimiters, opts.CommentPrefix, opts.Salted)
	if err != nil {
		return err
	}
	mode := "unsalted"
	if lgr.Salted() {
		mode = "salted"
	}
	fmt.Printf("Initialized %s ledger for %s\n", mode, opts.LogFile)
	fmt.Printf("Artifacts in %s\n", lgr.Dir())
	return nil
}

// openLedger opens an initialized ledger per the options.
func openLedger(opts LedgerOptions) (*ledger.LogLedger, error) {
	var override *grammar.Grammar
	// A grammar override applies only when the caller set grammar flags
	// explicitly; the persisted rules win otherwise.
	if opts.Delimiters != "" || opts.CommentPrefix != "" {
		g, err := grammar.New(opts.SkipBlankLines, opts.Delimiters, opts.CommentPrefix)
		if err != nil {
			return nil, err
		}
		override = &g
	}
	return ledger.Open(opts.LogFile, opts.LglDir, override)
}

// Status prints the ledger's current state: recorded rows, frontier hash,
// checkpoints, and artifact sizes.
func Status(opts LedgerOptions) error {
	lgr, err := openLedger(opts)
	if err != nil {
		return err
	}

	fmt.Printf("Log:       %s\n", lgr.LogPath())
	fmt.Printf("Artifacts: %s\n", lgr.Dir())
	salted := "no"
	if lgr.Salted() {
		salted = "yes"
	}
	fmt.Printf("Salted:    %s\n", salted)

	ch, err := lgr.LoadSkipLedger()
	if err != nil {
		return err
	}
	if ch == nil {
		fmt.Println("Chain:     not built")
	} else {
		defer ch.Close()
		fr, err := ch.Frontier()
		if err != nil {
			return err
		}
		fmt.Printf("Chain:     %d rows\n", ch.Count())
		fmt.Printf("Frontier:  %s\n", fr.FrontierHash().Hex())
	}

	src, err := lgr.LoadSourceIndex()
	if err != nil {
		return err
	}
	if src == nil {
		fmt.Println("Offsets:   not built")
	} else {
		fmt.Printf("Offsets:   %d rows indexed\n", src.Size())
		src.Close()
	}

	nos, err := lgr.CheckpointNos()
	if err != nil {
		return err
	}
	if len(nos) == 0 {
		fmt.Println("Checkpoints: none")
	} else {
		fmt.Printf("Checkpoints: %d (rows %v)\n", len(nos), nos)
	}
	return nil
}

// Update extends the chain file (and optionally the offset index) to the
// end of the log.
func Update(opts LedgerOptions, indexSource, overwrite bool) error {
	lgr, err := openLedger(opts)
	if err != nil {
		return err
	}
	added, err := lgr.BuildSkipLedger(indexSource, overwrite, false)
	if err != nil {
		return err
	}
	fmt.Printf("Added %d rows\n", added)
	return nil
}

// Verify re-parses the log from row 1 and compares every chain block (and
// index entry, when requested) against the recomputed values.
func Verify(opts LedgerOptions, withIndex bool) error {
	lgr, err := openLedger(opts)
	if err != nil {
		return err
	}
	if _, err := lgr.BuildSkipLedger(withIndex, false, true); err != nil {
		return err
	}
	fmt.Println("OK")
	return nil
}

// SaveCheckpoint hashes to the end of the log and persists the parse state.
func SaveCheckpoint(opts LedgerOptions, overwrite bool) error {
	lgr, err := openLedger(opts)
	if err != nil {
		return err
	}
	res, err := lgr.NewJob().
		ComputeHash(true).
		SaveParseState(true).
		OverwriteCheckpoints(overwrite).
		Execute()
	if err != nil {
		return err
	}
	if res.State == nil {
		fmt.Println("Log has no rows; nothing to checkpoint")
		return nil
	}
	fmt.Printf("Checkpoint at row %d (%s)\n",
		res.State.RowNumber(), res.State.State.FrontierHash().Hex())
	return nil
}

// pathReport is the JSON shape emitted by the path command.
type pathReport struct {
	Log      string         `json:"log"`
	Lo       uint64         `json:"lo"`
	Hi       uint64         `json:"hi"`
	Rows     []sldg.PathRow `json:"rows"`
	LastHash string         `json:"lastHash"`
}

// EmitPath executes a path-gathering job over the given rows and writes the
// proof as JSON to stdout or outPath.
func EmitPath(opts LedgerOptions, rows []uint64, outPath string, compact bool) error {
	lgr, err := openLedger(opts)
	if err != nil {
		return err
	}
	job := lgr.NewJob()
	for _, n := range rows {
		job.AddToPath(n)
	}
	res, err := job.Execute()
	if err != nil {
		return err
	}
	report := pathReport{
		Log:      filepath.Base(opts.LogFile),
		Lo:       res.Path.Lo(),
		Hi:       res.Path.Hi(),
		Rows:     res.Path.Rows(),
		LastHash: res.Path.LastHash().Hex(),
	}
	return emitJSON(report, outPath, compact)
}

// EmitRows executes a source-gathering job and writes the rows as JSON.
func EmitRows(opts LedgerOptions, rows []uint64, withPath bool, outPath string, compact bool) error {
	lgr, err := openLedger(opts)
	if err != nil {
		return err
	}
	job := lgr.NewJob()
	for _, n := range rows {
		job.AddSourceRow(n, withPath)
	}
	res, err := job.Execute()
	if err != nil {
		return err
	}
	out := struct {
		Log     string             `json:"log"`
		Sources []ledger.SourceRow `json:"sources"`
		Path    []sldg.PathRow     `json:"path,omitempty"`
	}{Log: filepath.Base(opts.LogFile), Sources: res.Sources}
	if res.Path != nil {
		out.Path = res.Path.Rows()
	}
	return emitJSON(out, outPath, compact)
}

func emitJSON(v any, outPath string, compact bool) error {
	var data []byte
	var err error
	if compact {
		data, err = json.Marshal(v)
	} else {
		data, err = json.MarshalIndent(v, "", "  ")
	}
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if outPath == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(outPath, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", outPath, err)
	}
	return nil
}

// validateLogFileExists fails early on a missing log.
func validateLogFileExists(logfilePath string) error {
	if _, err := os.Stat(logfilePath); os.IsNotExist(err) {
		return fmt.Errorf("logfile does not exist: %s", logfilePath)
	}
	return nil
}

// rulesExist reports whether the log is initialized under opts.
func rulesExist(opts LedgerOptions) bool {
	dir := opts.LglDir
	if dir == "" {
		dir = lglfile.DefaultDir(opts.LogFile)
	}
	_, err := os.Stat(lglfile.RulesPath(dir, filepath.Base(opts.LogFile)))
	return err == nil
}
