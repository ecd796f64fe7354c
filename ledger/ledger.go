package ledger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/alphadose/haxmap"

	"github.com/ChristianF88/lgl/chain"
	"github.com/ChristianF88/lgl/grammar"
	"github.com/ChristianF88/lgl/hashing"
	"github.com/ChristianF88/lgl/lglfile"
)

// ErrRulesExist is returned by Init when a rules file is already present.
var ErrRulesExist = errors.New("rules file already exists")

// LogLedger is the façade over one log file and its artifact directory.
// A LogLedger is cheap: artifact files are opened lazily per job and
// released when the job ends. Multiple read-only façades over the same
// files may run concurrently; the checkpoint cache is shared-safe.
type LogLedger struct {
	logPath string
	dir     string
	logName string
	rules   lglfile.Rules

	// Checkpoints are immutable once written, so decoded values are
	// cached; concurrent read-only jobs share the work.
	ckpts *haxmap.Map[uint64, lglfile.Checkpoint]
}

// Init creates the artifact directory and rules file for a log and returns
// the ledger. Fails with ErrRulesExist if the log is already initialized.
// With salted set, a fresh 32-byte seed is drawn from the OS RNG.
func Init(logFile, dir string, skipBlankLines bool, delimiters, commentPrefix string, salted bool) (*LogLedger, error) {
	g, err := grammar.New(skipBlankLines, delimiters, commentPrefix)
	if err != nil {
		return nil, err
	}
	if !salted {
		return initLedger(logFile, dir, lglfile.Rules{Grammar: g})
	}
	salt, err := hashing.GenerateTableSalt()
	if err != nil {
		return nil, err
	}
	return initLedger(logFile, dir, lglfile.Rules{Grammar: g, Salt: salt})
}

// InitSalt initializes a salted ledger with the given grammar, generating
// the seed from the OS RNG.
func InitSalt(logFile, dir string, g grammar.Grammar) (*LogLedger, error) {
	salt, err := hashing.GenerateTableSalt()
	if err != nil {
		return nil, err
	}
	return initLedger(logFile, dir, lglfile.Rules{Grammar: g, Salt: salt})
}

func initLedger(logFile, dir string, rules lglfile.Rules) (*LogLedger, error) {
	if dir == "" {
		dir = lglfile.DefaultDir(logFile)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating artifact directory: %w", err)
	}
	name := filepath.Base(logFile)
	rulesPath := lglfile.RulesPath(dir, name)
	if _, err := os.Stat(rulesPath); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrRulesExist, rulesPath)
	}
	if err := lglfile.WriteRules(rulesPath, rules); err != nil {
		return nil, err
	}
	return &LogLedger{
		logPath: logFile,
		dir:     dir,
		logName: name,
		rules:   rules,
		ckpts:   haxmap.New[uint64, lglfile.Checkpoint](),
	}, nil
}

// Open loads an initialized ledger. A non-nil grammarOverride replaces the
// persisted grammar for this façade only; hashing with a different grammar
// than the ledger was built with will surface as hash conflicts.
func Open(logFile, dir string, grammarOverride *grammar.Grammar) (*LogLedger, error) {
	if dir == "" {
		dir = lglfile.DefaultDir(logFile)
	}
	name := filepath.Base(logFile)
	rules, err := lglfile.ReadRules(lglfile.RulesPath(dir, name))
	if err != nil {
		return nil, err
	}
	if grammarOverride != nil {
		rules.Grammar = *grammarOverride
	}
	return &LogLedger{
		logPath: logFile,
		dir:     dir,
		logName: name,
		rules:   rules,
		ckpts:   haxmap.New[uint64, lglfile.Checkpoint](),
	}, nil
}

// LogPath returns the path of the log file this ledger covers.
func (l *LogLedger) LogPath() string { return l.logPath }

// Dir returns the artifact directory.
func (l *LogLedger) Dir() string { return l.dir }

// Grammar returns the active grammar.
func (l *LogLedger) Grammar() grammar.Grammar { return l.rules.Grammar }

// Salted reports whether the ledger hashes with a table salt.
func (l *LogLedger) Salted() bool { return l.rules.Salt != nil }

// NewJob returns an empty job description for this ledger.
func (l *LogLedger) NewJob() *Job {
	return &Job{lgr: l}
}

// Job is an alias for NewJob, matching the façade surface.
func (l *LogLedger) Job() *Job { return l.NewJob() }

// ExecuteJob runs j against this ledger.
func (l *LogLedger) ExecuteJob(j *Job) (*JobResult, error) {
	return j.Execute()
}

// CheckpointNos returns the saved checkpoint row numbers in ascending
// order.
func (l *LogLedger) CheckpointNos() ([]uint64, error) {
	return lglfile.CheckpointNos(l.dir, l.logName)
}

// LoadCheckpoint loads (and caches) the checkpoint at row n.
func (l *LogLedger) LoadCheckpoint(n uint64) (lglfile.Checkpoint, error) {
	if c, ok := l.ckpts.Get(n); ok {
		return c, nil
	}
	c, err := lglfile.ReadCheckpoint(lglfile.CheckpointPath(l.dir, l.logName, n))
	if err != nil {
		return lglfile.Checkpoint{}, err
	}
	l.ckpts.Set(n, c)
	return c, nil
}

// NearestCheckpoint returns the saved checkpoint with the highest row
// number at or below n; ok is false when none exists.
func (l *LogLedger) NearestCheckpoint(n uint64) (lglfile.Checkpoint, bool, error) {
	nos, err := l.CheckpointNos()
	if err != nil || len(nos) == 0 {
		return lglfile.Checkpoint{}, false, err
	}
	// First checkpoint number strictly above n; the one before is ours.
	i := sort.Search(len(nos), func(i int) bool { return nos[i] > n })
	if i == 0 {
		return lglfile.Checkpoint{}, false, nil
	}
	c, err := l.LoadCheckpoint(nos[i-1])
	if err != nil {
		return lglfile.Checkpoint{}, false, err
	}
	return c, true, nil
}

// LoadSkipLedger opens the chain file read-only, or returns (nil, nil) when
// none has been built.
func (l *LogLedger) LoadSkipLedger() (*chain.File, error) {
	path := lglfile.ChainPath(l.dir, l.logName)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	return chain.Open(path, false)
}

// IsRandomAccess reports whether a built chain file exists, i.e. whether
// row hashes and the state path are available without re-parsing the log.
func (l *LogLedger) IsRandomAccess() bool {
	c, err := l.LoadSkipLedger()
	if err != nil || c == nil {
		return false
	}
	defer c.Close()
	return c.Count() > 0
}
