// Command evidence-replay re-runs a capture session and checks it against
// its audit trail.
//
// Typical uses:
//
//	evidence-replay -log capture.jsonl                           # dry run, print summary
//	evidence-replay -log capture.jsonl -db audit.db -record -session s1
//	evidence-replay -db audit.db -session s1                     # verify recorded trail
//	evidence-replay -db audit.db -session s1 -export s1.jsonl    # dump observations
//	evidence-replay -log capture.jsonl -plot coverage.png
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/capture.evidence/internal/config"
	"github.com/banshee-data/capture.evidence/internal/replay"
	"github.com/banshee-data/capture.evidence/internal/security"
	"github.com/banshee-data/capture.evidence/internal/session"
	"github.com/banshee-data/capture.evidence/internal/storage/sqlite"
	"github.com/banshee-data/capture.evidence/internal/version"
)

// errMismatch is returned when the replay did not reproduce the recording.
var errMismatch = errors.New("replay does not match recording")

type options struct {
	logPath    string
	dbPath     string
	tuningPath string
	sessionID  string
	record     bool
	exportPath string
	plotPath   string
	checkpoint int
}

func (o options) validate() error {
	switch {
	case o.logPath == "" && o.dbPath == "":
		return errors.New("one of -log or -db is required")
	case o.record && (o.logPath == "" || o.dbPath == ""):
		return errors.New("-record needs both -log and -db")
	case o.exportPath != "" && (o.dbPath == "" || o.sessionID == ""):
		return errors.New("-export needs -db and -session")
	case o.dbPath != "" && o.sessionID == "" && !o.record:
		return errors.New("-db needs -session")
	case o.checkpoint < 0:
		return errors.New("-checkpoint must be >= 0")
	}
	return nil
}

func main() {
	var opts options
	var showVersion bool

	flag.StringVar(&opts.logPath, "log", "", "JSON Lines observation log to replay")
	flag.StringVar(&opts.dbPath, "db", "", "path to the sqlite audit database")
	flag.StringVar(&opts.tuningPath, "tuning", "", "tuning config (.json); defaults when empty")
	flag.StringVar(&opts.sessionID, "session", "", "session id to record, verify or export")
	flag.BoolVar(&opts.record, "record", false, "record the replayed log into -db as a new session")
	flag.StringVar(&opts.exportPath, "export", "", "write the session's recorded observations to this JSON Lines file")
	flag.StringVar(&opts.plotPath, "plot", "", "write a coverage curve PNG to this path")
	flag.IntVar(&opts.checkpoint, "checkpoint", 50, "snapshot the grid every n observations (0 = only at the end)")
	flag.BoolVar(&showVersion, "version", false, "print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println("evidence-replay", version.String())
		return
	}
	if err := opts.validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx, opts, os.Stdout)
	if errors.Is(err, errMismatch) {
		log.Printf("%v", err)
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("evidence-replay: %v", err)
	}
}

func run(ctx context.Context, opts options, out io.Writer) error {
	tuning, err := loadTuning(opts.tuningPath)
	if err != nil {
		return err
	}

	var store *sqlite.Store
	if opts.dbPath != "" {
		if store, err = sqlite.Open(opts.dbPath); err != nil {
			return err
		}
		defer store.Close()
	}

	if opts.exportPath != "" {
		return export(ctx, store, opts, out)
	}

	var (
		obs      []session.Observation
		recorded []session.DecisionRecord
		rOpts    = replay.Options{
			SessionID:       opts.sessionID,
			Tuning:          tuning,
			CheckpointEvery: opts.checkpoint,
		}
	)
	if opts.logPath != "" {
		if obs, err = replay.LoadLog(opts.logPath); err != nil {
			return err
		}
	}

	switch {
	case opts.record:
		rOpts.Sink = store
	case store != nil:
		info, err := store.Session(ctx, opts.sessionID)
		if err != nil {
			return err
		}
		rOpts.ExpectPolicy = info.PolicyHash
		if recorded, err = store.DecisionRecords(ctx, opts.sessionID); err != nil {
			return err
		}
		if obs == nil {
			obs = replay.Observations(recorded)
		}
		log.Printf("verifying session %s (%s tier, recorded by %s): %d decisions",
			info.ID, info.Tier, info.Version, len(recorded))
	}

	res, err := replay.Run(ctx, obs, rOpts)
	if err != nil {
		return err
	}
	printSummary(out, res)

	if opts.plotPath != "" {
		path, err := plotTarget(opts.plotPath, res.SessionID)
		if err != nil {
			return err
		}
		if err := plotCoverage(res, path); err != nil {
			return err
		}
		log.Printf("coverage plot written to %s", path)
	}

	if recorded != nil {
		report := replay.Compare(recorded, res.Outcomes)
		fmt.Fprintln(out, report.String())
		if !report.OK() {
			return fmt.Errorf("session %s: %w", opts.sessionID, errMismatch)
		}
	}
	return nil
}

// loadTuning reads path, or the defaults file when it is reachable from the
// working directory. Otherwise the built-in getter defaults apply.
func loadTuning(path string) (*config.TuningConfig, error) {
	if path != "" {
		return config.LoadTuningConfig(path)
	}
	if _, err := os.Stat(config.DefaultConfigPath); err == nil {
		return config.LoadTuningConfig(config.DefaultConfigPath)
	}
	log.Printf("%s not found, using built-in tuning defaults", config.DefaultConfigPath)
	return config.EmptyTuningConfig(), nil
}

func export(ctx context.Context, store *sqlite.Store, opts options, out io.Writer) error {
	if err := security.OutputPath(opts.exportPath); err != nil {
		return err
	}
	recorded, err := store.DecisionRecords(ctx, opts.sessionID)
	if err != nil {
		return err
	}
	if len(recorded) == 0 {
		return fmt.Errorf("session %s: %w", opts.sessionID, sqlite.ErrNotFound)
	}
	if err := replay.SaveLog(opts.exportPath, replay.Observations(recorded)); err != nil {
		return err
	}
	fmt.Fprintf(out, "exported %d observations from %s to %s\n", len(recorded), opts.sessionID, opts.exportPath)
	return nil
}

func printSummary(w io.Writer, res *replay.Result) {
	s := res.Summary
	fmt.Fprintf(w, "session %s policy %x\n", res.SessionID, res.PolicyHash[:8])
	fmt.Fprintf(w, "observations %d (evaluated %d): allowed %d, penalized %d, hard blocks %d\n",
		s.Observations, s.Evaluated, s.Allowed, s.Penalized, s.HardBlocks)
	for _, r := range sortedReasons(s.Reasons) {
		fmt.Fprintf(w, "  %-20s %d\n", r, s.Reasons[r])
	}
	st := res.Final
	fmt.Fprintf(w, "capacity: mode %s, patches %d, budget %.3f\n",
		st.Capacity.Mode, st.Capacity.PatchCountShadow, st.Capacity.BudgetRemaining)
	fmt.Fprintf(w, "coverage %.4f, grid digest %x\n", st.Coverage, res.Digest[:8])
}
