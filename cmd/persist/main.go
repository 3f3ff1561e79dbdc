// Command persist saves JSON entity graphs into a database described by a
// YAML model.
//
//	persist -config persist.yaml -type BookStore stores.json
//	echo '{"name": "MANNING"}' | persist -config persist.yaml -type BookStore
//
// The graph is saved in one transaction. The saved entities, with their
// generated ids, are printed to stdout.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"go.uber.org/zap"

	"github.com/syssam/persist"
	"github.com/syssam/persist/dialect/sql"
	"github.com/syssam/persist/entity"
	"github.com/syssam/persist/mutation"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("persist", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		configPath = fs.String("config", "persist.yaml", "configuration file")
		typeName   = fs.String("type", "", "entity type of the input root objects")
		mode       = fs.String("mode", "", "save mode overriding the configuration")
		dryRun     = fs.Bool("dry-run", false, "roll back instead of commit")
	)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: persist [flags] [input.json]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *typeName == "" || fs.NArg() > 1 {
		fs.Usage()
		return 2
	}
	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(stderr, "persist:", err)
		return 1
	}
	log, err := cfg.Logger(stderr)
	if err != nil {
		fmt.Fprintln(stderr, "persist:", err)
		return 1
	}
	defer log.Sync()
	input := stdin
	if name := fs.Arg(0); name != "" && name != "-" {
		f, err := os.Open(name)
		if err != nil {
			log.Error("open input", zap.Error(err))
			return 1
		}
		defer f.Close()
		input = f
	}
	s := session{cfg: cfg, log: log, typ: *typeName, mode: *mode, dryRun: *dryRun}
	if err := s.run(ctx, input, stdout); err != nil {
		log.Error("save failed", zap.Error(err))
		return 1
	}
	return 0
}

type session struct {
	cfg    *Config
	log    *zap.Logger
	typ    string
	mode   string
	dryRun bool
	// trigger replaces the trigger of the configuration.
	trigger mutation.Trigger
}

func (s session) run(ctx context.Context, input io.Reader, out io.Writer) error {
	reg, err := LoadModel(s.cfg.Model)
	if err != nil {
		return err
	}
	t := reg.Type(s.typ)
	if t == nil {
		return fmt.Errorf("unknown type %q", s.typ)
	}
	drafts, err := ReadDrafts(input, t)
	if err != nil {
		return err
	}
	opts, release, err := s.cfg.Options(reg, s.log)
	if err != nil {
		return err
	}
	defer release()
	if s.mode != "" {
		m, err := persist.ParseSaveMode(s.mode)
		if err != nil {
			return err
		}
		opts = append(opts, mutation.WithMode(m))
	}
	if s.trigger != nil {
		opts = append(opts, mutation.WithTrigger(s.trigger))
	}
	base, err := s.cfg.Open(ctx)
	if err != nil {
		return err
	}
	defer base.Close()
	stats := sql.NewStats()
	hooks := []sql.Hook{stats}
	if s.cfg.SlowQuery > 0 {
		stats.SetSlowThreshold(s.cfg.SlowQuery)
		hooks = append(hooks, sql.SlowLog(s.log, s.cfg.SlowQuery))
	}
	if s.log.Core().Enabled(zap.DebugLevel) {
		hooks = append(hooks, sql.DebugLog(s.log))
	}
	drv := sql.WithHooks(base, hooks...)

	tx, err := drv.Tx(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	saver, err := mutation.NewSaver(tx, reg, opts...)
	if err != nil {
		tx.Rollback()
		return err
	}
	res, err := saver.SaveAll(ctx, drafts)
	if err != nil {
		tx.Rollback()
		return err
	}
	if s.dryRun {
		if err := tx.Rollback(); err != nil {
			return fmt.Errorf("rollback: %w", err)
		}
		s.log.Info("dry run rolled back", zap.Int("rows", res.TotalAffectedRowCount()))
	} else {
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		if err := saver.Submit(ctx, res.Events); err != nil {
			return err
		}
	}
	s.log.Info("save finished",
		zap.Int("rows", res.TotalAffectedRowCount()),
		zap.Stringer("statements", stats.Snapshot()),
	)
	saved := make([]*entity.Draft, len(res.Items))
	for i, item := range res.Items {
		saved[i] = item.Modified
	}
	return WriteResult(out, saved, res.AffectedRowCounts, res.TotalAffectedRowCount())
}
