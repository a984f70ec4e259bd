package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/urfave/cli.v1"

	"github.com/daimatz/jvmexec/pkg/classfile"
	"github.com/daimatz/jvmexec/pkg/deobf"
	"github.com/daimatz/jvmexec/pkg/native"
	"github.com/daimatz/jvmexec/pkg/vm"
)

var (
	patchFlag = cli.BoolFlag{
		Name:  "patch",
		Usage: "Write decrypted constants back into copies of the classes",
	}
	outDirFlag = cli.StringFlag{
		Name:  "outdir",
		Value: "deobf-out",
		Usage: "Directory for patched class files",
	}
	dbFlag = cli.StringFlag{
		Name:  "db",
		Usage: "SQLite database for run results, overrides deobf.db",
	}
	workersFlag = cli.IntFlag{
		Name:  "workers",
		Usage: "Classes scanned concurrently, overrides deobf.workers",
	}

	deobfCommand = cli.Command{
		Action:    deobfClasses,
		Name:      "deobf",
		Usage:     "Decrypt obfuscated string constants",
		ArgsUsage: "[class...]",
		Flags:     []cli.Flag{patchFlag, outDirFlag, dbFlag, workersFlag},
		Description: `
The deobf command looks for decryptor methods and suspicious string
constants in each class, runs every candidate decryptor on every
suspicious constant, and reports what it recovered. Without arguments all
classes of the classpath are scanned. With --patch the recovered strings
are written into copies of the class files under --outdir.`,
	}
	stringsCommand = cli.Command{
		Action:    listStrings,
		Name:      "strings",
		Usage:     "List suspicious string constants",
		ArgsUsage: "[class...]",
	}
	nativesCommand = cli.Command{
		Action:    listNatives,
		Name:      "natives",
		Usage:     "Report native methods without a handler",
		ArgsUsage: "[class...]",
	}
	clinitCommand = cli.Command{
		Action:    captureStatics,
		Name:      "clinit",
		Usage:     "Run static initializers and print the String fields they set",
		ArgsUsage: "<class...>",
	}
	runsCommand = cli.Command{
		Action:    listRuns,
		Name:      "runs",
		Usage:     "List stored deobfuscation runs, or the results of one",
		ArgsUsage: "[run-id]",
		Flags:     []cli.Flag{dbFlag},
	}
)

func newService() (*deobf.Service, error) {
	opts, err := cfg.Engine.Options()
	if err != nil {
		return nil, err
	}
	pool := cfg.Classpath.NewPool()
	defer pool.Release()
	return deobf.NewService(pool, opts...), nil
}

// targetClasses returns the named classes, or every class of the pool.
func targetClasses(ctx *cli.Context, pool *vm.ClassPool) ([]string, error) {
	if ctx.NArg() == 0 {
		return pool.Classes()
	}
	names := make([]string, ctx.NArg())
	for i, arg := range ctx.Args() {
		names[i] = internalName(arg)
	}
	return names, nil
}

func dbPath(ctx *cli.Context) string {
	if ctx.IsSet(dbFlag.Name) {
		return ctx.String(dbFlag.Name)
	}
	return cfg.Deobf.DB
}

func deobfClasses(ctx *cli.Context) error {
	s, err := newService()
	if err != nil {
		return err
	}
	defer s.Close()

	classes, err := targetClasses(ctx, s.Pool())
	if err != nil {
		return err
	}
	b := &deobf.Batch{
		Service:       s,
		Workers:       cfg.Deobf.Workers,
		MinConfidence: cfg.Deobf.MinConfidence,
		Patch:         ctx.Bool(patchFlag.Name),
	}
	if ctx.IsSet(workersFlag.Name) {
		b.Workers = ctx.Int(workersFlag.Name)
	}
	if path := dbPath(ctx); path != "" {
		if b.Store, err = deobf.OpenStore(path); err != nil {
			return err
		}
		defer b.Store.Close()
	}

	run, err := b.Run(context.Background(), classes)
	if err != nil {
		return err
	}
	outDir := ctx.String(outDirFlag.Name)
	for _, rep := range run.Reports {
		if rep.Err != nil {
			fmt.Printf("%s: %v\n", rep.Class, rep.Err)
			continue
		}
		for _, r := range rep.Results {
			fmt.Println(r)
		}
		if rep.Patched == nil {
			continue
		}
		path := filepath.Join(outDir, filepath.FromSlash(rep.Class)+".class")
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return errors.Wrap(err, "creating output directory")
		}
		if err := os.WriteFile(path, rep.Patched, 0o644); err != nil {
			return errors.Wrapf(err, "writing %s", path)
		}
		logger.Info("patched class written", zap.String("path", path), zap.Int("strings", rep.Applied))
	}
	fmt.Printf("run %s: %d classes, %d strings decrypted in %v\n",
		run.ID, len(run.Reports), run.Decrypted(), run.Finished.Sub(run.Started).Round(time.Millisecond))
	return nil
}

func listStrings(ctx *cli.Context) error {
	pool := cfg.Classpath.NewPool()
	defer pool.Release()

	classes, err := targetClasses(ctx, pool)
	if err != nil {
		return err
	}
	scanner := deobf.NewStringScanner()
	for _, name := range classes {
		cf, err := pool.LoadClass(name)
		if err != nil {
			return errors.Wrapf(err, "loading %s", name)
		}
		found, err := scanner.Scan(cf)
		if err != nil {
			return err
		}
		for _, s := range found {
			fmt.Printf("%s  %.2f\n", s, s.Score)
		}
	}
	return nil
}

func listNatives(ctx *cli.Context) error {
	pool := cfg.Classpath.NewPool()
	defer pool.Release()

	names, err := targetClasses(ctx, pool)
	if err != nil {
		return err
	}
	classes := make([]*classfile.ClassFile, 0, len(names))
	for _, name := range names {
		cf, err := pool.LoadClass(name)
		if err != nil {
			return err
		}
		classes = append(classes, cf)
	}
	report, err := deobf.ScanNatives(native.Defaults(), classes)
	if err != nil {
		return err
	}
	fmt.Printf("%d native methods, %d handled, %d missing\n", report.Total, report.Handled, report.MissingCount())
	for _, p := range []deobf.Priority{deobf.PriorityHigh, deobf.PriorityMedium, deobf.PriorityLow} {
		for _, key := range report.Missing[p] {
			fmt.Printf("  [%s] %s\n", p, key)
		}
	}
	return nil
}

func captureStatics(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		return fmt.Errorf("usage: clinit %s", ctx.Command.ArgsUsage)
	}
	s, err := newService()
	if err != nil {
		return err
	}
	defer s.Close()

	for _, arg := range ctx.Args() {
		capture, err := s.CaptureStatics(internalName(arg))
		if err != nil {
			return err
		}
		if capture.Run != nil && !capture.Run.OK() {
			fmt.Printf("%s: <clinit> %v\n", capture.Class, capture.Run.Err())
		}
		for _, line := range capture.Strings() {
			fmt.Println(line)
		}
	}
	return nil
}

func listRuns(ctx *cli.Context) error {
	path := dbPath(ctx)
	if path == "" {
		return fmt.Errorf("no database: set deobf.db or pass --%s", dbFlag.Name)
	}
	store, err := deobf.OpenStore(path)
	if err != nil {
		return err
	}
	defer store.Close()

	if ctx.NArg() > 0 {
		id, err := uuid.Parse(ctx.Args().First())
		if err != nil {
			return errors.Wrap(err, "run id")
		}
		results, err := store.Results(context.Background(), id)
		if err != nil {
			return err
		}
		for _, r := range results {
			fmt.Printf("%-9s %s\n", r.Status(), r)
		}
		return nil
	}

	runs, err := store.Runs(context.Background())
	if err != nil {
		return err
	}
	for _, r := range runs {
		fmt.Printf("%s  %s  %d classes  %d decrypted\n",
			r.ID, r.Started.Format(time.RFC3339), r.Classes, r.Decrypted)
	}
	return nil
}
