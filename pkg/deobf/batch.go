package deobf

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/daimatz/jvmexec/pkg/classfile"
)

// ClassReport is the outcome of scanning one class.
type ClassReport struct {
	Class      string
	Clinit     ClinitInfo
	Candidates []Candidate
	Suspicious []SuspiciousString
	Results    []*Result
	// Applied counts the results patched into Patched.
	Applied int
	// Patched is the rewritten class file when patching was requested and
	// at least one result was applied.
	Patched []byte
	// Err is set when the class could not be scanned at all.
	Err error
}

// Run is one batch over a set of classes.
type Run struct {
	ID       uuid.UUID
	Started  time.Time
	Finished time.Time
	Reports  []*ClassReport
}

// Decrypted counts successful results across the run.
func (r *Run) Decrypted() int {
	n := 0
	for _, rep := range r.Reports {
		for _, res := range rep.Results {
			if res.Success {
				n++
			}
		}
	}
	return n
}

// Batch scans many classes with a bounded number of workers. Decryptors
// are searched in the class being scanned.
type Batch struct {
	Service *Service
	Scanner *StringScanner
	// Workers bounds concurrent classes; zero or less means one.
	Workers       int
	MinConfidence float64
	// Patch applies successful results to a copy of each class.
	Patch bool
	// Store, when set, receives the run after it finishes.
	Store *Store
}

// Run scans classes and returns reports in the order given. Per-class
// failures are recorded in the reports; only cancellation and store
// errors fail the run.
func (b *Batch) Run(ctx context.Context, classes []string) (*Run, error) {
	run := &Run{
		ID:      uuid.New(),
		Started: time.Now(),
		Reports: make([]*ClassReport, len(classes)),
	}
	scanner := b.Scanner
	if scanner == nil {
		scanner = NewStringScanner()
	}
	workers := b.Workers
	if workers <= 0 {
		workers = 1
	}
	log := Logger().With(zap.String("run", run.ID.String()))
	log.Info("batch started", zap.Int("classes", len(classes)), zap.Int("workers", workers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, class := range classes {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rep := b.scanClass(class, scanner)
			if rep.Err != nil {
				log.Warn("class skipped", zap.String("class", class), zap.Error(rep.Err))
			}
			run.Reports[i] = rep
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, "batch cancelled")
	}
	run.Finished = time.Now()
	log.Info("batch finished",
		zap.Int("decrypted", run.Decrypted()),
		zap.Duration("elapsed", run.Finished.Sub(run.Started)))

	if b.Store != nil {
		if err := b.Store.SaveRun(ctx, run); err != nil {
			return run, err
		}
	}
	return run, nil
}

func (b *Batch) scanClass(class string, scanner *StringScanner) *ClassReport {
	rep := &ClassReport{Class: class}
	shared, err := b.Service.Pool().LoadClass(class)
	if err != nil {
		rep.Err = err
		return rep
	}
	// Patching works on a private copy; the pooled class is shared.
	data, err := shared.Bytes()
	if err != nil {
		rep.Err = errors.Wrapf(err, "encoding %s", class)
		return rep
	}
	cf, err := classfile.ParseBytes(data)
	if err != nil {
		rep.Err = errors.Wrapf(err, "copying %s", class)
		return rep
	}

	if rep.Clinit, err = AnalyzeClinit(cf); err != nil {
		rep.Err = err
		return rep
	}
	candidates, err := DetectDecryptors(cf)
	if err != nil {
		rep.Err = err
		return rep
	}
	for _, c := range candidates {
		if c.Confidence >= b.MinConfidence {
			rep.Candidates = append(rep.Candidates, c)
		}
	}
	if rep.Suspicious, err = scanner.Scan(cf); err != nil {
		rep.Err = err
		return rep
	}
	if len(rep.Candidates) == 0 || len(rep.Suspicious) == 0 {
		return rep
	}

	rep.Results = b.Service.DecryptAll(rep.Suspicious, rep.Candidates)
	if !b.Patch {
		return rep
	}
	if rep.Applied, err = ApplyResults(cf, rep.Results); err != nil {
		rep.Err = err
		return rep
	}
	if rep.Applied > 0 {
		if rep.Patched, err = cf.Bytes(); err != nil {
			rep.Err = errors.Wrapf(err, "encoding patched %s", class)
		}
	}
	return rep
}
