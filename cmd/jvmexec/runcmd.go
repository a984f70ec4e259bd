package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"gopkg.in/urfave/cli.v1"

	"github.com/daimatz/jvmexec/pkg/classfile"
	"github.com/daimatz/jvmexec/pkg/heap"
	"github.com/daimatz/jvmexec/pkg/vm"
)

var (
	modeFlag = cli.StringFlag{
		Name:  "mode",
		Usage: "Execution mode (recursive or iterative), overrides engine.mode",
	}
	maxInstructionsFlag = cli.Int64Flag{
		Name:  "max-instructions",
		Usage: "Instruction budget, overrides engine.max_instructions",
	}
	maxHeapSlotsFlag = cli.Int64Flag{
		Name:  "max-heap-slots",
		Usage: "Heap budget in slots, overrides engine.max_heap_slots",
	}
	outFlag = cli.StringFlag{
		Name:  "out",
		Usage: "Write the trace as CBOR to this file",
	}

	runCommand = cli.Command{
		Action:    runMethod,
		Name:      "run",
		Usage:     "Execute a static method",
		ArgsUsage: "<class> <method> <descriptor> [args...]",
		Flags:     []cli.Flag{modeFlag, maxInstructionsFlag, maxHeapSlotsFlag},
		Description: `
The run command executes one static method and prints its result together
with anything the program printed. Arguments are parsed according to the
descriptor: numbers for primitive parameters, text for String parameters.`,
	}
	traceCommand = cli.Command{
		Action:    traceMethod,
		Name:      "trace",
		Usage:     "Execute a static method and print its call tree",
		ArgsUsage: "<class> <method> <descriptor> [args...] | --read <file>",
		Flags: []cli.Flag{modeFlag, maxInstructionsFlag, maxHeapSlotsFlag, outFlag,
			cli.StringFlag{Name: "read", Usage: "Print a trace previously written with --out"},
		},
	}
)

// session owns one execution context.
type session struct {
	engine   *vm.Engine
	heap     *heap.Manager
	resolver *vm.ClassResolver
}

func newSession(ctx *cli.Context, extra ...vm.Option) (*session, error) {
	opts, err := cfg.Engine.Options()
	if err != nil {
		return nil, err
	}
	if ctx.IsSet(modeFlag.Name) {
		mode, err := vm.ParseMode(ctx.String(modeFlag.Name))
		if err != nil {
			return nil, err
		}
		opts = append(opts, vm.WithMode(mode))
	}
	if ctx.IsSet(maxInstructionsFlag.Name) {
		opts = append(opts, vm.WithMaxInstructions(ctx.Int64(maxInstructionsFlag.Name)))
	}
	if ctx.IsSet(maxHeapSlotsFlag.Name) {
		opts = append(opts, vm.WithMaxHeapSlots(ctx.Int64(maxHeapSlotsFlag.Name)))
	}
	opts = append(opts, extra...)

	pool := cfg.Classpath.NewPool()
	defer pool.Release()
	resolver := vm.NewClassResolver(pool)
	h := heap.NewManager(resolver)
	c, err := vm.NewContext(resolver, h, opts...)
	if err != nil {
		resolver.Close()
		return nil, err
	}
	return &session{engine: vm.NewEngine(c), heap: h, resolver: resolver}, nil
}

func (s *session) close() { s.resolver.Close() }

func (s *session) execute(ctx *cli.Context) (*vm.Result, string, error) {
	if ctx.NArg() < 3 {
		return nil, "", fmt.Errorf("usage: %s %s", ctx.Command.Name, ctx.Command.ArgsUsage)
	}
	args := ctx.Args()
	class, method, desc := internalName(args[0]), args[1], args[2]
	md, err := classfile.ParseMethodDescriptor(desc)
	if err != nil {
		return nil, "", err
	}
	values, err := parseArgs(s.heap, md, args[3:])
	if err != nil {
		return nil, "", err
	}
	return s.engine.ExecuteNamed(class, method, desc, values...), md.Return, nil
}

func runMethod(ctx *cli.Context) error {
	s, err := newSession(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	res, ret, err := s.execute(ctx)
	if err != nil {
		return err
	}
	printResult(s.heap, res, ret)
	return res.Err()
}

func traceMethod(ctx *cli.Context) error {
	if path := ctx.String("read"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return errors.Wrap(err, "reading trace")
		}
		t, err := vm.UnmarshalTrace(data)
		if err != nil {
			return errors.Wrapf(err, "decoding %s", path)
		}
		fmt.Print(t.Tree())
		fmt.Println(t.Summary())
		return nil
	}

	s, err := newSession(ctx, vm.WithTrace(true))
	if err != nil {
		return err
	}
	defer s.close()

	res, ret, err := s.execute(ctx)
	if err != nil {
		return err
	}
	if res.Trace != nil {
		fmt.Print(res.Trace.Tree())
		fmt.Println(res.Trace.Summary())
		if out := ctx.String(outFlag.Name); out != "" {
			data, err := res.Trace.MarshalBinary()
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return errors.Wrapf(err, "writing %s", out)
			}
		}
	}
	printResult(s.heap, res, ret)
	return res.Err()
}

func printResult(h *heap.Manager, res *vm.Result, ret string) {
	os.Stdout.WriteString(res.Stdout)
	os.Stderr.WriteString(res.Stderr)
	if res.OK() && ret == "Ljava/lang/String;" && !res.ReturnValue.IsNull() {
		if s, err := h.ExtractString(res.ReturnValue); err == nil {
			fmt.Printf("SUCCESS %q (%d instructions)\n", s, res.InstructionsExecuted)
			return
		}
	}
	fmt.Println(res)
}

// parseArgs converts command line arguments to values for md's parameters.
func parseArgs(h *heap.Manager, md *classfile.MethodDescriptor, args []string) ([]heap.Value, error) {
	if len(args) != len(md.Params) {
		return nil, fmt.Errorf("method takes %d arguments, got %d", len(md.Params), len(args))
	}
	values := make([]heap.Value, len(args))
	for i, arg := range args {
		v, err := parseArg(h, md.Params[i], arg)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %v", i+1, err)
		}
		values[i] = v
	}
	return values, nil
}

func parseArg(h *heap.Manager, desc, arg string) (heap.Value, error) {
	switch desc {
	case "Z":
		b, err := strconv.ParseBool(arg)
		return heap.Bool(b), err
	case "C":
		r := []rune(arg)
		if len(r) != 1 || r[0] > 0xFFFF {
			return heap.Value{}, fmt.Errorf("%q is not a single char", arg)
		}
		return heap.Int(r[0]), nil
	case "B", "S", "I":
		bits := map[string]int{"B": 8, "S": 16, "I": 32}[desc]
		n, err := strconv.ParseInt(arg, 0, bits)
		return heap.Int(int32(n)), err
	case "J":
		n, err := strconv.ParseInt(arg, 0, 64)
		return heap.Long(n), err
	case "F":
		f, err := strconv.ParseFloat(arg, 32)
		return heap.Float(float32(f)), err
	case "D":
		f, err := strconv.ParseFloat(arg, 64)
		return heap.Double(f), err
	case "Ljava/lang/String;":
		if arg == "null" {
			return heap.Ref(0), nil
		}
		return heap.Ref(h.NewGoString(arg)), nil
	}
	return heap.Value{}, fmt.Errorf("cannot pass %s from the command line", desc)
}
