// jvmexec executes methods of Java class files and recovers strings hidden
// by obfuscators.
package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/urfave/cli.v1"

	"github.com/daimatz/jvmexec/pkg/config"
	"github.com/daimatz/jvmexec/pkg/deobf"
	"github.com/daimatz/jvmexec/pkg/vm"
)

var (
	app = cli.NewApp()

	configFlag = cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	classpathFlag = cli.StringSliceFlag{
		Name:  "cp",
		Usage: "Class directory or jar, searched before the configured classpath (repeatable)",
	}
	jmodFlag = cli.StringFlag{
		Name:  "jmod",
		Usage: `Path to java.base.jmod, or "none" to run without JDK classes`,
	}
	verboseFlag = cli.BoolFlag{
		Name:  "verbose",
		Usage: "Log at debug level",
	}

	// cfg and logger are set up before any command runs.
	cfg    *config.Config
	logger = zap.NewNop()
)

func init() {
	app.Name = "jvmexec"
	app.Usage = "JVM bytecode execution and string deobfuscation"
	app.Version = "0.1.0"
	app.Commands = []cli.Command{
		// See runcmd.go:
		runCommand,
		traceCommand,
		// See deobfcmd.go:
		deobfCommand,
		stringsCommand,
		nativesCommand,
		clinitCommand,
		runsCommand,
		// See config.go:
		dumpConfigCommand,
	}
	sort.Sort(cli.CommandsByName(app.Commands))

	app.Flags = []cli.Flag{configFlag, classpathFlag, jmodFlag, verboseFlag}

	app.Before = func(ctx *cli.Context) error {
		c, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		if logger, err = c.Log.NewLogger(); err != nil {
			return fmt.Errorf("log: %v", err)
		}
		cfg = c
		vm.SetLogger(logger)
		deobf.SetLogger(logger)
		return nil
	}
	app.After = func(ctx *cli.Context) error {
		logger.Sync()
		return nil
	}
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// internalName accepts both com.acme.Foo and com/acme/Foo.
func internalName(name string) string {
	return strings.ReplaceAll(strings.TrimSuffix(name, ".class"), ".", "/")
}
