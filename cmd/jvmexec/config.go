package main

import (
	"os"
	"strings"

	"go.uber.org/zap/zapcore"
	"gopkg.in/urfave/cli.v1"

	"github.com/daimatz/jvmexec/pkg/config"
)

var dumpConfigCommand = cli.Command{
	Action:      dumpConfig,
	Name:        "dumpconfig",
	Usage:       "Show configuration values",
	ArgsUsage:   " ",
	Description: `The dumpconfig command shows the effective configuration, including flag overrides.`,
}

// loadConfig reads the --config file and applies the global flags on top.
func loadConfig(ctx *cli.Context) (*config.Config, error) {
	c, err := config.LoadOrDefault(ctx.GlobalString(configFlag.Name))
	if err != nil {
		return nil, err
	}
	var dirs, jars []string
	for _, p := range ctx.GlobalStringSlice(classpathFlag.Name) {
		if strings.HasSuffix(p, ".jar") {
			jars = append(jars, p)
		} else {
			dirs = append(dirs, p)
		}
	}
	c.Classpath.Dirs = append(dirs, c.Classpath.Dirs...)
	c.Classpath.Jars = append(jars, c.Classpath.Jars...)
	if ctx.GlobalIsSet(jmodFlag.Name) {
		c.Classpath.Jmod = ctx.GlobalString(jmodFlag.Name)
	}
	if ctx.GlobalBool(verboseFlag.Name) {
		c.Log.Level = zapcore.DebugLevel.String()
	}
	return c, c.Validate()
}

func dumpConfig(ctx *cli.Context) error {
	return cfg.Write(os.Stdout)
}
