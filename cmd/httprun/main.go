// Command httprun parses and executes `.http` request files: see
// github.com/bmcszk/httprun for the file format and scripting bridge.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/lmittmann/tint"
	"github.com/spf13/pflag"

	"github.com/bmcszk/httprun"
)

// defaultEnvFileName is the public environment file's name when --env-file
// is not given (spec §6). The private file always sits beside it under the
// fixed name http-client.private.env.json; there is no flag to relocate it.
const defaultEnvFileName = "http-client.env.json"
const privateEnvFileName = "http-client.private.env.json"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags := pflag.NewFlagSet("httprun", pflag.ContinueOnError)
	envFile := flags.String("env-file", defaultEnvFileName, "path to the public environment JSON file")
	profile := flags.String("env", "", "environment profile to load from the environment files")
	name := flags.String("name", "", "run only requests whose name contains this text (case-insensitive)")
	index := flags.Int("index", 0, "run only the request at this 1-based position")
	verbose := flags.BoolP("verbose", "v", false, "print handler log() output")
	dryRun := flags.Bool("dry-run", false, "substitute variables and print requests without sending them")

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level: levelFor(*verbose),
	})))

	if flags.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: httprun [flags] <file.http>")
		return 1
	}
	file := flags.Arg(0)

	if *name != "" && *index != 0 {
		slog.Warn("both --name and --index given, --index takes precedence", "name", *name, "index", *index)
	}

	driver := httprun.NewDriver()
	results, warnings, err := driver.Run(context.Background(), httprun.RunOptions{
		FilePath:       file,
		PublicEnvPath:  *envFile,
		PrivateEnvPath: filepath.Join(filepath.Dir(*envFile), privateEnvFileName),
		Profile:        *profile,
		Name:           *name,
		Index:          *index,
		DryRun:         *dryRun,
	})
	if err != nil {
		return exitForError(err)
	}

	renderer := httprun.NewRenderer(os.Stdout, *verbose)
	for _, res := range results {
		renderer.Render(res)
	}
	renderer.Summary(results, warnings)

	for _, w := range warnings {
		slog.Warn(w)
	}

	return httprun.ExitCode(results)
}

func levelFor(verbose bool) slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

func exitForError(err error) int {
	var usageErr *httprun.UsageError
	var parseErr *httprun.ParseError
	var envErr *httprun.EnvError
	switch {
	case errors.As(err, &usageErr), errors.As(err, &parseErr), errors.As(err, &envErr):
		fmt.Fprintln(os.Stderr, err)
	default:
		fmt.Fprintln(os.Stderr, "httprun: "+err.Error())
	}
	return 1
}
