package main

import (
	"fmt"
	"io"

	flag "github.com/spf13/pflag"
)

type cliFlags struct {
	write    bool
	check    bool
	indent   string
	maxDepth int
	config   string
	version  bool
	quiet    bool
	verbose  bool

	maxDepthSet bool
	indentSet   bool
}

// parseFlags parses args (without the program name). Returns the flags and
// the remaining positional arguments.
func parseFlags(args []string, stderr io.Writer) (*cliFlags, []string, error) {
	flags := &cliFlags{}
	fs := flag.NewFlagSet("synkfmt", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: synkfmt [flags] [file.json ...]")
		fmt.Fprintln(stderr)
		fmt.Fprintln(stderr, "Canonicalizes ProseMirror documents. Reads stdin when no file is given.")
		fmt.Fprintln(stderr)
		fs.PrintDefaults()
	}

	fs.BoolVarP(&flags.write, "write", "w", false, "write result back to the source file")
	fs.BoolVar(&flags.check, "check", false, "exit 5 if any input is not canonical, write nothing")
	fs.StringVar(&flags.indent, "indent", "", "indent output with this string (compact when empty)")
	fs.IntVar(&flags.maxDepth, "max-depth", 0, "maximum node nesting depth (0 = unbounded)")
	fs.StringVarP(&flags.config, "config", "c", "", "YAML formatter profile")
	fs.BoolVar(&flags.version, "version", false, "print formatter version and exit")
	fs.BoolVarP(&flags.quiet, "quiet", "q", false, "only report errors")
	fs.BoolVarP(&flags.verbose, "verbose", "v", false, "log what each pass changed")

	if err := fs.Parse(args); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrUsage, err)
	}
	if flags.write && flags.check {
		return nil, nil, fmt.Errorf("%w: --write and --check are mutually exclusive", ErrUsage)
	}
	if flags.quiet && flags.verbose {
		return nil, nil, fmt.Errorf("%w: --quiet and --verbose are mutually exclusive", ErrUsage)
	}
	if flags.maxDepth < 0 {
		return nil, nil, fmt.Errorf("%w: --max-depth must not be negative", ErrUsage)
	}
	if flags.write && fs.NArg() == 0 {
		return nil, nil, fmt.Errorf("%w: --write requires at least one file", ErrUsage)
	}

	flags.maxDepthSet = fs.Changed("max-depth")
	flags.indentSet = fs.Changed("indent")
	return flags, fs.Args(), nil
}

// applyProfile fills in settings the user did not pass explicitly.
func (f *cliFlags) applyProfile(maxDepth int, indent string) {
	if !f.maxDepthSet && maxDepth > 0 {
		f.maxDepth = maxDepth
	}
	if !f.indentSet && indent != "" {
		f.indent = indent
	}
}
