package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"synkdocs/api/internal/config"
	"synkdocs/api/internal/logging"
	"synkdocs/api/internal/prosemirror"
)

// maxInputSize bounds a single input document.
const maxInputSize = 64 << 20

type formatRunner struct {
	formatter *prosemirror.Formatter
	flags     *cliFlags
	log       *logrus.Logger
	stdout    io.Writer
	stderr    io.Writer
}

// run executes synkfmt with args (without the program name) and returns the
// process exit code.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	flags, files, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return ExitSuccess
		}
		fmt.Fprintln(stderr, "synkfmt:", err)
		return exitCodeFor(err)
	}

	if flags.version {
		fmt.Fprintf(stdout, "synkfmt %s\n", prosemirror.Version())
		return ExitSuccess
	}

	if flags.config != "" {
		profile, err := config.LoadProfile(flags.config)
		if err != nil {
			fmt.Fprintln(stderr, "synkfmt:", err)
			return exitCodeFor(err)
		}
		flags.applyProfile(profile.MaxDepth, profile.Indent)
	}

	log, err := logging.New(stderr, logLevel(flags), "text")
	if err != nil {
		fmt.Fprintln(stderr, "synkfmt:", err)
		return ExitGeneral
	}

	r := &formatRunner{
		formatter: prosemirror.New(prosemirror.Options{MaxDepth: flags.maxDepth}),
		flags:     flags,
		log:       log,
		stdout:    stdout,
		stderr:    stderr,
	}

	if len(files) == 0 {
		err := r.stream(stdin)
		r.report("<stdin>", err)
		return exitCodeFor(err)
	}

	// Every file is attempted; the first failure decides the exit code.
	var firstErr error
	for _, path := range files {
		err := r.file(path)
		r.report(path, err)
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return exitCodeFor(firstErr)
}

func logLevel(flags *cliFlags) string {
	switch {
	case flags.verbose:
		return "debug"
	case flags.quiet:
		return "error"
	default:
		return "warn"
	}
}

func (r *formatRunner) report(name string, err error) {
	switch {
	case err == nil:
	case errors.Is(err, ErrNotCanonical):
		if !r.flags.quiet {
			fmt.Fprintf(r.stderr, "%s: not canonical\n", name)
		}
	default:
		fmt.Fprintf(r.stderr, "%s: %v\n", name, err)
	}
}

func (r *formatRunner) stream(stdin io.Reader) error {
	input, err := readLimited(stdin)
	if err != nil {
		return fmt.Errorf("%w: stdin: %w", ErrReadInput, err)
	}
	out, err := r.format("<stdin>", input)
	if err != nil {
		return err
	}
	if r.flags.check {
		return checkCanonical(input, out)
	}
	if _, err := r.stdout.Write(out); err != nil {
		return fmt.Errorf("%w: stdout: %w", ErrWriteOutput, err)
	}
	return nil
}

func (r *formatRunner) file(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrReadInput, err)
	}
	input, err := readLimited(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrReadInput, path, err)
	}

	out, err := r.format(path, input)
	if err != nil {
		return err
	}

	switch {
	case r.flags.check:
		return checkCanonical(input, out)
	case r.flags.write:
		if bytes.Equal(input, out) {
			return nil
		}
		return writeFileAtomic(path, out)
	default:
		if _, err := r.stdout.Write(out); err != nil {
			return fmt.Errorf("%w: stdout: %w", ErrWriteOutput, err)
		}
		return nil
	}
}

// format returns the canonical rendering of input followed by a newline.
func (r *formatRunner) format(name string, input []byte) ([]byte, error) {
	out, stats, err := r.formatter.FormatWithStats(input)
	if err != nil {
		return nil, err
	}

	entry := r.log.WithFields(logrus.Fields{
		"input":               name,
		"nodes":               stats.Nodes,
		"text_collapsed":      stats.TextCollapsed,
		"text_dropped":        stats.TextDropped,
		"headings_normalized": stats.HeadingsNormalized,
		"headings_dropped":    stats.HeadingsDropped,
		"images_dropped":      stats.ImagesDropped,
	})
	entry.Debug("formatted")
	for _, d := range stats.Diagnostics {
		r.log.WithFields(logrus.Fields{"input": name, "path": d.Path}).Debug(d.Message)
	}

	if r.flags.indent != "" {
		doc, err := prosemirror.Decode(out)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", prosemirror.ErrSerialization, err)
		}
		if out, err = prosemirror.EncodeIndent(doc, "", r.flags.indent); err != nil {
			return nil, err
		}
	}
	return append(out, '\n'), nil
}

// checkCanonical ignores a missing or CRLF final newline on input.
func checkCanonical(input, out []byte) error {
	if bytes.Equal(bytes.TrimRight(input, "\r\n"), bytes.TrimRight(out, "\n")) {
		return nil
	}
	return ErrNotCanonical
}

func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxInputSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxInputSize {
		return nil, fmt.Errorf("input exceeds %d bytes", maxInputSize)
	}
	return data, nil
}

// writeFileAtomic replaces path through a temp file in the same directory,
// keeping the original permissions.
func writeFileAtomic(path string, data []byte) error {
	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWriteOutput, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %s: %w", ErrWriteOutput, path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrWriteOutput, path, err)
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrWriteOutput, path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrWriteOutput, path, err)
	}
	return nil
}
