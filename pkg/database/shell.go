package database

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/nexus-db/schemasync/pkg/errors"
	"github.com/nexus-db/schemasync/pkg/logging"
)

// ShellCommand returns the engine's native client or dump command line
// for this database.
func (d *Database) ShellCommand(opts ShellOptions) (*Command, error) {
	return d.engine.ShellCommand(d, opts)
}

// RunShell runs the engine's shell command with stdin attached and returns
// its output lines. A non-zero exit is a CommandFailed error.
func (d *Database) RunShell(ctx context.Context, opts ShellOptions, stdin io.Reader) ([]string, error) {
	var out bytes.Buffer
	if err := d.runShell(ctx, opts, stdin, &out); err != nil {
		return nil, err
	}
	var lines []string
	scanner := bufio.NewScanner(&out)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

// StreamShell runs the engine's shell command writing its output to w.
func (d *Database) StreamShell(ctx context.Context, opts ShellOptions, stdin io.Reader, w io.Writer) error {
	return d.runShell(ctx, opts, stdin, w)
}

func (d *Database) runShell(ctx context.Context, opts ShellOptions, stdin io.Reader, w io.Writer) error {
	command, err := d.ShellCommand(opts)
	if err != nil {
		return err
	}
	path, err := exec.LookPath(command.Path)
	if err != nil {
		return errors.Wrap(errors.KindCommandFailed, err, "{command} not found").WithVar("command", command.Path)
	}
	cmd := exec.CommandContext(ctx, path, command.Args...)
	cmd.Env = append(os.Environ(), command.Env...)
	cmd.Stdin = stdin
	cmd.Stdout = w
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	d.logger.Log(logging.LevelDebug, "Running shell command", logging.Fields{
		"database": d.codeName,
		"command":  command.Path,
	})
	if err := cmd.Run(); err != nil {
		return errors.Wrap(errors.KindCommandFailed, err, "{command} failed: {stderr}").
			WithVar("command", command.Path).
			WithVar("stderr", strings.TrimSpace(stderr.String()))
	}
	return nil
}
