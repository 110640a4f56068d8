package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/diskfs/minifs/filesystem/minifs"
)

const shellHelp = `commands:
  ls                          list the current directory
  mkdir NAME                  create a directory
  cd NAME                     enter a directory, .. for the parent
  rm NAME                     remove a file or an empty directory
  pull NATIVE_SRC NAME        copy a native file in
  push NAME NATIVE_DST        copy a file out
  exit                        leave the shell
`

func shellCommand(cfg *Config) *cli.Command {
	return &cli.Command{
		Name:      "shell",
		Usage:     "edit an image interactively",
		ArgsUsage: "IMAGE",
		Action: withImage(cfg, false, 0, func(fs *minifs.FileSystem, ctx *cli.Context, args []string) error {
			if err := needArgs(ctx, args, 0); err != nil {
				return err
			}
			sh, err := newShell(fs, os.Stdin, ctx.App.Writer)
			if err != nil {
				return err
			}
			return sh.run()
		}),
	}
}

// shell reads one command per line and applies it to the image. The current directory is a cursor
// that is replaced after every successful cd.
type shell struct {
	fs   *minifs.FileSystem
	cwd  minifs.Inode
	path []string
	in   *bufio.Scanner
	out  io.Writer
}

func newShell(fs *minifs.FileSystem, in io.Reader, out io.Writer) (*shell, error) {
	root, err := fs.Root()
	if err != nil {
		return nil, err
	}
	return &shell{fs: fs, cwd: root, in: bufio.NewScanner(in), out: out}, nil
}

func (s *shell) prompt() string {
	return "minifs:/" + strings.Join(s.path, "/") + "$ "
}

// run processes commands until exit or the end of input. Command failures are printed, only a
// failure to write output stops the loop.
func (s *shell) run() error {
	for {
		if _, err := io.WriteString(s.out, s.prompt()); err != nil {
			return err
		}
		if !s.in.Scan() {
			_, err := io.WriteString(s.out, "\n")
			if serr := s.in.Err(); serr != nil {
				return serr
			}
			return err
		}
		args := strings.Fields(s.in.Text())
		if len(args) == 0 {
			continue
		}
		if args[0] == "exit" || args[0] == "quit" {
			return nil
		}
		if err := s.exec(args[0], args[1:]); err != nil {
			if !isUsage(err) {
				log.WithError(err).WithField("command", args[0]).Debug("command failed")
			}
			if _, werr := fmt.Fprintf(s.out, "%s: %v\n", args[0], err); werr != nil {
				return werr
			}
		}
	}
}

func (s *shell) exec(command string, args []string) error {
	want := map[string]int{"ls": 0, "help": 0, "mkdir": 1, "cd": 1, "rm": 1, "pull": 2, "push": 2}
	n, ok := want[command]
	if !ok {
		return errors.New("unknown command, try help")
	}
	if len(args) != n {
		return fmt.Errorf("expected %d arguments, got %d", n, len(args))
	}
	switch command {
	case "help":
		_, err := io.WriteString(s.out, shellHelp)
		return err
	case "ls":
		for entry, err := range s.fs.List(s.cwd) {
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintln(s.out, entry); err != nil {
				return err
			}
		}
		return nil
	case "mkdir":
		_, err := s.fs.Mkdir(s.cwd, args[0])
		return err
	case "cd":
		return s.cd(args[0])
	case "rm":
		return s.fs.Remove(s.cwd, args[0])
	case "pull":
		_, err := pullNative(s.fs, s.cwd, args[0], args[1], false)
		return err
	case "push":
		_, err := pushNative(s.fs, s.cwd, args[0], args[1])
		return err
	}
	return nil
}

func (s *shell) cd(name string) error {
	next, err := s.fs.Cd(s.cwd, name)
	switch {
	case err != nil && name == ".." && s.cwd.Parent == 0 && errors.Is(err, minifs.ErrNotFound):
		// already at the root
		return nil
	case err != nil:
		return err
	}
	switch name {
	case ".":
	case "..":
		s.path = s.path[:len(s.path)-1]
	default:
		s.path = append(s.path, next.Name)
	}
	s.cwd = next
	return nil
}
