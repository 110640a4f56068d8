// Command minifs creates, inspects and edits minifs images.
package main

import (
	"fmt"
	"os"
	"path"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/diskfs/minifs/filesystem/minifs"
	"github.com/diskfs/minifs/util"
)

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		log.Fatal(err)
	}
	if err := newApp(cfg).Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp(cfg *Config) *cli.App {
	return &cli.App{
		Name:  "minifs",
		Usage: "create, inspect and edit minifs images",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "one of panic, fatal, error, warning, info, debug or trace",
				Value: cfg.LogLevel,
			},
		},
		Before: func(ctx *cli.Context) error {
			level, err := log.ParseLevel(ctx.String("log-level"))
			if err != nil {
				return fmt.Errorf("parsing log level: %w", err)
			}
			log.SetLevel(level)
			log.SetFormatter(&log.TextFormatter{DisableTimestamp: true})
			log.SetOutput(ctx.App.ErrWriter)
			return nil
		},
		Commands: []*cli.Command{
			formatCommand(cfg),
			infoCommand(cfg),
			shellCommand(cfg),
			lsCommand(cfg),
			mkdirCommand(cfg),
			rmCommand(cfg),
			pullCommand(cfg),
			pushCommand(cfg),
			dumpCommand(cfg),
			restoreCommand(cfg),
		},
	}
}

// splitArgs separates the image path from the operands of a command that takes want operands after
// IMAGE. The image may be left out when the configuration names one, in which case every argument is
// an operand.
func splitArgs(cfg *Config, ctx *cli.Context, want int) (string, []string, error) {
	args := ctx.Args().Slice()
	switch {
	case len(args) > want:
		return args[0], args[1:], nil
	case cfg.Image != "":
		return cfg.Image, args, nil
	case len(args) > 0:
		return args[0], args[1:], nil
	}
	return "", nil, fmt.Errorf("missing image path, give it as an argument or set %s_IMAGE", envVarPrefix)
}

// imageAction is a command run against an open image with the operands that follow IMAGE
type imageAction func(fs *minifs.FileSystem, ctx *cli.Context, args []string) error

// withImage opens the image for the duration of f. The command takes want operands after the image.
// Read-write opens persist the superblock when f returns.
func withImage(cfg *Config, readOnly bool, want int, f imageAction) cli.ActionFunc {
	return func(ctx *cli.Context) (err error) {
		p, args, err := splitArgs(cfg, ctx, want)
		if err != nil {
			return err
		}
		file, err := util.OpenImage(p, readOnly)
		if err != nil {
			return err
		}
		defer file.Close()
		fs, err := minifs.Read(file)
		if err != nil {
			return fmt.Errorf("reading image %s: %w", p, err)
		}
		log.WithFields(log.Fields{"image": p, "readOnly": readOnly}).Debug("opened image")
		if readOnly {
			return f(fs, ctx, args)
		}
		defer func() {
			if cerr := fs.Close(); err == nil {
				err = cerr
			}
		}()
		return f(fs, ctx, args)
	}
}

// needArgs fails unless the command got exactly n operands
func needArgs(ctx *cli.Context, args []string, n int) error {
	if len(args) != n {
		return fmt.Errorf("%s: expected %d arguments, got %d\nusage: %s %s", ctx.Command.Name, n, len(args), ctx.Command.Name, ctx.Command.ArgsUsage)
	}
	return nil
}

// parentAndName walks to the directory holding p and returns it with the last element of p
func parentAndName(fs *minifs.FileSystem, p string) (minifs.Inode, string, error) {
	root, err := fs.Root()
	if err != nil {
		return minifs.Inode{}, "", err
	}
	dir, name := path.Split(path.Clean("/" + p))
	parent, err := fs.Walk(root, dir)
	if err != nil {
		return minifs.Inode{}, "", err
	}
	return parent, name, nil
}
