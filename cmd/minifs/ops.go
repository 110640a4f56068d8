package main

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/diskfs/minifs/filesystem/minifs"
)

func lsCommand(cfg *Config) *cli.Command {
	return &cli.Command{
		Name:      "ls",
		Usage:     "list a directory",
		ArgsUsage: "IMAGE [PATH]",
		Action: withImage(cfg, true, 1, func(fs *minifs.FileSystem, ctx *cli.Context, args []string) error {
			if len(args) > 1 {
				return needArgs(ctx, args, 1)
			}
			root, err := fs.Root()
			if err != nil {
				return err
			}
			dir, err := fs.Walk(root, "/"+strings.Join(args, ""))
			if err != nil {
				return err
			}
			for entry, err := range fs.List(dir) {
				if err != nil {
					return err
				}
				if _, err := fmt.Fprintln(ctx.App.Writer, entry); err != nil {
					return err
				}
			}
			return nil
		}),
	}
}

func mkdirCommand(cfg *Config) *cli.Command {
	return &cli.Command{
		Name:      "mkdir",
		Usage:     "create a directory",
		ArgsUsage: "IMAGE PATH",
		Action: withImage(cfg, false, 1, func(fs *minifs.FileSystem, ctx *cli.Context, args []string) error {
			if err := needArgs(ctx, args, 1); err != nil {
				return err
			}
			parent, name, err := parentAndName(fs, args[0])
			if err != nil {
				return err
			}
			_, err = fs.Mkdir(parent, name)
			return err
		}),
	}
}

func rmCommand(cfg *Config) *cli.Command {
	return &cli.Command{
		Name:      "rm",
		Usage:     "remove a file or an empty directory",
		ArgsUsage: "IMAGE PATH",
		Action: withImage(cfg, false, 1, func(fs *minifs.FileSystem, ctx *cli.Context, args []string) error {
			if err := needArgs(ctx, args, 1); err != nil {
				return err
			}
			parent, name, err := parentAndName(fs, args[0])
			if err != nil {
				return err
			}
			return fs.Remove(parent, name)
		}),
	}
}

func pullCommand(cfg *Config) *cli.Command {
	return &cli.Command{
		Name:      "pull",
		Usage:     "copy a native file into the image",
		ArgsUsage: "IMAGE NATIVE_SRC PATH",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "preserve-times",
				Usage: "keep the creation time of the native file",
			},
		},
		Action: withImage(cfg, false, 2, func(fs *minifs.FileSystem, ctx *cli.Context, args []string) error {
			if err := needArgs(ctx, args, 2); err != nil {
				return err
			}
			parent, name, err := parentAndName(fs, args[1])
			if err != nil {
				return err
			}
			_, err = pullNative(fs, parent, args[0], name, ctx.Bool("preserve-times"))
			return err
		}),
	}
}

func pushCommand(cfg *Config) *cli.Command {
	return &cli.Command{
		Name:      "push",
		Usage:     "copy a file out of the image",
		ArgsUsage: "IMAGE PATH NATIVE_DST",
		Action: withImage(cfg, true, 2, func(fs *minifs.FileSystem, ctx *cli.Context, args []string) error {
			if err := needArgs(ctx, args, 2); err != nil {
				return err
			}
			parent, name, err := parentAndName(fs, args[0])
			if err != nil {
				return err
			}
			_, err = pushNative(fs, parent, name, args[1])
			return err
		}),
	}
}
