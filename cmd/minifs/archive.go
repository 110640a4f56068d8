package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/diskfs/minifs/filesystem/archive"
	"github.com/diskfs/minifs/filesystem/minifs"
	"github.com/diskfs/minifs/util"
)

func dumpCommand(cfg *Config) *cli.Command {
	return &cli.Command{
		Name:      "dump",
		Usage:     "write a compressed archive of an image",
		ArgsUsage: "IMAGE ARCHIVE",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "compression",
				Usage: "one of zstd, gzip, lz4, xz or lzma",
				Value: cfg.Compression,
			},
		},
		Action: func(ctx *cli.Context) (err error) {
			p, args, err := splitArgs(cfg, ctx, 1)
			if err != nil {
				return err
			}
			if err := needArgs(ctx, args, 1); err != nil {
				return err
			}
			c, err := archive.ParseCompression(ctx.String("compression"))
			if err != nil {
				return err
			}
			compressor, err := archive.NewCompressor(c)
			if err != nil {
				return err
			}
			f, err := util.OpenImage(p, true)
			if err != nil {
				return err
			}
			defer f.Close()
			// refuse to archive something that is not an image
			fs, err := minifs.Read(f)
			if err != nil {
				return fmt.Errorf("reading image %s: %w", p, err)
			}
			sb := fs.Superblock()
			size := int64(sb.Blocks) * int64(sb.BlockSize)

			out, err := os.Create(args[0])
			if err != nil {
				return err
			}
			defer func() {
				if cerr := out.Close(); err == nil {
					err = cerr
				}
			}()
			if err := archive.Dump(out, f, size, compressor); err != nil {
				return err
			}
			log.WithFields(log.Fields{"image": p, "archive": out.Name(), "compression": c}).Info("dumped image")
			return nil
		},
	}
}

func restoreCommand(_ *Config) *cli.Command {
	return &cli.Command{
		Name:      "restore",
		Usage:     "write the image stored in an archive",
		ArgsUsage: "ARCHIVE IMAGE",
		Action: func(ctx *cli.Context) error {
			if err := needArgs(ctx, ctx.Args().Slice(), 2); err != nil {
				return err
			}
			in, err := os.Open(ctx.Args().Get(0))
			if err != nil {
				return err
			}
			defer in.Close()
			f, err := util.CreateImage(ctx.Args().Get(1))
			if err != nil {
				return err
			}
			defer f.Close()
			n, err := archive.Restore(f, in)
			if err != nil {
				return err
			}
			if _, err := minifs.Read(f); err != nil {
				return fmt.Errorf("restored image is not usable: %w", err)
			}
			log.WithFields(log.Fields{"image": f.Name(), "size": n}).Info("restored image")
			return nil
		},
	}
}
