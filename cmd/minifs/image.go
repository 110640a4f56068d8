package main

import (
	"fmt"
	"math"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v2"

	"github.com/diskfs/minifs/filesystem/minifs"
	"github.com/diskfs/minifs/util"
)

func formatCommand(cfg *Config) *cli.Command {
	return &cli.Command{
		Name:      "format",
		Aliases:   []string{"mkfs"},
		Usage:     "create an empty image",
		ArgsUsage: "IMAGE",
		Flags: []cli.Flag{
			&cli.UintFlag{
				Name:  "blocks",
				Usage: "number of blocks in the image",
				Value: uint(cfg.Blocks),
			},
			&cli.UintFlag{
				Name:  "block-size",
				Usage: "block size in bytes, a power of 2",
				Value: uint(cfg.BlockSize),
			},
		},
		Action: func(ctx *cli.Context) error {
			p, args, err := splitArgs(cfg, ctx, 0)
			if err != nil {
				return err
			}
			if err := needArgs(ctx, args, 0); err != nil {
				return err
			}
			f, err := util.CreateImage(p)
			if err != nil {
				return err
			}
			defer f.Close()
			blockSize := uint32(ctx.Uint("block-size"))
			blocks := uint32(ctx.Uint("blocks"))
			// a block device is filled unless told otherwise
			if size, err := util.ImageSize(f); err == nil && size > 0 && !ctx.IsSet("blocks") && blockSize > 0 {
				blocks = uint32(min(size/int64(blockSize), math.MaxUint32))
			}
			fs, err := minifs.Create(f, &minifs.Params{
				BlockSize:  blockSize,
				BlockCount: blocks,
			})
			if err != nil {
				return fmt.Errorf("formatting %s: %w", p, err)
			}
			sb := fs.Superblock()
			_, err = fmt.Fprintf(ctx.App.Writer, "%s: %d blocks of %d bytes, %d free, uuid %s\n", p, sb.Blocks, sb.BlockSize, sb.FreeBlocks, sb.UUID)
			return err
		},
	}
}

type imageInfo struct {
	Image        string     `yaml:"image"`
	UUID         string     `yaml:"uuid"`
	Blocks       uint32     `yaml:"blocks"`
	FreeBlocks   uint32     `yaml:"freeBlocks"`
	BlockSize    uint32     `yaml:"blockSize"`
	InodeSize    uint32     `yaml:"inodeSize"`
	BitmapOffset uint32     `yaml:"bitmapOffset"`
	BitmapSize   uint32     `yaml:"bitmapSize"`
	HeaderBlocks uint32     `yaml:"headerBlocks"`
	RootBlock    uint32     `yaml:"rootBlock"`
	UsedBytes    uint32     `yaml:"usedBytes"`
	MaxFileSize  int64      `yaml:"maxFileSize"`
	Check        *checkInfo `yaml:"check,omitempty"`
}

type checkInfo struct {
	OK          bool     `yaml:"ok"`
	Directories int      `yaml:"directories"`
	Files       int      `yaml:"files"`
	UsedBlocks  uint32   `yaml:"usedBlocks"`
	BitmapUsed  uint32   `yaml:"bitmapUsed"`
	Problems    []string `yaml:"problems,omitempty"`
}

func infoCommand(cfg *Config) *cli.Command {
	return &cli.Command{
		Name:      "info",
		Usage:     "print the superblock of an image as YAML",
		ArgsUsage: "IMAGE",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "check",
				Usage: "also walk the tree and verify sizes and block accounting",
			},
		},
		Action: withImage(cfg, true, 0, func(fs *minifs.FileSystem, ctx *cli.Context, args []string) error {
			if err := needArgs(ctx, args, 0); err != nil {
				return err
			}
			p, _, err := splitArgs(cfg, ctx, 0)
			if err != nil {
				return err
			}
			sb := fs.Superblock()
			root, err := fs.Root()
			if err != nil {
				return err
			}
			info := imageInfo{
				Image:        p,
				UUID:         sb.UUID.String(),
				Blocks:       sb.Blocks,
				FreeBlocks:   sb.FreeBlocks,
				BlockSize:    sb.BlockSize,
				InodeSize:    sb.InodeSize,
				BitmapOffset: sb.BitmapOffset,
				BitmapSize:   sb.BitmapSize,
				HeaderBlocks: sb.HeaderBlocks,
				RootBlock:    sb.RootBlock,
				UsedBytes:    root.Size,
				MaxFileSize:  minifs.MaxFileSize(sb.BlockSize),
			}
			if ctx.Bool("check") {
				report, err := fs.Check()
				if err != nil {
					return err
				}
				info.Check = &checkInfo{
					OK:          report.OK(),
					Directories: report.Directories,
					Files:       report.Files,
					UsedBlocks:  report.UsedBlocks,
					BitmapUsed:  report.BitmapUsed,
					Problems:    report.Problems,
				}
			}
			data, err := yaml.Marshal(info)
			if err != nil {
				return fmt.Errorf("marshaling image info to YAML: %w", err)
			}
			if _, err := ctx.App.Writer.Write(data); err != nil {
				return fmt.Errorf("writing YAML to stdout: %w", err)
			}
			if info.Check != nil && !info.Check.OK {
				return cli.Exit("image is inconsistent", 1)
			}
			return nil
		}),
	}
}
