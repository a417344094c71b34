package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"

	"github.com/dargueta/ecsfs/file_systems/ecsfs"
	"github.com/dargueta/ecsfs/presets"
	"github.com/dargueta/ecsfs/utilities/compression"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func main() {
	app := cli.App{
		Name:  "ecsfs",
		Usage: "Create, inspect, and modify ECS150 file system images",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "log debug messages",
				EnvVars: []string{"ECSFS_VERBOSE"},
			},
		},
		Before: configureLogging,
		Commands: []*cli.Command{
			{
				Name:      "format",
				Usage:     "Create or wipe an image",
				ArgsUsage: "IMAGE",
				Action:    formatImage,
				Flags: []cli.Flag{
					&cli.UintFlag{
						Name:    "blocks",
						Usage:   "total size of the image, in blocks",
						EnvVars: []string{"ECSFS_BLOCKS"},
					},
					&cli.StringFlag{
						Name:    "preset",
						Usage:   "use a predefined size (see `presets`)",
						EnvVars: []string{"ECSFS_PRESET"},
					},
				},
			},
			{
				Name:      "info",
				Usage:     "Show the geometry and usage of an image",
				ArgsUsage: "IMAGE",
				Action:    showInfo,
			},
			{
				Name:      "ls",
				Usage:     "List the files in an image",
				ArgsUsage: "IMAGE",
				Action:    listFiles,
			},
			{
				Name:      "add",
				Usage:     "Copy a file into an image, replacing any file with the same name",
				ArgsUsage: "IMAGE HOST_FILE [NAME]",
				Action:    addFile,
			},
			{
				Name:      "cat",
				Usage:     "Print the contents of a file in an image",
				ArgsUsage: "IMAGE NAME",
				Action:    catFile,
			},
			{
				Name:      "rm",
				Usage:     "Delete a file from an image",
				ArgsUsage: "IMAGE NAME",
				Action:    removeFile,
			},
			{
				Name:      "mv",
				Usage:     "Rename a file in an image",
				ArgsUsage: "IMAGE OLD_NAME NEW_NAME",
				Action:    renameFile,
			},
			{
				Name:      "check",
				Usage:     "Look for inconsistencies in an image",
				ArgsUsage: "IMAGE",
				Action:    checkImage,
			},
			{
				Name:   "presets",
				Usage:  "List the predefined image sizes",
				Action: listPresets,
			},
			{
				Name:      "compress",
				Usage:     "Compress an image using RLE8 and gzip",
				ArgsUsage: "IMAGE OUTPUT_FILE",
				Action:    compressImage,
			},
			{
				Name:      "decompress",
				Usage:     "Expand an image compressed with `compress`",
				ArgsUsage: "INPUT_FILE IMAGE",
				Action:    decompressImage,
			},
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		logrus.Fatalf("fatal error: %s", err.Error())
	}
}

func configureLogging(context *cli.Context) error {
	logrus.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	if context.Bool("verbose") {
		logrus.SetLevel(logrus.DebugLevel)
	}
	return nil
}

// requireArgs fails unless the command got between `minArgs` and `maxArgs`
// positional arguments.
func requireArgs(context *cli.Context, minArgs, maxArgs int) error {
	n := context.NArg()
	if n < minArgs || n > maxArgs {
		return fmt.Errorf(
			"%s: expected arguments %s, got %d",
			context.Command.Name,
			context.Command.ArgsUsage,
			n,
		)
	}
	return nil
}

// withVolume mounts the image at `path`, runs `action`, and unmounts it again
// whether or not `action` succeeded.
func withVolume(path string, action func(volume *ecsfs.Volume) error) error {
	volume, err := ecsfs.MountImage(path, ecsfs.Options{})
	if err != nil {
		return fmt.Errorf("can't mount %q: %w", path, err)
	}

	var result *multierror.Error
	err = action(volume)
	if err != nil {
		result = multierror.Append(result, err)
	}

	err = volume.Unmount()
	if err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

func formatImage(context *cli.Context) error {
	err := requireArgs(context, 1, 1)
	if err != nil {
		return err
	}

	totalBlocks := context.Uint("blocks")
	presetSlug := context.String("preset")

	if presetSlug != "" {
		if totalBlocks != 0 {
			return fmt.Errorf("--blocks and --preset can't be used together")
		}
		preset, err := presets.Get(presetSlug)
		if err != nil {
			return err
		}
		totalBlocks = preset.TotalBlocks
	} else if totalBlocks == 0 {
		return fmt.Errorf("either --blocks or --preset is required")
	}

	path := context.Args().First()
	err = ecsfs.FormatImage(path, totalBlocks)
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"image":  path,
		"blocks": totalBlocks,
	}).Info("formatted image")
	return nil
}

func showInfo(context *cli.Context) error {
	err := requireArgs(context, 1, 1)
	if err != nil {
		return err
	}

	return withVolume(context.Args().First(), func(volume *ecsfs.Volume) error {
		info, err := volume.Info()
		if err != nil {
			return err
		}

		out := context.App.Writer
		fmt.Fprintf(out, "total_blk_count=%d\n", info.TotalBlocks)
		fmt.Fprintf(out, "fat_blk_count=%d\n", info.FATBlocks)
		fmt.Fprintf(out, "rdir_blk=%d\n", info.RootDirectoryBlock)
		fmt.Fprintf(out, "data_blk=%d\n", info.DataStart)
		fmt.Fprintf(out, "data_blk_count=%d\n", info.DataBlocks)
		fmt.Fprintf(out, "fat_free_ratio=%d/%d\n", info.FreeDataBlocks, info.DataBlocks)
		fmt.Fprintf(out, "rdir_free_ratio=%d/%d\n", info.MaxFiles-info.UsedFiles, info.MaxFiles)
		return nil
	})
}

func listFiles(context *cli.Context) error {
	err := requireArgs(context, 1, 1)
	if err != nil {
		return err
	}

	return withVolume(context.Args().First(), func(volume *ecsfs.Volume) error {
		files, err := volume.List()
		if err != nil {
			return err
		}

		writer := tabwriter.NewWriter(context.App.Writer, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "NAME\tSIZE\tFIRST BLOCK")
		for _, file := range files {
			firstBlock := "-"
			if file.HasData() {
				firstBlock = strconv.Itoa(int(file.FirstBlock))
			}
			fmt.Fprintf(writer, "%s\t%d\t%s\n", file.Name, file.Size, firstBlock)
		}
		return writer.Flush()
	})
}

func addFile(context *cli.Context) error {
	err := requireArgs(context, 2, 3)
	if err != nil {
		return err
	}

	hostPath := context.Args().Get(1)
	name := context.Args().Get(2)
	if name == "" {
		name = filepath.Base(hostPath)
	}

	data, err := os.ReadFile(hostPath)
	if err != nil {
		return err
	}

	return withVolume(context.Args().First(), func(volume *ecsfs.Volume) error {
		err := volume.WriteFile(name, data)
		if err != nil {
			return err
		}
		logrus.WithFields(logrus.Fields{"name": name, "size": len(data)}).Info("added file")
		return nil
	})
}

func catFile(context *cli.Context) error {
	err := requireArgs(context, 2, 2)
	if err != nil {
		return err
	}

	return withVolume(context.Args().First(), func(volume *ecsfs.Volume) error {
		contents, err := volume.ReadFile(context.Args().Get(1))
		if err != nil {
			return err
		}
		_, err = context.App.Writer.Write(contents)
		return err
	})
}

func removeFile(context *cli.Context) error {
	err := requireArgs(context, 2, 2)
	if err != nil {
		return err
	}

	return withVolume(context.Args().First(), func(volume *ecsfs.Volume) error {
		return volume.Delete(context.Args().Get(1))
	})
}

func renameFile(context *cli.Context) error {
	err := requireArgs(context, 3, 3)
	if err != nil {
		return err
	}

	return withVolume(context.Args().First(), func(volume *ecsfs.Volume) error {
		return volume.Rename(context.Args().Get(1), context.Args().Get(2))
	})
}

func checkImage(context *cli.Context) error {
	err := requireArgs(context, 1, 1)
	if err != nil {
		return err
	}

	return withVolume(context.Args().First(), func(volume *ecsfs.Volume) error {
		err := volume.Check()
		if err != nil {
			return err
		}
		fmt.Fprintln(context.App.Writer, "no problems found")
		return nil
	})
}

func listPresets(context *cli.Context) error {
	err := requireArgs(context, 0, 0)
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(context.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "SLUG\tBLOCKS\tSIZE (KiB)\tNAME")
	for _, preset := range presets.All() {
		fmt.Fprintf(
			writer,
			"%s\t%d\t%d\t%s\n",
			preset.Slug,
			preset.TotalBlocks,
			preset.TotalSizeBytes()/1024,
			preset.Name,
		)
	}
	return writer.Flush()
}

func compressImage(context *cli.Context) error {
	err := requireArgs(context, 2, 2)
	if err != nil {
		return err
	}

	return convertFile(
		context.Args().Get(0), context.Args().Get(1), compression.CompressImage)
}

func decompressImage(context *cli.Context) error {
	err := requireArgs(context, 2, 2)
	if err != nil {
		return err
	}

	return convertFile(
		context.Args().Get(0), context.Args().Get(1), compression.DecompressImage)
}

// convertFile runs `sourcePath` through `convert`, writing the result to
// `outputPath`.
func convertFile(
	sourcePath, outputPath string,
	convert func(input io.Reader, output io.Writer) (int64, error),
) error {
	sourceFile, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("failed to open file for reading: %q: %w", sourcePath, err)
	}
	defer sourceFile.Close()

	outFile, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to open file for writing: %q: %w", outputPath, err)
	}

	written, err := convert(sourceFile, outFile)
	closeErr := outFile.Close()
	if err != nil {
		return err
	}
	if closeErr != nil {
		return closeErr
	}

	logrus.WithFields(logrus.Fields{
		"input":  sourcePath,
		"output": outputPath,
		"bytes":  written,
	}).Info("wrote output file")
	return nil
}
