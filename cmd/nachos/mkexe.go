package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/ignaciolitma/nachOS/exe"
)

func newMkexeCmd(fs afero.Fs) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mkexe OUTPUT",
		Short: "Create an executable image.",
		Long: "`mkexe OUTPUT --text FILE --data FILE` packs a code and a data " +
			"segment into an executable. Without files, segments of " +
			"--text-size and --data-size bytes are filled with a pattern.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wfs, err := workingFs(cmd, fs)
			if err != nil {
				return err
			}

			text, err := segment(cmd, wfs, "text", 'T')
			if err != nil {
				return err
			}

			data, err := segment(cmd, wfs, "data", 'D')
			if err != nil {
				return err
			}

			err = exe.Write(wfs, args[0], text, data)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(),
				"Executable %s created: %d text bytes, %d data bytes\n",
				args[0], len(text), len(data))

			return nil
		},
	}

	cmd.Flags().String("text", "", "File with the code segment")
	cmd.Flags().String("data", "", "File with the data segment")
	cmd.Flags().Int("text-size", 256, "Size of a generated code segment")
	cmd.Flags().Int("data-size", 256, "Size of a generated data segment")

	return cmd
}

func segment(
	cmd *cobra.Command,
	fs afero.Fs,
	name string,
	fill byte,
) ([]byte, error) {
	path, _ := cmd.Flags().GetString(name)
	if path != "" {
		return afero.ReadFile(fs, path)
	}

	size, _ := cmd.Flags().GetInt(name + "-size")
	if size < 0 {
		return nil, fmt.Errorf("%s size must not be negative", name)
	}

	buf := make([]byte, size)
	for i := range buf {
		buf[i] = fill + byte(i%16)
	}

	return buf, nil
}

func newInfoCmd(fs afero.Fs) *cobra.Command {
	return &cobra.Command{
		Use:   "info PROGRAM...",
		Short: "Print the header of executables.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wfs, err := workingFs(cmd, fs)
			if err != nil {
				return err
			}

			for _, name := range args {
				f, err := exe.Open(wfs, name)
				if err != nil {
					return err
				}

				h := f.Header()
				fmt.Fprintf(cmd.OutOrStdout(),
					"%s: magic 0x%x, text %d bytes, data %d bytes\n",
					name, h.Magic, h.TextSize, h.DataSize)

				err = f.Close()
				if err != nil {
					return err
				}
			}

			return nil
		},
	}
}

// baseFs confines fs to dir. An empty dir means the working directory.
func baseFs(fs afero.Fs, dir string) (afero.Fs, error) {
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}

		dir = wd
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}

	return afero.NewBasePathFs(fs, abs), nil
}
