package main

import (
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// newRootCmd creates the nachos command. Flag defaults come from cfg. All
// files are accessed through fs.
func newRootCmd(cfg config, fs afero.Fs) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "nachos",
		Short: "nachos runs user programs on a machine with paged memory.",
		Long: `nachos runs user programs on a simulated machine with a ` +
			`software-managed TLB, demand paging, and per-process swap ` +
			`files. It can also create executable images.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("dir", "",
		"Directory that holds executables and swap files (default: current)")

	rootCmd.AddCommand(newRunCmd(cfg, fs))
	rootCmd.AddCommand(newMkexeCmd(fs))
	rootCmd.AddCommand(newInfoCmd(fs))
	rootCmd.AddCommand(newReportCmd())

	return rootCmd
}

func workingFs(cmd *cobra.Command, fs afero.Fs) (afero.Fs, error) {
	dir, _ := cmd.Flags().GetString("dir")

	return baseFs(fs, dir)
}
