package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ignaciolitma/nachOS/datarecording"
	"github.com/ignaciolitma/nachOS/tracing"
)

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report DB",
		Short: "Summarize the tasks recorded with run --trace-db.",
		Long: "`report DB` reads DB.sqlite3 and prints, for every kind of " +
			"task, how many were recorded and how many ticks they took.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reader, err := datarecording.NewReader(args[0])
			if err != nil {
				return err
			}
			defer reader.Close()

			filter := tracing.AllTasks
			if kind, _ := cmd.Flags().GetString("kind"); kind != "" {
				filter = tracing.KindFilter(kind)
			}

			tasks, err := tracing.ReadTasks(cmd.Context(), reader, filter)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KIND\tWHAT\tCOUNT\tTOTAL TICKS\tAVERAGE TICKS")

			for _, s := range tracing.SummarizeTasks(tasks) {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%.2f\n",
					s.Kind, s.What, s.Count, s.TotalTime, s.AverageTime)
			}

			return tw.Flush()
		},
	}

	cmd.Flags().String("kind", "", "Only summarize tasks of this kind")

	return cmd
}
