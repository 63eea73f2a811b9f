package tracing

import (
	"context"
	"sort"
	"strings"

	"github.com/ignaciolitma/nachOS/datarecording"
	"github.com/ignaciolitma/nachOS/sim"
)

// ReadTasks loads the tasks recorded by a DBTracer, with their steps, in the
// order they started. Only the tasks accepted by filter are returned.
func ReadTasks(
	ctx context.Context,
	reader datarecording.DataReader,
	filter TaskFilter,
) ([]Task, error) {
	reader.MapTable(taskTableName, taskRow{})
	reader.MapTable(stepTableName, stepRow{})

	rows, _, err := reader.Query(ctx, taskTableName,
		datarecording.QueryParams{OrderBy: "StartTime, ID"})
	if err != nil {
		return nil, err
	}

	stepRows, _, err := reader.Query(ctx, stepTableName,
		datarecording.QueryParams{OrderBy: "Time"})
	if err != nil {
		return nil, err
	}

	steps := make(map[string][]TaskStep)
	for _, r := range stepRows {
		s := r.(*stepRow)
		steps[s.TaskID] = append(steps[s.TaskID], TaskStep{
			Time: sim.VTime(s.Time),
			What: s.What,
		})
	}

	tasks := make([]Task, 0, len(rows))
	for _, r := range rows {
		e := r.(*taskRow)
		task := Task{
			ID:        e.ID,
			ParentID:  e.ParentID,
			Kind:      e.Kind,
			What:      e.What,
			Where:     e.Component,
			StartTime: sim.VTime(e.StartTime),
			EndTime:   sim.VTime(e.EndTime),
			Steps:     steps[e.ID],
		}

		// Unfinished tasks written on termination have no step rows.
		if task.Steps == nil && e.Steps != "" {
			for _, what := range strings.Split(e.Steps, ",") {
				task.Steps = append(task.Steps, TaskStep{What: what})
			}
		}

		if filter(task) {
			tasks = append(tasks, task)
		}
	}

	return tasks, nil
}

// A TaskSummary aggregates the tasks of the same kind and purpose.
type TaskSummary struct {
	Kind        string
	What        string
	Count       int
	TotalTime   sim.VTime
	AverageTime float64
}

// SummarizeTasks groups tasks by kind and purpose, sorted by kind and then
// purpose.
func SummarizeTasks(tasks []Task) []TaskSummary {
	index := make(map[[2]string]int)

	var summaries []TaskSummary

	for _, t := range tasks {
		key := [2]string{t.Kind, t.What}

		i, ok := index[key]
		if !ok {
			i = len(summaries)
			index[key] = i
			summaries = append(summaries, TaskSummary{Kind: t.Kind, What: t.What})
		}

		summaries[i].Count++
		summaries[i].TotalTime += t.EndTime - t.StartTime
	}

	for i := range summaries {
		s := &summaries[i]
		s.AverageTime = float64(s.TotalTime) / float64(s.Count)
	}

	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].Kind != summaries[j].Kind {
			return summaries[i].Kind < summaries[j].Kind
		}

		return summaries[i].What < summaries[j].What
	})

	return summaries
}
