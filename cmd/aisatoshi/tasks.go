package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"aisatoshi/internal/store"
	"aisatoshi/internal/tasks"
	"aisatoshi/internal/types"
)

// =============================================================================
// TASK MANAGEMENT COMMANDS
// =============================================================================

// tasksCmd manages stored tasks
var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Manage scheduled tasks",
	Long: `List, add, stop and delete tasks in the bot's database.

Subcommands:
  list     - List tasks
  add      - Create a task
  stop     - Stop tasks by name substring or id
  delete   - Delete tasks and their history
  history  - Show recent runs of a task`,
	RunE: runTasksList,
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	RunE:  runTasksList,
}

var tasksAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a task",
	Long: `Creates a Pending task. The running bot picks it up on its next tick.

Example:
  aisatoshi tasks add --name "ETH监控" --kind monitor --every 1h \
    --param coin=eth --param above=3500 --param conversation_id=123456`,
	RunE: runTasksAdd,
}

var tasksStopCmd = &cobra.Command{
	Use:   "stop [name|id]",
	Short: "Stop tasks by name substring or id",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTasksStop,
}

var tasksDeleteCmd = &cobra.Command{
	Use:   "delete [name|id]",
	Short: "Delete tasks and their execution history",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTasksDelete,
}

var tasksHistoryCmd = &cobra.Command{
	Use:   "history <id>",
	Short: "Show recent runs of a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTasksHistory,
}

var (
	listStatus   string
	addName      string
	addKind      string
	addDesc      string
	addPriority  string
	addEvery     time.Duration
	addOnce      bool
	addParams    map[string]string
	selectAll    bool
	selectByID   bool
	historyLimit int
)

func init() {
	tasksListCmd.Flags().StringVar(&listStatus, "status", "", "Only tasks with this status")

	tasksAddCmd.Flags().StringVar(&addName, "name", "", "Task name (required)")
	tasksAddCmd.Flags().StringVar(&addKind, "kind", string(types.KindGeneric), "Executor kind: monitor, browse, generic")
	tasksAddCmd.Flags().StringVar(&addDesc, "description", "", "Description")
	tasksAddCmd.Flags().StringVar(&addPriority, "priority", "normal", "low, normal, high or urgent")
	tasksAddCmd.Flags().DurationVar(&addEvery, "every", 0, "Rerun interval (default from config)")
	tasksAddCmd.Flags().BoolVar(&addOnce, "once", false, "Run once instead of periodically")
	tasksAddCmd.Flags().StringToStringVar(&addParams, "param", nil, "Executor parameter key=value (repeatable)")
	_ = tasksAddCmd.MarkFlagRequired("name")

	for _, c := range []*cobra.Command{tasksStopCmd, tasksDeleteCmd} {
		c.Flags().BoolVar(&selectAll, "all", false, "Every task")
		c.Flags().BoolVar(&selectByID, "id", false, "Treat the argument as an id or id prefix")
	}
	tasksHistoryCmd.Flags().IntVar(&historyLimit, "limit", 10, "Number of runs to show")

	tasksCmd.AddCommand(tasksListCmd, tasksAddCmd, tasksStopCmd, tasksDeleteCmd, tasksHistoryCmd)
}

// openTasks opens the configured database and returns a manager over it.
func openTasks() (*tasks.Manager, func(), error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	st, err := store.NewLocalStore(cfg.Memory.Driver, cfg.Memory.DatabasePath)
	if err != nil {
		return nil, nil, err
	}
	return tasks.NewManager(st), func() { _ = st.Close() }, nil
}

func runTasksList(cmd *cobra.Command, args []string) error {
	mgr, closeStore, err := openTasks()
	if err != nil {
		return err
	}
	defer closeStore()

	var statuses []types.TaskStatus
	if listStatus != "" {
		s, err := types.ParseTaskStatus(listStatus)
		if err != nil {
			return err
		}
		statuses = append(statuses, s)
	}
	all, err := mgr.List(context.Background(), statuses...)
	if err != nil {
		return err
	}
	printTasks(cmd.OutOrStdout(), all)
	return nil
}

func printTasks(w io.Writer, all []types.Task) {
	if len(all) == 0 {
		fmt.Fprintln(w, "No tasks.")
		return
	}
	fmt.Fprintf(w, "%-8s  %-10s  %-8s  %-8s  %-20s  %s\n", "ID", "STATUS", "KIND", "EVERY", "NEXT RUN", "NAME")
	fmt.Fprintln(w, strings.Repeat("─", 78))
	for _, t := range all {
		every := "once"
		if t.IsPeriodic() {
			every = t.Interval.String()
		}
		next := "-"
		if t.Status == types.TaskPending {
			next = t.NextRunAt.Local().Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "%-8s  %-10s  %-8s  %-8s  %-20s  %s\n", t.ShortID(), t.Status, t.Kind, every, next, t.Name)
	}
	fmt.Fprintln(w, strings.Repeat("─", 78))
	fmt.Fprintf(w, "Total: %d tasks\n", len(all))
}

func runTasksAdd(cmd *cobra.Command, args []string) error {
	mgr, closeStore, err := openTasks()
	if err != nil {
		return err
	}
	defer closeStore()

	interval := addEvery
	switch {
	case addOnce:
		interval = 0
	case interval == 0:
		interval = cfg.GetDefaultInterval()
	}
	params := make(map[string]interface{}, len(addParams))
	for k, v := range addParams {
		params[k] = v
	}

	t, err := mgr.Create(context.Background(), tasks.CreateRequest{
		Name:        addName,
		Kind:        types.TaskKind(addKind),
		Description: addDesc,
		Priority:    types.ParsePriority(addPriority),
		Params:      params,
		Interval:    interval,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✅ Created task %s (%s)\n", t.Name, t.ID)
	return nil
}

func selector(args []string) (tasks.Selector, error) {
	sel := tasks.Selector{All: selectAll}
	if len(args) > 0 {
		if selectByID {
			sel.ID = args[0]
		} else {
			sel.Name = args[0]
		}
	}
	if sel.IsEmpty() {
		return sel, fmt.Errorf("name a task or pass --all")
	}
	return sel, nil
}

func runTasksStop(cmd *cobra.Command, args []string) error {
	sel, err := selector(args)
	if err != nil {
		return err
	}
	mgr, closeStore, err := openTasks()
	if err != nil {
		return err
	}
	defer closeStore()

	stopped, err := mgr.Stop(context.Background(), sel)
	if err != nil {
		return err
	}
	reportAffected(cmd.OutOrStdout(), "Stopped", sel, stopped)
	return nil
}

func runTasksDelete(cmd *cobra.Command, args []string) error {
	sel, err := selector(args)
	if err != nil {
		return err
	}
	mgr, closeStore, err := openTasks()
	if err != nil {
		return err
	}
	defer closeStore()

	deleted, err := mgr.Delete(context.Background(), sel)
	if err != nil {
		return err
	}
	reportAffected(cmd.OutOrStdout(), "Deleted", sel, deleted)
	return nil
}

func reportAffected(w io.Writer, verb string, sel tasks.Selector, ts []types.Task) {
	if len(ts) == 0 {
		fmt.Fprintf(w, "No task matches %s.\n", sel)
		return
	}
	fmt.Fprintf(w, "%s %d task(s):\n", verb, len(ts))
	for _, t := range ts {
		fmt.Fprintf(w, "  • %s (%s)\n", t.Name, t.ShortID())
	}
}

func runTasksHistory(cmd *cobra.Command, args []string) error {
	mgr, closeStore, err := openTasks()
	if err != nil {
		return err
	}
	defer closeStore()

	t, execs, err := mgr.Executions(context.Background(), args[0], historyLimit)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	if t == nil {
		fmt.Fprintf(w, "Task %s not found.\n", args[0])
		return nil
	}
	fmt.Fprintf(w, "📜 %s (%s) - %s, %d run(s)\n", t.Name, t.ShortID(), t.Status, t.ExecutionCount)
	if len(execs) == 0 {
		fmt.Fprintln(w, "  no runs yet")
		return nil
	}
	for _, e := range execs {
		fmt.Fprintf(w, "  #%d %s %-7s %6s  %s\n", e.ID, e.StartedAt.Local().Format("01-02 15:04:05"),
			e.Outcome, e.Duration().Round(time.Millisecond), oneLine(e.Output, 60))
	}
	return nil
}

func oneLine(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) > max {
		return string(r[:max]) + "..."
	}
	return s
}
