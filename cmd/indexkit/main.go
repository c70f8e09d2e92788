// Command indexkit records indexing tasks for content items and runs the
// indexer that applies them to a search index.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vinayprograms/indexkit/config"
	"github.com/vinayprograms/indexkit/content"
	"github.com/vinayprograms/indexkit/errors"
	"github.com/vinayprograms/indexkit/indexing"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

type cli struct {
	configPath string
	jsonOutput bool
}

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// execute runs the CLI and returns the process exit status. Failures are
// reported on stderr, as JSON when --json is set.
func execute(args []string, stdout, stderr io.Writer) int {
	c := &cli{}
	cmd := c.rootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SilenceErrors = true

	err := cmd.Execute()
	if err == nil {
		return 0
	}
	c.printError(stderr, err)
	return errors.ExitCode(err)
}

func newRootCmd() *cobra.Command {
	return (&cli{}).rootCmd()
}

func (c *cli) rootCmd() *cobra.Command {

	rootCmd := &cobra.Command{
		Use:   "indexkit",
		Short: "Indexing task log and search indexer",
		Long: `indexkit keeps a log of pending indexing work for content items.
Each content item has at most one pending task; newer updates and deletes
replace older ones. The indexer polls the log and applies tasks to a
bleve search index.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "Config file (.toml, .yaml or .yml)")
	rootCmd.PersistentFlags().BoolVarP(&c.jsonOutput, "json", "j", false, "Output as JSON")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, args []string) {
			if c.jsonOutput {
				c.printJSON(cmd.OutOrStdout(), map[string]string{
					"version": version,
					"commit":  commit,
					"date":    buildDate,
				})
				return
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexkit %s (%s, %s)\n", version, commit, buildDate)
		},
	})

	rootCmd.AddCommand(c.putCmd(), c.removeCmd(), c.cancelCmd(), c.tasksCmd(), c.ackCmd(),
		c.indexCmd(), c.searchCmd())

	return rootCmd
}

// withApp loads config, opens the app, runs fn and closes the app.
func (c *cli) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := openApp(ctx, cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	runErr := fn(ctx, a)
	closeErr := a.Close()
	if runErr != nil {
		return runErr
	}
	return closeErr
}

func (c *cli) putCmd() *cobra.Command {
	var contentType, title, body string

	cmd := &cobra.Command{
		Use:   "put <id>",
		Short: "Store a content item and record an update task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				item := &content.Item{ItemID: args[0], Type: contentType, Title: title, Body: body}
				if err := a.content.Put(ctx, item); err != nil {
					return err
				}
				task, err := a.tasks.RecordUpdate(ctx, item)
				if err != nil {
					return err
				}
				c.printTask(cmd.OutOrStdout(), task)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&contentType, "type", "", "Content type")
	cmd.Flags().StringVar(&title, "title", "", "Title")
	cmd.Flags().StringVar(&body, "body", "", "Body text")
	return cmd
}

func (c *cli) removeCmd() *cobra.Command {
	var contentType string

	cmd := &cobra.Command{
		Use:   "remove <id>",
		Short: "Delete a content item and record a delete task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				if err := a.content.Delete(ctx, args[0]); err != nil {
					return err
				}
				task, err := a.tasks.RecordDelete(ctx, indexing.Ref(args[0], contentType))
				if err != nil {
					return err
				}
				c.printTask(cmd.OutOrStdout(), task)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&contentType, "type", "", "Content type")
	return cmd
}

func (c *cli) cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Remove pending tasks for a content item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				n, err := a.tasks.DeleteTasks(ctx, indexing.Ref(args[0], ""))
				if err != nil {
					return err
				}
				if c.jsonOutput {
					c.printJSON(cmd.OutOrStdout(), map[string]interface{}{
						"content_item_id": args[0],
						"removed":         n,
					})
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d pending task(s) for %s\n", n, args[0])
				return nil
			})
		},
	}
}

func (c *cli) tasksCmd() *cobra.Command {
	var since string

	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List pending tasks, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var after *time.Time
			if since != "" {
				t, err := time.Parse(time.RFC3339Nano, since)
				if err != nil {
					return errors.InvalidArgument("--since must be RFC 3339", errors.WithCause(err))
				}
				after = &t
			}

			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				tasks, err := a.tasks.GetTasks(ctx, after)
				if err != nil {
					return err
				}
				if c.jsonOutput {
					c.printJSON(cmd.OutOrStdout(), tasks)
					return nil
				}
				for _, t := range tasks {
					c.printTask(cmd.OutOrStdout(), t)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "Only tasks created strictly after this RFC3339 time")
	return cmd
}

func (c *cli) ackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ack <content-id> <task-id>",
		Short: "Remove a task after processing it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				task := indexing.Task{ContentItemID: args[0], ID: args[1]}
				if err := a.tasks.Acknowledge(ctx, task); err != nil {
					return err
				}
				if c.jsonOutput {
					c.printJSON(cmd.OutOrStdout(), map[string]string{
						"content_item_id": args[0],
						"acknowledged":    args[1],
					})
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "acknowledged %s\n", args[1])
				return nil
			})
		},
	}
}

func (c *cli) indexCmd() *cobra.Command {
	indexCmd := &cobra.Command{
		Use:   "index",
		Short: "Apply pending tasks to the search index",
	}

	indexCmd.AddCommand(&cobra.Command{
		Use:   "once",
		Short: "Poll the task log once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				idx, err := a.openIndex()
				if err != nil {
					return err
				}
				poller, err := a.newPoller(ctx, idx)
				if err != nil {
					return err
				}
				result, err := poller.RunOnce(ctx)
				if err != nil {
					return err
				}
				if c.jsonOutput {
					c.printJSON(cmd.OutOrStdout(), result)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "fetched %d, applied %d, acknowledged %d\n",
					result.Fetched, result.Applied, result.Acknowledged)
				return nil
			})
		},
	})

	indexCmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Poll the task log until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				ctx = a.coord.HandleSignals(ctx)

				idx, err := a.openIndex()
				if err != nil {
					return err
				}
				poller, err := a.newPoller(ctx, idx)
				if err != nil {
					return err
				}
				return poller.Run(ctx)
			})
		},
	})

	return indexCmd
}

func (c *cli) searchCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				idx, err := a.openIndex()
				if err != nil {
					return err
				}
				hits, err := idx.Search(ctx, args[0], limit)
				if err != nil {
					return err
				}
				if c.jsonOutput {
					c.printJSON(cmd.OutOrStdout(), hits)
					return nil
				}
				for _, h := range hits {
					fmt.Fprintf(cmd.OutOrStdout(), "%-24s %6.3f  %s\n", h.ID, h.Score, h.Title)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum hits")
	return cmd
}

func (c *cli) printTask(w io.Writer, t indexing.Task) {
	if c.jsonOutput {
		c.printJSON(w, t)
		return
	}
	fmt.Fprintf(w, "%s  %-6s %s  %s\n", t.CreatedAt.Format(time.RFC3339Nano), t.Action, t.ContentItemID, t.ID)
}

func (c *cli) printError(w io.Writer, err error) {
	if !c.jsonOutput {
		fmt.Fprintln(w, "Error:", err)
		return
	}
	coded, ok := errors.As(err)
	if !ok {
		coded = errors.Internal(err.Error())
	}
	c.printJSON(w, map[string]any{"error": coded})
}

func (c *cli) printJSON(w io.Writer, v interface{}) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}
