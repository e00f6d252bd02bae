package cli

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/seqd/internal/engine"
	"github.com/roach88/seqd/internal/ir"
)

// DefineOptions holds flags for the define command.
type DefineOptions struct {
	*RootOptions
	Replace bool
}

// NewDefineCommand creates the define command.
func NewDefineCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DefineOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "define <specs-dir>",
		Short: "Store the sequence definitions of a specs directory",
		Long: `Compile, validate and store the CUE sequence definitions in a directory.

Defining an identical sequence again changes nothing. A changed definition is
rejected unless --replace is given, which restarts the sequence from its
start value and clears its grant history.

Example:
  seqd define --db ./seqd.db ./specs
  seqd define --db ./seqd.db ./specs --replace`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDefine(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Replace, "replace", false, "replace changed definitions and restart them")

	return cmd
}

func runDefine(opts *DefineOptions, specsDir string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	defs, validationErrors, err := loadDefinitions(specsDir)
	if err != nil {
		return fail(f, "failed to load specs", err)
	}
	if len(validationErrors) > 0 {
		return outputValidationErrors(f, validationErrors)
	}

	s, err := opts.openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	outcomes, err := s.engine.Define(commandContext(cmd), defs, opts.Replace)
	if err != nil {
		printOutcomes(f, outcomes)
		return fail(f, "failed to define sequences", err)
	}
	return f.Result(outcomes, func(w io.Writer) {
		for _, o := range outcomes {
			fmt.Fprintf(w, "%s: %s\n", o.Name, o.Result)
		}
	})
}

// printOutcomes lists the definitions stored before a failure. JSON output
// carries only the error.
func printOutcomes(f *OutputFormatter, outcomes []engine.DefineOutcome) {
	if f.Format == "json" {
		return
	}
	for _, o := range outcomes {
		fmt.Fprintf(f.Writer, "%s: %s\n", o.Name, o.Result)
	}
}

// NextOptions holds flags for the next command.
type NextOptions struct {
	*RootOptions
	Count int
}

// NextResult is the JSON payload of the next command.
type NextResult struct {
	Sequence string  `json:"sequence"`
	Values   []int64 `json:"values"`
}

// NewNextCommand creates the next command.
func NewNextCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &NextOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "next <name>",
		Short: "Dispense values of a sequence",
		Long: `Dispense the next values of a stored sequence, one per line.

With -n the values are taken in a single batch. If the sequence runs out part
way, the values obtained are printed before the error.

Exit codes:
  0 - All values dispensed
  1 - Sequence not found, exhausted, or its refill failed
  2 - Command error (config, database)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNext(opts, args[0], cmd)
		},
	}

	cmd.Flags().IntVarP(&opts.Count, "count", "n", 1, "number of values to dispense")

	return cmd
}

func runNext(opts *NextOptions, name string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	if opts.Count < 1 {
		return NewExitError(ExitCommandError, fmt.Sprintf("count must be at least 1, got %d", opts.Count))
	}

	s, err := opts.openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	values, err := s.engine.NextValues(commandContext(cmd), name, opts.Count)
	if err != nil {
		if f.Format != "json" {
			printValues(f.Writer, values)
		}
		return fail(f, fmt.Sprintf("failed to dispense from %q", name), err)
	}
	return f.Result(NextResult{Sequence: name, Values: values}, func(w io.Writer) {
		printValues(w, values)
	})
}

func printValues(w io.Writer, values []int64) {
	for _, v := range values {
		fmt.Fprintln(w, v)
	}
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored sequences and their persisted positions",
		Long: `List every stored sequence with its definition and persisted position.

The position is where the next chunk starts. Values of chunks handed out to
earlier processes but never dispensed are skipped, so the position is usually
ahead of the last value anyone saw.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(rootOpts, cmd)
		},
	}
}

func runList(opts *RootOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	s, err := opts.openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	entries, err := s.engine.Sequences(commandContext(cmd))
	if err != nil {
		return fail(f, "failed to list sequences", err)
	}
	return f.Result(entries, func(w io.Writer) {
		if len(entries) == 0 {
			fmt.Fprintln(w, "No sequences defined.")
			return
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tMIN\tMAX\tINCREMENT\tCYCLE\tCHUNK\tNEXT START\tSTATUS")
		for _, e := range entries {
			d := e.Definition
			fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%t\t%d\t%s\t%s\n",
				d.Name, d.MinVal, d.MaxVal, d.Increment, d.Cycle, d.ChunkSize,
				nextStart(e.Position), e.Position.Status)
		}
		tw.Flush()
	})
}

// nextStart renders a persisted position; exhausted sequences have none.
func nextStart(pos ir.Position) string {
	if pos.Status == ir.StatusExhausted {
		return "-"
	}
	return strconv.FormatInt(pos.NextStartVal, 10)
}

// NewDropCommand creates the drop command.
func NewDropCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "drop <name>",
		Short:         "Delete a sequence and its grant history",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDrop(rootOpts, args[0], cmd)
		},
	}
}

func runDrop(opts *RootOptions, name string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	s, err := opts.openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.engine.Drop(commandContext(cmd), name); err != nil {
		return fail(f, fmt.Sprintf("failed to drop %q", name), err)
	}
	return f.Result(map[string]string{"dropped": name}, func(w io.Writer) {
		fmt.Fprintf(w, "Dropped %s\n", name)
	})
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history <name>",
		Short: "Show the chunk grant log of a sequence",
		Long: `Show every chunk handed out for a sequence, oldest first.

Each grant records the first value of the chunk, how many values it holds and
where the following chunk starts.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(rootOpts, args[0], cmd)
		},
	}
}

func runHistory(opts *RootOptions, name string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	s, err := opts.openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	grants, err := s.engine.History(commandContext(cmd), name)
	if err != nil {
		return fail(f, fmt.Sprintf("failed to read history of %q", name), err)
	}
	return f.Result(grants, func(w io.Writer) {
		if len(grants) == 0 {
			fmt.Fprintf(w, "No chunks granted for %s.\n", name)
			return
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SEQ\tID\tFIRST\tCOUNT\tNEXT START\tEXHAUSTED")
		for _, g := range grants {
			fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%d\t%t\n", g.Seq, g.ID, g.FirstVal, g.Count, g.NextStartVal, g.Exhausted)
		}
		tw.Flush()
	})
}
