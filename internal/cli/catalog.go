package cli

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/seqd/internal/ir"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	Output string
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the catalog of definitions and positions as YAML",
		Long: `Write every stored definition with its persisted position as YAML.

The export can be loaded into another database with import. Grant history is
not exported.

Example:
  seqd export --db ./seqd.db -o catalog.yaml
  seqd export --db ./seqd.db --backend pebble > catalog.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file (default stdout)")

	return cmd
}

func runExport(opts *ExportOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	s, err := opts.openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	cat, err := s.engine.Export(commandContext(cmd))
	if err != nil {
		return fail(f, "failed to export catalog", err)
	}

	data, err := marshalCatalog(cat)
	if err != nil {
		return fail(f, "failed to encode catalog", err)
	}

	if opts.Output == "" {
		return f.Result(cat, func(w io.Writer) {
			_, _ = w.Write(data)
		})
	}

	if err := os.WriteFile(opts.Output, data, 0644); err != nil {
		_ = f.Error(ErrCodeWriteFailed, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to write export", err)
	}
	f.VerboseLog("Wrote %d sequence(s) to %s", len(cat.Sequences), opts.Output)
	return f.Result(map[string]any{"file": opts.Output, "sequences": len(cat.Sequences)}, func(w io.Writer) {
		fmt.Fprintf(w, "Exported %d sequence(s) to %s\n", len(cat.Sequences), opts.Output)
	})
}

func marshalCatalog(cat ir.Catalog) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cat); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// unmarshalCatalog parses an export, rejecting unknown fields.
func unmarshalCatalog(data []byte) (ir.Catalog, error) {
	var cat ir.Catalog
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cat); err != nil {
		return cat, fmt.Errorf("failed to parse catalog: %w", err)
	}
	return cat, nil
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Load an exported catalog into the database",
		Long: `Load the definitions and positions of an export into the database.

The import is all or nothing: if any sequence already exists, or any entry
fails its checks, nothing is stored.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(rootOpts, args[0], cmd)
		},
	}
}

func runImport(opts *RootOptions, path string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	data, err := os.ReadFile(path)
	if err != nil {
		_ = f.Error(ErrCodeReadFailed, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to read catalog", err)
	}
	cat, err := unmarshalCatalog(data)
	if err != nil {
		_ = f.Error(ErrCodeReadFailed, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to read catalog", err)
	}

	s, err := opts.openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	n, err := s.engine.Import(commandContext(cmd), cat)
	if err != nil {
		return fail(f, "failed to import catalog", err)
	}
	return f.Result(map[string]int{"imported": n}, func(w io.Writer) {
		fmt.Fprintf(w, "Imported %d sequence(s)\n", n)
	})
}
