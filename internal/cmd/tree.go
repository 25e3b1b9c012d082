package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tomasbasham/cli-runtime/iooption"
	"github.com/tomasbasham/cli-runtime/templates"

	"github.com/harlequin/hartree/internal/hartree"
)

type TreeOptions struct {
	Paths    []string
	OutPath  string
	URLTree  bool
	NoIndent bool

	iooption.IOStreams
}

var (
	treeBuildLong = templates.LongDesc(`
		Reconstruct the causality graph from one or more HAR captures.

		A single file produces that capture's own URL and hostname trees. Several
		files are stitched together first: a capture whose first request's
		Referer matches the root URL (or final redirect URL) of a capture
		already in the combined tree is attached under that capture's root
		node, as if it had been one continuous browsing session. Referers
		pointing at any other node are not matched.`)

	treeBuildExample = templates.Examples(`
		# Build the hostname tree for one capture
		har tree build capture.har

		# Stitch several captures from the same session together
		har tree build page1.har page2.har page3.har

		# Print the URL tree instead of the hostname tree
		har tree build --url-tree capture.har`)
)

func NewTreeOptions(streams iooption.IOStreams) *TreeOptions {
	return &TreeOptions{IOStreams: streams}
}

func NewTreeCommand(o *TreeOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:                   "tree [command]",
		DisableFlagsInUseLine: true,
		Short:                 "Reconstruct and inspect a capture's causality graph",
	}

	cmd.AddCommand(NewTreeBuildCommand(o))

	return cmd
}

func NewTreeBuildCommand(o *TreeOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:                   "build FILE...",
		DisableFlagsInUseLine: true,
		Short:                 "Build the URL/hostname tree for one or more HAR captures",
		Long:                  treeBuildLong,
		Example:               treeBuildExample,
		Args:                  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o.Paths = args
			return o.Run()
		},
	}

	cmd.Flags().StringVarP(&o.OutPath, "out", "o", "", "Output file (default: stdout)")
	cmd.Flags().BoolVar(&o.URLTree, "url-tree", false, "Print the URL tree instead of the hostname tree")
	cmd.Flags().BoolVar(&o.NoIndent, "no-indent", false, "Emit compact JSON instead of indented")

	return cmd
}

func (o *TreeOptions) Run() error {
	ct, err := hartree.BuildFromFiles(o.Paths, nil)
	if err != nil {
		return fmt.Errorf("failed to build tree: %w", err)
	}

	var raw []byte
	if o.URLTree {
		raw, err = ct.Root.URLTree.ToJSON()
	} else {
		raw, err = ct.ToJSON()
	}
	if err != nil {
		return fmt.Errorf("failed to serialise tree: %w", err)
	}

	if !o.NoIndent {
		var indented bytes.Buffer
		if jsonErr := json.Indent(&indented, raw, "", "  "); jsonErr == nil {
			raw = indented.Bytes()
		}
	}

	if o.OutPath == "" {
		_, err = fmt.Fprintln(o.Out, string(raw))
		return err
	}
	return os.WriteFile(o.OutPath, raw, 0o644)
}
