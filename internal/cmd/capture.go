package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomasbasham/cli-runtime/iooption"
	"github.com/tomasbasham/cli-runtime/templates"

	"github.com/harlequin/hartree/internal/capture"
	"github.com/harlequin/hartree/internal/config"
	"github.com/harlequin/hartree/internal/hartree"
	"github.com/harlequin/hartree/internal/storage"
)

type CaptureOptions struct {
	URL               string
	NavigationTimeout time.Duration
	TotalTimeout      time.Duration
	OutPath           string
	CaptureBodies     bool
	NoTree            bool
	ConfigPath        string

	iooption.IOStreams
}

var (
	captureLong = templates.LongDesc(``)

	captureExample = templates.Examples(``)
)

func NewCaptureOptions(streams iooption.IOStreams) *CaptureOptions {
	return &CaptureOptions{
		IOStreams: streams,
	}
}

func NewCaptureCommand(o *CaptureOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:                   "capture [URL]",
		DisableFlagsInUseLine: true,
		Short:                 "Capture a HAR file for the specified URL",
		Long:                  captureLong,
		Example:               captureExample,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			if err := o.Validate(); err != nil {
				return err
			}
			if err := o.Run(); err != nil {
				return err
			}
			return nil
		},
	}

	// Add persistent config flags.
	pflags := cmd.PersistentFlags()

	pflags.DurationVarP(&o.NavigationTimeout, "navigation-timeout", "n", 10*time.Second, "Navigation timeout duration")
	pflags.DurationVarP(&o.TotalTimeout, "total-timeout", "t", 30*time.Second, "Total capture timeout duration")
	pflags.StringVarP(&o.OutPath, "out", "o", "capture.har", "Output HAR file; side-cars are written alongside it")
	pflags.BoolVar(&o.CaptureBodies, "capture-bodies", false, "Fetch and embed response bodies in the HAR")
	pflags.BoolVar(&o.NoTree, "no-tree", false, "Skip building and printing the hostname tree")
	pflags.StringVar(&o.ConfigPath, "config", "", "Path to a YAML config file providing defaults for unset flags")

	return cmd
}

func (o *CaptureOptions) Complete(cmd *cobra.Command, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("URL is required")
	}
	o.URL = args[0]

	if o.ConfigPath != "" {
		cfg, err := config.Load(o.ConfigPath)
		if err != nil {
			return err
		}

		flags := cmd.Flags()
		if !flags.Changed("navigation-timeout") && cfg.NavigationTimeout != 0 {
			o.NavigationTimeout = cfg.NavigationTimeout
		}
		if !flags.Changed("total-timeout") && cfg.TotalTimeout != 0 {
			o.TotalTimeout = cfg.TotalTimeout
		}
		if !flags.Changed("capture-bodies") && cfg.CaptureBodies {
			o.CaptureBodies = cfg.CaptureBodies
		}
	}

	return nil
}

func (o *CaptureOptions) Validate() error {
	if len(o.URL) == 0 {
		return fmt.Errorf("URL is required")
	}
	return nil
}

func (o *CaptureOptions) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(o.Out, "Capturing HAR for %s...\n", o.URL)
	result, err := capture.Capture(ctx, capture.Options{
		URL:               o.URL,
		NavigationTimeout: o.NavigationTimeout,
		TotalTimeout:      o.TotalTimeout,
		Screenshots:       true,
		CaptureBodies:     o.CaptureBodies,
	})
	if err != nil {
		return fmt.Errorf("capture failed: %w", err)
	}

	fmt.Fprintf(o.Out, "Capture complete: TTFB=%s, TimedOut=%t\n", result.TTFB, result.TimedOut)
	if result.TimedOut {
		fmt.Fprintln(o.ErrOut, "Capture timed out before networkIdle; HAR may be incomplete")
	}

	harJSON, err := result.MarshalHARJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal HAR: %w", err)
	}
	if err := os.WriteFile(o.OutPath, harJSON, 0o644); err != nil {
		return fmt.Errorf("failed to write HAR file: %w", err)
	}

	stem := strings.TrimSuffix(o.OutPath, filepath.Ext(o.OutPath))
	if result.LastRedirect != "" {
		if err := os.WriteFile(stem+".last_redirect.txt", []byte(result.LastRedirect), 0o644); err != nil {
			return fmt.Errorf("failed to write last-redirect side-car: %w", err)
		}
	}
	if len(result.Cookies) > 0 {
		cookiesJSON, err := json.Marshal(result.Cookies)
		if err != nil {
			return fmt.Errorf("failed to marshal cookie jar: %w", err)
		}
		if err := os.WriteFile(stem+".cookies.json", cookiesJSON, 0o644); err != nil {
			return fmt.Errorf("failed to write cookies side-car: %w", err)
		}
	}
	if result.OuterHTML != "" {
		if err := os.WriteFile(stem+".html", []byte(result.OuterHTML), 0o644); err != nil {
			return fmt.Errorf("failed to write rendered-DOM side-car: %w", err)
		}
	}

	path, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current working directory: %w", err)
	}
	uploader, err := storage.NewLocalUploader(path)
	if err != nil {
		return fmt.Errorf("failed to initialise local uploader: %w", err)
	}

	for _, s := range result.Screenshots {
		fmt.Fprintf(o.Out, "Uploading screenshot captured at %s...\n", s.CapturedAt.Format(time.RFC3339))
		uploader.Upload(ctx, &storage.UploadRequest{
			ObjectName:  fmt.Sprintf("screenshot_%s.png", s.CapturedAt.Format("20060102_150405.000")),
			Content:     bytes.NewReader(s.PNG),
			ContentType: "image/png",
		})
	}

	if !o.NoTree {
		if err := o.printTree(); err != nil {
			fmt.Fprintf(o.ErrOut, "failed to build hostname tree: %s\n", err)
		}
	}

	return nil
}

// printTree re-reads the HAR and side-cars just written, builds a tree from
// them the same way `har tree build` would, and prints the hostname
// aggregate — the quickest way to sanity-check a capture from the terminal
// without a separate analysis pass.
func (o *CaptureOptions) printTree() error {
	hf, err := hartree.LoadHarFile(o.OutPath, nil)
	if err != nil {
		return err
	}
	t, err := hartree.BuildTree(hf, nil)
	if err != nil {
		return err
	}

	treeJSON, err := t.HostnameTree.ToJSON()
	if err != nil {
		return err
	}
	fmt.Fprintln(o.Out, string(treeJSON))
	return nil
}
