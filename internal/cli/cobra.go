package cli

import (
	"encoding/json"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"pixelmind/internal/aibridge"
	"pixelmind/internal/app"
	"pixelmind/internal/batch"
	"pixelmind/internal/config"
	"pixelmind/internal/edit"
	"pixelmind/internal/ingest"
	"pixelmind/internal/merge"
	"pixelmind/internal/pipeline"
	"pixelmind/internal/render"
	"pixelmind/internal/storage"
)

// NewRootCmd creates the root Cobra command
func NewRootCmd(cfg *config.Config, log *slog.Logger, store *storage.Store, pipe *pipeline.Pipeline, ctrl *app.Controller) *cobra.Command {
	return newRootCmd(NewRoot(pipe, ctrl, cfg, log, store))
}

func newRootCmd(root *Root) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pixelmind",
		Short: "PixelMind is a photo editor with batch, merge and AI tools",
		Long: `PixelMind edits photos non-destructively: filters, crop, rotation and text
layers, batch conversion of whole folders, side-by-side merges and
generative edits through Gemini.`,
		SilenceUsage: true,
	}
	rootCmd.SetOut(root.out)

	// Processing
	rootCmd.AddCommand(newRenderCmd(root))
	rootCmd.AddCommand(newBatchCmd(root))
	rootCmd.AddCommand(newMergeCmd(root))
	rootCmd.AddCommand(newSampleCmd(root))

	// AI
	rootCmd.AddCommand(newAnalyzeCmd(root))
	rootCmd.AddCommand(newAICmd(root))

	rootCmd.AddCommand(newServeCmd(root))
	rootCmd.AddCommand(newJobsCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newVersionCmd(root))

	return rootCmd
}

func newRenderCmd(root *Root) *cobra.Command {
	var (
		document string
		format   string
		quality  int
		output   string
	)

	cmd := &cobra.Command{
		Use:   "render <image>",
		Short: "Render one image with a saved edit document",
		Long: `Apply a saved edit document (filters, transform and text layers, as JSON or
YAML) to one image and write <name>_edited.<ext> to the output directory.
Without --format, images with rounded corners or transparency are written
as PNG and everything else as JPEG.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				output = root.cfg.Paths.DefaultOutput
			}
			job := pipeline.Job{
				ID:      newID("render"),
				Type:    pipeline.JobRender,
				Output:  output,
				Options: map[string]any{"images": []string{args[0]}, "source": "cli"},
			}
			if document != "" {
				doc, err := loadDocument(document)
				if err != nil {
					return err
				}
				job.Options["document"] = doc
			}
			if format != "" {
				job.Options["format"] = format
			}
			if quality > 0 {
				job.Options["quality"] = quality
			}

			res, err := root.enqueueAndWait(cmd.Context(), job)
			if err != nil {
				return err
			}
			root.printf("%s (%dx%d, %s)\n", res.Meta["output"], metaInt(res.Meta, "width"), metaInt(res.Meta, "height"),
				humanize.Bytes(uint64(metaInt(res.Meta, "bytes"))))
			return nil
		},
	}

	cmd.Flags().StringVarP(&document, "document", "d", "", "edit document (json or yaml)")
	cmd.Flags().StringVarP(&format, "format", "f", "", "output format (jpeg|png|webp), chosen from the image if empty")
	cmd.Flags().IntVarP(&quality, "quality", "q", 0, "JPEG quality 1-100")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output directory")
	return cmd
}

func newBatchCmd(root *Root) *cobra.Command {
	var (
		format      string
		quality     int
		resizeMode  string
		edge        int
		percent     float64
		width       int
		height      int
		lockAspect  bool
		autoBalance bool
		archive     bool
		output      string
	)

	cmd := &cobra.Command{
		Use:   "batch <input_directory>",
		Short: "Convert every image in a folder with one option set",
		Long: `Process every image under a directory with a shared format, quality and
resize policy. Results are written as <name>_processed.<ext>, or packed
into one zip archive with --archive.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				output = root.cfg.Paths.DefaultOutput
			}
			opts := batch.DefaultOptions()
			if root.ctrl != nil {
				opts = root.ctrl.BatchOptions()
			}
			flags := cmd.Flags()
			if flags.Changed("format") {
				f, err := render.ParseFormat(format)
				if err != nil {
					return err
				}
				opts.Format = f
			}
			if flags.Changed("quality") {
				opts.Quality = quality
			}
			if flags.Changed("resize") {
				opts.Resize.Mode = batch.ResizeMode(resizeMode)
			}
			if flags.Changed("edge") {
				opts.Resize.Edge = edge
			}
			if flags.Changed("percent") {
				opts.Resize.Percent = percent
			}
			opts.Resize.Width, opts.Resize.Height, opts.Resize.LockAspect = width, height, lockAspect
			if flags.Changed("auto-balance") {
				opts.AutoBalance = autoBalance
			}
			if _, err := opts.Normalize(); err != nil {
				return err
			}

			job := pipeline.Job{
				ID:        newID("batch"),
				Type:      pipeline.JobBatch,
				InputPath: args[0],
				Output:    output,
				Options:   map[string]any{"options": opts, "archive": archive, "source": "cli"},
			}
			res, err := root.enqueueAndWait(cmd.Context(), job)
			if res.Meta == nil {
				return err
			}
			in, out := metaInt(res.Meta, "input_bytes"), metaInt(res.Meta, "output_bytes")
			root.printf("%d done, %d failed, %s → %s\n", metaInt(res.Meta, "done"), metaInt(res.Meta, "failed"),
				humanize.Bytes(uint64(in)), humanize.Bytes(uint64(out)))
			return err
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "", "output format (jpeg|png|webp)")
	cmd.Flags().IntVarP(&quality, "quality", "q", 0, "quality 10-100")
	cmd.Flags().StringVar(&resizeMode, "resize", "", "resize mode (original|longest-edge|percent|exact)")
	cmd.Flags().IntVar(&edge, "edge", 0, "longest edge in pixels (longest-edge)")
	cmd.Flags().Float64Var(&percent, "percent", 0, "scale in percent (percent)")
	cmd.Flags().IntVar(&width, "width", 0, "target width (exact)")
	cmd.Flags().IntVar(&height, "height", 0, "target height (exact)")
	cmd.Flags().BoolVar(&lockAspect, "lock-aspect", false, "keep the source ratio for exact sizes")
	cmd.Flags().BoolVar(&autoBalance, "auto-balance", false, "boost contrast and saturation")
	cmd.Flags().BoolVar(&archive, "archive", false, "write one zip archive instead of single files")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output directory")
	return cmd
}

func newMergeCmd(root *Root) *cobra.Command {
	var (
		direction  string
		gap        int
		padding    int
		background string
		align      string
		texts      string
		output     string
	)

	cmd := &cobra.Command{
		Use:   "merge <image> <image> [image...]",
		Short: "Place up to four images side by side",
		Args:  cobra.RangeArgs(merge.MinSources, merge.MaxSources),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				output = root.cfg.Paths.DefaultOutput
			}
			settings := app.MergeDefaults(root.cfg.Merge)
			flags := cmd.Flags()
			if flags.Changed("direction") {
				settings.Direction = merge.Direction(direction)
			}
			if flags.Changed("gap") {
				settings.Gap = gap
			}
			if flags.Changed("padding") {
				settings.Padding = padding
			}
			if flags.Changed("background") {
				settings.Background = background
			}
			if flags.Changed("align") {
				settings.Align = merge.Align(align)
			}

			job := pipeline.Job{
				ID:      newID("merge"),
				Type:    pipeline.JobMerge,
				Output:  output,
				Options: map[string]any{"images": args, "settings": settings, "source": "cli"},
			}
			if texts != "" {
				doc, err := loadDocument(texts)
				if err != nil {
					return err
				}
				job.Options["texts"] = doc.Texts
			}

			res, err := root.enqueueAndWait(cmd.Context(), job)
			if err != nil {
				return err
			}
			root.printf("%s (%dx%d)\n", res.Meta["output"], metaInt(res.Meta, "width"), metaInt(res.Meta, "height"))
			return nil
		},
	}

	cmd.Flags().StringVar(&direction, "direction", "", "horizontal or vertical")
	cmd.Flags().IntVar(&gap, "gap", 0, "space between images in pixels")
	cmd.Flags().IntVar(&padding, "padding", 0, "outer margin in pixels")
	cmd.Flags().StringVar(&background, "background", "", "background colour (#rrggbb)")
	cmd.Flags().StringVar(&align, "align", "", "cross-axis alignment (start|center|end)")
	cmd.Flags().StringVar(&texts, "texts", "", "document whose text layers are drawn on the result")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output directory")
	return cmd
}

func newSampleCmd(root *Root) *cobra.Command {
	var document string

	cmd := &cobra.Command{
		Use:   "sample <image> <x> <y>",
		Short: "Print the colour of one rendered pixel",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			x, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid x %q", args[1])
			}
			y, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("invalid y %q", args[2])
			}
			if err := root.openImage(args[0]); err != nil {
				return err
			}
			if document != "" {
				doc, err := loadDocument(document)
				if err != nil {
					return err
				}
				sess, err := root.ctrl.Session()
				if err != nil {
					return err
				}
				sess.Apply(func(d *edit.Document) { d.Restore(doc) })
			}

			ctx := cmd.Context()
			img, err := root.ctrl.Render(ctx)
			if err != nil {
				return err
			}
			size := img.Bounds().Size()
			hex, err := root.ctrl.Sample(ctx, size, image.Pt(x, y))
			if err != nil {
				return err
			}
			root.printf("%s\n", hex)
			return nil
		},
	}
	cmd.Flags().StringVarP(&document, "document", "d", "", "edit document applied before sampling")
	return cmd
}

func newAnalyzeCmd(root *Root) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "analyze <image>",
		Short: "Ask the AI for a critique of a photo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := root.openImage(args[0]); err != nil {
				return err
			}
			res, err := root.ctrl.ApplyAI(cmd.Context(), aibridge.Analyze, "")
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(root.out)
				enc.SetIndent("", "  ")
				return enc.Encode(res.Report)
			}
			printReport(root, res.Report)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw report")
	return cmd
}

func printReport(root *Root, rep *aibridge.Report) {
	root.printf("%s\n", rep.AestheticSummary)
	if len(rep.TechnicalIssues) > 0 {
		root.printf("\nIssues:\n")
		for _, issue := range rep.TechnicalIssues {
			root.printf("  - %s\n", issue)
		}
	}
	if len(rep.EnhancementSteps) > 0 {
		root.printf("\nSuggested steps:\n")
		for i, s := range rep.EnhancementSteps {
			root.printf("  %d. %s: %s\n", i+1, s.Title, s.Description)
		}
	}
	if rep.SuggestedCaption != "" {
		root.printf("\nCaption: %s\n", rep.SuggestedCaption)
	}
}

func newAICmd(root *Root) *cobra.Command {
	var (
		prompt string
		output string
	)

	cmd := &cobra.Command{
		Use:   "ai <kind> [image]",
		Short: "Run a generative edit on an image",
		Long: `Run a generative edit and save the result. Kinds are background-replace,
outfit-change and upscale, which need an image, and generate, which creates
a new picture from --prompt alone.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := aibridge.ParseKind(args[0])
			if err != nil {
				return err
			}
			if kind == aibridge.Analyze {
				return fmt.Errorf("use the analyze command for %s", kind)
			}
			if len(args) < 2 && kind != aibridge.Generate {
				return fmt.Errorf("%s needs an image", kind)
			}
			if output == "" {
				output = root.cfg.Paths.DefaultOutput
			}

			stem := string(kind)
			if len(args) == 2 {
				if err := root.openImage(args[1]); err != nil {
					return err
				}
				stem = strings.TrimSuffix(filepath.Base(args[1]), filepath.Ext(args[1])) + "_" + string(kind)
			}
			ctx := cmd.Context()
			if _, err := root.ctrl.ApplyAI(ctx, kind, prompt); err != nil {
				return err
			}
			exp, err := root.ctrl.ExportCurrent(ctx)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(output, 0o755); err != nil {
				return err
			}
			path := filepath.Join(output, stem+"."+exp.Format.Ext())
			if err := os.WriteFile(path, exp.Data, 0o644); err != nil {
				return err
			}
			root.printf("%s (%s)\n", path, humanize.Bytes(uint64(len(exp.Data))))
			return nil
		},
	}

	cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "instruction for the model")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output directory")
	return cmd
}

// openImage loads one file into the library and opens it in the editor.
func (r *Root) openImage(path string) error {
	if r.ctrl == nil {
		return fmt.Errorf("editor unavailable")
	}
	b, err := ingest.ReadFile(path)
	if err != nil {
		return err
	}
	infos := r.ctrl.AddBlobs([]ingest.Blob{b}, "cli")
	if len(infos) == 0 {
		return fmt.Errorf("%s is not an image (%s)", path, b.MIME)
	}
	return r.ctrl.Open(infos[0].ID)
}

func newServeCmd(root *Root) *cobra.Command {
	var (
		addr     string
		grpcAddr string
		inbox    string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the editor's HTTP API",
		Long: `Start the local HTTP API used by the editor front end, with live job
progress over websocket and SSE and a gRPC health endpoint.

Examples:
  # Default addresses from the config file
  pixelmind serve

  # Watch a folder for new images
  pixelmind serve --addr :8080 --inbox ~/Pictures/inbox`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				root.cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("grpc-addr") {
				root.cfg.Server.GRPCAddr = grpcAddr
			}
			if inbox != "" {
				root.cfg.Paths.Inbox = inbox
			}
			root.log.Info("starting server",
				"addr", root.cfg.Server.Addr,
				"grpc_addr", root.cfg.Server.GRPCAddr,
				"inbox", root.cfg.Paths.Inbox,
			)
			return root.serveFn(cmd.Context(), root)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address")
	cmd.Flags().StringVar(&grpcAddr, "grpc-addr", "", "gRPC health listen address, empty disables")
	cmd.Flags().StringVar(&inbox, "inbox", "", "folder watched for new images")
	return cmd
}

func newJobsCmd(root *Root) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List recent jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			recs, err := root.store.RecentJobs(limit)
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				root.printf("no jobs recorded\n")
				return nil
			}
			for _, rec := range recs {
				root.printf("%-24s %-7s %-10s %s", rec.ID, rec.JobType, rec.Status, humanize.Time(rec.CreatedAt))
				if rec.JobType == string(pipeline.JobBatch) {
					done, failed, in, out, err := root.store.BatchTotals(rec.ID)
					if err == nil && done+failed > 0 {
						root.printf("  %d done, %d failed, %s → %s", done, failed,
							humanize.Bytes(uint64(in)), humanize.Bytes(uint64(out)))
					}
				}
				if rec.Error != "" {
					root.printf("  error: %s", rec.Error)
				}
				root.printf("\n")
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of jobs to show")
	return cmd
}
