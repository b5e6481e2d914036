package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"voxelcore/pkg/codec"
	"voxelcore/pkg/config"
	"voxelcore/pkg/data"
	"voxelcore/pkg/ingest"
	"voxelcore/pkg/numeric"
	"voxelcore/pkg/visualization"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// env is shared by all subcommands and filled in before any of them runs.
type env struct {
	configPath string
	cfg        *config.Config
	log        *zap.Logger
}

func newRootCommand() *cobra.Command {
	e := &env{}
	root := &cobra.Command{
		Use:          "voxelcore",
		Short:        "Assemble 2D slices into indexed volumes and inspect their metadata",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(e.configPath)
			if err != nil {
				return err
			}
			log, err := cfg.BuildLogger()
			if err != nil {
				return err
			}
			e.cfg, e.log = cfg, log
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if e.log != nil {
				_ = e.log.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&e.configPath, "config", "voxelcore.yaml", "path to the YAML configuration")

	root.AddCommand(
		newAssembleCommand(e),
		newSlicesCommand(e),
		newInspectCommand(e),
		newConfigCommand(),
	)
	return root
}

// ingestFlags binds the slice geometry flags shared by assemble and slices.
func ingestFlags(cmd *cobra.Command, p *ingest.Params) {
	cmd.Flags().StringVar(&p.InputDir, "input", "", "directory containing 2D slices")
	cmd.Flags().Float64Var(&p.SliceThickness, "thickness", 0, "slice thickness in mm (default from config)")
	cmd.Flags().Float64Var(&p.SliceGap, "gap", 0, "inter-slice gap in mm, 0 allowed (default from config)")
	cmd.Flags().Float64Var(&p.PixelSpacing, "spacing", 0, "in-plane pixel spacing in mm (default from config)")
	cmd.Flags().IntVar(&p.NumCores, "cores", 0, "number of slices decoded in parallel (default from config)")
	_ = cmd.MarkFlagRequired("input")
}

func newAssembleCommand(e *env) *cobra.Command {
	var (
		params ingest.Params
		dump   string
	)
	cmd := &cobra.Command{
		Use:   "assemble",
		Short: "Assemble a slice directory and print the resulting image",
		RunE: func(cmd *cobra.Command, args []string) error {
			params.HasSliceGap = cmd.Flags().Changed("gap")
			start := time.Now()
			a := ingest.NewAssembler(&params, e.cfg, e.log)
			img, err := a.Process()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printSummary(out, img, a)
			fmt.Fprintf(out, "Assembled in %s\n\n", time.Since(start).Round(time.Millisecond))
			if err := img.Props.Print(out, true); err != nil {
				return err
			}

			if dump == "" {
				return nil
			}
			f, err := os.Create(dump)
			if err != nil {
				return err
			}
			defer f.Close()
			if err := codec.WriteTree(f, img.Props); err != nil {
				return err
			}
			fmt.Fprintf(out, "\nImage properties written to %s\n", dump)
			return nil
		},
	}
	ingestFlags(cmd, &params)
	cmd.Flags().StringVar(&dump, "dump", "", "write the image properties as CBOR to this file")
	return cmd
}

func printSummary(out io.Writer, img *data.Image, a *ingest.Assembler) {
	size := img.Size()
	st := a.Stats()
	bytes := uint64(size.Volume() * img.BytesPerVoxel())

	fmt.Fprintf(out, "Size:        %s (%s voxels)\n", size, humanize.Comma(int64(size.Volume())))
	if o, err := img.MainOrientation(); err == nil {
		fmt.Fprintf(out, "Orientation: %s\n", o)
	}
	if fov, ok := img.FoV(); ok {
		fmt.Fprintf(out, "FoV:         %s mm\n", fov)
	}
	fmt.Fprintf(out, "Voxel type:  %s\n", img.TypeName())
	fmt.Fprintf(out, "Memory:      %s\n", humanize.IBytes(bytes))
	fmt.Fprintf(out, "Intensity:   min %s max %s mean %.2f sd %.2f\n",
		humanize.Ftoa(st.Min), humanize.Ftoa(st.Max), st.Mean, st.StdDev)
}

func newSlicesCommand(e *env) *cobra.Command {
	var (
		params ingest.Params
		axis   string
		outDir string
		policy string
	)
	cmd := &cobra.Command{
		Use:   "slices",
		Short: "Assemble a slice directory and save reformatted slices along one or all axes",
		RunE: func(cmd *cobra.Command, args []string) error {
			params.HasSliceGap = cmd.Flags().Changed("gap")
			img, err := ingest.NewAssembler(&params, e.cfg, e.log).Process()
			if err != nil {
				return err
			}
			p, err := e.cfg.Policy()
			if policy != "" {
				p, err = numeric.ParsePolicy(policy)
			}
			if err != nil {
				return err
			}
			viewer, err := visualization.NewViewer(img, p, e.log)
			if err != nil {
				return err
			}

			axes := []string{axis}
			if axis == "all" {
				axes = []string{"x", "y", "z"}
			}
			for _, ax := range axes {
				dir := filepath.Join(outDir, strings.ToLower(ax))
				fmt.Fprintf(cmd.OutOrStdout(), "Saving %s-axis slices to: %s\n", ax, dir)
				if err := viewer.SaveSliceSequence(ax, dir); err != nil {
					return err
				}
			}
			return nil
		},
	}
	ingestFlags(cmd, &params)
	cmd.Flags().StringVar(&axis, "axis", "all", "x, y, z or all")
	cmd.Flags().StringVar(&outDir, "out", "slices", "directory to save extracted slices")
	cmd.Flags().StringVar(&policy, "policy", "", "intensity scaling policy (default from config)")
	return cmd
}

func newInspectCommand(e *env) *cobra.Command {
	var diag bool
	cmd := &cobra.Command{
		Use:   "inspect FILE",
		Short: "Print a property tree stored by assemble --dump",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if diag {
				s, err := codec.Diagnose(raw)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, s)
				return nil
			}
			tree, err := codec.Unmarshal(raw, e.log)
			if err != nil {
				return err
			}
			if missing := tree.Missing(); missing.Len() > 0 {
				fmt.Fprintf(out, "Missing: %s\n", missing)
			}
			return tree.Print(out, true)
		},
	}
	cmd.Flags().BoolVar(&diag, "diag", false, "print CBOR diagnostic notation instead of the decoded tree")
	return cmd
}

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init PATH",
		Short: "Write the default configuration to PATH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.CreateDefaultConfigFile(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Default configuration written to %s\n", args[0])
			return nil
		},
	})
	return cmd
}
