// accelctl inspects recordings and calibration blobs offline, on the device
// or on a copy pulled from it.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/fang"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/relabs-tech/accel_logger/internal/analysis"
	"github.com/relabs-tech/accel_logger/internal/app"
	"github.com/relabs-tech/accel_logger/internal/storage"
)

var asJSON bool

func main() {
	root := &cobra.Command{
		Use:   "accelctl",
		Short: "Inspect accelerometer recordings",
		Long: `accelctl reads the binary recordings and calibration blob written by the
logger.

Commands:
  info <file>       Print the file header
  analyze <file>    Min/max/RMS and a decimated series
  fft <file>        Magnitude spectrum of one axis
  csv <file>        Export as CSV
  ls [dir]          List recordings and disk usage
  calib <blob>      Show a calibration blob`,
		Version:      app.Version,
		SilenceUsage: true,
	}
	root.PersistentFlags().BoolVar(&asJSON, "json", false, "print JSON instead of text")

	root.AddCommand(
		infoCmd(),
		analyzeCmd(),
		fftCmd(),
		csvCmd(),
		lsCmd(),
		calibCmd(),
	)

	if err := fang.Execute(context.Background(), root); err != nil {
		os.Exit(1)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <file>",
		Short: "Print the file header",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			h, err := storage.ReadHeader(f)
			if err != nil {
				return err
			}
			fi, err := f.Stat()
			if err != nil {
				return err
			}
			used := h.UsableSamples(fi.Size())
			cal := h.Calibration()
			if asJSON {
				return printJSON(map[string]any{
					"file":        filepath.Base(args[0]),
					"size":        fi.Size(),
					"version":     h.Version,
					"rate_hz":     h.RateHz,
					"record_s":    h.RecordS,
					"samples":     h.Samples,
					"usable":      used,
					"fs_g":        h.FullScale,
					"res_bits":    h.ResBits,
					"q_bits":      h.QBits,
					"calibration": cal,
				})
			}
			fmt.Printf("file:        %s (%s)\n", filepath.Base(args[0]), humanize.Bytes(uint64(fi.Size())))
			fmt.Printf("version:     %d\n", h.Version)
			fmt.Printf("rate:        %d Hz for %d s\n", h.RateHz, h.RecordS)
			fmt.Printf("samples:     %s in header, %s usable\n", humanize.Comma(int64(h.Samples)), humanize.Comma(int64(used)))
			fmt.Printf("full scale:  ±%d g, %d-bit, q=%d\n", h.FullScale, h.ResBits, h.QBits)
			fmt.Printf("calibration: enabled=%t offset=%v scale=%v\n", cal.Enabled, cal.Offset, cal.Scale)
			return nil
		},
	}
}

func analyzeCmd() *cobra.Command {
	var points int
	cmd := &cobra.Command{
		Use:   "analyze <file>",
		Short: "Min/max/RMS and a decimated series",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sum, err := analysis.Summarize(args[0], points)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(sum)
			}
			fmt.Printf("%s: %s of %s samples at %d Hz, %d points (%.2f Hz effective)\n",
				filepath.Base(args[0]), humanize.Comma(int64(sum.SamplesUsed)), humanize.Comma(int64(sum.SamplesHeader)),
				sum.RateHz, sum.Points, sum.EffectiveHz)
			for i, axis := range []string{"x", "y", "z"} {
				fmt.Printf("  %s: min=%+.4f g  max=%+.4f g  rms=%.4f g\n", axis, sum.Min[i], sum.Max[i], sum.RMS[i])
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&points, "points", analysis.DefaultMaxPoints, "maximum decimated points")
	return cmd
}

func fftCmd() *cobra.Command {
	var axis string
	var size int
	var bins int
	cmd := &cobra.Command{
		Use:   "fft <file>",
		Short: "Magnitude spectrum of one axis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !analysis.ValidFFTSize(size) {
				return fmt.Errorf("--size must be a power of two of at least %d, got %d", analysis.MinFFTSamples, size)
			}
			spec, err := analysis.ComputeSpectrum(args[0], axis, size)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(spec)
			}
			fmt.Printf("%s axis %s: N=%d df=%.4f Hz peak %.3f Hz (%.5f)\n",
				filepath.Base(args[0]), spec.Axis, spec.N, spec.DF, spec.PeakHz, spec.PeakMag)
			for i, m := range spec.FFT {
				if i >= bins {
					break
				}
				fmt.Printf("  %8.3f Hz  %.5f\n", float64(i+1)*spec.DF, m)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&axis, "axis", "z", "axis to transform (x, y or z)")
	cmd.Flags().IntVar(&size, "size", analysis.DefaultFFTSize, "transform length")
	cmd.Flags().IntVar(&bins, "bins", 0, "number of bins to print")
	return cmd
}

func csvCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "csv <file>",
		Short: "Export as CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := os.Stdout
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return storage.ExportCSV(w, args[0])
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "write to file instead of stdout")
	return cmd
}

func lsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls [dir]",
		Short: "List recordings and disk usage",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "./data"
			if len(args) == 1 {
				dir = args[0]
			}
			files, err := storage.ListRecordings(dir)
			if err != nil {
				return err
			}
			usage, err := storage.DiskUsage(dir)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(map[string]any{"files": files, "usage": usage})
			}
			for _, f := range files {
				fmt.Printf("%-28s %10s\n", f.Name, humanize.Bytes(uint64(f.Size)))
			}
			fmt.Printf("%d files, %s used of %s, %s free\n", len(files),
				humanize.Bytes(usage.Used), humanize.Bytes(usage.Total), humanize.Bytes(usage.Free))
			return nil
		},
	}
}

func calibCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "calib <blob>",
		Short: "Show a calibration blob",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cal, err := storage.NewCalibrationStore(args[0]).Load()
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cal)
			}
			if !cal.Enabled {
				fmt.Println("calibration disabled")
				return nil
			}
			fmt.Printf("offset (g): %+.5f %+.5f %+.5f\n", cal.Offset[0], cal.Offset[1], cal.Offset[2])
			fmt.Printf("scale:      %.5f %.5f %.5f\n", cal.Scale[0], cal.Scale[1], cal.Scale[2])
			return nil
		},
	}
}
