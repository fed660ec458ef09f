package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"barcode-picker-go/internal/camera"
	"barcode-picker-go/internal/picker"
	"barcode-picker-go/internal/scan"
	"barcode-picker-go/internal/scanner"
)

var (
	parseFormat string

	imageCmd = &cobra.Command{
		Use:   "image FILE...",
		Short: "Scan still images without opening a window",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runImage,
	}

	parseCmd = &cobra.Command{
		Use:   "parse DATA",
		Short: "Parse barcode data with a data format parser (gs1, hibc, dlid, mrtd, swissqr)",
		Args:  cobra.ExactArgs(1),
		RunE:  runParse,
	}

	camerasCmd = &cobra.Command{
		Use:   "cameras",
		Short: "List capture devices and their capabilities",
		Args:  cobra.NoArgs,
		RunE:  runCameras,
	}
)

func init() {
	parseCmd.Flags().StringVarP(&parseFormat, "format", "f", "gs1", "Data format of DATA")
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
}

func newChannel() (*scanner.Channel, error) {
	opts, err := cfg.ChannelOptions(logger)
	if err != nil {
		return nil, err
	}
	return scanner.New(opts)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ===== image =====

type barcodeReport struct {
	Symbology string `json:"symbology"`
	Name      string `json:"name"`
	Data      string `json:"data"`
}

type imageReport struct {
	File     string          `json:"file"`
	Barcodes []barcodeReport `json:"barcodes"`
	Error    string          `json:"error,omitempty"`
}

func runImage(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	ch, err := newChannel()
	if err != nil {
		return err
	}
	opts := cfg.PickerOptions()
	opts.SingleImage = picker.SingleImageMode{Always: true}
	p, err := picker.New(ctx, opts, picker.Deps{Engine: ch, View: &picker.HeadlessView{}, Logger: logger})
	if err != nil {
		ch.Teardown()
		return err
	}
	defer p.Destroy(true)

	reports, failed := scanImages(ctx, p, args)
	if err := printImageReports(cmd.OutOrStdout(), reports); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d images failed", failed, len(args))
	}
	return nil
}

// scanImages runs every file through the picker. The session is cleared
// between files so identical codes in different images are all reported.
func scanImages(ctx context.Context, p *picker.Picker, paths []string) ([]imageReport, int) {
	reports := make([]imageReport, 0, len(paths))
	failed := 0
	for _, path := range paths {
		if ctx.Err() != nil {
			break
		}
		p.ClearSession()
		rep := imageReport{File: path, Barcodes: []barcodeReport{}}
		res, err := p.ProcessImageFile(ctx, path)
		if err != nil {
			failed++
			rep.Error = err.Error()
			logger.WithError(err).WithField("file", path).Warn("image scan failed")
			var ee *scan.EngineError
			if errors.As(err, &ee) {
				// engine errors pause the picker
				if rerr := p.ResumeScanning(ctx); rerr != nil {
					logger.WithError(rerr).Warn("resume failed")
				}
			}
		} else {
			rep.Barcodes = barcodeReports(res)
			logger.WithFields(logrus.Fields{"file": path, "barcodes": len(rep.Barcodes)}).Debug("image scanned")
		}
		reports = append(reports, rep)
	}
	return reports, failed
}

func barcodeReports(res *scan.ScanResult) []barcodeReport {
	out := []barcodeReport{}
	for i, bc := range res.Barcodes {
		if res.IsRejected(i) {
			continue
		}
		out = append(out, barcodeReport{
			Symbology: string(bc.Symbology),
			Name:      bc.Symbology.HumanizedName(),
			Data:      bc.Data,
		})
	}
	return out
}

func printImageReports(w io.Writer, reports []imageReport) error {
	if jsonOutput {
		return writeJSON(w, reports)
	}
	for _, r := range reports {
		switch {
		case r.Error != "":
			fmt.Fprintf(w, "%s: error: %s\n", r.File, r.Error)
		case len(r.Barcodes) == 0:
			fmt.Fprintf(w, "%s: no barcode found\n", r.File)
		default:
			for _, bc := range r.Barcodes {
				fmt.Fprintf(w, "%s: %s: %s\n", r.File, bc.Name, bc.Data)
			}
		}
	}
	return nil
}

// ===== parse =====

func runParse(cmd *cobra.Command, args []string) error {
	format, err := scan.ParseDataFormat(parseFormat)
	if err != nil {
		return err
	}
	ctx, stop := signalContext(cmd)
	defer stop()

	ch, err := newChannel()
	if err != nil {
		return err
	}
	defer ch.Teardown()

	res, err := ch.CreateParserForFormat(format).ParseString(args[0]).Wait(ctx)
	if err != nil {
		return err
	}
	return printParserResult(cmd.OutOrStdout(), res)
}

func printParserResult(w io.Writer, res *scan.ParserResult) error {
	if jsonOutput {
		return writeJSON(w, res.Fields)
	}
	t := newTable(w, "FIELD", "RAW", "PARSED")
	for _, f := range res.Fields {
		t.Row(f.Name, f.RawString, fmt.Sprint(f.Parsed))
	}
	_, err := fmt.Fprintln(w, t.Render())
	return err
}

// newTable renders with the color profile of w, so redirected output
// carries no escape sequences.
func newTable(w io.Writer, headers ...string) *table.Table {
	r := lipgloss.NewRenderer(w)
	header := r.NewStyle().Bold(true).Padding(0, 1)
	cell := r.NewStyle().Padding(0, 1)
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(r.NewStyle().Foreground(lipgloss.Color("240"))).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			return cell
		})
}

// ===== cameras =====

type cameraReport struct {
	DeviceID  string `json:"deviceId"`
	Path      string `json:"path"`
	Label     string `json:"label"`
	Type      string `json:"type"`
	Preferred bool   `json:"preferred"`
	Torch     bool   `json:"torch"`
}

type camerasReport struct {
	Capture bool           `json:"capture"`
	Cameras []cameraReport `json:"cameras"`
}

func runCameras(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	report := camerasReport{Cameras: []cameraReport{}}
	if err := (camera.FFmpegSource{Binary: cfg.FFmpegBinary}).Probe(); err != nil {
		logger.WithError(err).Warn("capture unavailable")
	} else {
		report.Capture = true
	}

	cams, err := camera.Discover(ctx, camera.DefaultPaths)
	if err != nil {
		return err
	}
	preferred, hasPreferred := camera.PreferredCamera(cams)
	for _, c := range cams {
		report.Cameras = append(report.Cameras, cameraReport{
			DeviceID:  c.DeviceID,
			Path:      c.DevicePath,
			Label:     c.Label,
			Type:      c.Type.String(),
			Preferred: hasPreferred && c.DevicePath == preferred.DevicePath,
			Torch:     camera.HasTorch(ctx, c, cfg.TorchControl),
		})
	}
	return printCameras(cmd.OutOrStdout(), report)
}

func printCameras(w io.Writer, r camerasReport) error {
	if jsonOutput {
		return writeJSON(w, r)
	}
	if !r.Capture {
		fmt.Fprintln(w, "warning: capture binary not found, cameras cannot be opened")
	}
	if len(r.Cameras) == 0 {
		fmt.Fprintln(w, "no cameras found")
		return nil
	}
	t := newTable(w, "DEVICE", "PATH", "LABEL", "TYPE", "TORCH")
	for _, c := range r.Cameras {
		id := c.DeviceID
		if c.Preferred {
			id += "*"
		}
		t.Row(id, c.Path, c.Label, c.Type, strconv.FormatBool(c.Torch))
	}
	_, err := fmt.Fprintln(w, t.Render())
	return err
}
