package metrics

import (
	"log/slog"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"signalbot/src/datamodels"
	"signalbot/src/utils/errors"
)

// EquityPlotter renders a backtest as two stacked panels: the compounded
// equity curve and the per-trade returns.
type EquityPlotter struct {
	title    string
	equity   []datamodels.EquityPoint
	trades   []datamodels.BacktestTrade
	filename string
	width    vg.Length
	height   vg.Length
}

func NewEquityPlotter() *EquityPlotter {
	return &EquityPlotter{
		title:  "Backtest",
		width:  10 * vg.Inch,
		height: 8 * vg.Inch,
	}
}

func (pb *EquityPlotter) WithTitle(title string) *EquityPlotter {
	pb.title = title
	return pb
}

func (pb *EquityPlotter) WithEquity(equity []datamodels.EquityPoint) *EquityPlotter {
	pb.equity = equity
	return pb
}

func (pb *EquityPlotter) WithTrades(trades []datamodels.BacktestTrade) *EquityPlotter {
	pb.trades = trades
	return pb
}

func (pb *EquityPlotter) WithFileOutput(filename string) *EquityPlotter {
	pb.filename = filename
	return pb
}

func (pb *EquityPlotter) Build() (*EquityPlotter, error) {
	if len(pb.equity) == 0 {
		return nil, errors.New("no equity points to plot")
	}
	if pb.filename == "" {
		return nil, errors.New("filename is not set")
	}
	return pb, nil
}

// Plot writes a PNG to the configured file.
func (pb *EquityPlotter) Plot() error {
	slog.Info("Plotting equity curve", "filename", pb.filename, "points", len(pb.equity), "trades", len(pb.trades))

	equityPlot, err := pb.equityPanel()
	if err != nil {
		return err
	}
	returnsPlot, err := pb.returnsPanel()
	if err != nil {
		return err
	}

	img := vgimg.New(pb.width, pb.height)
	dc := draw.New(img)
	tiles := draw.Tiles{
		Rows:      2,
		Cols:      1,
		PadX:      vg.Millimeter,
		PadY:      vg.Millimeter,
		PadTop:    vg.Points(10),
		PadBottom: vg.Points(10),
		PadLeft:   vg.Points(10),
		PadRight:  vg.Points(10),
	}
	grid := [][]*plot.Plot{{equityPlot}, {returnsPlot}}
	canvases := plot.Align(grid, tiles, dc)
	for i := range grid {
		grid[i][0].Draw(canvases[i][0])
	}

	if err := os.MkdirAll(filepath.Dir(pb.filename), 0755); err != nil {
		return errors.Wrap(err, "create plot directory")
	}
	f, err := os.Create(pb.filename)
	if err != nil {
		return errors.Wrap(err, "create plot file")
	}
	defer f.Close()

	png := vgimg.PngCanvas{Canvas: img}
	if _, err := png.WriteTo(f); err != nil {
		return errors.Wrap(err, "write plot")
	}
	return nil
}

func (pb *EquityPlotter) equityPanel() (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = pb.title + " equity"
	p.X.Label.Text = "Time"
	p.Y.Label.Text = "Equity"
	p.X.Tick.Marker = plot.TimeTicks{Format: "2006-01-02\n15:04"}

	pts := make(plotter.XYs, len(pb.equity))
	for i, point := range pb.equity {
		pts[i].X = float64(point.Time.Unix())
		pts[i].Y = point.Equity
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, errors.Wrap(err, "equity line")
	}
	line.Color = plotutil.Color(0)
	p.Add(line, plotter.NewGrid())
	return p, nil
}

func (pb *EquityPlotter) returnsPanel() (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = "Trade returns"
	p.X.Label.Text = "Exit time"
	p.Y.Label.Text = "Return"
	p.X.Tick.Marker = plot.TimeTicks{Format: "2006-01-02\n15:04"}
	p.Add(plotter.NewGrid())

	if len(pb.trades) == 0 {
		return p, nil
	}

	byOutcome := map[datamodels.SignalStatus]plotter.XYs{}
	for _, trade := range pb.trades {
		byOutcome[trade.Outcome] = append(byOutcome[trade.Outcome], plotter.XY{
			X: float64(trade.ExitTime.Unix()),
			Y: trade.Return,
		})
	}
	outcomes := []datamodels.SignalStatus{
		datamodels.SignalStatusClosedWin,
		datamodels.SignalStatusClosedLoss,
		datamodels.SignalStatusExpired,
	}
	for i, outcome := range outcomes {
		pts, ok := byOutcome[outcome]
		if !ok {
			continue
		}
		scatter, err := plotter.NewScatter(pts)
		if err != nil {
			return nil, errors.Wrapf(err, "scatter %s", outcome)
		}
		scatter.Color = plotutil.Color(i + 1)
		scatter.Shape = plotutil.Shape(i)
		p.Add(scatter)
		p.Legend.Add(string(outcome), scatter)
	}
	return p, nil
}

// PlotEquityCurve is the one-call form used by the backtest.
func PlotEquityCurve(filename, title string, equity []datamodels.EquityPoint, trades []datamodels.BacktestTrade) error {
	equityPlotter, err := NewEquityPlotter().
		WithTitle(title).
		WithEquity(equity).
		WithTrades(trades).
		WithFileOutput(filename).
		Build()
	if err != nil {
		return err
	}
	return equityPlotter.Plot()
}
