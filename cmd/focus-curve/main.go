// focus-curve renders the raw data of a recorded autofocus run as an HTML
// chart. Feed it the "data" object returned by the autofocus actions, e.g.
//
//	curl -s -X POST :5000/api/v2/actions/autofocus/move -d '{"dz":2000}' ...
//	focus-curve -in sweep.json -out sweep.html
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/openstage/go-microscope/pkg/autofocus"
)

func main() {
	in := flag.String("in", "", "sweep data JSON file")
	out := flag.String("out", "focus-curve.html", "output HTML file")
	flag.Parse()

	if *in == "" {
		fmt.Fprintln(os.Stderr, "usage: focus-curve -in sweep.json [-out sweep.html]")
		os.Exit(2)
	}

	raw, err := os.ReadFile(*in)
	if err != nil {
		fatal(err)
	}
	var data autofocus.Data
	if err := json.Unmarshal(raw, &data); err != nil {
		fatal(fmt.Errorf("parse %s: %w", *in, err))
	}
	if len(data.FrameTimes) == 0 {
		fatal(fmt.Errorf("%s contains no frame samples", *in))
	}

	page := components.NewPage()
	page.SetPageTitle("focus curve")
	page.AddCharts(sizeChart(&data), positionChart(&data))

	f, err := os.Create(*out)
	if err != nil {
		fatal(err)
	}
	defer f.Close()
	if err := page.Render(f); err != nil {
		fatal(fmt.Errorf("render chart: %w", err))
	}
	fmt.Println("wrote", *out)
}

// sizeChart plots the frame-size sharpness proxy over the run.
func sizeChart(data *autofocus.Data) *charts.Line {
	t0 := data.FrameTimes[0]

	xs := make([]string, len(data.FrameTimes))
	ys := make([]opts.LineData, len(data.FrameSizes))
	for i, ft := range data.FrameTimes {
		xs[i] = fmt.Sprintf("%.0f", ft.Sub(t0).Seconds()*1000)
		ys[i] = opts.LineData{Value: data.FrameSizes[i]}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Frame size over time",
			Subtitle: "compressed frame size is the sharpness proxy",
		}),
		charts.WithXAxisOpts(opts.XAxis{Name: "time (ms)"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "bytes"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	line.SetXAxis(xs).AddSeries("frame size", ys)
	return line
}

// positionChart plots the bracketing stage z samples of each move.
func positionChart(data *autofocus.Data) *charts.Line {
	if len(data.StageTimes) == 0 {
		return charts.NewLine()
	}
	t0 := data.StageTimes[0]

	xs := make([]string, len(data.StageTimes))
	ys := make([]opts.LineData, len(data.StagePositions))
	for i, st := range data.StageTimes {
		xs[i] = fmt.Sprintf("%.0f", st.Sub(t0).Seconds()*1000)
		ys[i] = opts.LineData{Value: data.StagePositions[i].Z}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Stage z over time"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "time (ms)"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "z (steps)"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	line.SetXAxis(xs).AddSeries("stage z", ys)
	return line
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "focus-curve:", err)
	os.Exit(1)
}
