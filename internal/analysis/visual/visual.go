// Package visual 用 go-echarts 组装K线页与净值曲线页，chromedp 截成
// PNG。无头浏览器缺失时降级为纯 HTML 输出并只告警一次，图表能力
// 永远不阻塞交易路径。
package visual

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	etypes "github.com/go-echarts/go-echarts/v2/types"

	"crest/internal/logger"
	"crest/internal/market"
	"crest/internal/pkg/symbol"
	"crest/internal/types"
)

// Artifact 一次渲染的产物。PNG 可能为空（无头浏览器不可用或截图
// 失败），HTML 始终可用。
type Artifact struct {
	PNG      []byte
	HTML     []byte
	Base64   string
	Filename string
}

// DataURI 返回可内嵌进提示词或网页的 data URI，无 PNG 时为空串。
func (a *Artifact) DataURI() string {
	if a == nil {
		return ""
	}
	if a.Base64 == "" && len(a.PNG) > 0 {
		a.Base64 = base64.StdEncoding.EncodeToString(a.PNG)
	}
	if a.Base64 == "" {
		return ""
	}
	return "data:image/png;base64," + a.Base64
}

func (a *Artifact) HasImage() bool { return a != nil && len(a.PNG) > 0 }

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorBull          = "#34d399"
	colorBear          = "#f87171"
	colorMAFast        = "#3b82f6"
	colorMASlow        = "#f472b6"
	colorEquity        = "#22d3ee"
	colorDrawdown      = "#fb7185"

	chartWidthPx     = 1600
	klineHeightPx    = 600
	volumeHeightPx   = 260
	equityHeightPx   = 460
	drawdownHeightPx = 260

	screenshotTimeout = 20 * time.Second
)

// KlineInput K线渲染输入。AvgEntry/StopLoss/TakeProfit 大于0时画成
// 水平标记线，用于持仓快照和 AI 提示词配图。
type KlineInput struct {
	Symbol     string
	Interval   string
	Candles    market.Candles
	FastMA     int
	SlowMA     int
	AvgEntry   float64
	StopLoss   float64
	TakeProfit float64
}

// EquityInput 净值曲线渲染输入，Points 按时间升序。
type EquityInput struct {
	Symbol string
	Points []types.EquitySnapshot
}

// RenderKline 组装K线+均线+成交量页面并尽力截成 PNG。
func RenderKline(ctx context.Context, in KlineInput) (Artifact, error) {
	html, err := buildKlineHTML(in)
	if err != nil {
		return Artifact{}, err
	}
	art := Artifact{
		HTML:     html,
		Filename: fmt.Sprintf("%s_%s_kline.png", strings.ToLower(symbol.FileToken(in.Symbol)), in.Interval),
	}
	if png, ok := snapshotPNG(ctx, html, chartWidthPx, klineHeightPx+volumeHeightPx); ok {
		art.PNG = png
		art.Base64 = base64.StdEncoding.EncodeToString(png)
	}
	return art, nil
}

// RenderEquity 组装净值+回撤页面并尽力截成 PNG。
func RenderEquity(ctx context.Context, in EquityInput) (Artifact, error) {
	html, err := EquityHTML(in)
	if err != nil {
		return Artifact{}, err
	}
	art := Artifact{
		HTML:     html,
		Filename: fmt.Sprintf("%s_equity.png", strings.ToLower(symbol.FileToken(in.Symbol))),
	}
	if png, ok := snapshotPNG(ctx, html, chartWidthPx, equityHeightPx+drawdownHeightPx); ok {
		art.PNG = png
		art.Base64 = base64.StdEncoding.EncodeToString(png)
	}
	return art, nil
}

var (
	headlessOnce sync.Once
	headlessErr  error
	degradeOnce  sync.Once
)

// EnsureHeadlessAvailable 探测一次无头浏览器，结果缓存进程生命周期。
func EnsureHeadlessAvailable(ctx context.Context) error {
	headlessOnce.Do(func() {
		targetCtx := ctx
		if targetCtx == nil {
			targetCtx = context.Background()
		}
		parent, cancel := chromedp.NewContext(targetCtx)
		if cancel != nil {
			defer cancel()
		}
		headlessErr = chromedp.Run(parent)
	})
	return headlessErr
}

func snapshotPNG(ctx context.Context, html []byte, width, height int) ([]byte, bool) {
	if err := EnsureHeadlessAvailable(ctx); err != nil {
		degradeOnce.Do(func() {
			logger.Warnf("未检测到可用的无头浏览器，图表降级为纯HTML输出: %v", err)
		})
		return nil, false
	}
	png, err := renderHTMLToPNG(ctx, html, width, height)
	if err != nil {
		logger.Warnf("图表截图失败，本次降级为纯HTML输出: %v", err)
		return nil, false
	}
	return png, true
}

func buildKlineHTML(in KlineInput) ([]byte, error) {
	if in.Symbol == "" {
		return nil, fmt.Errorf("symbol required for kline render")
	}
	if len(in.Candles) == 0 {
		return nil, fmt.Errorf("no candles to render for %s", in.Symbol)
	}

	minPrice, maxPrice := priceBounds(in.Candles, in.AvgEntry, in.StopLoss, in.TakeProfit)
	padding := (maxPrice - minPrice) * 0.05
	if padding <= 0 {
		padding = math.Max(1, math.Abs(maxPrice)*0.01)
	}

	kline := charts.NewKLine()
	kline.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           etypes.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", klineHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithTitleOpts(opts.Title{
			Title:         fmt.Sprintf("%s %s", strings.ToUpper(in.Symbol), in.Interval),
			Subtitle:      klineSubtitle(in),
			Left:          "left",
			Top:           "10",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(false)},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			Min:       round(minPrice-padding, 4),
			Max:       round(maxPrice+padding, 4),
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
		}),
	)
	kline.SetSeriesOptions(
		charts.WithItemStyleOpts(opts.ItemStyle{
			Color:        colorBull,
			Color0:       colorBear,
			BorderColor:  colorBull,
			BorderColor0: colorBear,
		}),
	)

	xAxis := buildXAxis(in.Candles)
	data := make([]opts.KlineData, 0, len(in.Candles))
	for _, c := range in.Candles {
		data = append(data, opts.KlineData{Value: [4]float64{c.Open, c.Close, c.Low, c.High}})
	}
	kline.SetXAxis(xAxis)
	kline.AddSeries("Price", data,
		charts.WithMarkLineNameYAxisItemOpts(markerLines(in)...),
		charts.WithMarkLineStyleOpts(opts.MarkLineStyle{
			Symbol: []string{"none", "none"},
			Label:  &opts.Label{Show: opts.Bool(true), Color: colorTextPrimary, Formatter: "{b}: {c}"},
		}),
	)

	kline.Overlap(maOverlay(in, xAxis))

	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.AddCharts(kline, buildVolumeChart(in.Interval, xAxis, in.Candles))

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func klineSubtitle(in KlineInput) string {
	last := in.Candles[len(in.Candles)-1].Close
	parts := []string{fmt.Sprintf("收盘 %.4f", last)}
	if fast, ok := lastMA(in.Candles.Closes(), in.FastMA); ok {
		parts = append(parts, fmt.Sprintf("MA%d %.4f", in.FastMA, fast))
	}
	if slow, ok := lastMA(in.Candles.Closes(), in.SlowMA); ok {
		parts = append(parts, fmt.Sprintf("MA%d %.4f", in.SlowMA, slow))
	}
	return strings.Join(parts, " | ")
}

func markerLines(in KlineInput) []opts.MarkLineNameYAxisItem {
	items := make([]opts.MarkLineNameYAxisItem, 0, 3)
	if in.AvgEntry > 0 {
		items = append(items, opts.MarkLineNameYAxisItem{Name: "持仓均价", YAxis: round(in.AvgEntry, 4)})
	}
	if in.StopLoss > 0 {
		items = append(items, opts.MarkLineNameYAxisItem{Name: "止损", YAxis: round(in.StopLoss, 4)})
	}
	if in.TakeProfit > 0 {
		items = append(items, opts.MarkLineNameYAxisItem{Name: "止盈", YAxis: round(in.TakeProfit, 4)})
	}
	return items
}

func maOverlay(in KlineInput, xAxis []string) *charts.Line {
	line := charts.NewLine()
	line.SetSeriesOptions(
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)
	line.SetXAxis(xAxis)
	closes := in.Candles.Closes()
	if in.FastMA > 0 {
		line.AddSeries(fmt.Sprintf("MA%d", in.FastMA), toLineData(smaSeries(closes, in.FastMA), len(closes)),
			charts.WithLineStyleOpts(opts.LineStyle{Color: colorMAFast, Width: 2}))
	}
	if in.SlowMA > 0 {
		line.AddSeries(fmt.Sprintf("MA%d", in.SlowMA), toLineData(smaSeries(closes, in.SlowMA), len(closes)),
			charts.WithLineStyleOpts(opts.LineStyle{Color: colorMASlow, Width: 2}))
	}
	return line
}

func buildVolumeChart(interval string, xAxis []string, candles market.Candles) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           etypes.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", volumeHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{Title: fmt.Sprintf("Volume %s", interval), Left: "left", TitleStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{
			SplitNumber: 6,
			AxisLabel:   &opts.AxisLabel{Show: opts.Bool(false)},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			AxisLabel: &opts.AxisLabel{Show: opts.Bool(true), Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.15)}},
		}),
	)
	vols := make([]opts.BarData, len(candles))
	for i, c := range candles {
		color := colorBear
		if c.Close >= c.Open {
			color = colorBull
		}
		vols[i] = opts.BarData{
			Value:     c.Volume,
			ItemStyle: &opts.ItemStyle{Color: color, Opacity: opts.Float(0.6)},
		}
	}
	bar.SetXAxis(xAxis)
	bar.AddSeries("Volume", vols)
	return bar
}

// EquityHTML 组装净值+回撤页面，观察端点直接吐这份 HTML。
func EquityHTML(in EquityInput) ([]byte, error) {
	if in.Symbol == "" {
		return nil, fmt.Errorf("symbol required for equity render")
	}
	if len(in.Points) == 0 {
		return nil, fmt.Errorf("no equity points to render for %s", in.Symbol)
	}

	xAxis := make([]string, len(in.Points))
	equity := make([]opts.LineData, len(in.Points))
	for i, p := range in.Points {
		xAxis[i] = time.UnixMilli(p.TimeMS).UTC().Format("01-02 15:04")
		equity[i] = opts.LineData{Value: round(p.Equity, 4)}
	}
	dd := drawdownSeries(in.Points)
	maxDD := 0.0
	for _, v := range dd {
		if v < maxDD {
			maxDD = v
		}
	}

	equityLine := charts.NewLine()
	equityLine.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           etypes.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", equityHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:         fmt.Sprintf("%s 净值曲线", strings.ToUpper(in.Symbol)),
			Subtitle:      fmt.Sprintf("最新 %.2f USDT | 最大回撤 %.2f%%", in.Points[len(in.Points)-1].Equity, maxDD),
			Left:          "left",
			Top:           "10",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Color: colorTextSecondary}}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
		}),
	)
	equityLine.SetXAxis(xAxis)
	equityLine.AddSeries("Equity", equity,
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquity, Width: 2}),
		charts.WithAreaStyleOpts(opts.AreaStyle{Color: colorEquity, Opacity: opts.Float(0.12)}),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)

	ddLine := charts.NewLine()
	ddLine.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           etypes.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", drawdownHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{Title: "回撤 %", Left: "left", TitleStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Show: opts.Bool(false)}}),
		charts.WithYAxisOpts(opts.YAxis{
			AxisLabel: &opts.AxisLabel{Show: opts.Bool(true), Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.15)}},
		}),
	)
	ddData := make([]opts.LineData, len(dd))
	for i, v := range dd {
		ddData[i] = opts.LineData{Value: v}
	}
	ddLine.SetXAxis(xAxis)
	ddLine.AddSeries("Drawdown", ddData,
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorDrawdown, Width: 2}),
		charts.WithAreaStyleOpts(opts.AreaStyle{Color: colorDrawdown, Opacity: opts.Float(0.25)}),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)

	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.AddCharts(equityLine, ddLine)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func buildXAxis(candles market.Candles) []string {
	x := make([]string, len(candles))
	for i, c := range candles {
		x[i] = time.UnixMilli(c.CloseTime).UTC().Format("01-02 15:04")
	}
	return x
}

// smaSeries 简单滑动均线，前 period-1 根无值。
func smaSeries(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	out := make([]float64, 0, len(values)-period+1)
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out = append(out, sum/float64(period))
		}
	}
	return out
}

func lastMA(values []float64, period int) (float64, bool) {
	series := smaSeries(values, period)
	if len(series) == 0 {
		return 0, false
	}
	return series[len(series)-1], true
}

// drawdownSeries 逐点相对历史峰值的回撤百分比，新高处为0。
func drawdownSeries(points []types.EquitySnapshot) []float64 {
	out := make([]float64, len(points))
	peak := math.Inf(-1)
	for i, p := range points {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak > 0 {
			out[i] = round((p.Equity-peak)/peak*100, 2)
		}
	}
	return out
}

// toLineData 把尾部对齐的序列铺到整个X轴长度上，前缀补空值。
func toLineData(series []float64, length int) []opts.LineData {
	line := make([]opts.LineData, length)
	offset := length - len(series)
	if offset < 0 {
		offset = 0
	}
	for i := 0; i < offset; i++ {
		line[i] = opts.LineData{Value: nil}
	}
	for i := 0; i < len(series) && offset+i < length; i++ {
		val := series[i]
		if math.IsNaN(val) {
			line[offset+i] = opts.LineData{Value: nil}
		} else {
			line[offset+i] = opts.LineData{Value: round(val, 4)}
		}
	}
	return line
}

func round(val float64, decimals int) float64 {
	if decimals <= 0 {
		return math.Round(val)
	}
	scale := math.Pow10(decimals)
	return math.Round(val*scale) / scale
}

// priceBounds K线价格范围，并把标记线价位并入，保证止损止盈可见。
func priceBounds(candles market.Candles, markers ...float64) (minVal, maxVal float64) {
	if len(candles) == 0 {
		return 0, 0
	}
	minVal = candles[0].Low
	maxVal = candles[0].High
	for _, c := range candles {
		if c.Low < minVal {
			minVal = c.Low
		}
		if c.High > maxVal {
			maxVal = c.High
		}
	}
	for _, m := range markers {
		if m <= 0 {
			continue
		}
		if m < minVal {
			minVal = m
		}
		if m > maxVal {
			maxVal = m
		}
	}
	return minVal, maxVal
}

func renderHTMLToPNG(ctx context.Context, html []byte, width, height int) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	parent, cancel := chromedp.NewContext(ctx)
	defer cancel()

	timeoutCtx, cancelTimeout := context.WithTimeout(parent, screenshotTimeout)
	defer cancelTimeout()

	dataURI := "data:text/html;base64," + base64.StdEncoding.EncodeToString(html)
	var screenshot []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(width), int64(height)),
		chromedp.Navigate(dataURI),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(1500 * time.Millisecond),
		chromedp.FullScreenshot(&screenshot, 0),
	}
	if err := chromedp.Run(timeoutCtx, tasks...); err != nil {
		return nil, err
	}
	return screenshot, nil
}
