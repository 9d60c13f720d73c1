package stubservice

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	_ "image/png"
	"math"

	_ "golang.org/x/image/bmp"
	"gonum.org/v1/gonum/stat"

	"go-symmetry-console/pkg/models"
)

const (
	sampleSize        = 64
	reflectThreshold  = 0.85
	diagonalThreshold = 0.75
	radialThreshold   = 0.70
	reflectWeight     = 1.5
	radialWeight      = 1.2
	diagonalWeight    = 1.0
	processedQuality  = 85
)

// Analysis is the scorer's verdict on one image
type Analysis struct {
	Score         float64
	Axes          []models.SymmetryAxis
	Regions       []models.SymmetryRegion
	HasVertical   bool
	HasHorizontal bool
	HasRadial     bool
	Processed     []byte
}

// Analyze decodes data and scores its mirror symmetry by comparing a grayscale
// downsample with its reflections. It stands in for the real detector.
func Analyze(data []byte) (*Analysis, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	bounds := img.Bounds()
	w, h := float64(bounds.Dx()), float64(bounds.Dy())
	g := grayscale(img, sampleSize)

	result := &Analysis{}
	var scores, weights []float64

	vertical := g.correlate(func(x, y int) (int, int, bool) { return g.w - 1 - x, y, x < g.w/2 })
	if vertical >= reflectThreshold {
		result.HasVertical = true
		result.Axes = append(result.Axes, models.SymmetryAxis{
			Type: models.AxisVertical, Angle: 90, Confidence: vertical,
			Coordinates: models.AxisCoordinates{X1: w / 2, Y1: 0, X2: w / 2, Y2: h},
		})
		scores, weights = append(scores, vertical), append(weights, reflectWeight)
	}

	horizontal := g.correlate(func(x, y int) (int, int, bool) { return x, g.h - 1 - y, y < g.h/2 })
	if horizontal >= reflectThreshold {
		result.HasHorizontal = true
		result.Axes = append(result.Axes, models.SymmetryAxis{
			Type: models.AxisHorizontal, Angle: 0, Confidence: horizontal,
			Coordinates: models.AxisCoordinates{X1: 0, Y1: h / 2, X2: w, Y2: h / 2},
		})
		scores, weights = append(scores, horizontal), append(weights, reflectWeight)
	}

	// diagonals are compared on the square sample; the axis spans the full image
	n := g.w
	if g.h < n {
		n = g.h
	}
	mainDiag := g.correlate(func(x, y int) (int, int, bool) { return y, x, x < n && y < n && x > y })
	if mainDiag >= diagonalThreshold {
		result.Axes = append(result.Axes, models.SymmetryAxis{
			Type: models.AxisMainDiagonal, Angle: 45, Confidence: mainDiag,
			Coordinates: models.AxisCoordinates{X1: 0, Y1: 0, X2: w, Y2: h},
		})
		scores, weights = append(scores, mainDiag), append(weights, diagonalWeight)
	}
	antiDiag := g.correlate(func(x, y int) (int, int, bool) {
		return n - 1 - y, n - 1 - x, x < n && y < n && x+y < n-1
	})
	if antiDiag >= diagonalThreshold {
		result.Axes = append(result.Axes, models.SymmetryAxis{
			Type: models.AxisAntiDiagonal, Angle: 135, Confidence: antiDiag,
			Coordinates: models.AxisCoordinates{X1: w, Y1: 0, X2: 0, Y2: h},
		})
		scores, weights = append(scores, antiDiag), append(weights, diagonalWeight)
	}

	radial := g.correlate(func(x, y int) (int, int, bool) {
		return g.w - 1 - x, g.h - 1 - y, y < g.h/2
	})
	if radial >= radialThreshold {
		result.HasRadial = true
		result.Regions = append(result.Regions, models.SymmetryRegion{
			RegionID: 1, SymmetryType: models.RegionRadial,
			CenterX: w / 2, CenterY: h / 2, Confidence: radial,
		})
		scores, weights = append(scores, radial), append(weights, radialWeight)
	}

	result.Score = weightedScore(scores, weights)

	processed, err := drawAxes(img, result.Axes)
	if err != nil {
		return nil, err
	}
	result.Processed = processed
	return result, nil
}

func weightedScore(scores, weights []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	var sum, total float64
	for i, s := range scores {
		sum += s * weights[i]
		total += weights[i]
	}
	score := sum / total * 100
	score = math.Round(score*10) / 10
	return math.Min(score, 100)
}

type grayImage struct {
	w, h int
	px   []float64
}

func (g *grayImage) at(x, y int) float64 {
	return g.px[y*g.w+x]
}

// grayscale samples img down to at most max pixels per side
func grayscale(img image.Image, max int) *grayImage {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w > max {
		w = max
	}
	if h > max {
		h = max
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	g := &grayImage{w: w, h: h, px: make([]float64, w*h)}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sx := b.Min.X + x*b.Dx()/w
			sy := b.Min.Y + y*b.Dy()/h
			gray := color.GrayModel.Convert(img.At(sx, sy)).(color.Gray)
			g.px[y*w+x] = float64(gray.Y)
		}
	}
	return g
}

// correlate pairs every (x,y) for which mirror reports ok with its mirrored pixel
// and maps their normalized cross-correlation from [-1,1] onto [0,1]
func (g *grayImage) correlate(mirror func(x, y int) (int, int, bool)) float64 {
	var a, b []float64
	for y := 0; y < g.h; y++ {
		for x := 0; x < g.w; x++ {
			mx, my, ok := mirror(x, y)
			if !ok || mx < 0 || my < 0 || mx >= g.w || my >= g.h {
				continue
			}
			a = append(a, g.at(x, y))
			b = append(b, g.at(mx, my))
		}
	}
	if len(a) == 0 {
		return 0
	}

	meanA, stdA := stat.PopMeanStdDev(a, nil)
	meanB, stdB := stat.PopMeanStdDev(b, nil)
	flatA, flatB := stdA < 1e-9, stdB < 1e-9
	switch {
	case flatA && flatB:
		if math.Abs(meanA-meanB) < 1e-9 {
			return 1
		}
		return 0.5
	case flatA || flatB:
		return 0.5
	}
	corr := stat.Correlation(a, b, nil)
	conf := (corr + 1) / 2
	return math.Max(0, math.Min(1, conf))
}

var axisInk = map[models.AxisType]color.RGBA{
	models.AxisVertical:     {0xef, 0x44, 0x44, 0xff},
	models.AxisHorizontal:   {0x3b, 0x82, 0xf6, 0xff},
	models.AxisMainDiagonal: {0x10, 0xb9, 0x81, 0xff},
	models.AxisAntiDiagonal: {0xf5, 0x9e, 0x0b, 0xff},
}

// drawAxes renders the detected axes over a copy of img and encodes it as JPEG
func drawAxes(img image.Image, axes []models.SymmetryAxis) ([]byte, error) {
	b := img.Bounds()
	canvas := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(canvas, canvas.Bounds(), img, b.Min, draw.Src)

	for _, axis := range axes {
		c := axis.Coordinates
		line(canvas, int(c.X1), int(c.Y1), int(c.X2), int(c.Y2), axisInk[axis.Type])
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: processedQuality}); err != nil {
		return nil, fmt.Errorf("encode processed image: %w", err)
	}
	return buf.Bytes(), nil
}

// line draws a Bresenham line clipped to the canvas
func line(img *image.RGBA, x0, y0, x1, y1 int, c color.RGBA) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	err := dx + dy
	for {
		if image.Pt(x0, y0).In(img.Rect) {
			img.SetRGBA(x0, y0, c)
		}
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
