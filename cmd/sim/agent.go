package main

import (
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"

	"github.com/danielpatrickdp/ihtai/internal/point"
)

// #region world
// world is a point mass on a bounded plane chasing a fixed target.
type world struct {
	size     float64
	targetX  float64
	targetY  float64
	x, y     float64
	vx, vy   float64
	maxSpeed float64
}

func newWorld(size float64, rng *rand.Rand) *world {
	return &world{
		size:     size,
		targetX:  size / 2,
		targetY:  size / 2,
		x:        rng.Float64() * size,
		y:        rng.Float64() * size,
		maxSpeed: 2,
	}
}

// apply integrates one tick of acceleration (ax, ay), bouncing off the walls.
func (w *world) apply(ax, ay float64) {
	w.vx = clamp(w.vx+ax, -w.maxSpeed, w.maxSpeed)
	w.vy = clamp(w.vy+ay, -w.maxSpeed, w.maxSpeed)
	w.x += w.vx
	w.y += w.vy
	if w.x < 0 || w.x > w.size {
		w.vx = -w.vx
		w.x = clamp(w.x, 0, w.size)
	}
	if w.y < 0 || w.y > w.size {
		w.vy = -w.vy
		w.y = clamp(w.y, 0, w.size)
	}
}

// distance is the drive the agent is trying to minimize.
func (w *world) distance() float64 {
	return math.Hypot(w.x-w.targetX, w.y-w.targetY)
}

// observe builds the state point reported for the last action taken.
func (w *world) observe(ax, ay float64) point.Point {
	return point.Point{
		Input:  []float64{round1(w.x), round1(w.y)},
		Action: []float64{ax, ay},
		Drive:  []float64{round1(w.distance())},
	}
}

// #endregion world

// #region seeding
// accelerations is the per-axis action alphabet.
var accelerations = []float64{-1, 0, 1}

func alphabet() point.Alphabet {
	return point.Alphabet{point.NumberSymbols(accelerations...), point.NumberSymbols(accelerations...)}
}

// seedGrid lays cells over the plane at the given step, one per action and coarse
// distance band.
func seedGrid(size, step float64) []point.Point {
	var out []point.Point
	for x := 0.0; x <= size; x += step {
		for y := 0.0; y <= size; y += step {
			for _, ax := range accelerations {
				for _, ay := range accelerations {
					d := math.Hypot(x-size/2, y-size/2)
					out = append(out, point.Point{
						Input:  []float64{x, y},
						Action: []float64{ax, ay},
						Drive:  []float64{round1(d)},
					})
				}
			}
		}
	}
	return out
}

// #endregion seeding

// #region actions
// parseSignature reads an action signature such as "-1_0" back into accelerations.
func parseSignature(sig string) (float64, float64, error) {
	parts := strings.Split(sig, point.Sep)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("signature %q: want 2 dimensions, got %d", sig, len(parts))
	}
	var out [2]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.ReplaceAll(p, "d", "."), 64)
		if err != nil {
			return 0, 0, fmt.Errorf("signature %q: %w", sig, err)
		}
		out[i] = v
	}
	return out[0], out[1], nil
}

// randomAction picks a uniformly random acceleration pair.
func randomAction(rng *rand.Rand) (float64, float64) {
	return accelerations[rng.Intn(len(accelerations))], accelerations[rng.Intn(len(accelerations))]
}

// #endregion actions

// #region helpers

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// #endregion helpers
