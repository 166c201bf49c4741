// Package optim tunes controller parameters by running one simulation per
// point of a parameter grid and keeping the point with the lowest metric.
package optim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/san-kum/kitesim/internal/sim"
)

var ErrNoCandidate = errors.New("optim: no grid point finished")

// Grid holds the candidate values of each parameter.
type Grid struct {
	names  []string
	values [][]float64
}

func NewGrid(names []string, values [][]float64) (*Grid, error) {
	if len(names) == 0 || len(names) != len(values) {
		return nil, fmt.Errorf("optim: %d parameter names for %d value lists", len(names), len(values))
	}
	for i, v := range values {
		if len(v) == 0 {
			return nil, fmt.Errorf("optim: no values for %s", names[i])
		}
	}
	return &Grid{names: names, values: values}, nil
}

// Size is the number of grid points.
func (g *Grid) Size() int {
	n := 1
	for _, v := range g.values {
		n *= len(v)
	}
	return n
}

// Points enumerates the grid with the last parameter varying fastest.
func (g *Grid) Points() []map[string]float64 {
	points := make([]map[string]float64, 0, g.Size())
	var walk func(depth int, current map[string]float64)
	walk = func(depth int, current map[string]float64) {
		if depth == len(g.names) {
			points = append(points, current)
			return
		}
		for _, v := range g.values[depth] {
			next := make(map[string]float64, len(current)+1)
			for k, x := range current {
				next[k] = x
			}
			next[g.names[depth]] = v
			walk(depth+1, next)
		}
	}
	walk(0, map[string]float64{})
	return points
}

// Candidate is one evaluated grid point.
type Candidate struct {
	Params map[string]float64
	Score  float64
	Err    error
}

// Builder turns a grid point into an independent job.
type Builder func(params map[string]float64) (sim.Job, error)

// Search runs every grid point and scores it by the named result metric.
// Runs that stop early with an error are not eligible. Candidates come
// back sorted by score, failed ones last.
func Search(ctx context.Context, g *Grid, build Builder, metric string, workers int) (Candidate, []Candidate, error) {
	points := g.Points()
	cands := make([]Candidate, len(points))
	jobs := make([]sim.Job, 0, len(points))
	index := make([]int, 0, len(points))
	for i, p := range points {
		cands[i] = Candidate{Params: p, Score: math.Inf(1)}
		job, err := build(p)
		if err != nil {
			cands[i].Err = err
			continue
		}
		job.Name = fmt.Sprint(i)
		jobs = append(jobs, job)
		index = append(index, i)
	}

	results, err := sim.RunAll(ctx, jobs, workers)
	if err != nil {
		return Candidate{}, cands, err
	}
	for j, r := range results {
		c := &cands[index[j]]
		switch {
		case r.Err != nil:
			c.Err = r.Err
		case r.Result == nil:
			c.Err = fmt.Errorf("optim: job %s has no result", r.Name)
		default:
			v, ok := r.Result.Metrics[metric]
			if !ok {
				c.Err = fmt.Errorf("optim: metric %q not recorded", metric)
			} else {
				c.Score = v
			}
		}
	}

	sort.SliceStable(cands, func(a, b int) bool {
		if (cands[a].Err == nil) != (cands[b].Err == nil) {
			return cands[a].Err == nil
		}
		return cands[a].Score < cands[b].Score
	})
	if len(cands) == 0 || cands[0].Err != nil {
		return Candidate{}, cands, ErrNoCandidate
	}
	return cands[0], cands, nil
}
