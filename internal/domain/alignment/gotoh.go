package alignment

import (
	"context"
	"fmt"
	"math"
)

const (
	stateM uint8 = iota
	stateX
	stateY
	stateStart
)

// Trace pointers for the three matrices share one byte per cell.
const (
	shiftM  = 0
	shiftX  = 2
	shiftY  = 4
	ptrMask = 0b11
)

var negInf = math.Inf(-1)

func finite(v float64) bool {
	return !math.IsInf(v, 0) && !math.IsNaN(v)
}

func overflowAt(i, j int) error {
	return fmt.Errorf("%w at cell (%d, %d)", ErrScoreOverflow, i, j)
}

// Predecessor states in tie-break order for each matrix.
var (
	orderM = [3]uint8{stateM, stateX, stateY}
	orderX = [3]uint8{stateX, stateM, stateY}
	orderY = [3]uint8{stateY, stateM, stateX}
)

type grid struct {
	a, b     string
	mode     Mode
	sc       Scoring
	cols     int
	trace    []uint8
	score    float64
	endI     int
	endJ     int
	endState uint8
}

func newGrid(a, b string, mode Mode, sc Scoring) *grid {
	return &grid{
		a:     a,
		b:     b,
		mode:  mode,
		sc:    sc,
		cols:  len(b) + 1,
		trace: make([]uint8, (len(a)+1)*(len(b)+1)),
	}
}

func (g *grid) setPtr(i, j int, shift, state uint8) {
	idx := i*g.cols + j
	g.trace[idx] = g.trace[idx]&^(ptrMask<<shift) | state<<shift
}

func (g *grid) ptr(i, j int, shift uint8) uint8 {
	return (g.trace[i*g.cols+j] >> shift) & ptrMask
}

// best3 returns the first maximum, so argument order encodes tie-break priority.
func best3(v0, v1, v2 float64) (float64, int) {
	best, idx := v0, 0
	if v1 > best {
		best, idx = v1, 1
	}
	if v2 > best {
		best, idx = v2, 2
	}
	return best, idx
}

// fill runs the DP keeping two rows of scores and the full trace matrix.
func (g *grid) fill(ctx context.Context) error {
	n, m := len(g.a), len(g.b)
	prevM, prevX, prevY := make([]float64, m+1), make([]float64, m+1), make([]float64, m+1)
	curM, curX, curY := make([]float64, m+1), make([]float64, m+1), make([]float64, m+1)

	open, extend := g.sc.GapOpen, g.sc.GapExtend
	local := g.mode == Local

	for j := 0; j <= m; j++ {
		prevX[j] = negInf
		prevY[j] = negInf
		prevM[j] = negInf
		if local {
			prevM[j] = 0
			continue
		}
		if j == 0 {
			prevM[0] = 0
			continue
		}
		prevY[j] = open + float64(j-1)*extend
		if !finite(prevY[j]) {
			return overflowAt(0, j)
		}
		if j == 1 {
			g.setPtr(0, j, shiftY, stateM)
		} else {
			g.setPtr(0, j, shiftY, stateY)
		}
	}

	g.score, g.endI, g.endJ = 0, 0, 0

	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		ai := g.a[i-1]

		curY[0] = negInf
		if local {
			curM[0], curX[0] = 0, negInf
		} else {
			curM[0] = negInf
			curX[0] = open + float64(i-1)*extend
			if !finite(curX[0]) {
				return overflowAt(i, 0)
			}
			if i == 1 {
				g.setPtr(i, 0, shiftX, stateM)
			} else {
				g.setPtr(i, 0, shiftX, stateX)
			}
		}

		for j := 1; j <= m; j++ {
			s := g.sc.Mismatch
			if ai == g.b[j-1] {
				s = g.sc.Match
			}

			// M: diagonal from (i-1, j-1); priority M, X, Y.
			v, k := best3(prevM[j-1], prevX[j-1], prevY[j-1])
			if local && v <= 0 {
				curM[j] = s
				g.setPtr(i, j, shiftM, stateStart)
			} else {
				curM[j] = s + v
				g.setPtr(i, j, shiftM, orderM[k])
			}

			// X: vertical from (i-1, j); extend first, then open from M, then from Y.
			v, k = best3(prevX[j]+extend, prevM[j]+open, prevY[j]+open)
			curX[j] = v
			g.setPtr(i, j, shiftX, orderX[k])

			// Y: horizontal from (i, j-1); extend first, then open from M, then from X.
			v, k = best3(curY[j-1]+extend, curM[j-1]+open, curX[j-1]+open)
			curY[j] = v
			g.setPtr(i, j, shiftY, orderY[k])

			if !finite(curM[j]) || !finite(curX[j]) || !finite(curY[j]) {
				return overflowAt(i, j)
			}

			if local && curM[j] > g.score {
				g.score, g.endI, g.endJ = curM[j], i, j
			}
		}

		prevM, curM = curM, prevM
		prevX, curX = curX, prevX
		prevY, curY = curY, prevY
	}

	if local {
		g.endState = stateM
		return nil
	}
	var k int
	g.score, k = best3(prevM[m], prevX[m], prevY[m])
	g.endI, g.endJ = n, m
	g.endState = orderM[k]
	return nil
}

// traceback walks the pointers back from the optimum and builds the aligned pair.
func (g *grid) traceback() *Result {
	res := &Result{Score: g.score}
	if g.mode == Local && g.score <= 0 {
		res.Score = 0
		return res
	}

	i, j, state := g.endI, g.endJ, g.endState
	res.End1, res.End2 = i, j
	out1 := make([]byte, 0, i+j)
	out2 := make([]byte, 0, i+j)

	local := g.mode == Local
walk:
	for i > 0 || j > 0 {
		if local && (i == 0 || j == 0) {
			break
		}
		switch state {
		case stateM:
			out1 = append(out1, g.a[i-1])
			out2 = append(out2, g.b[j-1])
			next := g.ptr(i, j, shiftM)
			i--
			j--
			if next == stateStart {
				break walk
			}
			state = next
		case stateX:
			out1 = append(out1, g.a[i-1])
			out2 = append(out2, GapChar)
			state = g.ptr(i, j, shiftX)
			i--
		default:
			out1 = append(out1, GapChar)
			out2 = append(out2, g.b[j-1])
			state = g.ptr(i, j, shiftY)
			j--
		}
	}
	res.Start1, res.Start2 = i, j
	reverse(out1)
	reverse(out2)
	res.Aligned1 = string(out1)
	res.Aligned2 = string(out2)
	return res
}

func reverse(b []byte) {
	for l, r := 0, len(b)-1; l < r; l, r = l+1, r-1 {
		b[l], b[r] = b[r], b[l]
	}
}
