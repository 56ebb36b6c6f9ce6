// Package cube is a 3x3x3 Rubik's cube simulator.
//
// A Cube is 54 sticker colors. Stickers are laid out face by face in the order
// U, D, L, R, F, B and row-major within a face as seen from outside the cube
// (U is viewed with F at the bottom, D with F at the top, the side faces with U
// at the top). Colors are face indexes: a solved cube has color f on face f.
//
// The move tables are derived from sticker geometry at init time rather than
// written out by hand: every sticker has a cubie position in {-1,0,1}^3 and an
// outward normal, and a quarter turn rotates both.
package cube

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/brensch/cubezero/executor/mcts"
)

const (
	// Faces is the number of faces (and colors).
	Faces = 6
	// Stickers is the number of stickers on a cube.
	Stickers = 54
	// NumActions is the number of quarter-turn actions.
	NumActions = 12
	// FeatureSize is the length of Features(): one-hot color per sticker.
	FeatureSize = Stickers * Faces
)

// Face indexes. The color of a solved face equals its index.
const (
	U = iota
	D
	L
	R
	F
	B
)

var faceNames = [Faces]string{"U", "D", "L", "R", "F", "B"}

// Action names, indexed by action. Even actions turn a face clockwise as seen
// from outside that face, odd actions are the inverse turn.
var ActionNames = [NumActions]string{"U", "U'", "D", "D'", "L", "L'", "R", "R'", "F", "F'", "B", "B'"}

// Cube is the sticker colors of a cube. It is a value type; moves return a
// new Cube.
type Cube [Stickers]uint8

var _ mcts.State = Cube{}

// New returns a solved cube.
func New() Cube {
	var c Cube
	for s := range c {
		c[s] = uint8(s / 9)
	}
	return c
}

// Move applies a quarter turn and returns the result.
func (c Cube) Move(action int) Cube {
	dest := &moveDest[action]
	var out Cube
	for s, d := range dest {
		out[d] = c[s]
	}
	return out
}

// Moves applies a sequence of actions in order.
func (c Cube) Moves(actions ...int) Cube {
	for _, a := range actions {
		c = c.Move(a)
	}
	return c
}

// Solved reports whether every face shows a single color.
func (c Cube) Solved() bool {
	for f := 0; f < Faces; f++ {
		center := c[f*9+4]
		for i := 0; i < 9; i++ {
			if c[f*9+i] != center {
				return false
			}
		}
	}
	return true
}

// Next implements mcts.State.
func (c Cube) Next(action int) mcts.State { return c.Move(action) }

// Done implements mcts.State.
func (c Cube) Done() bool { return c.Solved() }

// Key implements mcts.State. The key is the 54 color bytes.
func (c Cube) Key() []byte {
	out := make([]byte, Stickers)
	copy(out, c[:])
	return out
}

// Features implements mcts.State: a one-hot color per sticker, indexed
// sticker*6 + color.
func (c Cube) Features() []float32 {
	out := make([]float32, FeatureSize)
	for s, col := range c {
		out[s*Faces+int(col)] = 1
	}
	return out
}

// Inverse returns the action that undoes a.
func Inverse(action int) int { return action ^ 1 }

// Scramble applies depth uniformly random quarter turns to a solved cube and
// returns the cube and the moves applied.
func Scramble(rng *rand.Rand, depth int) (Cube, []int) {
	c := New()
	moves := make([]int, depth)
	for i := range moves {
		moves[i] = rng.IntN(NumActions)
		c = c.Move(moves[i])
	}
	return c, moves
}

// String renders the cube as an unfolded net:
//
//	    U
//	  L F R B
//	    D
func (c Cube) String() string {
	var sb strings.Builder
	row := func(f, r int) string {
		return fmt.Sprintf("%s%s%s", faceNames[c[f*9+r*3]], faceNames[c[f*9+r*3+1]], faceNames[c[f*9+r*3+2]])
	}
	for r := 0; r < 3; r++ {
		fmt.Fprintf(&sb, "    %s\n", row(U, r))
	}
	for r := 0; r < 3; r++ {
		fmt.Fprintf(&sb, "%s %s %s %s\n", row(L, r), row(F, r), row(R, r), row(B, r))
	}
	for r := 0; r < 3; r++ {
		fmt.Fprintf(&sb, "    %s\n", row(D, r))
	}
	return sb.String()
}

type vec [3]int

type mat [3][3]int

func cross(a, b vec) vec {
	return vec{a[1]*b[2] - a[2]*b[1], a[2]*b[0] - a[0]*b[2], a[0]*b[1] - a[1]*b[0]}
}

func dot(a, b vec) int { return a[0]*b[0] + a[1]*b[1] + a[2]*b[2] }

func (m mat) apply(v vec) vec {
	var out vec
	for i := 0; i < 3; i++ {
		out[i] = m[i][0]*v[0] + m[i][1]*v[1] + m[i][2]*v[2]
	}
	return out
}

func (m mat) det() int {
	return m[0][0]*(m[1][1]*m[2][2]-m[1][2]*m[2][1]) -
		m[0][1]*(m[1][0]*m[2][2]-m[1][2]*m[2][0]) +
		m[0][2]*(m[1][0]*m[2][1]-m[1][1]*m[2][0])
}

// Outward normal, then the "right" and "down" directions of the face as seen
// from outside.
var (
	faceNormal = [Faces]vec{{0, 1, 0}, {0, -1, 0}, {-1, 0, 0}, {1, 0, 0}, {0, 0, 1}, {0, 0, -1}}
	faceRight  = [Faces]vec{{1, 0, 0}, {1, 0, 0}, {0, 0, 1}, {0, 0, -1}, {1, 0, 0}, {-1, 0, 0}}
	faceDown   = [Faces]vec{{0, 0, 1}, {0, 0, -1}, {0, -1, 0}, {0, -1, 0}, {0, -1, 0}, {0, -1, 0}}
)

var (
	stickerPos    [Stickers]vec
	stickerNormal [Stickers]vec
	stickerIndex  = map[[2]vec]int{}
	moveDest      [NumActions][Stickers]uint8
)

func init() {
	for f := 0; f < Faces; f++ {
		for i := 0; i < 9; i++ {
			row, col := i/3-1, i%3-1
			var p vec
			for k := 0; k < 3; k++ {
				p[k] = faceNormal[f][k] + col*faceRight[f][k] + row*faceDown[f][k]
			}
			s := f*9 + i
			stickerPos[s] = p
			stickerNormal[s] = faceNormal[f]
			stickerIndex[[2]vec{p, faceNormal[f]}] = s
		}
	}

	for a := 0; a < NumActions; a++ {
		f, ccw := a/2, a%2 == 1
		m := quarterTurn(faceNormal[f], ccw)
		for s := 0; s < Stickers; s++ {
			if dot(stickerPos[s], faceNormal[f]) != 1 {
				moveDest[a][s] = uint8(s)
				continue
			}
			moveDest[a][s] = uint8(stickerIndex[[2]vec{m.apply(stickerPos[s]), m.apply(stickerNormal[s])}])
		}
	}

	initRotations()
}

// quarterTurn is the rotation by 90 degrees about axis k, clockwise when
// looking at the face k points out of.
func quarterTurn(k vec, ccw bool) mat {
	var m mat
	for j := 0; j < 3; j++ {
		var e vec
		e[j] = 1
		kx := cross(k, e)
		kd := dot(k, e)
		for i := 0; i < 3; i++ {
			if ccw {
				m[i][j] = kx[i] + k[i]*kd
			} else {
				m[i][j] = -kx[i] + k[i]*kd
			}
		}
	}
	return m
}

func faceOf(n vec) int {
	for f, fn := range faceNormal {
		if fn == n {
			return f
		}
	}
	panic(fmt.Sprintf("cube: %v is not a face normal", n))
}

// ParseMoves reads space separated move names such as "R U R' U'". A "2"
// suffix (as in "F2") is expanded to two quarter turns.
func ParseMoves(s string) ([]int, error) {
	var out []int
	for _, tok := range strings.Fields(s) {
		n := 1
		if strings.HasSuffix(tok, "2") {
			n = 2
			tok = strings.TrimSuffix(tok, "2")
		}
		action := -1
		for a, name := range ActionNames {
			if name == tok {
				action = a
				break
			}
		}
		if action < 0 {
			return nil, fmt.Errorf("cube: unknown move %q", tok)
		}
		for ; n > 0; n-- {
			out = append(out, action)
		}
	}
	return out, nil
}

// FormatMoves is the inverse of ParseMoves for quarter turns.
func FormatMoves(actions []int) string {
	names := make([]string, len(actions))
	for i, a := range actions {
		names[i] = ActionNames[a]
	}
	return strings.Join(names, " ")
}
