package cube

// Rotation is one of the 24 whole-cube rotations. Rotating a cube moves its
// stickers and relabels its colors so that face f always shows color f when
// solved, which keeps keys and features canonical.
type Rotation struct {
	m       mat
	dest    [Stickers]uint8
	colors  [Faces]uint8
	actions [NumActions]int
}

var rotations []Rotation

// Rotations returns the 24 proper rotations of the cube. The first is the
// identity. The returned slice must not be modified.
func Rotations() []Rotation { return rotations }

func initRotations() {
	perms := [][3]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}
	signs := []int{1, -1}
	for _, p := range perms {
		for _, s0 := range signs {
			for _, s1 := range signs {
				for _, s2 := range signs {
					var m mat
					m[0][p[0]] = s0
					m[1][p[1]] = s1
					m[2][p[2]] = s2
					if m.det() != 1 {
						continue
					}
					rotations = append(rotations, newRotation(m))
				}
			}
		}
	}
}

func newRotation(m mat) Rotation {
	r := Rotation{m: m}
	for s := 0; s < Stickers; s++ {
		r.dest[s] = uint8(stickerIndex[[2]vec{m.apply(stickerPos[s]), m.apply(stickerNormal[s])}])
	}
	for f := 0; f < Faces; f++ {
		g := faceOf(m.apply(faceNormal[f]))
		r.colors[f] = uint8(g)
		r.actions[2*f] = 2 * g
		r.actions[2*f+1] = 2*g + 1
	}
	return r
}

// Apply returns the rotated cube.
func (r Rotation) Apply(c Cube) Cube {
	var out Cube
	for s, d := range r.dest {
		out[d] = r.colors[c[s]]
	}
	return out
}

// TransformFeatures writes the features of the rotated cube into dst given the
// features of the original. dst and src must both have length FeatureSize and
// must not alias.
func (r Rotation) TransformFeatures(dst, src []float32) {
	for s := 0; s < Stickers; s++ {
		d := int(r.dest[s])
		for c := 0; c < Faces; c++ {
			dst[d*Faces+int(r.colors[c])] = src[s*Faces+c]
		}
	}
}

// ActionPermutation maps an action on the original cube to the equivalent
// action on the rotated cube: r.Apply(c.Move(a)) == r.Apply(c).Move(perm[a]).
func (r Rotation) ActionPermutation() [NumActions]int { return r.actions }

// IsIdentity reports whether r leaves every cube unchanged.
func (r Rotation) IsIdentity() bool { return r.m == mat{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}} }
