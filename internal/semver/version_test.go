package semver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	v := Parse("v1.2.3-rc1+build5")
	assert.False(t, v.Unparsable)
	assert.Equal(t, 1, v.Major)
	assert.Equal(t, 2, v.Minor)
	assert.Equal(t, 3, v.Patch)
	assert.Equal(t, "rc1", v.Prerelease)
	assert.Equal(t, "build5", v.Build)
}

func TestParseUnparsable(t *testing.T) {
	for _, s := range []string{"", "latest", "1.2", "v1.2.3.4"} {
		v := Parse(s)
		assert.True(t, v.Unparsable, "expected %q to be unparsable", s)
		assert.Equal(t, s, v.String())
	}
}

func TestCompareTotalOrder(t *testing.T) {
	cases := [][2]string{
		{"1.0.0", "2.0.0"},
		{"1.2.0", "1.3.0"},
		{"1.2.3", "1.2.4"},
		{"1.2.3-alpha", "1.2.3"}, // release outranks prerelease
		{"1.2.3-alpha", "1.2.3-beta"},
	}
	for _, c := range cases {
		a, b := Parse(c[0]), Parse(c[1])
		assert.True(t, a.LessThan(b), "%s should be < %s", c[0], c[1])
		assert.True(t, b.GreaterThan(a))
		assert.False(t, a.Equal(b))
	}
}

func TestCompareExactlyOneHolds(t *testing.T) {
	versions := []string{"1.0.0", "1.0.0-rc1", "2.3.4", "0.0.1"}
	for _, x := range versions {
		for _, y := range versions {
			a, b := Parse(x), Parse(y)
			lt := a.LessThan(b)
			eq := a.Equal(b)
			gt := a.GreaterThan(b)
			count := 0
			for _, v := range []bool{lt, eq, gt} {
				if v {
					count++
				}
			}
			assert.Equal(t, 1, count, "exactly one ordering relation must hold for %s vs %s", x, y)
		}
	}
}
