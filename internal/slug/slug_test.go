package slug

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type takenSet map[string]bool

func (s takenSet) SlugExists(_ context.Context, slug string) (bool, error) {
	return s[slug], nil
}

func TestNormalize(t *testing.T) {
	tests := map[string]string{
		"Mary Ann":      "mary-ann",
		"O'Brien":       "o-brien",
		"  --Jean--  ":  "jean",
		"José":          "jos",
		"李":             "",
		"a...b___c":     "a-b-c",
		"ALREADY-slug2": "already-slug2",
	}
	for in, want := range tests {
		assert.Equal(t, want, Normalize(in), "Normalize(%q)", in)
	}
}

func TestBase(t *testing.T) {
	assert.Equal(t, "mary-ann-o-brien-2020", Base("Mary Ann", "O'Brien", "2020-05-01"))
	assert.Equal(t, "john-doe", Base("John", "Doe", "not a date"))
	assert.Equal(t, "john-doe-1999", Base("John", "Doe", "1999-12-31T10:00:00Z"))
	assert.Equal(t, "doe-2001", Base("", "Doe", "2001"))
	assert.Equal(t, "memorial-2020", Base("李", "王", "2020-01-01"))
	assert.Equal(t, "doe-2020", Base("李", "Doe", "2020-01-01"))
}

func TestAllocateNoCollision(t *testing.T) {
	a := NewAllocator(takenSet{})

	got, err := a.Allocate(context.Background(), "Mary Ann", "O'Brien", "2020-05-01")
	require.NoError(t, err)
	assert.Equal(t, "mary-ann-o-brien-2020", got)
}

func TestAllocateCounterSuffix(t *testing.T) {
	taken := takenSet{"john-doe-2020": true}
	a := NewAllocator(taken)

	got, err := a.Allocate(context.Background(), "John", "Doe", "2020-03-03")
	require.NoError(t, err)
	assert.Equal(t, "john-doe-2020-2", got)

	taken[got] = true
	got, err = a.Allocate(context.Background(), "John", "Doe", "2020-03-03")
	require.NoError(t, err)
	assert.Equal(t, "john-doe-2020-3", got)
}

func TestAllocateFallsBackToRandomSuffix(t *testing.T) {
	taken := takenSet{"jane-doe": true, "jane-doe-2": true, "jane-doe-3": true}
	a := NewAllocator(taken, WithMaxAttempts(3), WithSuffix(func() string { return "k3x9" }))

	got, err := a.Allocate(context.Background(), "Jane", "Doe", "")
	require.NoError(t, err)
	assert.Equal(t, "jane-doe-k3x9", got)
}

func TestAllocatePropagatesLookupError(t *testing.T) {
	boom := errors.New("store down")
	a := NewAllocator(LookupFunc(func(context.Context, string) (bool, error) { return false, boom }))

	_, err := a.Allocate(context.Background(), "Jane", "Doe", "")
	require.ErrorIs(t, err, boom)
}

var slugPattern = regexp.MustCompile(`^([a-z0-9]+(-[a-z0-9]+)*)?$`)

func TestNormalizeProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := rapid.String().Draw(t, "s")
		n := Normalize(s)
		if !slugPattern.MatchString(n) {
			t.Fatalf("Normalize(%q) = %q is not URL safe", s, n)
		}
		if Normalize(n) != n {
			t.Fatalf("Normalize is not idempotent on %q", n)
		}
	})
}

func TestAllocateMonotonicProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 20).Draw(t, "taken")
		taken := takenSet{}
		a := NewAllocator(taken)
		var last string
		for i := 0; i <= n; i++ {
			got, err := a.Allocate(context.Background(), "Ada", "Lovelace", "1852-11-27")
			if err != nil {
				t.Fatal(err)
			}
			if taken[got] {
				t.Fatalf("allocated taken slug %q", got)
			}
			taken[got] = true
			last = got
		}
		want := "ada-lovelace-1852"
		if n > 0 {
			want = want + "-" + strconv.Itoa(n+1)
		}
		if last != want {
			t.Fatalf("after %d allocations got %q, want %q", n+1, last, want)
		}
	})
}
