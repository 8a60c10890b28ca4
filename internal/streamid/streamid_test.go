package streamid

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateRoundTrip(t *testing.T) {
	path := "jbpf_agent/data_generator_codeletset"
	name := "codelet"

	sid, err := Generate(FwdDstUDP, 3, &path, &name)
	require.NoError(t, err)

	assert.Equal(t, uint8(0), sid.Version())
	assert.Equal(t, FwdDstUDP, sid.FwdDst())
	assert.Equal(t, uint8(3), sid.DeviceID())

	wantPath, err := Hash(path)
	require.NoError(t, err)
	assert.Equal(t, wantPath, sid.StreamPath())

	wantName, err := Hash(name)
	require.NoError(t, err)
	assert.Equal(t, wantName, sid.StreamName())
}

func TestGenerateWildcardsOnNilStrings(t *testing.T) {
	sid, err := Generate(FwdDstAny, DeviceIDAny, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, StreamPathAny, sid.StreamPath())
	assert.Equal(t, StreamNameAny, sid.StreamName())
}

func TestGenerateRejectsOutOfRangeFields(t *testing.T) {
	_, err := Generate(0xFF, 0, nil, nil)
	assert.ErrorIs(t, err, ErrFieldRange)

	_, err = Generate(0, 0xFF, nil, nil)
	assert.ErrorIs(t, err, ErrFieldRange)
}

// TestWildcardIdentity proves the fully wildcarded pattern matches every
// concrete stream id.
func TestWildcardIdentity(t *testing.T) {
	any, err := Generate(FwdDstAny, DeviceIDAny, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, AnyPattern, any)

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		path := randString(rng)
		name := randString(rng)
		sid, err := Generate(uint8(rng.Intn(0x80)), uint8(rng.Intn(0x80)), &path, &name)
		require.NoError(t, err)
		assert.True(t, Matches(sid, AnyPattern))
	}
}

func TestMatchesConcreteFieldsMustBeEqual(t *testing.T) {
	p1, p2 := "p1", "p2"
	sid, err := Generate(FwdDstUDP, 1, &p1, nil)
	require.NoError(t, err)

	same, err := Generate(FwdDstUDP, 1, &p1, nil)
	require.NoError(t, err)
	assert.True(t, Matches(sid, same))

	diff, err := Generate(FwdDstUDP, 1, &p2, nil)
	require.NoError(t, err)
	assert.False(t, Matches(sid, diff))
}

// TestHashDeterminism proves the bloom hash is a pure deterministic
// function of its input string.
func TestHashDeterminism(t *testing.T) {
	const s = "AdvancedExample1://jbpf_agent/data_generator_codeletset/codelet"
	h1, err := Hash(s)
	require.NoError(t, err)
	h2, err := Hash(s)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.NotZero(t, h1)
	assert.LessOrEqual(t, h1, StreamPathAny)
}

func TestHashDiffersAcrossStrings(t *testing.T) {
	h1, err := Hash("a")
	require.NoError(t, err)
	h2, err := Hash("b")
	require.NoError(t, err)
	// Collisions are permitted by design but exceedingly unlikely for two
	// short, distinct strings over a 54-bit space.
	assert.NotEqual(t, h1, h2)
}

func randString(rng *rand.Rand) string {
	const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789/_"
	n := 1 + rng.Intn(40)
	b := make([]byte, n)
	for i := range b {
		b[i] = letters[rng.Intn(len(letters))]
	}
	return string(b)
}
