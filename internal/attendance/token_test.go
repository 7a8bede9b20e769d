package attendance

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGenerate_ExpiryArithmetic(t *testing.T) {
	for _, seconds := range []int{1, 10, 60, 3600} {
		p := Generate("lec-1", time.Duration(seconds)*time.Second)
		require.Equal(t, int64(seconds*1000), p.ExpiresAt-p.GeneratedAt)
	}
}

func TestGenerate_ClampsNonpositiveDuration(t *testing.T) {
	for _, d := range []time.Duration{0, -time.Minute} {
		p := Generate("lec-1", d)
		require.Equal(t, int64(1000), p.ExpiresAt-p.GeneratedAt)
	}
}

func TestGenerate_TokensUnique(t *testing.T) {
	seen := make(map[string]bool, 10000)
	for i := 0; i < 10000; i++ {
		p := Generate("lec-1", time.Minute)
		require.NotEmpty(t, p.Token)
		require.False(t, seen[p.Token], "duplicate token %q", p.Token)
		seen[p.Token] = true
	}
}

func TestGenerate_CarriesLectureID(t *testing.T) {
	p := Generate("physics-101", time.Minute)
	require.Equal(t, "physics-101", p.LectureID)
}

func TestPayload_RoundTrip(t *testing.T) {
	orig := Generate("lec-rt", time.Minute)

	raw, err := orig.Encode()
	require.NoError(t, err)

	parsed, err := DecodePayload(raw)
	require.NoError(t, err)
	require.Equal(t, orig, parsed)
}

func TestPayload_WireShape(t *testing.T) {
	// The JSON field names are frozen for deployed scanners.
	raw, err := Payload{LectureID: "l", Token: "t", ExpiresAt: 2, GeneratedAt: 1}.Encode()
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	require.Len(t, m, 4)
	for _, key := range []string{"lectureId", "token", "expiresAt", "generatedAt"} {
		require.Contains(t, m, key)
	}
}

func TestDecodePayload_Malformed(t *testing.T) {
	cases := [][]byte{
		[]byte("not json"),
		[]byte(`{}`),
		[]byte(`{"lectureId":"l","token":"t"}`),
		[]byte(`{"token":"t","expiresAt":123}`),
	}
	for _, raw := range cases {
		_, err := DecodePayload(raw)
		require.Equal(t, ReasonMalformed, ReasonOf(err), "payload %s", raw)
	}
}
