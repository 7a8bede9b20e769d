package attendance

import (
	"crypto/rand"
	"encoding/binary"
	"strconv"
	"time"
)

// MinTokenDuration is the floor applied to nonpositive durations.
const MinTokenDuration = time.Second

// Generate mints a fresh bearer credential for a lecture. The token is two
// concatenated base-36 segments of 64 random bits each, so possession cannot
// be guessed within the token's short lifetime. Pure: no store access.
func Generate(lectureID string, duration time.Duration) Payload {
	if duration < MinTokenDuration {
		duration = MinTokenDuration
	}
	now := time.Now()
	return Payload{
		LectureID:   lectureID,
		Token:       randomSegment() + randomSegment(),
		ExpiresAt:   now.Add(duration).UnixMilli(),
		GeneratedAt: now.UnixMilli(),
	}
}

func randomSegment() string {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand failure means the platform RNG is broken; nothing
		// sensible can be issued.
		panic("attendance: rng unavailable: " + err.Error())
	}
	return strconv.FormatUint(binary.BigEndian.Uint64(buf[:]), 36)
}
