package attendance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPublisher_StartPublishesImmediately(t *testing.T) {
	fake := newFakeStore()
	pub := NewPublisher(NewService(fake), "lec-1", time.Hour)
	defer pub.Stop()

	sess, err := pub.Start(context.Background(), "Physics 101", time.Minute)
	require.NoError(t, err)
	require.Equal(t, "lec-1", sess.LectureID)
	require.NotEmpty(t, sess.Token)
	require.Equal(t, 1, fake.sessionCount())

	// The projection ran: the lecture now carries the fresh credential.
	l := fake.lecture("lec-1")
	require.NotNil(t, l)
	token, expiresAt, active := l.Credential()
	require.True(t, active)
	require.Equal(t, sess.Token, token)
	require.Equal(t, sess.ExpiresAt, expiresAt)
}

func TestPublisher_RotatesOnCadence(t *testing.T) {
	fake := newFakeStore()
	pub := NewPublisher(NewService(fake), "lec-1", 20*time.Millisecond)
	defer pub.Stop()

	first, err := pub.Start(context.Background(), "", time.Minute)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return fake.sessionCount() >= 3 }, time.Second, 5*time.Millisecond)

	// Rotation replaced the displayed token.
	l := fake.lecture("lec-1")
	token, _, active := l.Credential()
	require.True(t, active)
	require.NotEqual(t, first.Token, token)
}

func TestPublisher_DoubleStartSingleLoop(t *testing.T) {
	fake := newFakeStore()
	pub := NewPublisher(NewService(fake), "lec-1", 20*time.Millisecond)
	defer pub.Stop()

	_, err := pub.Start(context.Background(), "", time.Minute)
	require.NoError(t, err)
	_, err = pub.Start(context.Background(), "", time.Minute)
	require.NoError(t, err)
	require.True(t, pub.Publishing())

	base := fake.sessionCount() // the two synchronous publishes
	time.Sleep(110 * time.Millisecond)
	ticks := fake.sessionCount() - base

	// One 20ms loop produces ~5 ticks in 110ms; a leaked second loop
	// would double that. Generous slack for scheduler jitter.
	require.GreaterOrEqual(t, ticks, 2)
	require.LessOrEqual(t, ticks, 8)
}

func TestPublisher_StopHaltsRotation(t *testing.T) {
	fake := newFakeStore()
	pub := NewPublisher(NewService(fake), "lec-1", 10*time.Millisecond)

	_, err := pub.Start(context.Background(), "", time.Minute)
	require.NoError(t, err)
	require.True(t, pub.Publishing())

	pub.Stop()
	require.False(t, pub.Publishing())
	n := fake.sessionCount()
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, n, fake.sessionCount())

	// Idempotent: stopping an idle publisher is safe.
	pub.Stop()
}

func TestPublisher_TickFailureKeepsLoopAlive(t *testing.T) {
	fake := newFakeStore()
	pub := NewPublisher(NewService(fake), "lec-1", 10*time.Millisecond)
	defer pub.Stop()

	_, err := pub.Start(context.Background(), "", time.Minute)
	require.NoError(t, err)

	fake.mu.Lock()
	fake.failAppend = true
	fake.mu.Unlock()
	time.Sleep(40 * time.Millisecond)

	fake.mu.Lock()
	fake.failAppend = false
	fake.mu.Unlock()

	n := fake.sessionCount()
	require.Eventually(t, func() bool { return fake.sessionCount() > n }, time.Second, 5*time.Millisecond)
}

func TestPublisher_EmptyLectureID(t *testing.T) {
	pub := NewPublisher(NewService(newFakeStore()), "", time.Minute)
	_, err := pub.Start(context.Background(), "", time.Minute)
	require.Error(t, err)
	require.False(t, pub.Publishing())
}

func TestManager_StopClearsCredential(t *testing.T) {
	fake := newFakeStore()
	svc := NewService(fake)
	m := NewManager(svc, time.Hour)

	_, err := m.Start(context.Background(), "lec-1", "Physics 101", time.Minute)
	require.NoError(t, err)

	require.NoError(t, m.Stop(context.Background(), "lec-1"))
	l := fake.lecture("lec-1")
	require.Equal(t, StatusInactive, l.Status)
	require.Nil(t, l.CurrentToken)
	require.Nil(t, l.TokenExpiresAt)

	// Stopping a lecture that never published is a no-op.
	require.NoError(t, m.Stop(context.Background(), "lec-2"))
}

func TestManager_ReusesPublisherPerLecture(t *testing.T) {
	fake := newFakeStore()
	m := NewManager(NewService(fake), time.Hour)
	defer m.StopAll()

	_, err := m.Start(context.Background(), "lec-1", "", time.Minute)
	require.NoError(t, err)
	_, err = m.Start(context.Background(), "lec-1", "", time.Minute)
	require.NoError(t, err)

	m.mu.Lock()
	require.Len(t, m.pubs, 1)
	m.mu.Unlock()
}
