package session

import (
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicegate-server/pkg/errors"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestPutGetRemove(t *testing.T) {
	reg := NewRegistry(testLogger())
	sess := NewCallSession("42", "+919998887776", "Asha", "abc")

	reg.Put(sess.SessionKey, sess)

	got, ok := reg.Get("42_abc")
	require.True(t, ok)
	assert.Equal(t, sess, got)

	assert.True(t, reg.Remove("42_abc"))
	assert.False(t, reg.Remove("42_abc"), "second remove must report no entry")

	_, ok = reg.Get("42_abc")
	assert.False(t, ok)
}

func TestAwaitRegistration_ImmediateHit(t *testing.T) {
	reg := NewRegistry(testLogger())
	sess := NewCallSession("42", "+919998887776", "", "abc")
	reg.Put("42_abc", sess)

	start := time.Now()
	got, err := reg.AwaitRegistration("42_abc", 10*time.Second, 500*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, sess, got)
	assert.Less(t, time.Since(start), 100*time.Millisecond,
		"present session must resolve without waiting")
}

func TestAwaitRegistration_ResolvedByLatePut(t *testing.T) {
	reg := NewRegistry(testLogger())
	sess := NewCallSession("42", "+919998887776", "", "abc")

	go func() {
		time.Sleep(50 * time.Millisecond)
		reg.Put("42_abc", sess)
	}()

	got, err := reg.AwaitRegistration("42_abc", 10*time.Second, 500*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, sess, got)
}

func TestAwaitRegistration_Timeout(t *testing.T) {
	reg := NewRegistry(testLogger())

	start := time.Now()
	_, err := reg.AwaitRegistration("42_missing", 100*time.Millisecond, 20*time.Millisecond)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrSessionNotFound))
	assert.Less(t, time.Since(start), time.Second)

	// The abandoned waiter must not linger
	reg.mu.Lock()
	assert.Empty(t, reg.waiters["42_missing"])
	reg.mu.Unlock()
}

func TestAwaitRegistration_ConcurrentWaiters(t *testing.T) {
	reg := NewRegistry(testLogger())
	sess := NewCallSession("7", "+911234567890", "", "xyz")

	var wg sync.WaitGroup
	results := make([]*CallSession, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := reg.AwaitRegistration("7_xyz", 2*time.Second, 100*time.Millisecond)
			if err == nil {
				results[i] = got
			}
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	reg.Put("7_xyz", sess)
	wg.Wait()

	for i, got := range results {
		assert.Equal(t, sess, got, "waiter %d", i)
	}
}

func TestAppendTurn_OrderAndTimestamps(t *testing.T) {
	sess := NewCallSession("42", "+919998887776", "", "abc")
	sess.AppendTurn(RoleUser, "hello")
	sess.AppendTurn(RoleBot, "namaskar")
	sess.AppendTurn(RoleUser, "am I eligible")
	sess.AppendTurn(RoleBot, "yes")

	history := sess.History()
	require.Len(t, history, 4)

	for i, turn := range history {
		want := RoleUser
		if i%2 == 1 {
			want = RoleBot
		}
		assert.Equal(t, want, turn.Role, "turn %d", i)
		if i > 0 {
			assert.False(t, turn.Timestamp.Before(history[i-1].Timestamp),
				"timestamps must be non-decreasing")
		}
	}
}

func TestHistoryReturnsCopy(t *testing.T) {
	sess := NewCallSession("42", "+919998887776", "", "abc")
	sess.AppendTurn(RoleUser, "hello")

	history := sess.History()
	history[0].Text = "mutated"

	assert.Equal(t, "hello", sess.History()[0].Text)
}

func TestSnapshotUnknownCaller(t *testing.T) {
	sess := NewCallSession("unknown_1", "+910000000000", "", "abc")
	snap := sess.Snapshot()
	assert.Equal(t, "Unknown User", snap.UserInfo)
	assert.Equal(t, "unknown_1_abc", snap.SessionID)
}

func TestRegistrySnapshots(t *testing.T) {
	reg := NewRegistry(testLogger())
	a := NewCallSession("1", "+911111111111", "A", "aa")
	b := NewCallSession("2", "+912222222222", "B", "bb")
	reg.Put(a.SessionKey, a)
	reg.Put(b.SessionKey, b)

	snaps := reg.Snapshots()
	assert.Len(t, snaps, 2)
	assert.Equal(t, 2, reg.Len())
}
