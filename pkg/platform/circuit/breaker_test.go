package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type BreakerSuite struct {
	suite.Suite
	now time.Time
}

func TestBreakerSuite(t *testing.T) {
	suite.Run(t, new(BreakerSuite))
}

func (s *BreakerSuite) SetupTest() {
	s.now = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
}

func (s *BreakerSuite) breaker(opts ...Option) *Breaker {
	opts = append(opts, WithClock(func() time.Time { return s.now }))
	return New("similarity", opts...)
}

// =============================================================================
// Opening
// =============================================================================

func (s *BreakerSuite) TestStartsClosed() {
	b := s.breaker()
	s.Equal(StateClosed, b.State())
	s.Equal("similarity", b.Name())
	s.True(b.Allow())
}

func (s *BreakerSuite) TestOpensOnConsecutiveFailures() {
	b := s.breaker(WithFailureThreshold(3))

	for range 2 {
		fallback, change := b.RecordFailure()
		s.False(fallback)
		s.False(change.Opened)
	}
	fallback, change := b.RecordFailure()
	s.True(fallback)
	s.True(change.Opened)
	s.True(b.IsOpen())

	fallback, change = b.RecordFailure()
	s.True(fallback)
	s.False(change.Opened, "already open")
}

func (s *BreakerSuite) TestSuccessInterruptsFailureStreak() {
	b := s.breaker(WithFailureThreshold(3))
	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	s.False(b.IsOpen())
}

// =============================================================================
// Recovery
// =============================================================================

func (s *BreakerSuite) TestProbesOnlyAfterCooldown() {
	b := s.breaker(WithFailureThreshold(1), WithCooldown(10*time.Second))
	b.RecordFailure()
	s.False(b.Allow())

	s.now = s.now.Add(11 * time.Second)
	s.True(b.Allow())

	b.RecordFailure()
	s.False(b.Allow(), "failed probe restarts the cooldown")
}

func (s *BreakerSuite) TestClosesAfterSuccessfulProbes() {
	b := s.breaker(WithFailureThreshold(1), WithSuccessThreshold(2))
	b.RecordFailure()

	primary, change := b.RecordSuccess()
	s.False(primary)
	s.False(change.Closed)

	primary, change = b.RecordSuccess()
	s.True(primary)
	s.True(change.Closed)
	s.Equal(StateClosed, b.State())
}

func (s *BreakerSuite) TestFailedProbeRestartsSuccessCount() {
	b := s.breaker(WithFailureThreshold(1), WithSuccessThreshold(2))
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordSuccess()
	s.True(b.IsOpen())
	b.RecordSuccess()
	s.False(b.IsOpen())
}

func TestReset(t *testing.T) {
	b := New("similarity", WithFailureThreshold(1))
	b.RecordFailure()
	b.Reset()
	assert.Equal(t, StateClosed, b.State())
}
