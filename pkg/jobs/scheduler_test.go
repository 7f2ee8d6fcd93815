package jobs

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hexagonlabs/roster/pkg/identity"
)

type stubIdentity struct {
	identity.Service

	purged   int64
	purgeErr error
	calls    int
}

func (s *stubIdentity) PurgeExpiredTokens(ctx context.Context) (int64, error) {
	s.calls++
	return s.purged, s.purgeErr
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestRegisterTokenPurge(t *testing.T) {
	t.Run("accepts default schedule", func(t *testing.T) {
		s := NewScheduler(&stubIdentity{}, quietLogger())
		require.NoError(t, s.RegisterTokenPurge(""))
	})

	t.Run("rejects malformed schedule", func(t *testing.T) {
		s := NewScheduler(&stubIdentity{}, quietLogger())
		err := s.RegisterTokenPurge("not a cron spec")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to schedule")
	})
}

func TestPurgeTokens(t *testing.T) {
	t.Run("invokes the identity purge", func(t *testing.T) {
		stub := &stubIdentity{purged: 3}
		s := NewScheduler(stub, quietLogger())
		s.purgeTokens(context.Background())
		assert.Equal(t, 1, stub.calls)
	})

	t.Run("survives purge errors", func(t *testing.T) {
		stub := &stubIdentity{purgeErr: errors.New("db down")}
		s := NewScheduler(stub, quietLogger())
		s.purgeTokens(context.Background())
		assert.Equal(t, 1, stub.calls)
	})
}

func TestNewSchedulerDefaultsLogger(t *testing.T) {
	s := NewScheduler(&stubIdentity{}, nil)
	require.NotNil(t, s.log)
}
