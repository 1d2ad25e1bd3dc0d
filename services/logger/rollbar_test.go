package logsvc

import (
	"io"
	"log"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/shule/core/billing"
	"github.com/trezcool/shule/core/user"
)

func TestRollbarLogger_prepare(t *testing.T) {
	l := RollbarLogger{std: log.New(io.Discard, "", 0)}

	err := errors.New("boom")
	usr := user.User{ID: "u1", Username: "amani", Email: "amani@test.cd"}
	pmt := billing.Payment{ID: "p1", Status: billing.StatusPending, Kind: billing.KindClass, ExternalSessionID: "sess_001"}

	args := l.prepare("payment stuck", []interface{}{err, usr, pmt})

	// the user is folded into the person scope, not the args
	require.Len(t, args, 3)
	assert.Equal(t, "payment stuck", args[0])
	assert.Equal(t, err, args[1])
	assert.Equal(t, map[string]interface{}{
		"payment_id":     "p1",
		"payment_status": billing.StatusPending,
		"payment_kind":   billing.KindClass,
		"session_id":     "sess_001",
	}, args[2])
}
