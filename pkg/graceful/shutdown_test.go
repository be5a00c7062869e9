package graceful

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rail-service/settlement_service/pkg/logger"
)

type recorder struct {
	name  string
	order *[]string
	err   error
}

func (r recorder) Shutdown(time.Duration) error {
	*r.order = append(*r.order, r.name)
	return r.err
}

func (r recorder) Close() error {
	*r.order = append(*r.order, r.name)
	return nil
}

func TestShutdownManager_Order(t *testing.T) {
	var order []string
	sm := NewShutdownManager(nil, time.Second, logger.NewNop())
	sm.RegisterCloser(recorder{name: "db", order: &order})
	sm.Register(recorder{name: "driver", order: &order, err: errors.New("slow")})
	sm.Register(recorder{name: "refresher", order: &order})

	sm.Shutdown()

	assert.Equal(t, []string{"driver", "refresher", "db"}, order)
}

func TestFuncAdapters(t *testing.T) {
	var order []string
	sm := NewShutdownManager(nil, time.Second, logger.NewNop())
	sm.Register(ShutdownFunc(func(timeout time.Duration) error {
		assert.Equal(t, time.Second, timeout)
		order = append(order, "scheduler")
		return nil
	}))
	sm.RegisterCloser(CloserFunc(func() error {
		order = append(order, "publisher")
		return nil
	}))

	sm.Shutdown()

	assert.Equal(t, []string{"scheduler", "publisher"}, order)
}
