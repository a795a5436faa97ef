package graceful

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rail-service/bridge_core/pkg/logger"
)

type recorder struct {
	name  string
	order *[]string
	err   error
}

func (r *recorder) Shutdown(timeout time.Duration) error {
	*r.order = append(*r.order, "shutdown:"+r.name)
	return r.err
}

func (r *recorder) Close() error {
	*r.order = append(*r.order, "close:"+r.name)
	return r.err
}

func TestShutdownManager_Order(t *testing.T) {
	var order []string
	sm := NewShutdownManager(&http.Server{}, logger.NewNop()).WithTimeout(time.Second)

	sm.Register(&recorder{name: "sweeper", order: &order})
	sm.Register(&recorder{name: "watchers", order: &order, err: errors.New("timed out")})
	sm.RegisterCloser("database", &recorder{name: "database", order: &order})
	sm.RegisterCloser("redis", &recorder{name: "redis", order: &order})

	sm.Shutdown()

	assert.Equal(t, []string{
		"shutdown:sweeper",
		"shutdown:watchers",
		"close:database",
		"close:redis",
	}, order)
}

func TestShutdownManager_NoServer(t *testing.T) {
	var order []string
	sm := NewShutdownManager(nil, logger.NewNop())
	sm.RegisterCloser("database", &recorder{name: "database", order: &order})

	sm.Shutdown()
	assert.Equal(t, []string{"close:database"}, order)
}
