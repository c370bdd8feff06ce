package digcontainer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/dig"

	echoapi "github.com/ampayon/gradebook/apps/api/echo"
	"github.com/ampayon/gradebook/core"
)

func TestNew_graphIsComplete(t *testing.T) {
	c := New(dig.DryRun(true))

	err := c.Invoke(func(conf *core.Config, logger core.Logger, dbLogger DBLoggerParam, server *echoapi.Server) {})
	assert.NoError(t, err)
}
