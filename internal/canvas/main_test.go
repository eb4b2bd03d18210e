package canvas

import (
	"os"
	"testing"

	"github.com/canvaslabs/canvas-sync/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.Init()
	os.Exit(m.Run())
}
