package detector

import (
	"context"

	"github.com/loykin/emuctl/internal/health"
)

// HealthDetector treats any HTTP answer from the health endpoint as alive.
type HealthDetector struct {
	Poller *health.Poller
	URL    string
}

func (d HealthDetector) Alive(ctx context.Context) (bool, error) {
	return d.Poller.Query(ctx, d.URL).IsUp(), nil
}

func (d HealthDetector) Describe() string { return "http:" + d.URL }
