package orchestrator

import (
	"context"

	"github.com/hypervideo/client-simulator/pkg/api"
	"github.com/hypervideo/client-simulator/pkg/client"
)

type workerDialer struct{}

// NewWorkerDialer returns the production dialer connecting to real worker
// processes.
func NewWorkerDialer() Dialer {
	return workerDialer{}
}

func (workerDialer) Dial(ctx context.Context, workerUrl string, spec api.ParticipantSpec) (Session, error) {
	return client.Dial(ctx, workerUrl, spec)
}
