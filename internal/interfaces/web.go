package interfaces

import "context"

type WebService interface {
	Start(ctx context.Context) error
	Stop() error
	IsRunning() bool
}
