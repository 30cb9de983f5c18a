package server

import (
	"context"
)

// Blocking wraps a component whose serve call blocks until ctx is
// cancelled, such as mover.Mover.Serve or metrics.Server.Start.
func Blocking(name string, serve func(ctx context.Context) error, stop func(ctx context.Context) error) Service {
	return &funcService{name: name, serve: serve, stop: stop}
}

// Background wraps a component that starts background workers and returns,
// such as gc.Collector or schedule.Runner. Its Serve blocks until ctx is
// cancelled.
func Background(name string, start func(ctx context.Context), stop func(ctx context.Context) error) Service {
	return &funcService{
		name: name,
		serve: func(ctx context.Context) error {
			start(ctx)
			<-ctx.Done()
			return ctx.Err()
		},
		stop: stop,
	}
}

type funcService struct {
	name  string
	serve func(ctx context.Context) error
	stop  func(ctx context.Context) error
}

func (f *funcService) Name() string {
	return f.name
}

func (f *funcService) Serve(ctx context.Context) error {
	return f.serve(ctx)
}

func (f *funcService) Stop(ctx context.Context) error {
	if f.stop == nil {
		return nil
	}
	return f.stop(ctx)
}
