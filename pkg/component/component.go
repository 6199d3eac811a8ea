// Package component defines the lifecycle shared by the daemon's
// long-running parts.
package component

import (
	"context"
	"sync"
)

type Component interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Base carries the context and goroutine bookkeeping components embed.
type Base struct {
	name   string
	Ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewBase(name string) *Base {
	return &Base{name: name}
}

func (b *Base) Name() string {
	return b.name
}

func (b *Base) StartContext(parent context.Context) {
	if parent == nil {
		parent = context.Background()
	}
	b.Ctx, b.cancel = context.WithCancel(parent)
}

// StopContext cancels the component context and waits for every goroutine
// started through Go to return.
func (b *Base) StopContext() {
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()
}

func (b *Base) Go(fn func()) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn()
	}()
}
