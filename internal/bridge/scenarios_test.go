// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package bridge_test

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/aughey/framebridge/internal/bridge"
	"github.com/aughey/framebridge/internal/executor"
	"github.com/aughey/framebridge/internal/hostview"
	"github.com/aughey/framebridge/internal/registry"
	"github.com/aughey/framebridge/pkg/plugin"
)

// emitted is a side effect produced by a background task.
type emitted struct {
	Frame    uint64
	Position plugin.Position
}

// sink collects side effects from background tasks. Safe for concurrent use.
type sink struct {
	mu     sync.Mutex
	events []emitted
}

func (s *sink) add(e emitted) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *sink) snapshot() []emitted {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]emitted, len(s.events))
	copy(out, s.events)
	return out
}

// emitter copies view state and emits it from a spawned task.
type emitter struct {
	out      *sink
	inFrame  atomic.Int32
	overlaps atomic.Int32
	last     uint64
}

func (e *emitter) OnFrame(_ context.Context, rt plugin.Runtime, view plugin.Interface) error {
	if e.inFrame.Add(1) > 1 {
		e.overlaps.Add(1)
	}
	defer e.inFrame.Add(-1)

	frame := view.FrameCounter()
	pos := view.Position()
	e.last = frame
	time.Sleep(time.Millisecond)
	return rt.Spawn("emit", func(context.Context) error {
		e.out.add(emitted{Frame: frame, Position: pos})
		return nil
	})
}

var _ = Describe("Bridge", func() {
	var (
		ctx  context.Context
		out  *sink
		inst *emitter
		b    *bridge.Bridge
		h1   registry.Handle
	)

	BeforeEach(func() {
		ctx = context.Background()
		out = &sink{}
		h1 = registry.Handle(0x7f00_1000)

		var err error
		b, err = bridge.New(func(context.Context, plugin.Setup) (plugin.Plugin, error) {
			inst = &emitter{out: out}
			return inst, nil
		})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(b.Close(ctx)).To(Succeed())
	})

	Describe("instance lifecycle", func() {
		It("reflects tick state in side effects and ignores ticks after destroy", func() {
			stateA := hostview.State{
				Name:     "sensor",
				Frame:    12,
				Position: plugin.Position{X: 1.5, Y: -2, Z: 30},
			}

			Expect(b.Construct(ctx, h1)).To(Succeed())
			Expect(b.Tick(ctx, h1, stateA, nil)).To(Succeed())

			Eventually(out.snapshot).Should(ConsistOf(emitted{
				Frame:    12,
				Position: plugin.Position{X: 1.5, Y: -2, Z: 30},
			}))

			b.Destroy(h1)
			Expect(b.Tick(ctx, h1, stateA, nil)).To(Succeed())
			Consistently(out.snapshot, 50*time.Millisecond).Should(HaveLen(1))
		})

		It("treats ticks for an unknown handle as no-ops", func() {
			Expect(b.Tick(ctx, 0xbad, hostview.State{Frame: 1}, nil)).To(Succeed())
			Expect(b.Len()).To(BeZero())
		})

		It("keeps other handles when removing an unknown one", func() {
			Expect(b.Construct(ctx, h1)).To(Succeed())
			b.Destroy(0xbad)
			Expect(b.Handles()).To(Equal([]registry.Handle{h1}))
		})
	})

	Describe("construction with an unreachable dependency", func() {
		It("fails and never registers the instance", func() {
			listener, err := net.Listen("tcp", "127.0.0.1:0")
			Expect(err).NotTo(HaveOccurred())
			addr := listener.Addr().String()
			Expect(listener.Close()).To(Succeed())

			unreachable, err := bridge.New(func(ctx context.Context, setup plugin.Setup) (plugin.Plugin, error) {
				conn, err := executor.BlockOn(ctx, setup, func(ctx context.Context) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "tcp", addr)
				})
				if err != nil {
					return nil, err
				}
				_ = conn.Close()
				return &emitter{out: out}, nil
			})
			Expect(err).NotTo(HaveOccurred())
			defer func() { Expect(unreachable.Close(ctx)).To(Succeed()) }()

			err = unreachable.Construct(ctx, h1)
			Expect(err).To(HaveOccurred())
			Expect(plugin.KindOf(err)).To(Equal(plugin.KindConstruction))
			Expect(unreachable.Len()).To(BeZero())
			Expect(unreachable.Handles()).NotTo(ContainElement(h1))
		})
	})

	Describe("sequential ticks", func() {
		It("observe an incrementing frame counter", func() {
			Expect(b.Construct(ctx, h1)).To(Succeed())

			for frame := uint64(1); frame <= 3; frame++ {
				Expect(b.Tick(ctx, h1, hostview.State{Frame: frame}, nil)).To(Succeed())
				Expect(inst.last).To(Equal(frame))
			}
		})

		It("never interleave when the host calls from several threads", func() {
			Expect(b.Construct(ctx, h1)).To(Succeed())

			var wg sync.WaitGroup
			for frame := uint64(1); frame <= 20; frame++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					Expect(b.Tick(ctx, h1, hostview.State{Frame: frame}, nil)).To(Succeed())
				}()
			}
			wg.Wait()

			Expect(inst.overlaps.Load()).To(BeZero())
			Eventually(func() int { return len(out.snapshot()) }).Should(Equal(20))
		})

		It("does not wait for spawned work", func() {
			release := make(chan struct{})
			defer close(release)

			slow, err := bridge.New(func(context.Context, plugin.Setup) (plugin.Plugin, error) {
				return pluginFunc(func(_ context.Context, rt plugin.Runtime, _ plugin.Interface) error {
					return rt.Spawn("wait", func(ctx context.Context) error {
						select {
						case <-release:
						case <-ctx.Done():
						}
						return nil
					})
				}), nil
			}, bridge.WithExecutorConfig(executor.Config{ShutdownTimeout: 50 * time.Millisecond}))
			Expect(err).NotTo(HaveOccurred())
			defer func() { Expect(slow.Close(ctx)).To(Succeed()) }()

			Expect(slow.Construct(ctx, h1)).To(Succeed())
			for frame := uint64(1); frame <= 5; frame++ {
				start := time.Now()
				Expect(slow.Tick(ctx, h1, hostview.State{Frame: frame}, nil)).To(Succeed())
				Expect(time.Since(start)).To(BeNumerically("<", 100*time.Millisecond))
			}
		})
	})
})

type pluginFunc func(ctx context.Context, rt plugin.Runtime, view plugin.Interface) error

func (f pluginFunc) OnFrame(ctx context.Context, rt plugin.Runtime, view plugin.Interface) error {
	return f(ctx, rt, view)
}
