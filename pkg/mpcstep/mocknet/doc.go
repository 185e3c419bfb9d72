// Package mocknet provides an in-memory mpcstep.Transport for tests, the CLI
// and local experiments.
//
// Messages are delivered in order and exactly once between the two roles of
// one operation, which is all mpcstep.Drive requires:
//
//	net := mocknet.New()
//	p1, p2 := net.Pair()
//
//	g, ctx := errgroup.WithContext(ctx)
//	g.Go(func() error { return mpcstep.Drive(ctx, c1, p1, true) })
//	g.Go(func() error { return mpcstep.Drive(ctx, c2, p2, false) })
//	err := g.Wait()
//
// Always bound the run with a context deadline; a stalled peer otherwise
// blocks Receive forever.
//
// Mocknet has no encryption, authentication, latency or loss. Production
// deployments implement mpcstep.Transport over a real channel.
package mocknet
