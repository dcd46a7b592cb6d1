// Package testutil provides client wrappers for tests: fault injection on
// top of controller-runtime's fake client, and per-verb call counting to
// assert how many writes an operation issued.
//
// Example:
//
//	base := fake.NewClientBuilder().WithScheme(s).Build()
//	c := testutil.NewCountingClient(testutil.NewFakeClientWithFailures(base, &testutil.FailureConfig{
//	    OnCreate: testutil.FailOnObjectName("webhook-certs", testutil.ErrInjected),
//	}))
//	...
//	if got := c.Writes(); got != 0 {
//	    t.Errorf("expected no writes, got %d", got)
//	}
package testutil
