package testutil

import (
	"context"
	"fmt"
	"sync/atomic"

	"k8s.io/apimachinery/pkg/api/meta"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// FailureConfig configures when the fake client should return errors.
// Each field is a function that receives the object/key and returns an error if the operation should fail.
type FailureConfig struct {
	// OnGet is called before Get operations. Return non-nil to fail the operation.
	OnGet func(key client.ObjectKey) error

	// OnList is called before List operations. Return non-nil to fail the operation.
	OnList func(list client.ObjectList) error

	// OnCreate is called before Create operations. Return non-nil to fail the operation.
	OnCreate func(obj client.Object) error

	// OnUpdate is called before Update operations. Return non-nil to fail the operation.
	OnUpdate func(obj client.Object) error

	// OnPatch is called before Patch operations. Return non-nil to fail the operation.
	OnPatch func(obj client.Object) error
}

// fakeClientWithFailures wraps a real fake client and injects failures based on configuration.
type fakeClientWithFailures struct {
	client.Client
	config *FailureConfig
}

// NewFakeClientWithFailures creates a fake client that can be configured to fail operations.
func NewFakeClientWithFailures(baseClient client.Client, config *FailureConfig) client.Client {
	if config == nil {
		config = &FailureConfig{}
	}
	return &fakeClientWithFailures{
		Client: baseClient,
		config: config,
	}
}

func (c *fakeClientWithFailures) Get(
	ctx context.Context,
	key client.ObjectKey,
	obj client.Object,
	opts ...client.GetOption,
) error {
	if c.config.OnGet != nil {
		if err := c.config.OnGet(key); err != nil {
			return err
		}
	}
	return c.Client.Get(ctx, key, obj, opts...)
}

func (c *fakeClientWithFailures) List(
	ctx context.Context,
	list client.ObjectList,
	opts ...client.ListOption,
) error {
	if c.config.OnList != nil {
		if err := c.config.OnList(list); err != nil {
			return err
		}
	}
	return c.Client.List(ctx, list, opts...)
}

func (c *fakeClientWithFailures) Create(
	ctx context.Context,
	obj client.Object,
	opts ...client.CreateOption,
) error {
	if c.config.OnCreate != nil {
		if err := c.config.OnCreate(obj); err != nil {
			return err
		}
	}
	return c.Client.Create(ctx, obj, opts...)
}

func (c *fakeClientWithFailures) Update(
	ctx context.Context,
	obj client.Object,
	opts ...client.UpdateOption,
) error {
	if c.config.OnUpdate != nil {
		if err := c.config.OnUpdate(obj); err != nil {
			return err
		}
	}
	return c.Client.Update(ctx, obj, opts...)
}

func (c *fakeClientWithFailures) Patch(
	ctx context.Context,
	obj client.Object,
	patch client.Patch,
	opts ...client.PatchOption,
) error {
	if c.config.OnPatch != nil {
		if err := c.config.OnPatch(obj); err != nil {
			return err
		}
	}
	return c.Client.Patch(ctx, obj, patch, opts...)
}

// CountingClient counts calls per verb. It is safe for concurrent use.
type CountingClient struct {
	client.Client

	gets    atomic.Int64
	lists   atomic.Int64
	creates atomic.Int64
	updates atomic.Int64
	patches atomic.Int64
}

// NewCountingClient wraps c.
func NewCountingClient(c client.Client) *CountingClient {
	return &CountingClient{Client: c}
}

func (c *CountingClient) Get(
	ctx context.Context,
	key client.ObjectKey,
	obj client.Object,
	opts ...client.GetOption,
) error {
	c.gets.Add(1)
	return c.Client.Get(ctx, key, obj, opts...)
}

func (c *CountingClient) List(
	ctx context.Context,
	list client.ObjectList,
	opts ...client.ListOption,
) error {
	c.lists.Add(1)
	return c.Client.List(ctx, list, opts...)
}

func (c *CountingClient) Create(
	ctx context.Context,
	obj client.Object,
	opts ...client.CreateOption,
) error {
	c.creates.Add(1)
	return c.Client.Create(ctx, obj, opts...)
}

func (c *CountingClient) Update(
	ctx context.Context,
	obj client.Object,
	opts ...client.UpdateOption,
) error {
	c.updates.Add(1)
	return c.Client.Update(ctx, obj, opts...)
}

func (c *CountingClient) Patch(
	ctx context.Context,
	obj client.Object,
	patch client.Patch,
	opts ...client.PatchOption,
) error {
	c.patches.Add(1)
	return c.Client.Patch(ctx, obj, patch, opts...)
}

// Gets returns the number of Get calls.
func (c *CountingClient) Gets() int64 { return c.gets.Load() }

// Lists returns the number of List calls.
func (c *CountingClient) Lists() int64 { return c.lists.Load() }

// Creates returns the number of Create calls, including failed ones.
func (c *CountingClient) Creates() int64 { return c.creates.Load() }

// Updates returns the number of Update calls.
func (c *CountingClient) Updates() int64 { return c.updates.Load() }

// Patches returns the number of Patch calls.
func (c *CountingClient) Patches() int64 { return c.patches.Load() }

// Writes returns the number of Create, Update and Patch calls.
func (c *CountingClient) Writes() int64 {
	return c.Creates() + c.Updates() + c.Patches()
}

// Helper functions for common failure scenarios

// FailOnObjectName returns an error if the object name matches.
func FailOnObjectName(name string, err error) func(client.Object) error {
	return func(obj client.Object) error {
		accessor, metaErr := meta.Accessor(obj)
		if metaErr != nil {
			panic(fmt.Sprintf("meta.Accessor failed: %v", metaErr))
		}
		if accessor.GetName() == name {
			return err
		}
		return nil
	}
}

// FailOnKeyName returns an error if the key name matches.
func FailOnKeyName(name string, err error) func(client.ObjectKey) error {
	return func(key client.ObjectKey) error {
		if key.Name == name {
			return err
		}
		return nil
	}
}

// FailKeyAfterNCalls returns an ObjectKey failure function that fails after N successful calls.
// Use for OnGet.
func FailKeyAfterNCalls(n int, err error) func(client.ObjectKey) error {
	var count atomic.Int64
	return func(client.ObjectKey) error {
		if count.Add(1) > int64(n) {
			return err
		}
		return nil
	}
}

// FailObjAfterNCalls returns an Object failure function that fails after N successful calls.
// Use for OnCreate, OnUpdate, OnPatch.
func FailObjAfterNCalls(n int, err error) func(client.Object) error {
	var count atomic.Int64
	return func(client.Object) error {
		if count.Add(1) > int64(n) {
			return err
		}
		return nil
	}
}

// Common errors for testing
var (
	ErrInjected       = fmt.Errorf("injected test error")
	ErrNetworkTimeout = fmt.Errorf("network timeout")
)
