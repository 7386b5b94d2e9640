package commbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestBus() *InMemoryCommBus {
	return NewInMemoryCommBus(30 * time.Second)
}

func startedEvent(sessionID string) *SessionStarted {
	return &SessionStarted{
		DatasetRef: "dandiset-000123",
		SessionID:  sessionID,
		OwnerID:    "owner-1",
	}
}

func countingHandler(counter *int32) HandlerFunc {
	return func(ctx context.Context, msg Message) (any, error) {
		atomic.AddInt32(counter, 1)
		return "ok", nil
	}
}

func failingHandler(errMsg string) HandlerFunc {
	return func(ctx context.Context, msg Message) (any, error) {
		return nil, errors.New(errMsg)
	}
}

func slowHandler(duration time.Duration) HandlerFunc {
	return func(ctx context.Context, msg Message) (any, error) {
		time.Sleep(duration)
		return "ok", nil
	}
}

// hookMiddleware dispatches to optional hooks, standing in for the
// various logging/abort/rewrite middlewares a deployment composes.
type hookMiddleware struct {
	before func(ctx context.Context, msg Message) (Message, error)
	after  func(ctx context.Context, msg Message, result any, err error) (any, error)
}

func (m *hookMiddleware) Before(ctx context.Context, msg Message) (Message, error) {
	if m.before == nil {
		return msg, nil
	}
	return m.before(ctx, msg)
}

func (m *hookMiddleware) After(ctx context.Context, msg Message, result any, err error) (any, error) {
	if m.after == nil {
		return result, err
	}
	return m.after(ctx, msg, result, err)
}

// waitForCircuitState polls until the circuit reaches the expected state.
func waitForCircuitState(t *testing.T, cb *CircuitBreakerMiddleware, msgType string, expectedState string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cb.GetStates()[msgType] == expectedState {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("circuit never reached state %s for %s, got states: %v", expectedState, msgType, cb.GetStates())
}

// tripCircuit drives enough failing queries through the bus to open the
// circuit for GetSettings.
func tripCircuit(t *testing.T, bus *InMemoryCommBus, cb *CircuitBreakerMiddleware, failures int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < failures; i++ {
		_, _ = bus.QuerySync(ctx, &GetSettings{})
	}
	require.Equal(t, "open", cb.GetStates()["GetSettings"])
}

// =============================================================================
// EVENT TESTS
// =============================================================================

func TestPublishEventWithSubscribers(t *testing.T) {
	// Events fan out to every subscriber.
	bus := newTestBus()
	ctx := context.Background()

	var first, second int32
	bus.Subscribe("SessionStarted", countingHandler(&first))
	bus.Subscribe("SessionStarted", countingHandler(&second))

	var captured atomic.Pointer[SessionStarted]
	bus.Subscribe("SessionStarted", func(ctx context.Context, msg Message) (any, error) {
		captured.Store(msg.(*SessionStarted))
		return nil, nil
	})

	require.NoError(t, bus.Publish(ctx, startedEvent("s1")))

	assert.Equal(t, int32(1), atomic.LoadInt32(&first))
	assert.Equal(t, int32(1), atomic.LoadInt32(&second))
	require.NotNil(t, captured.Load())
	assert.Equal(t, "dandiset-000123", captured.Load().DatasetRef)
	assert.Equal(t, "owner-1", captured.Load().OwnerID)
}

func TestPublishEventNoSubscribers(t *testing.T) {
	// Publishing without subscribers is not an error.
	bus := newTestBus()

	err := bus.Publish(context.Background(), startedEvent("s1"))
	assert.NoError(t, err)
}

func TestPublishSubscriberErrorDoesNotStopOthers(t *testing.T) {
	// One failing subscriber must not block delivery to the rest.
	bus := newTestBus()

	var delivered int32
	bus.Subscribe("SessionStarted", failingHandler("subscriber down"))
	bus.Subscribe("SessionStarted", countingHandler(&delivered))

	err := bus.Publish(context.Background(), startedEvent("s1"))
	assert.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&delivered))
}

func TestPublishSubscriberPanicIsRecovered(t *testing.T) {
	// A panicking subscriber counts as a handler error and must not
	// crash the process or starve the other subscribers.
	bus := newTestBus()

	var delivered int32
	bus.Subscribe("SessionStarted", func(ctx context.Context, msg Message) (any, error) {
		panic("subscriber exploded")
	})
	bus.Subscribe("SessionStarted", countingHandler(&delivered))

	err := bus.Publish(context.Background(), startedEvent("s1"))
	assert.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&delivered))
	assert.Equal(t, uint64(1), bus.GetStats()["handler_errors"])
}

func TestUnsubscribe(t *testing.T) {
	// Unsubscribe stops further delivery.
	bus := newTestBus()
	ctx := context.Background()

	var delivered int32
	unsubscribe := bus.Subscribe("SessionStarted", countingHandler(&delivered))

	require.NoError(t, bus.Publish(ctx, startedEvent("s1")))
	assert.Equal(t, int32(1), atomic.LoadInt32(&delivered))

	unsubscribe()
	assert.Len(t, bus.GetSubscribers("SessionStarted"), 0)

	require.NoError(t, bus.Publish(ctx, startedEvent("s2")))
	assert.Equal(t, int32(1), atomic.LoadInt32(&delivered))
}

func TestUnsubscribeRemovesOnlyOwnSubscription(t *testing.T) {
	// Unsubscribing one handler must leave the others in place.
	bus := newTestBus()

	noop := func(ctx context.Context, msg Message) (any, error) { return nil, nil }
	unsub1 := bus.Subscribe("SessionStarted", noop)
	_ = bus.Subscribe("SessionStarted", noop)

	unsub1()
	assert.Len(t, bus.GetSubscribers("SessionStarted"), 1)

	// Calling the same unsubscribe again is a no-op.
	unsub1()
	assert.Len(t, bus.GetSubscribers("SessionStarted"), 1)
}

// =============================================================================
// QUERY TESTS
// =============================================================================

func TestQueryWithHandler(t *testing.T) {
	// Queries return the handler response.
	bus := newTestBus()
	ctx := context.Background()

	err := bus.RegisterHandler("GetSettings", func(ctx context.Context, msg Message) (any, error) {
		query := msg.(*GetSettings)
		key := "all"
		if query.Key != nil {
			key = *query.Key
		}
		return &SettingsResponse{Values: map[string]any{"key": key}}, nil
	})
	require.NoError(t, err)

	key := "llm"
	result, err := bus.QuerySync(ctx, &GetSettings{Key: &key})
	require.NoError(t, err)

	response := result.(*SettingsResponse)
	assert.Equal(t, "llm", response.Values["key"])
}

func TestQueryWithoutHandler(t *testing.T) {
	bus := newTestBus()

	_, err := bus.QuerySync(context.Background(), &GetSettings{})

	var noHandler *NoHandlerError
	require.ErrorAs(t, err, &noHandler)
	assert.Equal(t, "GetSettings", noHandler.MessageType)
}

func TestQueryTimeout(t *testing.T) {
	// A handler slower than the bus timeout yields QueryTimeoutError.
	bus := NewInMemoryCommBus(50 * time.Millisecond)
	ctx := context.Background()

	require.NoError(t, bus.RegisterHandler("GetSettings", slowHandler(500*time.Millisecond)))

	start := time.Now()
	_, err := bus.QuerySync(ctx, &GetSettings{})
	elapsed := time.Since(start)

	var timeoutErr *QueryTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, "GetSettings", timeoutErr.MessageType)
	assert.Less(t, elapsed, 400*time.Millisecond)
}

func TestQueryContextCancellation(t *testing.T) {
	// Cancelling the caller context unblocks the query.
	bus := newTestBus()
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, bus.RegisterHandler("GetSettings", func(ctx context.Context, msg Message) (any, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return &SettingsResponse{}, nil
		}
	}))

	done := make(chan error, 1)
	go func() {
		_, err := bus.QuerySync(ctx, &GetSettings{})
		done <- err
	}()

	cancel()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("query did not return after context cancellation")
	}
}

func TestConcurrentQueries(t *testing.T) {
	bus := newTestBus()
	ctx := context.Background()

	require.NoError(t, bus.RegisterHandler("GetSettings", func(ctx context.Context, msg Message) (any, error) {
		return &SettingsResponse{Values: map[string]any{"ok": true}}, nil
	}))

	const goroutines = 50
	var wg sync.WaitGroup
	errs := make([]error, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, errs[idx] = bus.QuerySync(ctx, &GetSettings{})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
}

// =============================================================================
// COMMAND TESTS
// =============================================================================

func TestSendCommandWithHandler(t *testing.T) {
	bus := newTestBus()

	var handled int32
	require.NoError(t, bus.RegisterHandler("EvictSession", countingHandler(&handled)))

	err := bus.Send(context.Background(), &EvictSession{SessionID: "sess_1", Reason: "restart"})
	assert.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&handled))
}

func TestSendCommandWithoutHandler(t *testing.T) {
	// Commands without a handler are dropped silently.
	bus := newTestBus()

	err := bus.Send(context.Background(), &EvictSession{SessionID: "sess_1"})
	assert.NoError(t, err)
}

func TestSendCommandHandlerError(t *testing.T) {
	// The handler error is surfaced to callers that check it.
	bus := newTestBus()

	require.NoError(t, bus.RegisterHandler("EvictSession", failingHandler("not found")))

	err := bus.Send(context.Background(), &EvictSession{SessionID: "sess_x"})
	assert.EqualError(t, err, "not found")
}

// =============================================================================
// REGISTRATION AND INTROSPECTION
// =============================================================================

func TestRegisterDuplicateHandler(t *testing.T) {
	bus := newTestBus()
	handler := func(ctx context.Context, msg Message) (any, error) { return nil, nil }

	require.NoError(t, bus.RegisterHandler("GetSettings", handler))

	err := bus.RegisterHandler("GetSettings", handler)
	var dup *HandlerAlreadyRegisteredError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "GetSettings", dup.MessageType)
}

func TestHasHandler(t *testing.T) {
	bus := newTestBus()

	assert.False(t, bus.HasHandler("GetSettings"))

	_ = bus.RegisterHandler("GetSettings", func(ctx context.Context, msg Message) (any, error) {
		return &SettingsResponse{Values: map[string]any{}}, nil
	})

	assert.True(t, bus.HasHandler("GetSettings"))
}

func TestGetSubscribers(t *testing.T) {
	bus := newTestBus()

	assert.Len(t, bus.GetSubscribers("SessionStarted"), 0)

	noop := func(ctx context.Context, msg Message) (any, error) { return nil, nil }
	bus.Subscribe("SessionStarted", noop)
	bus.Subscribe("SessionStarted", noop)

	assert.Len(t, bus.GetSubscribers("SessionStarted"), 2)
}

func TestGetRegisteredTypes(t *testing.T) {
	bus := newTestBus()

	noop := func(ctx context.Context, msg Message) (any, error) { return nil, nil }
	bus.Subscribe("SessionStarted", noop)
	_ = bus.RegisterHandler("GetSessionState", noop)

	types := bus.GetRegisteredTypes()
	assert.ElementsMatch(t, []string{"SessionStarted", "GetSessionState"}, types)
}

func TestGetStats(t *testing.T) {
	// GetStats counts traffic and registrations.
	bus := newTestBus()
	ctx := context.Background()

	bus.Subscribe("SessionStarted", func(ctx context.Context, msg Message) (any, error) {
		return nil, nil
	})
	_ = bus.RegisterHandler("GetSessionState", func(ctx context.Context, msg Message) (any, error) {
		return &SessionStateResponse{Found: false}, nil
	})

	_ = bus.Publish(ctx, startedEvent("s1"))
	_ = bus.Publish(ctx, startedEvent("s2"))
	_, _ = bus.QuerySync(ctx, &GetSessionState{SessionID: "s1"})

	stats := bus.GetStats()
	assert.Equal(t, uint64(2), stats["events_published"])
	assert.Equal(t, uint64(1), stats["queries_served"])
	assert.Equal(t, uint64(0), stats["commands_sent"])
	assert.Equal(t, 1, stats["registered_handlers"])
	assert.Equal(t, 1, stats["active_subscriptions"])
}

func TestClear(t *testing.T) {
	bus := newTestBus()

	bus.Subscribe("SessionStarted", func(ctx context.Context, msg Message) (any, error) {
		return nil, nil
	})
	_ = bus.RegisterHandler("GetSettings", func(ctx context.Context, msg Message) (any, error) {
		return &SettingsResponse{Values: map[string]any{}}, nil
	})
	bus.AddMiddleware(NewLoggingMiddleware("DEBUG"))

	bus.Clear()

	assert.False(t, bus.HasHandler("GetSettings"))
	assert.Len(t, bus.GetSubscribers("SessionStarted"), 0)
}

// =============================================================================
// ERROR TESTS
// =============================================================================

func TestNoHandlerError(t *testing.T) {
	err := NewNoHandlerError("GetSettings")
	assert.Equal(t, "no handler registered for GetSettings", err.Error())
	assert.Equal(t, "GetSettings", err.MessageType)
}

func TestHandlerAlreadyRegisteredError(t *testing.T) {
	err := NewHandlerAlreadyRegisteredError("GetSettings")
	assert.Equal(t, "handler already registered for GetSettings", err.Error())
	assert.Equal(t, "GetSettings", err.MessageType)
}

func TestQueryTimeoutError(t *testing.T) {
	err := NewQueryTimeoutError("GetSettings", 30.0)
	assert.Contains(t, err.Error(), "GetSettings")
	assert.Contains(t, err.Error(), "30.00s")
}

// =============================================================================
// MIDDLEWARE TESTS
// =============================================================================

func TestMiddlewareChainOrder(t *testing.T) {
	// Before runs in registration order, After in reverse.
	bus := newTestBus()
	ctx := context.Background()

	var mu sync.Mutex
	order := []string{}
	record := func(step string) {
		mu.Lock()
		order = append(order, step)
		mu.Unlock()
	}

	for _, name := range []string{"first", "second"} {
		name := name
		bus.AddMiddleware(&hookMiddleware{
			before: func(ctx context.Context, msg Message) (Message, error) {
				record(name + "-before")
				return msg, nil
			},
			after: func(ctx context.Context, msg Message, result any, err error) (any, error) {
				record(name + "-after")
				return result, err
			},
		})
	}

	require.NoError(t, bus.RegisterHandler("GetSettings", func(ctx context.Context, msg Message) (any, error) {
		return &SettingsResponse{}, nil
	}))
	_, err := bus.QuerySync(ctx, &GetSettings{})
	require.NoError(t, err)

	assert.Equal(t, []string{"first-before", "second-before", "second-after", "first-after"}, order)
}

func TestMiddlewareAbortsProcessing(t *testing.T) {
	// A nil message from Before drops the event and skips later middleware.
	bus := newTestBus()

	laterCalled := false
	bus.AddMiddleware(&hookMiddleware{
		before: func(ctx context.Context, msg Message) (Message, error) { return nil, nil },
	})
	bus.AddMiddleware(&hookMiddleware{
		before: func(ctx context.Context, msg Message) (Message, error) {
			laterCalled = true
			return msg, nil
		},
	})

	var delivered int32
	bus.Subscribe("SessionStarted", countingHandler(&delivered))

	require.NoError(t, bus.Publish(context.Background(), startedEvent("s1")))
	assert.Equal(t, int32(0), atomic.LoadInt32(&delivered))
	assert.False(t, laterCalled)
}

func TestMiddlewareBeforeError(t *testing.T) {
	bus := newTestBus()

	bus.AddMiddleware(&hookMiddleware{
		before: func(ctx context.Context, msg Message) (Message, error) {
			return nil, errors.New("middleware rejected")
		},
	})

	err := bus.Publish(context.Background(), startedEvent("s1"))
	assert.EqualError(t, err, "middleware rejected")
}

func TestMiddlewareAfterOverridesError(t *testing.T) {
	// An error from After replaces the handler error for queries.
	bus := newTestBus()

	bus.AddMiddleware(&hookMiddleware{
		after: func(ctx context.Context, msg Message, result any, err error) (any, error) {
			return result, errors.New("after error")
		},
	})
	require.NoError(t, bus.RegisterHandler("GetSettings", func(ctx context.Context, msg Message) (any, error) {
		return &SettingsResponse{}, nil
	}))

	_, err := bus.QuerySync(context.Background(), &GetSettings{})
	assert.EqualError(t, err, "after error")
}

func TestMiddlewareAfterRewritesResult(t *testing.T) {
	bus := newTestBus()

	bus.AddMiddleware(&hookMiddleware{
		after: func(ctx context.Context, msg Message, result any, err error) (any, error) {
			if err != nil {
				return result, err
			}
			return map[string]any{"wrapped": result}, nil
		},
	})
	require.NoError(t, bus.RegisterHandler("GetSettings", func(ctx context.Context, msg Message) (any, error) {
		return &SettingsResponse{}, nil
	}))

	result, err := bus.QuerySync(context.Background(), &GetSettings{})
	require.NoError(t, err)

	wrapped := result.(map[string]any)
	assert.IsType(t, &SettingsResponse{}, wrapped["wrapped"])
}

func TestLoggingMiddlewarePassesThrough(t *testing.T) {
	// With or without a logger the logging middleware must not alter traffic.
	bus := newTestBus()
	bus.AddMiddleware(NewLoggingMiddleware("DEBUG"))

	require.NoError(t, bus.RegisterHandler("GetSettings", func(ctx context.Context, msg Message) (any, error) {
		return &SettingsResponse{Values: map[string]any{"ok": true}}, nil
	}))

	result, err := bus.QuerySync(context.Background(), &GetSettings{})
	require.NoError(t, err)
	assert.Equal(t, true, result.(*SettingsResponse).Values["ok"])

	assert.NoError(t, bus.Publish(context.Background(), startedEvent("s1")))
}

// =============================================================================
// CIRCUIT BREAKER TESTS
// =============================================================================

func newBreakerBus(threshold int, reset time.Duration, excluded ...string) (*InMemoryCommBus, *CircuitBreakerMiddleware) {
	bus := newTestBus()
	cb := NewCircuitBreakerMiddleware(threshold, reset, excluded)
	bus.AddMiddleware(cb)
	_ = bus.RegisterHandler("GetSettings", failingHandler("backend down"))
	return bus, cb
}

func TestCircuitBreakerOpensAfterFailures(t *testing.T) {
	bus, cb := newBreakerBus(3, 100*time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, _ = bus.QuerySync(ctx, &GetSettings{})
	}
	assert.Equal(t, "closed", cb.GetStates()["GetSettings"])

	_, _ = bus.QuerySync(ctx, &GetSettings{})
	assert.Equal(t, "open", cb.GetStates()["GetSettings"])
}

func TestCircuitBreakerBlocksWhenOpen(t *testing.T) {
	bus, cb := newBreakerBus(2, time.Minute)
	tripCircuit(t, bus, cb, 2)

	// Blocked requests never reach the handler; the bus reports no handler
	// because middleware dropped the message.
	_, err := bus.QuerySync(context.Background(), &GetSettings{})
	var noHandler *NoHandlerError
	assert.ErrorAs(t, err, &noHandler)
}

func TestCircuitBreakerHalfOpenSuccessCloses(t *testing.T) {
	bus, cb := newBreakerBus(2, 50*time.Millisecond)
	tripCircuit(t, bus, cb, 2)

	// Swap in a healthy handler, then probe after the reset timeout.
	bus.Clear()
	bus.AddMiddleware(cb)
	require.NoError(t, bus.RegisterHandler("GetSettings", func(ctx context.Context, msg Message) (any, error) {
		return &SettingsResponse{}, nil
	}))

	time.Sleep(60 * time.Millisecond)
	_, err := bus.QuerySync(context.Background(), &GetSettings{})
	require.NoError(t, err)

	waitForCircuitState(t, cb, "GetSettings", "closed", time.Second)
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	bus, cb := newBreakerBus(2, 50*time.Millisecond)
	tripCircuit(t, bus, cb, 2)

	time.Sleep(60 * time.Millisecond)
	_, _ = bus.QuerySync(context.Background(), &GetSettings{})

	assert.Equal(t, "open", cb.GetStates()["GetSettings"])
}

func TestCircuitBreakerExcludedTypes(t *testing.T) {
	// Excluded message types never trip or consult the breaker.
	bus, cb := newBreakerBus(2, 100*time.Millisecond, "HealthCheckRequest")
	ctx := context.Background()

	_ = bus.RegisterHandler("HealthCheckRequest", failingHandler("always down"))

	for i := 0; i < 5; i++ {
		_, _ = bus.QuerySync(ctx, &HealthCheckRequest{})
	}

	_, hasState := cb.GetStates()["HealthCheckRequest"]
	assert.False(t, hasState)

	// Excluded traffic still reaches the handler.
	_, err := bus.QuerySync(ctx, &HealthCheckRequest{})
	assert.EqualError(t, err, "always down")
}

func TestCircuitBreakerTracksTypesIndependently(t *testing.T) {
	bus, cb := newBreakerBus(2, time.Minute)
	ctx := context.Background()

	require.NoError(t, bus.RegisterHandler("GetSessionState", func(ctx context.Context, msg Message) (any, error) {
		return &SessionStateResponse{Found: false}, nil
	}))

	tripCircuit(t, bus, cb, 2)
	_, _ = bus.QuerySync(ctx, &GetSessionState{SessionID: "s1"})

	states := cb.GetStates()
	assert.Equal(t, "open", states["GetSettings"])
	assert.Equal(t, "closed", states["GetSessionState"])
}

func TestCircuitBreakerReset(t *testing.T) {
	bus, cb := newBreakerBus(2, time.Minute)
	tripCircuit(t, bus, cb, 2)

	msgType := "GetSettings"
	cb.Reset(&msgType)
	assert.NotContains(t, cb.GetStates(), "GetSettings")

	// Resetting all drops every tracked type.
	tripCircuit(t, bus, cb, 2)
	cb.Reset(nil)
	assert.Len(t, cb.GetStates(), 0)
}

func TestCircuitBreakerZeroThresholdNeverOpens(t *testing.T) {
	bus, cb := newBreakerBus(0, 100*time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		_, _ = bus.QuerySync(ctx, &GetSettings{})
	}

	assert.Equal(t, "closed", cb.GetStates()["GetSettings"])
}

func TestCircuitBreakerConcurrentAccess(t *testing.T) {
	bus, cb := newBreakerBus(50, 100*time.Millisecond)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				_, _ = bus.QuerySync(ctx, &GetSettings{})
				_ = cb.GetStates()
			}
		}()
	}
	wg.Wait()

	// 100 failures over a threshold of 50: the circuit must be open.
	assert.Equal(t, "open", cb.GetStates()["GetSettings"])
}

// =============================================================================
// CONCURRENCY TESTS
// =============================================================================

func TestConcurrentPublish(t *testing.T) {
	bus := newTestBus()
	ctx := context.Background()

	var delivered int32
	bus.Subscribe("SessionStarted", countingHandler(&delivered))

	const publishers = 20
	const perPublisher = 10
	var wg sync.WaitGroup

	for i := 0; i < publishers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < perPublisher; j++ {
				_ = bus.Publish(ctx, startedEvent(fmt.Sprintf("s%d-%d", n, j)))
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(publishers*perPublisher), atomic.LoadInt32(&delivered))
}

func TestConcurrentSubscribeAndPublish(t *testing.T) {
	// Subscribing during publication must not race or panic.
	bus := newTestBus()
	ctx := context.Background()

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				_ = bus.Publish(ctx, startedEvent("s1"))
			}
		}
	}()

	for i := 0; i < 50; i++ {
		unsub := bus.Subscribe("SessionStarted", func(ctx context.Context, msg Message) (any, error) {
			return nil, nil
		})
		if i%2 == 0 {
			unsub()
		}
	}

	close(stop)
	wg.Wait()

	assert.Len(t, bus.GetSubscribers("SessionStarted"), 25)
}

func TestConcurrentHandlerRegistration(t *testing.T) {
	// Exactly one concurrent registration per type wins.
	bus := newTestBus()

	const goroutines = 10
	var wg sync.WaitGroup
	var succeeded int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := bus.RegisterHandler("GetSettings", func(ctx context.Context, msg Message) (any, error) {
				return &SettingsResponse{}, nil
			})
			if err == nil {
				atomic.AddInt32(&succeeded, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&succeeded))
	assert.True(t, bus.HasHandler("GetSettings"))
}

func TestMixedTrafficUnderLoad(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping load test in short mode")
	}

	bus := newTestBus()
	ctx := context.Background()

	var events int32
	bus.Subscribe("SessionStarted", countingHandler(&events))
	require.NoError(t, bus.RegisterHandler("GetSessionState", func(ctx context.Context, msg Message) (any, error) {
		return &SessionStateResponse{Found: true}, nil
	}))
	require.NoError(t, bus.RegisterHandler("EvictSession", func(ctx context.Context, msg Message) (any, error) {
		return nil, nil
	}))

	const workers = 10
	const iterations = 50
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				switch j % 3 {
				case 0:
					_ = bus.Publish(ctx, startedEvent(fmt.Sprintf("s%d", n)))
				case 1:
					_, _ = bus.QuerySync(ctx, &GetSessionState{SessionID: fmt.Sprintf("s%d", n)})
				default:
					_ = bus.Send(ctx, &EvictSession{SessionID: fmt.Sprintf("s%d", n), Reason: "load"})
				}
			}
		}(i)
	}
	wg.Wait()

	stats := bus.GetStats()
	total := stats["events_published"].(uint64) + stats["queries_served"].(uint64) + stats["commands_sent"].(uint64)
	assert.Equal(t, uint64(workers*iterations), total)
	assert.Equal(t, uint64(0), stats["handler_errors"])
}
