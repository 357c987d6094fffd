package actorutil

import (
	"errors"
	"testing"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackgroundTaskDoesNotBlockActor(t *testing.T) {

	as := actor.NewActorSystem()
	defer as.Shutdown()

	pipeToElapsed := make(chan time.Duration, 1)
	results := make(chan int, 1)

	props := actor.PropsFromFunc(func(ctx actor.Context) {
		switch msg := ctx.Message().(type) {
		case *actor.Started:
			start := time.Now()
			NewBackgroundTask(ctx, func() (*int, error) {
				time.Sleep(300 * time.Millisecond)
				v := 42
				return &v, nil
			}).WithTimeout(5 * time.Second).PipeTo(ctx.Self())
			pipeToElapsed <- time.Since(start)
		case int:
			results <- msg
		}
	})
	pid := as.Root.Spawn(props)
	defer as.Root.Stop(pid)

	select {
	case elapsed := <-pipeToElapsed:
		// the task runs off the actor goroutine, PipeTo only launches it
		assert.Less(t, elapsed, 100*time.Millisecond)
	case <-time.After(5 * time.Second):
		t.Fatal("actor never started")
	}

	select {
	case v := <-results:
		assert.Equal(t, 42, v)
	case <-time.After(5 * time.Second):
		t.Fatal("task result never delivered")
	}
}

func TestBackgroundTaskRecoverDeliversFallback(t *testing.T) {

	as := actor.NewActorSystem()
	defer as.Shutdown()

	results := make(chan string, 1)

	props := actor.PropsFromFunc(func(ctx actor.Context) {
		switch msg := ctx.Message().(type) {
		case *actor.Started:
			NewBackgroundTask(ctx, func() (*string, error) {
				return nil, errors.New("boom")
			}).Recover(func(err error) string {
				return "recovered: " + err.Error()
			}).PipeTo(ctx.Self())
		case string:
			results <- msg
		}
	})
	pid := as.Root.Spawn(props)
	defer as.Root.Stop(pid)

	select {
	case v := <-results:
		assert.Equal(t, "recovered: boom", v)
	case <-time.After(5 * time.Second):
		t.Fatal("recover result never delivered")
	}
}

func TestBackgroundTaskTimeoutHitsOnError(t *testing.T) {

	errs := make(chan error, 1)

	as := actor.NewActorSystem()
	defer as.Shutdown()

	props := actor.PropsFromFunc(func(ctx actor.Context) {
		if _, ok := ctx.Message().(*actor.Started); ok {
			NewBackgroundTask(ctx, func() (*int, error) {
				time.Sleep(2 * time.Second)
				v := 1
				return &v, nil
			}).WithTimeout(100 * time.Millisecond).OnError(func(err error) {
				errs <- err
			}).Run()
		}
	})
	pid := as.Root.Spawn(props)
	defer as.Root.Stop(pid)

	select {
	case err := <-errs:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout never reported")
	}
}
