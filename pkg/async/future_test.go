package async

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFutureResolveThenWait(t *testing.T) {
	f := NewFuture[string]()
	f.Resolve("ok")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, err := f.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestFutureRejectThenWait(t *testing.T) {
	f := NewFuture[string]()
	sentinel := errors.New("boom")
	f.Reject(sentinel)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := f.Wait(ctx)
	assert.Equal(t, sentinel, err)
}

func TestFutureThenBeforeAndAfterResolve(t *testing.T) {
	f := NewFuture[int]()
	var before, after int
	f.Then(func(v int) { before = v })
	f.Resolve(7)
	f.Then(func(v int) { after = v })

	assert.Equal(t, 7, before)
	assert.Equal(t, 7, after)
}

func TestFutureCatchOnlyFiresOnReject(t *testing.T) {
	f := NewFuture[int]()
	fired := false
	f.Catch(func(error) { fired = true })
	f.Resolve(1)
	assert.False(t, fired)
}

func TestFutureSecondResolveIgnored(t *testing.T) {
	f := NewFuture[int]()
	f.Resolve(1)
	f.Resolve(2)

	ctx := context.Background()
	v, err := f.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestFutureWaitContextCancelled(t *testing.T) {
	f := NewFuture[int]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
