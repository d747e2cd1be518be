package taskq

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vnykmshr/taskq/internal/testutil"
)

func newTestQueue(t *testing.T, threads int, opts ...Option) (*Queue, *testutil.LogBuffer) {
	t.Helper()
	logger, logs := testutil.NewLogger()
	q, err := Create(t.Name(), threads, PriorityNormal, 0, append([]Option{WithLogger(logger)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Destroy() })
	return q, logs
}

func record(r *testutil.Recorder[string], name string) Func {
	return func(context.Context, any) error {
		r.Add(name)
		return nil
	}
}

func blockOn(g *testutil.Gate, r *testutil.Recorder[string], name string) Func {
	return func(context.Context, any) error {
		r.Add(name)
		g.Wait()
		return nil
	}
}

func noop(context.Context, any) error { return nil }

func waitIdle(t *testing.T, q *Queue) {
	t.Helper()
	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()
	require.NoError(t, q.Wait(ctx))
}
