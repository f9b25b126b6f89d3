package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iago/mileage-reports-back/internal/app"
	"github.com/iago/mileage-reports-back/internal/config"
	"github.com/iago/mileage-reports-back/internal/logging"
)

func sharedFactory(t *testing.T) appFactory {
	t.Helper()
	var shared *app.App
	return func(ctx context.Context, cfg config.Config, _ *slog.Logger) (*app.App, error) {
		if shared == nil {
			a, err := app.New(ctx, cfg, logging.Discard())
			if err != nil {
				return nil, err
			}
			shared = a
		}
		return shared, nil
	}
}

func run(t *testing.T, factory appFactory, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(factory)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestGenerateStatusAndList(t *testing.T) {
	factory := sharedFactory(t)

	out, err := run(t, factory, "generate", "--json", "--user", "u-1", "--start", "2024-01-01", "--end", "2024-01-31")
	require.NoError(t, err)

	var created jobView
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	assert.Equal(t, "u-1", created.UserID)
	assert.Equal(t, "pending", created.Status)
	assert.Equal(t, "2024-01-01..2024-01-31", created.Period)

	out, err = run(t, factory, "status", created.ID)
	require.NoError(t, err)
	assert.Contains(t, out, created.ID)
	assert.Contains(t, out, "pending")

	out, err = run(t, factory, "list", "--user", "u-1")
	require.NoError(t, err)
	assert.Contains(t, out, created.ID)

	out, err = run(t, factory, "list", "--user", "nobody")
	require.NoError(t, err)
	assert.Equal(t, "no reports\n", out)
}

func TestGenerateRejectsBadDates(t *testing.T) {
	_, err := run(t, sharedFactory(t), "generate", "--user", "u-1", "--start", "2024-02-01", "--end", "2024-01-01")
	require.Error(t, err)
}

func TestStatusUnknownJob(t *testing.T) {
	_, err := run(t, sharedFactory(t), "status", "00000000-0000-0000-0000-000000000000")
	require.Error(t, err)
}

func TestRetryPendingJobIsInvalidState(t *testing.T) {
	factory := sharedFactory(t)
	out, err := run(t, factory, "generate", "--json", "--user", "u-2", "--start", "2024-03-01", "--end", "2024-03-31")
	require.NoError(t, err)
	var created jobView
	require.NoError(t, json.Unmarshal([]byte(out), &created))

	_, err = run(t, factory, "retry", created.ID, "--user", "u-2")
	require.Error(t, err)
}

func TestSweepOnEmptyStore(t *testing.T) {
	out, err := run(t, sharedFactory(t), "sweep")
	require.NoError(t, err)
	assert.Equal(t, "stuck=0 abandoned=0 expired=0\n", out)
}

func TestMigrateWithoutDatabase(t *testing.T) {
	_, err := run(t, sharedFactory(t), "migrate")
	require.Error(t, err)
}
