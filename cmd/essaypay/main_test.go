package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/essaypay/internal/testutil"
)

func Test_run(t *testing.T) {
	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	port, err := testutil.RandomPort()
	require.NoError(t, err, "failed to get random port to start server")
	listenAddr := fmt.Sprintf("localhost:%d", port)

	// Keep host environment out of the way
	noEnv := func(string) string { return "" }

	t.Run("stop with signal", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		t.Cleanup(cancel)

		healthy := make(chan int, 1)
		go func() {
			// Ask for health while the server is up
			time.Sleep(time.Second)
			resp, err := http.Get("http://" + listenAddr + "/healthz")
			if err != nil {
				healthy <- 0
				return
			}
			_ = resp.Body.Close()
			healthy <- resp.StatusCode
		}()

		err = run(ctx, noEnv, os.Getwd, []string{
			"--address", listenAddr,
			"--log-level", "debug",
			"--gateway", "http://localhost:3000",
			"--merchant-key", "merchant-key",
			"--database", pg.DSN,
			"--secret-key", "secret",
		})

		require.NoError(t, err, "on correct stop should not return error")
		require.Equal(t, http.StatusOK, <-healthy, "server has to be healthy while running")
	})

	t.Run("stop with config error", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond) // Half Second
		t.Cleanup(cancel)

		// Try to run without secret key. Must fail
		err := run(ctx, noEnv, os.Getwd, []string{
			"--address", listenAddr,
			"--log-level", "debug",
			"--gateway", "http://localhost:3000",
			"--merchant-key", "merchant-key",
			"--database", pg.DSN,
		})

		require.Error(t, err, "on incorrect config should return error")
	})
}
