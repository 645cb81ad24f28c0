package firestore_test

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/require"

	"github.com/Kashuab/leasekeeper/internal/leasestore"
	"github.com/Kashuab/leasekeeper/internal/leasestore/firestore"
	"github.com/Kashuab/leasekeeper/internal/leasestore/storetest"
)

// Runs only against the Firestore emulator, e.g.
// gcloud emulators firestore start --host-port=127.0.0.1:8686
func TestStore(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	var seq atomic.Int64

	storetest.Run(t, func(t *testing.T, clk *testclock.Clock) leasestore.Store {
		collection := fmt.Sprintf("leases-%d-%d", os.Getpid(), seq.Add(1))
		s, err := firestore.New(context.Background(), "leasekeeper-test", collection, clk)
		require.NoError(t, err)
		return s
	})
}
