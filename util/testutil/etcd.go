package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdTestMutex ensures only one etcd integration test runs at a time across all packages.
//
//	func TestSomethingWithEtcd(t *testing.T) {
//	    testutil.EtcdTestMutex.Lock()
//	    defer testutil.EtcdTestMutex.Unlock()
//	    // ... test code that uses etcd
//	}
var EtcdTestMutex sync.Mutex

// DefaultEtcdEndpoint is the endpoint integration tests connect to
const DefaultEtcdEndpoint = "localhost:2379"

// EtcdTestPrefix returns the key prefix reserved for the given test
func EtcdTestPrefix(t testing.TB) string {
	return "/wpeplayback-test/" + t.Name()
}

// PrepareEtcdPrefix connects to etcd and returns a client plus a key prefix
// unique to the test. Any keys under the prefix are deleted before the test
// starts and again on cleanup. The test is skipped when etcd is unreachable.
func PrepareEtcdPrefix(t testing.TB, endpoint string) (*clientv3.Client, string) {
	t.Helper()

	prefix := EtcdTestPrefix(t)
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   []string{endpoint},
		DialTimeout: 2 * time.Second,
	})
	if err != nil {
		t.Skipf("Skipping: etcd not available: %v", err)
		return nil, prefix
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	_, err = cli.Delete(ctx, prefix, clientv3.WithPrefix())
	cancel()
	if err != nil {
		cli.Close()
		t.Skipf("Skipping: etcd not available at %s: %v", endpoint, err)
		return nil, prefix
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := cli.Delete(ctx, prefix, clientv3.WithPrefix()); err != nil {
			t.Logf("Warning: failed to clean up etcd prefix %s: %v", prefix, err)
		}
		cli.Close()
	})

	return cli, prefix
}
