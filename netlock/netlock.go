// Package netlock serialises playbacks of the same network across processes.
// A playback purges the network on the backend, so two clients replaying the
// same network id at once would destroy each other's configuration.
package netlock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xiaonanln/wpeplayback/util/backoff"
	"github.com/xiaonanln/wpeplayback/util/logger"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

const (
	// DefaultPrefix is the key prefix used when none is configured.
	DefaultPrefix = "/wpeplayback"
	// DefaultSessionTTL is the lease TTL in seconds. A crashed client
	// releases its lock once the lease expires.
	DefaultSessionTTL = 10

	retryInitialDelay = 100 * time.Millisecond
	retryMaxDelay     = 2 * time.Second
	unlockTimeout     = 5 * time.Second
)

// Connect creates an etcd client and checks that the cluster answers.
func Connect(ctx context.Context, endpoints []string) (*clientv3.Client, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("no etcd endpoints configured")
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := cli.Get(ctx, "health-check"); err != nil {
		cli.Close()
		return nil, fmt.Errorf("etcd at %v is not reachable: %w", endpoints, err)
	}
	return cli, nil
}

// EtcdLocker holds one lease-backed etcd mutex per locked network.
type EtcdLocker struct {
	client *clientv3.Client
	prefix string
	ttl    int
	logger *logger.Logger
}

// NewEtcdLocker creates a locker storing its keys under prefix.
func NewEtcdLocker(client *clientv3.Client, prefix string, ttl int) (*EtcdLocker, error) {
	if client == nil {
		return nil, fmt.Errorf("etcd client cannot be nil")
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &EtcdLocker{
		client: client,
		prefix: strings.TrimSuffix(prefix, "/"),
		ttl:    ttl,
		logger: logger.NewLogger("NetLock"),
	}, nil
}

// Key returns the mutex key of a network.
func (l *EtcdLocker) Key(networkID int64) string {
	return l.prefix + "/networks/" + strconv.FormatInt(networkID, 10)
}

// Lock blocks until the network is locked or ctx ends. The returned function
// unlocks it and ends the lease.
func (l *EtcdLocker) Lock(ctx context.Context, networkID int64) (func(), error) {
	session, err := concurrency.NewSession(l.client, concurrency.WithTTL(l.ttl))
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd session with TTL %d: %w", l.ttl, err)
	}
	key := l.Key(networkID)
	mutex := concurrency.NewMutex(session, key)

	b := backoff.New(retryInitialDelay, retryMaxDelay, 2).WithJitter(0.2)
	err = backoff.Retry(ctx, b, func(ctx context.Context) (bool, error) {
		err := mutex.TryLock(ctx)
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, concurrency.ErrLocked):
			if b.Attempts() == 0 {
				l.logger.Infof("Network %d is being played back by another client, waiting for %s", networkID, l.holder(ctx, key))
			}
			return false, nil
		default:
			return false, err
		}
	})
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to lock network %d at %s: %w", networkID, key, err)
	}

	l.logger.Infof("Locked network %d at %s", networkID, key)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
		defer cancel()
		if err := mutex.Unlock(ctx); err != nil {
			l.logger.Warnf("Failed to unlock network %d: %v", networkID, err)
		}
		if err := session.Close(); err != nil {
			l.logger.Warnf("Failed to close etcd session: %v", err)
		}
		l.logger.Infof("Unlocked network %d", networkID)
	}, nil
}

// holder describes the session owning key, which is the waiter with the
// lowest create revision.
func (l *EtcdLocker) holder(ctx context.Context, key string) string {
	resp, err := l.client.Get(ctx, key+"/", clientv3.WithFirstCreate()...)
	if err != nil || len(resp.Kvs) == 0 {
		return key
	}
	return describeHolder(resp.Kvs[0])
}

func describeHolder(kv *mvccpb.KeyValue) string {
	return fmt.Sprintf("%s (lease %x, held since revision %d)", kv.Key, kv.Lease, kv.CreateRevision)
}
