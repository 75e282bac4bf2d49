package discovery

import (
	"context"
	"fmt"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

// Election lets several replicas agree on one leader for a named task.
// Leadership is tied to a lease; if the leader dies its key expires and a
// waiting campaigner takes over.
type Election struct {
	session  *concurrency.Session
	election *concurrency.Election
	value    string
}

func NewElection(client *clientv3.Client, prefix, name, value string, ttl int) (*Election, error) {
	if ttl <= 0 {
		ttl = 30
	}
	session, err := concurrency.NewSession(client, concurrency.WithTTL(ttl))
	if err != nil {
		return nil, fmt.Errorf("failed to create election session: %w", err)
	}
	return &Election{
		session:  session,
		election: concurrency.NewElection(session, prefix+"election/"+name),
		value:    value,
	}, nil
}

// Campaign blocks until this replica is leader or ctx is done.
func (e *Election) Campaign(ctx context.Context) error {
	if err := e.election.Campaign(ctx, e.value); err != nil {
		return fmt.Errorf("campaign failed: %w", err)
	}
	return nil
}

// Lost is closed when the session backing leadership expires.
func (e *Election) Lost() <-chan struct{} {
	return e.session.Done()
}

func (e *Election) Resign(ctx context.Context) error {
	return e.election.Resign(ctx)
}

func (e *Election) Close() error {
	return e.session.Close()
}
