// Package registry owns the canonical list of paired sessions and persists it.
//
// Persistence is pluggable. The etcd backend keeps one key per namespace:
//
//	Key:   /mech-bridge/sessions-{chainID}:{address}
//	Value: encoded []session.Session (JSON by default)
//
// No lease is attached: the list must survive restarts, and this process is
// the only writer for its namespace.
package registry

import (
	"context"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/isabella232/mech/codec"
	"github.com/isabella232/mech/session"
)

const DefaultEtcdPrefix = "/mech-bridge/"

// EtcdStore implements Store using etcd v3.
type EtcdStore struct {
	client *clientv3.Client // etcd client connection (thread-safe, shared across goroutines)
	prefix string
	codec  codec.Codec
}

// NewEtcdStore creates a store connected to the given etcd endpoints.
func NewEtcdStore(endpoints []string, prefix string, dialTimeout time.Duration, c codec.Codec) (*EtcdStore, error) {
	if prefix == "" {
		prefix = DefaultEtcdPrefix
	}
	if c == nil {
		c = &codec.JSONCodec{}
	}
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, err
	}
	return &EtcdStore{client: client, prefix: prefix, codec: c}, nil
}

func (r *EtcdStore) key(namespace string) string {
	return r.prefix + namespace
}

// Load fetches the list stored under namespace.
func (r *EtcdStore) Load(ctx context.Context, namespace string) ([]session.Session, error) {
	resp, err := r.client.Get(ctx, r.key(namespace))
	if err != nil {
		return nil, err
	}
	if len(resp.Kvs) == 0 {
		return []session.Session{}, nil
	}

	var sessions []session.Session
	if err := r.codec.Decode(resp.Kvs[0].Value, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// Save replaces the whole list in a single Put, so readers never see a partial update.
func (r *EtcdStore) Save(ctx context.Context, namespace string, sessions []session.Session) error {
	if sessions == nil {
		sessions = []session.Session{}
	}
	val, err := r.codec.Encode(sessions)
	if err != nil {
		return err
	}
	_, err = r.client.Put(ctx, r.key(namespace), string(val))
	return err
}

func (r *EtcdStore) Close() error {
	return r.client.Close()
}
