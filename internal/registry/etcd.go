package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const defaultEtcdPrefix = "/metalctl/nodes"

// EtcdOptions configures an etcd-backed registry.
type EtcdOptions struct {
	Endpoints   []string
	DialTimeout time.Duration
	// Prefix is the key prefix node documents live under; defaults to /metalctl/nodes.
	Prefix string
}

// EtcdStore keeps node documents as JSON values under a key prefix, one key per node.
type EtcdStore struct {
	kv     clientv3.KV
	close  func() error
	prefix string
}

// OpenEtcd connects to the etcd cluster described by opts.
func OpenEtcd(opts EtcdOptions) (*EtcdStore, error) {
	if len(opts.Endpoints) == 0 {
		return nil, errors.New("etcd registry requires at least one endpoint")
	}
	dialTimeout := opts.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:           opts.Endpoints,
		DialTimeout:         dialTimeout,
		RejectOldCluster:    true,
		PermitWithoutStream: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create etcd client: %v: %w", err, ErrUnavailable)
	}
	return NewEtcdStore(client, opts.Prefix, client.Close), nil
}

// NewEtcdStore wraps an existing KV. closeFn may be nil.
func NewEtcdStore(kv clientv3.KV, prefix string, closeFn func() error) *EtcdStore {
	prefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		prefix = defaultEtcdPrefix
	}
	if closeFn == nil {
		closeFn = func() error { return nil }
	}
	return &EtcdStore{kv: kv, close: closeFn, prefix: prefix + "/"}
}

// Close releases the etcd client.
func (s *EtcdStore) Close() error {
	if s == nil {
		return nil
	}
	return s.close()
}

// ListNodes returns every node stored under the prefix.
func (s *EtcdStore) ListNodes(ctx context.Context) (map[string]Record, error) {
	resp, err := s.kv.Get(clientv3.WithRequireLeader(ctx), s.prefix, clientv3.WithPrefix())
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("list etcd nodes: %v: %w", err, ErrUnavailable)
	}

	out := make(map[string]Record, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		name := strings.TrimPrefix(string(kv.Key), s.prefix)
		if name == "" || strings.Contains(name, "/") {
			continue
		}
		var doc map[string]any
		if err := json.Unmarshal(kv.Value, &doc); err != nil {
			return nil, fmt.Errorf("decode node %q: %v: %w", name, err, ErrMalformedRecord)
		}
		out[name] = Record{Name: name, Document: doc}
	}
	return out, nil
}

// Put stores rec under the prefix, replacing any existing document.
func (s *EtcdStore) Put(ctx context.Context, rec Record) error {
	if strings.TrimSpace(rec.Name) == "" || strings.Contains(rec.Name, "/") {
		return fmt.Errorf("invalid node name %q", rec.Name)
	}
	raw, err := json.Marshal(rec.Document)
	if err != nil {
		return fmt.Errorf("encode node %q: %w", rec.Name, err)
	}
	if _, err := s.kv.Put(clientv3.WithRequireLeader(ctx), s.key(rec.Name), string(raw)); err != nil {
		return fmt.Errorf("store node %q: %v: %w", rec.Name, err, ErrUnavailable)
	}
	return nil
}

// Delete removes a node. Deleting an unknown node is not an error.
func (s *EtcdStore) Delete(ctx context.Context, name string) error {
	if _, err := s.kv.Delete(clientv3.WithRequireLeader(ctx), s.key(name)); err != nil {
		return fmt.Errorf("delete node %q: %v: %w", name, err, ErrUnavailable)
	}
	return nil
}

func (s *EtcdStore) key(name string) string {
	return path.Join(s.prefix, name)
}
