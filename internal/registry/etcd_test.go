package registry

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// fakeKV serves prefix reads and single-key writes from a map.
type fakeKV struct {
	clientv3.KV
	data map[string]string
	err  error
}

func (f *fakeKV) Get(_ context.Context, key string, _ ...clientv3.OpOption) (*clientv3.GetResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	keys := make([]string, 0, len(f.data))
	for k := range f.data {
		if strings.HasPrefix(k, key) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	resp := &clientv3.GetResponse{}
	for _, k := range keys {
		resp.Kvs = append(resp.Kvs, &mvccpb.KeyValue{Key: []byte(k), Value: []byte(f.data[k])})
	}
	return resp, nil
}

func (f *fakeKV) Put(_ context.Context, key, val string, _ ...clientv3.OpOption) (*clientv3.PutResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.data[key] = val
	return &clientv3.PutResponse{}, nil
}

func (f *fakeKV) Delete(_ context.Context, key string, _ ...clientv3.OpOption) (*clientv3.DeleteResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	delete(f.data, key)
	return &clientv3.DeleteResponse{}, nil
}

func TestEtcdStoreRoundTrip(t *testing.T) {
	kv := &fakeKV{data: map[string]string{
		"/other/app": `{}`,
	}}
	store := NewEtcdStore(kv, "", nil)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, NewRecord("web", "docker:///var/run/docker.sock", nil)))
	require.NoError(t, store.Put(ctx, NewRecord("db", "vagrant:///srv/cluster", nil)))
	assert.Contains(t, kv.data, "/metalctl/nodes/web")

	nodes, err := store.ListNodes(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	url, err := nodes["db"].ProvisionerURL()
	require.NoError(t, err)
	assert.Equal(t, "vagrant:///srv/cluster", url)

	require.NoError(t, store.Delete(ctx, "web"))
	nodes, err = store.ListNodes(ctx)
	require.NoError(t, err)
	assert.NotContains(t, nodes, "web")
	require.NoError(t, store.Close())
}

func TestEtcdStoreSkipsNestedKeys(t *testing.T) {
	kv := &fakeKV{data: map[string]string{
		"/kitchen/web":       `{"name":"web"}`,
		"/kitchen/web/extra": `not json`,
	}}
	nodes, err := NewEtcdStore(kv, "/kitchen/", nil).ListNodes(context.Background())
	require.NoError(t, err)
	assert.Len(t, nodes, 1)
	assert.Contains(t, nodes, "web")
}

func TestEtcdStoreErrors(t *testing.T) {
	kv := &fakeKV{data: map[string]string{"/metalctl/nodes/web": `{`}}
	store := NewEtcdStore(kv, "", nil)

	_, err := store.ListNodes(context.Background())
	assert.True(t, IsMalformedRecord(err))

	kv.err = errors.New("connection refused")
	_, err = store.ListNodes(context.Background())
	assert.True(t, IsUnavailable(err))

	kv.err = context.DeadlineExceeded
	_, err = store.ListNodes(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.Error(t, store.Put(context.Background(), NewRecord("a/b", "docker://x", nil)))
}

func TestOpenEtcdRequiresEndpoints(t *testing.T) {
	_, err := OpenEtcd(EtcdOptions{})
	require.Error(t, err)
}
