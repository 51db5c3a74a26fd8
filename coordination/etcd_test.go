package coordination

import (
	"context"
	"fmt"
	"io/ioutil"
	"net"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/pingcap/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/etcd/clientv3"
	"go.etcd.io/etcd/embed"
)

func TestEtcdStore(t *testing.T) {
	cfg := newTestSingleConfig(t)
	etcd, err := embed.StartEtcd(cfg)
	require.NoError(t, err)
	defer func() {
		etcd.Close()
		os.RemoveAll(cfg.Dir)
	}()
	select {
	case <-etcd.Server.ReadyNotify():
	case <-time.After(10 * time.Second):
		t.Fatal("etcd did not become ready")
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints: []string{cfg.LCUrls[0].String()},
	})
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	s := NewEtcdStore(client, 5*time.Second)

	require.NoError(t, s.Create(ctx, "/tabrev/t/cf1", []byte("v1")))
	err = s.Create(ctx, "/tabrev/t/cf1", []byte("v2"))
	assert.Equal(t, ErrNodeExists, errors.Cause(err))

	node, err := s.Get(ctx, "/tabrev/t/cf1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), node.Data)
	assert.Equal(t, int64(1), node.Version)

	// Conditional update with the right and then a stale version.
	require.NoError(t, s.Update(ctx, "/tabrev/t/cf1", []byte("v2"), node.Version))
	err = s.Update(ctx, "/tabrev/t/cf1", []byte("v3"), node.Version)
	assert.Equal(t, ErrVersionConflict, errors.Cause(err))

	require.NoError(t, s.Create(ctx, "/tabrev/t/cf2", []byte("x")))
	nodes, err := s.List(ctx, "/tabrev/t/")
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "/tabrev/t/cf1", nodes[0].Path)
	assert.Equal(t, "/tabrev/t/cf2", nodes[1].Path)

	require.NoError(t, s.DeletePrefix(ctx, "/tabrev/t"))
	_, err = s.Get(ctx, "/tabrev/t/cf1")
	assert.Equal(t, ErrNodeNotFound, errors.Cause(err))
}

func newTestSingleConfig(t *testing.T) *embed.Config {
	cfg := embed.NewConfig()
	cfg.Name = "test_etcd"
	dir, err := ioutil.TempDir("", "test_etcd")
	require.NoError(t, err)
	cfg.Dir = dir
	cfg.WalDir = ""
	cfg.Logger = "zap"
	cfg.LogOutputs = []string{"stdout"}

	pu, _ := url.Parse(allocTestURL(t))
	cfg.LPUrls = []url.URL{*pu}
	cfg.APUrls = cfg.LPUrls
	cu, _ := url.Parse(allocTestURL(t))
	cfg.LCUrls = []url.URL{*cu}
	cfg.ACUrls = cfg.LCUrls

	cfg.StrictReconfigCheck = false
	cfg.InitialCluster = fmt.Sprintf("%s=%s", cfg.Name, &cfg.LPUrls[0])
	cfg.ClusterState = embed.ClusterStateFlagNew
	return cfg
}

func allocTestURL(t *testing.T) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return "http://" + addr
}
