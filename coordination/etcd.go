package coordination

import (
	"context"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.etcd.io/etcd/clientv3"
	"go.uber.org/zap"
)

const slowRequestTime = 500 * time.Millisecond

// EtcdStore implements Store on an etcd cluster. Conditional updates map to
// etcd transactions comparing the node's version, which gives the
// linearizable compare-and-set the ledger requires.
type EtcdStore struct {
	client         *clientv3.Client
	requestTimeout time.Duration
}

// NewEtcdStore wraps an existing etcd client. The caller keeps ownership of
// the client's lifecycle unless Close is used.
func NewEtcdStore(client *clientv3.Client, requestTimeout time.Duration) *EtcdStore {
	return &EtcdStore{client: client, requestTimeout: requestTimeout}
}

func (s *EtcdStore) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.requestTimeout)
}

// Create implements Store.
func (s *EtcdStore) Create(ctx context.Context, path string, data []byte) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	start := time.Now()
	resp, err := s.client.Txn(ctx).
		If(clientv3.Compare(clientv3.Version(path), "=", 0)).
		Then(clientv3.OpPut(path, string(data))).
		Commit()
	s.observe("create", start, err)
	if err != nil {
		return errors.WithStack(err)
	}
	if !resp.Succeeded {
		return errors.Annotate(ErrNodeExists, path)
	}
	return nil
}

// Get implements Store.
func (s *EtcdStore) Get(ctx context.Context, path string) (*Node, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	start := time.Now()
	resp, err := s.client.Get(ctx, path)
	s.observe("get", start, err)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if len(resp.Kvs) == 0 {
		return nil, errors.Annotate(ErrNodeNotFound, path)
	}
	kv := resp.Kvs[0]
	return &Node{Path: string(kv.Key), Data: kv.Value, Version: kv.Version}, nil
}

// Update implements Store.
func (s *EtcdStore) Update(ctx context.Context, path string, data []byte, version int64) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	start := time.Now()
	resp, err := s.client.Txn(ctx).
		If(clientv3.Compare(clientv3.Version(path), "=", version)).
		Then(clientv3.OpPut(path, string(data))).
		Commit()
	s.observe("update", start, err)
	if err != nil {
		return errors.WithStack(err)
	}
	if !resp.Succeeded {
		// Distinguish a lost race from a deleted node.
		if _, gerr := s.Get(ctx, path); errors.Cause(gerr) == ErrNodeNotFound {
			return errors.Annotate(ErrNodeNotFound, path)
		}
		return errors.Annotate(ErrVersionConflict, path)
	}
	return nil
}

// Delete implements Store.
func (s *EtcdStore) Delete(ctx context.Context, path string, version int64) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	start := time.Now()
	if version <= 0 {
		_, err := s.client.Delete(ctx, path)
		s.observe("delete", start, err)
		return errors.WithStack(err)
	}
	resp, err := s.client.Txn(ctx).
		If(clientv3.Compare(clientv3.Version(path), "=", version)).
		Then(clientv3.OpDelete(path)).
		Commit()
	s.observe("delete", start, err)
	if err != nil {
		return errors.WithStack(err)
	}
	if !resp.Succeeded {
		return errors.Annotate(ErrVersionConflict, path)
	}
	return nil
}

// List implements Store.
func (s *EtcdStore) List(ctx context.Context, prefix string) ([]*Node, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	start := time.Now()
	resp, err := s.client.Get(ctx, prefix, clientv3.WithPrefix(), clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend))
	s.observe("list", start, err)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	nodes := make([]*Node, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		nodes = append(nodes, &Node{Path: string(kv.Key), Data: kv.Value, Version: kv.Version})
	}
	return nodes, nil
}

// DeletePrefix implements Store.
func (s *EtcdStore) DeletePrefix(ctx context.Context, prefix string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	start := time.Now()
	_, err := s.client.Delete(ctx, prefix, clientv3.WithPrefix())
	s.observe("delete_prefix", start, err)
	return errors.WithStack(err)
}

// Watch implements Store.
func (s *EtcdStore) Watch(ctx context.Context, prefix string) (<-chan Event, error) {
	wch := s.client.Watch(ctx, prefix, clientv3.WithPrefix())
	ch := make(chan Event)
	go func() {
		defer close(ch)
		for wresp := range wch {
			if err := wresp.Err(); err != nil {
				log.Warn("coordination watch interrupted", zap.String("prefix", prefix), zap.Error(err))
				return
			}
			for _, ev := range wresp.Events {
				out := Event{Node: Node{Path: string(ev.Kv.Key), Data: ev.Kv.Value, Version: ev.Kv.Version}}
				if ev.Type == clientv3.EventTypeDelete {
					out.Type = EventDelete
				}
				select {
				case ch <- out:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}

// Close implements Store.
func (s *EtcdStore) Close() error {
	return errors.WithStack(s.client.Close())
}

func (s *EtcdStore) observe(op string, start time.Time, err error) {
	cost := time.Since(start)
	if cost > slowRequestTime {
		log.Warn("slow coordination store request", zap.String("op", op), zap.Duration("cost", cost))
	}
	result := "ok"
	if err != nil {
		result = "err"
	}
	storeOpCounter.WithLabelValues(op, result).Inc()
	storeOpDuration.WithLabelValues(op).Observe(cost.Seconds())
}
