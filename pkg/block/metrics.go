package block

import (
	"context"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var concurrentOperations = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "blockstore_concurrent_operations",
		Help: "Number of concurrent blockstore operations",
	},
	[]string{"operation", "blockstore_type"},
)

type MetricsAdapter struct {
	adapter Adapter
}

func NewMetricsAdapter(adapter Adapter) Adapter {
	return &MetricsAdapter{adapter: adapter}
}

func (m *MetricsAdapter) InnerAdapter() Adapter {
	return m.adapter
}

func (m *MetricsAdapter) Container(path ...string) Container {
	return &metricsContainer{
		container:      m.adapter.Container(path...),
		blockstoreType: m.adapter.BlockstoreType(),
	}
}

func (m *MetricsAdapter) BlockstoreType() string {
	return m.adapter.BlockstoreType()
}

// Close releases the wrapped adapter's resources, if it holds any.
func (m *MetricsAdapter) Close() error {
	if closer, ok := m.adapter.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

type metricsContainer struct {
	container      Container
	blockstoreType string
}

func (m *metricsContainer) Path() string {
	return m.container.Path()
}

func (m *metricsContainer) List(ctx context.Context, prefix string) (map[string]int64, error) {
	const operation = "list"
	concurrentOperations.WithLabelValues(operation, m.blockstoreType).Inc()
	defer concurrentOperations.WithLabelValues(operation, m.blockstoreType).Dec()
	return m.container.List(ctx, prefix)
}

func (m *metricsContainer) Children(ctx context.Context) (map[string]Container, error) {
	const operation = "children"
	concurrentOperations.WithLabelValues(operation, m.blockstoreType).Inc()
	defer concurrentOperations.WithLabelValues(operation, m.blockstoreType).Dec()
	children, err := m.container.Children(ctx)
	if err != nil {
		return nil, err
	}
	wrapped := make(map[string]Container, len(children))
	for name, child := range children {
		wrapped[name] = &metricsContainer{container: child, blockstoreType: m.blockstoreType}
	}
	return wrapped, nil
}

func (m *metricsContainer) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	const operation = "get"
	concurrentOperations.WithLabelValues(operation, m.blockstoreType).Inc()
	defer concurrentOperations.WithLabelValues(operation, m.blockstoreType).Dec()
	return m.container.Get(ctx, name)
}

func (m *metricsContainer) Put(ctx context.Context, name string, reader io.Reader, sizeBytes int64, opts PutOpts) error {
	const operation = "put"
	concurrentOperations.WithLabelValues(operation, m.blockstoreType).Inc()
	defer concurrentOperations.WithLabelValues(operation, m.blockstoreType).Dec()
	return m.container.Put(ctx, name, reader, sizeBytes, opts)
}

func (m *metricsContainer) PutAtomic(ctx context.Context, name string, reader io.Reader, sizeBytes int64, opts PutOpts) error {
	const operation = "put_atomic"
	concurrentOperations.WithLabelValues(operation, m.blockstoreType).Inc()
	defer concurrentOperations.WithLabelValues(operation, m.blockstoreType).Dec()
	return m.container.PutAtomic(ctx, name, reader, sizeBytes, opts)
}

func (m *metricsContainer) Delete(ctx context.Context, names ...string) error {
	const operation = "delete"
	concurrentOperations.WithLabelValues(operation, m.blockstoreType).Inc()
	defer concurrentOperations.WithLabelValues(operation, m.blockstoreType).Dec()
	return m.container.Delete(ctx, names...)
}

func (m *metricsContainer) DeleteAll(ctx context.Context) error {
	const operation = "delete_all"
	concurrentOperations.WithLabelValues(operation, m.blockstoreType).Inc()
	defer concurrentOperations.WithLabelValues(operation, m.blockstoreType).Dec()
	return m.container.DeleteAll(ctx)
}
