package embeddings

import "context"

type datasetIDKey struct{}

// WithDatasetID scopes cached embeddings to a dataset.
func WithDatasetID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, datasetIDKey{}, id)
}

// DatasetIDFromContext returns the dataset set by WithDatasetID, or "".
func DatasetIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(datasetIDKey{}).(string)
	return id
}
