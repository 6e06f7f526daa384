// Package remote is the adapter for the remote video-understanding service.
// It exposes the operations the core needs behind a narrow contract
// and resolves the service's heterogeneous search response shapes into a
// single flat hit schema at this boundary.
package remote

import "context"

type Client interface {
	// ListCollections returns the collections visible to the credential.
	ListCollections(ctx context.Context) ([]Collection, error)

	// CreateCollection creates a collection with the given logical name.
	CreateCollection(ctx context.Context, name string, engines []EngineSpec) (*Collection, error)

	// RegisterVideo uploads the video's bytes into the collection and
	// returns the id of the asynchronous indexing task.
	RegisterVideo(ctx context.Context, collectionID, filePath string) (string, error)

	// PollTask performs a single status poll; it never waits internally.
	PollTask(ctx context.Context, taskID string) (*TaskStatus, error)

	// Search runs a text or image query against the collection. Grouped
	// and flat response shapes are both flattened to a uniform hit list.
	Search(ctx context.Context, collectionID string, q Query, opts SearchOptions) ([]SearchHit, error)
}
