package publisher

import (
	"context"
	"fmt"
)

// ConnectorLister fetches the raw connector profiles behind an endpoint.
type ConnectorLister interface {
	ListConnectors(ctx context.Context, endpoint string) ([]map[string]any, error)
}

// FetchConnectors wraps every connector returned for each kind, in kind order.
func FetchConnectors(ctx context.Context, lister ConnectorLister, kinds ...ConnectorKind) ([]Resource, error) {
	if lister == nil {
		return nil, fmt.Errorf("connector lister is required")
	}
	var resources []Resource
	for _, kind := range kinds {
		connectors, err := lister.ListConnectors(ctx, kind.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("fetch %s connectors: %w", kind.Name, err)
		}
		for _, c := range connectors {
			resources = append(resources, &ConnectorResource{Kind: kind, Connector: c})
		}
	}
	return resources, nil
}
