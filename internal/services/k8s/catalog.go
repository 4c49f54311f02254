package k8s

import (
	"context"
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// CatalogKey is the ConfigMap data key holding the server-type catalog
const CatalogKey = "server-types.yaml"

// LoadCatalogYAML reads the raw server-type catalog from a ConfigMap
func (c *Client) LoadCatalogYAML(ctx context.Context, namespace, configMapName string) ([]byte, error) {
	cm, err := c.clientset.CoreV1().ConfigMaps(namespace).Get(ctx, configMapName, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get ConfigMap: %w", err)
	}

	data, ok := cm.Data[CatalogKey]
	if !ok {
		return nil, fmt.Errorf("%s not found in ConfigMap %s", CatalogKey, configMapName)
	}

	return []byte(data), nil
}
