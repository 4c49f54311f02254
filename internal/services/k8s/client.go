package k8s

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// ResourceOverheadFactor is applied to limits to derive requests
const ResourceOverheadFactor = 0.90

// Client wraps Kubernetes client
type Client struct {
	clientset kubernetes.Interface
}

// NewClient initializes a new Kubernetes client with in-cluster config or kubeconfig fallback
func NewClient() (*Client, error) {
	config, err := rest.InClusterConfig()
	if err != nil {
		// Local development
		config, err = clientcmd.BuildConfigFromFlags("", clientcmd.RecommendedHomeFile)
		if err != nil {
			return nil, fmt.Errorf("failed to get kubeconfig: %w", err)
		}
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create K8s client: %w", err)
	}

	return &Client{clientset: clientset}, nil
}

// NewClientFromInterface wraps an existing clientset, e.g. a fake one in tests
func NewClientFromInterface(clientset kubernetes.Interface) *Client {
	return &Client{clientset: clientset}
}

// Health checks connectivity to the Kubernetes API server
func (c *Client) Health(ctx context.Context) error {
	_, err := c.clientset.Discovery().ServerVersion()
	return err
}

// DeploymentParams holds parameters for an MCP server Deployment
type DeploymentParams struct {
	Namespace     string
	Name          string
	Image         string
	Port          int32
	Env           map[string]string
	// SecretEnv is stored in a Secret named like the Deployment and
	// referenced from the container instead of being inlined
	SecretEnv     map[string]string
	CPUMillicores int64
	MemoryMB      int64
	Labels        map[string]string
}

// CreateServerDeployment creates a single-replica Deployment and a ClusterIP
// Service in front of it, plus a Secret when SecretEnv is set. All share the
// Deployment name. A partial failure removes what was already created.
func (c *Client) CreateServerDeployment(ctx context.Context, params DeploymentParams) error {
	envVars := make([]corev1.EnvVar, 0, len(params.Env)+len(params.SecretEnv))
	for _, key := range sortedKeys(params.Env) {
		envVars = append(envVars, corev1.EnvVar{Name: key, Value: params.Env[key]})
	}
	for _, key := range sortedKeys(params.SecretEnv) {
		envVars = append(envVars, corev1.EnvVar{
			Name: key,
			ValueFrom: &corev1.EnvVarSource{
				SecretKeyRef: &corev1.SecretKeySelector{
					LocalObjectReference: corev1.LocalObjectReference{Name: params.Name},
					Key:                  key,
				},
			},
		})
	}

	if len(params.SecretEnv) > 0 {
		secret := &corev1.Secret{
			ObjectMeta: metav1.ObjectMeta{
				Name:      params.Name,
				Namespace: params.Namespace,
				Labels:    params.Labels,
			},
			Type:       corev1.SecretTypeOpaque,
			StringData: params.SecretEnv,
		}
		if _, err := c.clientset.CoreV1().Secrets(params.Namespace).Create(ctx, secret, metav1.CreateOptions{}); err != nil {
			return fmt.Errorf("failed to create Secret: %w", err)
		}
	}

	cpuLimit := resource.NewMilliQuantity(params.CPUMillicores, resource.DecimalSI)
	memLimit := resource.NewQuantity(params.MemoryMB*1024*1024, resource.BinarySI)
	cpuRequest := resource.NewMilliQuantity(int64(float64(params.CPUMillicores)*ResourceOverheadFactor), resource.DecimalSI)
	memRequest := resource.NewQuantity(int64(float64(params.MemoryMB*1024*1024)*ResourceOverheadFactor), resource.BinarySI)

	replicas := int32(1)
	gracePeriod := int64(30)

	deployment := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      params.Name,
			Namespace: params.Namespace,
			Labels:    params.Labels,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{
				MatchLabels: params.Labels,
			},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: params.Labels,
				},
				Spec: corev1.PodSpec{
					TerminationGracePeriodSeconds: &gracePeriod,
					Containers: []corev1.Container{
						{
							Name:  "mcp-server",
							Image: params.Image,
							Env:   envVars,
							Ports: []corev1.ContainerPort{
								{Name: "http", ContainerPort: params.Port, Protocol: corev1.ProtocolTCP},
							},
							Resources: corev1.ResourceRequirements{
								Requests: corev1.ResourceList{
									corev1.ResourceCPU:    *cpuRequest,
									corev1.ResourceMemory: *memRequest,
								},
								Limits: corev1.ResourceList{
									corev1.ResourceCPU:    *cpuLimit,
									corev1.ResourceMemory: *memLimit,
								},
							},
							ReadinessProbe: &corev1.Probe{
								ProbeHandler: corev1.ProbeHandler{
									TCPSocket: &corev1.TCPSocketAction{
										Port: intstr.FromInt32(params.Port),
									},
								},
								InitialDelaySeconds: 2,
								PeriodSeconds:       10,
								FailureThreshold:    3,
							},
						},
					},
				},
			},
		},
	}

	_, err := c.clientset.AppsV1().Deployments(params.Namespace).Create(ctx, deployment, metav1.CreateOptions{})
	if errors.IsAlreadyExists(err) {
		// The name belongs to a live server; only undo our own Secret
		if len(params.SecretEnv) > 0 {
			if delErr := c.deleteSecret(context.WithoutCancel(ctx), params.Namespace, params.Name); delErr != nil {
				err = stderrors.Join(err, delErr)
			}
		}
		return fmt.Errorf("failed to create Deployment: %w", err)
	}
	if err != nil {
		return c.rollback(ctx, params, fmt.Errorf("failed to create Deployment: %w", err))
	}

	service := &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      params.Name,
			Namespace: params.Namespace,
			Labels:    params.Labels,
		},
		Spec: corev1.ServiceSpec{
			Type:     corev1.ServiceTypeClusterIP,
			Selector: params.Labels,
			Ports: []corev1.ServicePort{
				{Name: "http", Port: params.Port, TargetPort: intstr.FromInt32(params.Port), Protocol: corev1.ProtocolTCP},
			},
		},
	}

	_, err = c.clientset.CoreV1().Services(params.Namespace).Create(ctx, service, metav1.CreateOptions{})
	if err != nil {
		// Do not leave a Deployment nobody can reach
		return c.rollback(ctx, params, fmt.Errorf("failed to create Service: %w", err))
	}

	return nil
}

// rollback removes a partially created server. It runs even when ctx has
// expired, since an expired ctx is the usual reason for the failure.
func (c *Client) rollback(ctx context.Context, params DeploymentParams, cause error) error {
	if err := c.DeleteServerDeployment(context.WithoutCancel(ctx), params.Namespace, params.Name); err != nil {
		return stderrors.Join(cause, fmt.Errorf("rollback of %s failed: %w", params.Name, err))
	}
	return cause
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// GetServerDeployment retrieves a Deployment. Returns nil if it does not exist.
func (c *Client) GetServerDeployment(ctx context.Context, namespace, name string) (*appsv1.Deployment, error) {
	deployment, err := c.clientset.AppsV1().Deployments(namespace).Get(ctx, name, metav1.GetOptions{})
	if errors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get Deployment: %w", err)
	}
	return deployment, nil
}

// DeleteServerDeployment deletes the Deployment, its Service and its Secret.
// Missing objects are ignored.
func (c *Client) DeleteServerDeployment(ctx context.Context, namespace, name string) error {
	propagation := metav1.DeletePropagationForeground
	err := c.clientset.AppsV1().Deployments(namespace).Delete(ctx, name, metav1.DeleteOptions{
		PropagationPolicy: &propagation,
	})
	if err != nil && !errors.IsNotFound(err) {
		return fmt.Errorf("failed to delete Deployment: %w", err)
	}

	err = c.clientset.CoreV1().Services(namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil && !errors.IsNotFound(err) {
		return fmt.Errorf("failed to delete Service: %w", err)
	}

	return c.deleteSecret(ctx, namespace, name)
}

func (c *Client) deleteSecret(ctx context.Context, namespace, name string) error {
	err := c.clientset.CoreV1().Secrets(namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil && !errors.IsNotFound(err) {
		return fmt.Errorf("failed to delete Secret: %w", err)
	}
	return nil
}

// ListPodsByLabel returns the pods matching a label selector
func (c *Client) ListPodsByLabel(ctx context.Context, namespace, labelSelector string) ([]corev1.Pod, error) {
	pods, err := c.clientset.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: labelSelector,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list pods: %w", err)
	}
	return pods.Items, nil
}
