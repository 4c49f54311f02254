package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/onpardev/mymcp/api/internal/services/k8s"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// Waiting reasons that will not resolve without intervention
var fatalWaitingReasons = map[string]bool{
	"CrashLoopBackOff":           true,
	"ImagePullBackOff":           true,
	"ErrImagePull":               true,
	"InvalidImageName":           true,
	"CreateContainerConfigError": true,
}

// Kubernetes runs each server as a Deployment plus Service in one namespace.
// The instance id is the Deployment name.
type Kubernetes struct {
	client    *k8s.Client
	namespace string
	now       func() time.Time
}

func NewKubernetes(client *k8s.Client, namespace string) *Kubernetes {
	return &Kubernetes{client: client, namespace: namespace, now: time.Now}
}

func deploymentName(serverID string) string {
	return "mcp-" + serverID
}

func (k *Kubernetes) address(name string, port int32) string {
	return fmt.Sprintf("%s.%s.svc.cluster.local:%d", name, k.namespace, port)
}

func (k *Kubernetes) StartContainer(ctx context.Context, req StartRequest) (*StartResult, error) {
	serverID := req.Labels[LabelServerID]
	if serverID == "" {
		serverID = uuid.NewString()
	}
	name := deploymentName(serverID)

	err := k.client.CreateServerDeployment(ctx, k8s.DeploymentParams{
		Namespace:     k.namespace,
		Name:          name,
		Image:         req.Image,
		Port:          int32(req.Port),
		Env:           req.Env,
		SecretEnv:     req.Secrets,
		CPUMillicores: int64(req.CPUMillicores),
		MemoryMB:      int64(req.MemoryMB),
		Labels:        req.Labels,
	})
	if err != nil {
		return nil, wrapError("start", name, err)
	}

	return &StartResult{
		InstanceID: name,
		Status:     ContainerStarting,
		Address:    k.address(name, int32(req.Port)),
	}, nil
}

func (k *Kubernetes) StopContainer(ctx context.Context, instanceID string) error {
	return wrapError("stop", instanceID, k.client.DeleteServerDeployment(ctx, k.namespace, instanceID))
}

func (k *Kubernetes) GetHealth(ctx context.Context, instanceID string) (*HealthResult, error) {
	deployment, err := k.client.GetServerDeployment(ctx, k.namespace, instanceID)
	if err != nil {
		return nil, wrapError("health", instanceID, err)
	}

	res := &HealthResult{CheckedAt: k.now()}

	switch {
	case deployment == nil:
		res.Status = ContainerStopped
		res.Message = "deployment not found"
		return res, nil
	case deployment.DeletionTimestamp != nil:
		res.Status = ContainerStopping
		return res, nil
	case deployment.Status.ReadyReplicas > 0:
		res.IsHealthy = true
		res.Status = ContainerRunning
		var port int32
		if cs := deployment.Spec.Template.Spec.Containers; len(cs) > 0 && len(cs[0].Ports) > 0 {
			port = cs[0].Ports[0].ContainerPort
		}
		res.Address = k.address(instanceID, port)
		return res, nil
	}

	pods, err := k.client.ListPodsByLabel(ctx, k.namespace, metav1.FormatLabelSelector(deployment.Spec.Selector))
	if err != nil {
		return nil, wrapError("health", instanceID, err)
	}

	res.Status = ContainerStarting
	for _, pod := range pods {
		if reason, failed := podFailure(&pod); failed {
			res.Status = ContainerFailed
			res.Message = reason
			break
		}
	}
	return res, nil
}

func podFailure(pod *corev1.Pod) (string, bool) {
	if pod.Status.Phase == corev1.PodFailed {
		return fmt.Sprintf("pod %s failed: %s", pod.Name, pod.Status.Reason), true
	}
	for _, cs := range pod.Status.ContainerStatuses {
		if cs.State.Waiting != nil && fatalWaitingReasons[cs.State.Waiting.Reason] {
			return fmt.Sprintf("%s: %s", cs.State.Waiting.Reason, cs.State.Waiting.Message), true
		}
	}
	return "", false
}
