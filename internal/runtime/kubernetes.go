package runtime

import (
	"bufio"
	"bytes"
	"context"
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/profikid/river-sense-proof-of-concept/pkg/logging"
	"github.com/profikid/river-sense-proof-of-concept/pkg/models"
)

// KubernetesDriver runs workers as single-replica Deployments in one
// namespace. The deployment name doubles as the worker handle.
type KubernetesDriver struct {
	cs     kubernetes.Interface
	cfg    Config
	logger logging.Logger
}

// NewKubernetesDriver builds a clientset from the in-cluster config,
// falling back to the default kubeconfig for out-of-cluster runs.
func NewKubernetesDriver(cfg Config, logger logging.Logger) (*KubernetesDriver, error) {
	rc, err := rest.InClusterConfig()
	if err != nil {
		loader := clientcmd.NewDefaultClientConfigLoadingRules()
		rc, err = clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loader, nil).ClientConfig()
		if err != nil {
			return nil, fmt.Errorf("kubernetes config: %w", err)
		}
	}
	cs, err := kubernetes.NewForConfig(rc)
	if err != nil {
		return nil, fmt.Errorf("kubernetes client: %w", err)
	}
	return &KubernetesDriver{cs: cs, cfg: cfg, logger: logger}, nil
}

// NewKubernetesDriverWithClient is used by tests to inject a fake clientset.
func NewKubernetesDriverWithClient(cs kubernetes.Interface, cfg Config, logger logging.Logger) *KubernetesDriver {
	return &KubernetesDriver{cs: cs, cfg: cfg, logger: logger}
}

func (d *KubernetesDriver) Ping(ctx context.Context) error {
	_, err := d.cs.Discovery().ServerVersion()
	return err
}

func (d *KubernetesDriver) labels(streamID string) map[string]string {
	return map[string]string{
		"app.kubernetes.io/name":       "flow-worker",
		"app.kubernetes.io/managed-by": "flowd",
		"flowd/stream-id":              streamID,
	}
}

func (d *KubernetesDriver) envVars(stream models.Stream, settings models.SystemSettings) []corev1.EnvVar {
	pairs := workerEnv(d.cfg, stream, settings)
	out := make([]corev1.EnvVar, 0, len(pairs))
	for _, kv := range envList(pairs) {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				out = append(out, corev1.EnvVar{Name: kv[:i], Value: kv[i+1:]})
				break
			}
		}
	}
	return out
}

// Start creates (or reuses) the stream's Deployment. An existing
// deployment is left untouched; config changes are applied by the
// reconciler as stop-then-start.
func (d *KubernetesDriver) Start(ctx context.Context, stream models.Stream, settings models.SystemSettings) (string, error) {
	handle := HandleForStream(stream.ID)
	labels := d.labels(stream.ID)
	replicas := int32(1)

	dep := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      handle,
			Namespace: d.cfg.Namespace,
			Labels:    labels,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{MatchLabels: labels},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{{
						Name:  "worker",
						Image: d.cfg.WorkerImage,
						Env:   d.envVars(stream, settings),
						Ports: []corev1.ContainerPort{{
							Name:          "metrics",
							ContainerPort: int32(d.cfg.MetricsPort),
						}},
					}},
					RestartPolicy: corev1.RestartPolicyAlways,
				},
			},
		},
	}

	_, err := d.cs.AppsV1().Deployments(d.cfg.Namespace).Create(ctx, dep, metav1.CreateOptions{})
	if err != nil {
		if apierrors.IsAlreadyExists(err) {
			return handle, nil
		}
		if apierrors.IsInvalid(err) || apierrors.IsForbidden(err) {
			return "", permanentf("create deployment", err)
		}
		return "", retryablef("create deployment", err)
	}

	d.logger.WithFields(logging.Fields{
		"stream_id": stream.ID,
		"handle":    handle,
	}).Info("Created worker deployment")
	return handle, nil
}

// Stop deletes the Deployment. Absence is success.
func (d *KubernetesDriver) Stop(ctx context.Context, handle string) error {
	policy := metav1.DeletePropagationForeground
	err := d.cs.AppsV1().Deployments(d.cfg.Namespace).Delete(ctx, handle, metav1.DeleteOptions{
		PropagationPolicy: &policy,
	})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil
		}
		return retryablef("delete deployment", err)
	}
	d.logger.WithField("handle", handle).Info("Deleted worker deployment")
	return nil
}

func (d *KubernetesDriver) Inspect(ctx context.Context, handle string) (Inspection, error) {
	dep, err := d.cs.AppsV1().Deployments(d.cfg.Namespace).Get(ctx, handle, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return Inspection{State: StateMissing}, nil
		}
		return Inspection{}, retryablef("get deployment", err)
	}

	out := Inspection{StartedAt: dep.CreationTimestamp.Time}
	if dep.Status.ReadyReplicas >= 1 {
		out.State = StateRunning
		return out, nil
	}

	// Not ready yet: distinguish a rollout in progress from a crashed pod.
	pod, err := d.workerPod(ctx, handle)
	if err != nil || pod == nil {
		out.State = StateStarting
		return out, nil
	}
	switch pod.Status.Phase {
	case corev1.PodFailed:
		out.State = StateExited
		out.LastError = pod.Status.Reason
	case corev1.PodRunning:
		// Running but not ready counts as still starting.
		out.State = StateStarting
	default:
		out.State = StateStarting
		for _, cs := range pod.Status.ContainerStatuses {
			if w := cs.State.Waiting; w != nil && (w.Reason == "CrashLoopBackOff" || w.Reason == "ImagePullBackOff" || w.Reason == "ErrImagePull") {
				out.State = StateExited
				out.LastError = w.Reason + ": " + w.Message
			}
		}
	}
	return out, nil
}

func (d *KubernetesDriver) workerPod(ctx context.Context, handle string) (*corev1.Pod, error) {
	streamID := handle[len("worker-"):]
	pods, err := d.cs.CoreV1().Pods(d.cfg.Namespace).List(ctx, metav1.ListOptions{
		LabelSelector: "flowd/stream-id=" + streamID,
	})
	if err != nil {
		return nil, err
	}
	if len(pods.Items) == 0 {
		return nil, nil
	}
	// Prefer the newest pod; older ones are terminating leftovers.
	newest := pods.Items[0]
	for _, p := range pods.Items[1:] {
		if p.CreationTimestamp.After(newest.CreationTimestamp.Time) {
			newest = p
		}
	}
	return &newest, nil
}

// Tail fetches the last n lines from the stream's newest pod.
func (d *KubernetesDriver) Tail(ctx context.Context, handle string, lines int) ([]string, error) {
	if lines <= 0 {
		lines = 100
	}
	pod, err := d.workerPod(ctx, handle)
	if err != nil {
		return nil, retryablef("list pods", err)
	}
	if pod == nil {
		return nil, permanentf("tail logs", fmt.Errorf("no pod found for %s", handle))
	}

	tail := int64(lines)
	raw, err := d.cs.CoreV1().Pods(d.cfg.Namespace).GetLogs(pod.Name, &corev1.PodLogOptions{
		Container: "worker",
		TailLines: &tail,
	}).Do(ctx).Raw()
	if err != nil {
		return nil, retryablef("pod logs", err)
	}

	var out []string
	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		out = append(out, sc.Text())
	}
	return out, sc.Err()
}
