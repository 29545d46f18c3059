package training

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/wait"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client"

	v1 "github.com/klejdi94/embedtune/training/api/v1"
)

// DefaultPollInterval is how often Kubernetes.Wait checks job status.
const DefaultPollInterval = 10 * time.Second

// Kubernetes runs training jobs as TrainingJob custom resources, which the
// training operator turns into batch Jobs.
type Kubernetes struct {
	Client       client.Client
	Namespace    string
	PollInterval time.Duration
}

// NewKubernetes creates a backend that submits jobs into namespace.
func NewKubernetes(c client.Client, namespace string) *Kubernetes {
	if namespace == "" {
		namespace = "default"
	}
	return &Kubernetes{Client: c, Namespace: namespace, PollInterval: DefaultPollInterval}
}

// NewScheme returns a scheme with the built-in and TrainingJob types registered.
func NewScheme() (*runtime.Scheme, error) {
	scheme := runtime.NewScheme()
	if err := clientgoscheme.AddToScheme(scheme); err != nil {
		return nil, fmt.Errorf("add client-go scheme: %w", err)
	}
	if err := v1.AddToScheme(scheme); err != nil {
		return nil, fmt.Errorf("add embedtune scheme: %w", err)
	}
	return scheme, nil
}

// Submit implements Backend.
func (k *Kubernetes) Submit(ctx context.Context, req Request) (*Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	cr := newTrainingJob(k.Namespace, req)
	if err := k.Client.Create(ctx, cr); err != nil {
		return nil, fmt.Errorf("training: create %s: %w", cr.Name, err)
	}
	logr.FromContextOrDiscard(ctx).Info("submitted training job", "name", cr.Name, "namespace", k.Namespace,
		"base_model", req.BaseModel, "epochs", req.Hyperparameters.Epochs)
	return &Job{Name: cr.Name, Phase: PhasePending}, nil
}

// Wait implements Backend by polling the TrainingJob status.
func (k *Kubernetes) Wait(ctx context.Context, name string) (*Job, error) {
	interval := k.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	log := logr.FromContextOrDiscard(ctx).WithValues("name", name)
	var job *Job
	last := Phase("")
	err := wait.PollUntilContextCancel(ctx, interval, true, func(ctx context.Context) (bool, error) {
		cr := &v1.TrainingJob{}
		if err := k.Client.Get(ctx, types.NamespacedName{Namespace: k.Namespace, Name: name}, cr); err != nil {
			return false, fmt.Errorf("training: get %s: %w", name, err)
		}
		job = toJob(cr)
		if job.Phase != last {
			log.V(1).Info("training job phase", "phase", job.Phase)
			last = job.Phase
		}
		return v1.Phase(job.Phase).Done(), nil
	})
	if err != nil {
		return job, err
	}
	if job.Phase == PhaseFailed {
		return job, failed(job)
	}
	log.Info("training job succeeded", "artifact", job.ArtifactURI)
	return job, nil
}

func newTrainingJob(namespace string, req Request) *v1.TrainingJob {
	name := req.Name
	if name == "" {
		name = "embedtune-" + strings.SplitN(uuid.NewString(), "-", 2)[0]
	}
	return &v1.TrainingJob{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
			Labels:    map[string]string{"app.kubernetes.io/managed-by": "embedtune"},
		},
		Spec: v1.TrainingJobSpec{
			BaseModel:      req.BaseModel,
			TrainData:      req.TrainDataURI,
			ValidationData: req.ValidationDataURI,
			OutputURI:      req.OutputURI,
			Image:          req.Image,
			Hyperparameters: v1.Hyperparameters{
				Epochs:          int32(req.Hyperparameters.Epochs),
				BatchSize:       int32(req.Hyperparameters.BatchSize),
				EvaluationSteps: int32(req.Hyperparameters.EvaluationSteps),
			},
		},
	}
}

func toJob(cr *v1.TrainingJob) *Job {
	phase := Phase(cr.Status.Phase)
	if phase == "" {
		phase = PhasePending
	}
	return &Job{
		Name:        cr.Name,
		Phase:       phase,
		ArtifactURI: cr.Status.ArtifactURI,
		Message:     cr.Status.Message,
	}
}
