package training

import (
	"context"
	"strconv"
	"strings"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	"sigs.k8s.io/controller-runtime/pkg/log"

	v1 "github.com/klejdi94/embedtune/training/api/v1"
)

const trainerContainer = "trainer"

// TrainingJobReconciler runs each TrainingJob as a batch Job and mirrors the
// Job's progress into the TrainingJob status.
type TrainingJobReconciler struct {
	client.Client
	Scheme *runtime.Scheme
}

// Reconcile creates the batch Job for a new TrainingJob, then tracks its phase.
func (r *TrainingJobReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	logger := log.FromContext(ctx)
	cr := &v1.TrainingJob{}
	if err := r.Get(ctx, req.NamespacedName, cr); err != nil {
		return ctrl.Result{}, client.IgnoreNotFound(err)
	}
	if cr.Status.Phase.Done() {
		return ctrl.Result{}, nil
	}

	job := &batchv1.Job{}
	err := r.Get(ctx, client.ObjectKey{Namespace: cr.Namespace, Name: cr.Name}, job)
	switch {
	case apierrors.IsNotFound(err):
		job = r.newJob(cr)
		if err := controllerutil.SetControllerReference(cr, job, r.Scheme); err != nil {
			return ctrl.Result{}, err
		}
		if err := r.Create(ctx, job); err != nil {
			logger.Error(err, "failed to create training job")
			return ctrl.Result{}, err
		}
		now := metav1.Now()
		cr.Status.Phase = v1.PhasePending
		cr.Status.JobName = job.Name
		cr.Status.StartTime = &now
		logger.Info("created training job", "job", job.Name, "image", cr.Spec.Image)
		return ctrl.Result{}, r.Status().Update(ctx, cr)
	case err != nil:
		return ctrl.Result{}, err
	}

	phase, message := jobPhase(job)
	if phase == cr.Status.Phase && message == cr.Status.Message {
		return ctrl.Result{}, nil
	}
	cr.Status.Phase = phase
	cr.Status.JobName = job.Name
	cr.Status.Message = message
	if phase.Done() {
		now := metav1.Now()
		cr.Status.CompletionTime = &now
	}
	if phase == v1.PhaseSucceeded {
		cr.Status.ArtifactURI = ArtifactURI(cr.Spec.OutputURI)
	}
	if err := r.Status().Update(ctx, cr); err != nil {
		return ctrl.Result{}, err
	}
	logger.Info("training job phase changed", "phase", phase, "artifact", cr.Status.ArtifactURI)
	return ctrl.Result{}, nil
}

// ArtifactURI is where the trainer leaves the packed model for outputURI.
func ArtifactURI(outputURI string) string {
	return strings.TrimSuffix(outputURI, "/") + "/" + ArtifactName
}

func (r *TrainingJobReconciler) newJob(cr *v1.TrainingJob) *batchv1.Job {
	backoff := int32(0)
	if cr.Spec.BackoffLimit != nil {
		backoff = *cr.Spec.BackoffLimit
	}
	h := cr.Spec.Hyperparameters
	env := []corev1.EnvVar{
		{Name: "BASE_MODEL", Value: cr.Spec.BaseModel},
		{Name: "TRAIN_DATA", Value: cr.Spec.TrainData},
		{Name: "VALIDATION_DATA", Value: cr.Spec.ValidationData},
		{Name: "OUTPUT_URI", Value: cr.Spec.OutputURI},
		{Name: "EPOCHS", Value: strconv.Itoa(int(orDefault(h.Epochs, DefaultEpochs)))},
		{Name: "BATCH_SIZE", Value: strconv.Itoa(int(orDefault(h.BatchSize, DefaultBatchSize)))},
		{Name: "EVALUATION_STEPS", Value: strconv.Itoa(int(orDefault(h.EvaluationSteps, DefaultEvaluationSteps)))},
	}
	labels := map[string]string{
		"app.kubernetes.io/managed-by": "embedtune",
		"embedtune/training-job":       cr.Name,
	}
	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{Name: cr.Name, Namespace: cr.Namespace, Labels: labels},
		Spec: batchv1.JobSpec{
			BackoffLimit: &backoff,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					RestartPolicy:      corev1.RestartPolicyNever,
					ServiceAccountName: cr.Spec.ServiceAccountName,
					Containers: []corev1.Container{{
						Name:  trainerContainer,
						Image: cr.Spec.Image,
						Env:   env,
					}},
				},
			},
		},
	}
}

func orDefault(v int32, def int32) int32 {
	if v > 0 {
		return v
	}
	return def
}

func jobPhase(job *batchv1.Job) (v1.Phase, string) {
	for _, c := range job.Status.Conditions {
		if c.Status != corev1.ConditionTrue {
			continue
		}
		switch c.Type {
		case batchv1.JobComplete:
			return v1.PhaseSucceeded, ""
		case batchv1.JobFailed:
			return v1.PhaseFailed, c.Message
		}
	}
	switch {
	case job.Status.Succeeded > 0:
		return v1.PhaseSucceeded, ""
	case job.Status.Active > 0:
		return v1.PhaseRunning, ""
	default:
		return v1.PhasePending, ""
	}
}

// SetupWithManager registers the reconciler with the manager.
func (r *TrainingJobReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&v1.TrainingJob{}).
		Owns(&batchv1.Job{}).
		Complete(r)
}
