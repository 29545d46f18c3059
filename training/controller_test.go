package training

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	v1 "github.com/klejdi94/embedtune/training/api/v1"
)

func newReconciler(t *testing.T, objs ...client.Object) *TrainingJobReconciler {
	t.Helper()
	c := newFakeClient(t, objs...)
	return &TrainingJobReconciler{Client: c, Scheme: c.Scheme()}
}

func pendingCR() *v1.TrainingJob {
	return &v1.TrainingJob{
		ObjectMeta: metav1.ObjectMeta{Name: "ft-1", Namespace: "ml"},
		Spec: v1.TrainingJobSpec{
			BaseModel: "BAAI/bge-small-en-v1.5",
			TrainData: "s3://bucket/data/train.json",
			OutputURI: "s3://bucket/models/ft-1/",
			Image:     "registry.local/trainer:latest",
			Hyperparameters: v1.Hyperparameters{
				Epochs: 5,
			},
		},
	}
}

var key = types.NamespacedName{Namespace: "ml", Name: "ft-1"}

func reconcile(t *testing.T, r *TrainingJobReconciler) {
	t.Helper()
	_, err := r.Reconcile(context.Background(), ctrl.Request{NamespacedName: key})
	require.NoError(t, err)
}

func getCR(t *testing.T, r *TrainingJobReconciler) *v1.TrainingJob {
	t.Helper()
	cr := &v1.TrainingJob{}
	require.NoError(t, r.Get(context.Background(), key, cr))
	return cr
}

func envMap(c corev1.Container) map[string]string {
	out := map[string]string{}
	for _, e := range c.Env {
		out[e.Name] = e.Value
	}
	return out
}

func TestReconcile_CreatesJob(t *testing.T) {
	r := newReconciler(t, pendingCR())
	reconcile(t, r)

	job := &batchv1.Job{}
	require.NoError(t, r.Get(context.Background(), key, job))
	require.Len(t, job.Spec.Template.Spec.Containers, 1)
	c := job.Spec.Template.Spec.Containers[0]
	assert.Equal(t, "registry.local/trainer:latest", c.Image)
	env := envMap(c)
	assert.Equal(t, "5", env["EPOCHS"])
	assert.Equal(t, "32", env["BATCH_SIZE"])
	assert.Equal(t, "50", env["EVALUATION_STEPS"])
	assert.Equal(t, "BAAI/bge-small-en-v1.5", env["BASE_MODEL"])
	assert.Equal(t, corev1.RestartPolicyNever, job.Spec.Template.Spec.RestartPolicy)
	require.Len(t, job.OwnerReferences, 1)
	assert.Equal(t, "TrainingJob", job.OwnerReferences[0].Kind)

	cr := getCR(t, r)
	assert.Equal(t, v1.PhasePending, cr.Status.Phase)
	assert.Equal(t, "ft-1", cr.Status.JobName)
	assert.NotNil(t, cr.Status.StartTime)
}

func TestReconcile_MirrorsJobStatus(t *testing.T) {
	r := newReconciler(t, pendingCR())
	reconcile(t, r)
	ctx := context.Background()

	job := &batchv1.Job{}
	require.NoError(t, r.Get(ctx, key, job))
	job.Status.Active = 1
	require.NoError(t, r.Status().Update(ctx, job))
	reconcile(t, r)
	assert.Equal(t, v1.PhaseRunning, getCR(t, r).Status.Phase)

	require.NoError(t, r.Get(ctx, key, job))
	job.Status.Active = 0
	job.Status.Succeeded = 1
	require.NoError(t, r.Status().Update(ctx, job))
	reconcile(t, r)

	cr := getCR(t, r)
	assert.Equal(t, v1.PhaseSucceeded, cr.Status.Phase)
	assert.Equal(t, "s3://bucket/models/ft-1/model.tar.gz", cr.Status.ArtifactURI)
	assert.NotNil(t, cr.Status.CompletionTime)
}

func TestReconcile_Failed(t *testing.T) {
	r := newReconciler(t, pendingCR())
	reconcile(t, r)
	ctx := context.Background()

	job := &batchv1.Job{}
	require.NoError(t, r.Get(ctx, key, job))
	job.Status.Conditions = []batchv1.JobCondition{{
		Type:    batchv1.JobFailed,
		Status:  corev1.ConditionTrue,
		Message: "Job has reached the specified backoff limit",
	}}
	require.NoError(t, r.Status().Update(ctx, job))
	reconcile(t, r)

	cr := getCR(t, r)
	assert.Equal(t, v1.PhaseFailed, cr.Status.Phase)
	assert.Contains(t, cr.Status.Message, "backoff limit")
	assert.Empty(t, cr.Status.ArtifactURI)

	// finished jobs are left alone
	reconcile(t, r)
	assert.Equal(t, v1.PhaseFailed, getCR(t, r).Status.Phase)
}

func TestReconcile_NotFound(t *testing.T) {
	r := newReconciler(t)
	reconcile(t, r)
}

func TestArtifactURI(t *testing.T) {
	assert.Equal(t, "s3://b/m/model.tar.gz", ArtifactURI("s3://b/m"))
	assert.Equal(t, "s3://b/m/model.tar.gz", ArtifactURI("s3://b/m/"))
}
