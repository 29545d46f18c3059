// Package v1 contains the TrainingJob CRD types.
package v1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
)

// Phase is the lifecycle phase of a TrainingJob.
type Phase string

const (
	PhasePending   Phase = "Pending"
	PhaseRunning   Phase = "Running"
	PhaseSucceeded Phase = "Succeeded"
	PhaseFailed    Phase = "Failed"
)

// Done reports whether p is terminal.
func (p Phase) Done() bool {
	return p == PhaseSucceeded || p == PhaseFailed
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:resource:scope=Namespaced
// +kubebuilder:printcolumn:name="Phase",type=string,JSONPath=`.status.phase`

// TrainingJob fine-tunes a sentence-embedding model in a trainer container.
type TrainingJob struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`
	Spec              TrainingJobSpec   `json:"spec,omitempty"`
	Status            TrainingJobStatus `json:"status,omitempty"`
}

// TrainingJobSpec defines the desired state of TrainingJob.
type TrainingJobSpec struct {
	BaseModel          string          `json:"baseModel"`
	TrainData          string          `json:"trainData"`
	ValidationData     string          `json:"validationData,omitempty"`
	OutputURI          string          `json:"outputURI"`
	Image              string          `json:"image"`
	Hyperparameters    Hyperparameters `json:"hyperparameters,omitempty"`
	ServiceAccountName string          `json:"serviceAccountName,omitempty"`
	BackoffLimit       *int32          `json:"backoffLimit,omitempty"`
}

// Hyperparameters are passed to the trainer as environment variables.
type Hyperparameters struct {
	Epochs          int32 `json:"epochs,omitempty"`
	BatchSize       int32 `json:"batchSize,omitempty"`
	EvaluationSteps int32 `json:"evaluationSteps,omitempty"`
}

// TrainingJobStatus defines the observed state of TrainingJob.
type TrainingJobStatus struct {
	Phase          Phase        `json:"phase,omitempty"`
	JobName        string       `json:"jobName,omitempty"`
	ArtifactURI    string       `json:"artifactURI,omitempty"`
	Message        string       `json:"message,omitempty"`
	StartTime      *metav1.Time `json:"startTime,omitempty"`
	CompletionTime *metav1.Time `json:"completionTime,omitempty"`
}

// +kubebuilder:object:root=true

// TrainingJobList contains a list of TrainingJob.
type TrainingJobList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []TrainingJob `json:"items"`
}

// DeepCopyObject implements runtime.Object.
func (t *TrainingJob) DeepCopyObject() runtime.Object {
	if t == nil {
		return nil
	}
	out := &TrainingJob{}
	t.DeepCopyInto(out)
	return out
}

// DeepCopyInto copies the receiver into out.
func (t *TrainingJob) DeepCopyInto(out *TrainingJob) {
	*out = *t
	out.TypeMeta = t.TypeMeta
	t.ObjectMeta.DeepCopyInto(&out.ObjectMeta)
	t.Spec.DeepCopyInto(&out.Spec)
	t.Status.DeepCopyInto(&out.Status)
}

// DeepCopyInto copies TrainingJobSpec.
func (s *TrainingJobSpec) DeepCopyInto(out *TrainingJobSpec) {
	*out = *s
	if s.BackoffLimit != nil {
		v := *s.BackoffLimit
		out.BackoffLimit = &v
	}
}

// DeepCopyInto copies TrainingJobStatus.
func (s *TrainingJobStatus) DeepCopyInto(out *TrainingJobStatus) {
	*out = *s
	if s.StartTime != nil {
		out.StartTime = s.StartTime.DeepCopy()
	}
	if s.CompletionTime != nil {
		out.CompletionTime = s.CompletionTime.DeepCopy()
	}
}

// DeepCopyObject implements runtime.Object for TrainingJobList.
func (l *TrainingJobList) DeepCopyObject() runtime.Object {
	if l == nil {
		return nil
	}
	out := &TrainingJobList{}
	l.DeepCopyInto(out)
	return out
}

// DeepCopyInto copies the list into out.
func (l *TrainingJobList) DeepCopyInto(out *TrainingJobList) {
	*out = *l
	out.TypeMeta = l.TypeMeta
	l.ListMeta.DeepCopyInto(&out.ListMeta)
	if l.Items != nil {
		out.Items = make([]TrainingJob, len(l.Items))
		for i := range l.Items {
			l.Items[i].DeepCopyInto(&out.Items[i])
		}
	}
}
