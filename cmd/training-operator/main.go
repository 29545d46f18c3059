// Command training-operator runs a Kubernetes controller that turns TrainingJob
// resources into batch Jobs running the fine-tuning container.
package main

import (
	"flag"
	"os"

	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	"github.com/klejdi94/embedtune/training"
)

func main() {
	metricsAddr := flag.String("metrics-bind-address", ":8080", "Metrics endpoint address")
	probeAddr := flag.String("health-probe-bind-address", ":8081", "Health probe address")
	leaderElect := flag.Bool("leader-elect", false, "Enable leader election")
	opts := zap.Options{Development: true}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()
	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))
	setupLog := ctrl.Log.WithName("setup")

	scheme, err := training.NewScheme()
	if err != nil {
		setupLog.Error(err, "building scheme")
		os.Exit(1)
	}
	mgr, err := ctrl.NewManager(ctrl.GetConfigOrDie(), ctrl.Options{
		Scheme:                 scheme,
		Metrics:                metricsserver.Options{BindAddress: *metricsAddr},
		HealthProbeBindAddress: *probeAddr,
		LeaderElection:         *leaderElect,
		LeaderElectionID:       "training-operator.embedtune.klejdi94.github.com",
	})
	if err != nil {
		setupLog.Error(err, "creating manager")
		os.Exit(1)
	}
	reconciler := &training.TrainingJobReconciler{
		Client: mgr.GetClient(),
		Scheme: mgr.GetScheme(),
	}
	if err = reconciler.SetupWithManager(mgr); err != nil {
		setupLog.Error(err, "creating controller", "controller", "TrainingJob")
		os.Exit(1)
	}
	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		setupLog.Error(err, "adding health check")
		os.Exit(1)
	}
	if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
		setupLog.Error(err, "adding ready check")
		os.Exit(1)
	}
	setupLog.Info("starting manager")
	if err = mgr.Start(ctrl.SetupSignalHandler()); err != nil {
		setupLog.Error(err, "running manager")
		os.Exit(1)
	}
}
