// Command embedtune fine-tunes an embedding model and compares its retrieval hit
// rate against the base model (train, fetch, evaluate, compare, run).
package main

import (
	"fmt"
	"os"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/klejdi94/embedtune"
	"github.com/klejdi94/embedtune/config"
	"github.com/klejdi94/embedtune/training"
)

var Version = "dev"

// app holds the state shared by subcommands, built once the flags are parsed.
type app struct {
	configPath string
	cfg        *config.Config
	log        logr.Logger
	session    *embedtune.Session
}

func main() {
	if err := newRootCmd(&app{}).ExecuteContext(ctrl.SetupSignalHandler()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "embedtune",
		Short:             "Fine-tune an embedding model and measure its retrieval hit rate",
		Version:           Version,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}
	rootCmd.PersistentPostRunE = a.teardown
	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", os.Getenv("EMBEDTUNE_CONFIG"), "path to YAML config (EMBEDTUNE_* env vars override it)")

	rootCmd.AddCommand(trainCmd(a))
	rootCmd.AddCommand(fetchCmd(a))
	rootCmd.AddCommand(evaluateCmd(a))
	rootCmd.AddCommand(compareCmd(a))
	rootCmd.AddCommand(runCmd(a))
	return rootCmd
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = newLogger(cfg.Log)
	ctrl.SetLogger(a.log)

	a.session = embedtune.NewSession(cfg, a.log)
	a.session.Registerer = prometheus.NewRegistry()
	return a.session.OpenResults(cmd.Context())
}

func (a *app) teardown(cmd *cobra.Command, args []string) error {
	if a.session == nil {
		return nil
	}
	return a.session.Close()
}

func newLogger(lc config.LogConfig) logr.Logger {
	level, err := zapcore.ParseLevel(lc.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	return zap.New(zap.UseDevMode(lc.Development), zap.Level(level))
}

// kubernetesTrainer connects to the cluster in the current kubeconfig context.
func (a *app) kubernetesTrainer() (*training.Kubernetes, error) {
	restCfg, err := ctrl.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("kubeconfig: %w", err)
	}
	scheme, err := training.NewScheme()
	if err != nil {
		return nil, err
	}
	c, err := client.New(restCfg, client.Options{Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("kubernetes client: %w", err)
	}
	k := training.NewKubernetes(c, a.cfg.Training.Namespace)
	if a.cfg.Training.PollInterval > 0 {
		k.PollInterval = a.cfg.Training.PollInterval
	}
	return k, nil
}
