package commands

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/updraft-io/updraft/pkg/telemetry"
	"github.com/updraft-io/updraft/pkg/update"
)

// updateRequest is the on-disk form of one reconciliation request: the
// deployment, its newly evaluated plan, the pre-computed step list, and the
// instance change buckets.
type updateRequest struct {
	UpdateID            string                      `yaml:"update_id"`
	DeploymentID        string                      `yaml:"deployment_id"`
	KeepOldDependencies bool                        `yaml:"keep_old_dependencies"`
	Plan                map[string]any              `yaml:"plan"`
	Steps               []update.Step               `yaml:"steps"`
	InstanceChanges     map[string][]map[string]any `yaml:"instance_changes"`
}

func newUpdateCommand() *cobra.Command {
	var requestFile string

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Reconcile a deployment against a new plan",
		Long: `Apply one deployment update from a request file.

The request file carries the deployment id, the newly evaluated plan, the
ordered step list, and the node-instance change buckets. Steps are applied
in ascending entity-id order; a finalize pass then compacts relationship
slots, repairs instance relationship order, and prunes stale
inter-deployment dependency edges.`,
		Example: `  # Apply an update request
  updraft update --request update.yaml

  # Apply against a specific database
  updraft update --request update.yaml --config updraft.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}

			req, err := loadUpdateRequest(requestFile)
			if err != nil {
				return err
			}

			tcfg := cfg.TelemetryConfig(appVersion)
			metrics, err := telemetry.NewMetrics(tcfg.Metrics)
			if err != nil {
				return err
			}
			if err := metrics.StartMetricsServer(); err != nil {
				return err
			}
			tracer, err := telemetry.NewTracer(tcfg.Tracing, tcfg.ServiceName, tcfg.ServiceVersion, tcfg.Environment)
			if err != nil {
				return err
			}
			defer tracer.Shutdown(cmd.Context())

			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			du := &update.DeploymentUpdate{
				ID:                  req.UpdateID,
				DeploymentID:        req.DeploymentID,
				Plan:                update.Plan(req.Plan),
				Steps:               req.Steps,
				KeepOldDependencies: req.KeepOldDependencies || cfg.Update.KeepOldDependencies,
			}
			changes := make(update.InstanceChanges, len(req.InstanceChanges))
			for changeType, instances := range req.InstanceChanges {
				changes[update.ChangeType(changeType)] = instances
			}

			reconciler := update.NewReconciler(store, logger, metrics, tracer)
			result, err := reconciler.Run(cmd.Context(), du, changes)
			if err != nil {
				return err
			}

			for entityType, ids := range result.ModifiedEntities.IDs {
				fmt.Printf("%s: %d modified\n", entityType, len(ids))
			}
			fmt.Printf("plugins to install: %d, to uninstall: %d\n",
				len(result.ModifiedEntities.PluginInstalls),
				len(result.ModifiedEntities.PluginUninstalls))
			return nil
		},
	}

	cmd.Flags().StringVarP(&requestFile, "request", "r", "", "update request file (YAML)")
	cmd.MarkFlagRequired("request")

	return cmd
}

// loadUpdateRequest parses and minimally validates a request file.
func loadUpdateRequest(path string) (*updateRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading update request: %w", err)
	}
	var req updateRequest
	if err := yaml.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("parsing update request: %w", err)
	}
	if req.DeploymentID == "" {
		return nil, fmt.Errorf("update request is missing deployment_id")
	}
	if req.UpdateID == "" {
		req.UpdateID = uuid.New().String()
	}
	return &req, nil
}
