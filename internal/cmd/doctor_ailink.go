package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quotelens/quotelens/internal/ailink"
	"github.com/quotelens/quotelens/internal/config"
	"github.com/quotelens/quotelens/internal/output"
)

var doctorAILinkModel string

var doctorAILinkCmd = &cobra.Command{
	Use:   "ailink [role]",
	Short: "Inspect AILink provider resolution",
	Long: `Resolve an AILink role to its candidate providers and show the credential
and model the first candidate would use. Roles default to the insight role.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := selectedFormat()
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		role := strings.TrimSpace(cfg.Report.Role)
		if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
			role = strings.TrimSpace(args[0])
		}
		if role == "" {
			role = ailink.DefaultInsightRole
		}

		rows, err := describeAILinkRole(cfg, role, doctorAILinkModel)
		if err != nil {
			return err
		}
		text, err := output.Checks(format, rows)
		if err != nil {
			return err
		}
		return emit(cmd, "doctor.ailink."+role, format, text)
	},
}

// describeAILinkRole lists how role resolves, without calling any provider.
func describeAILinkRole(cfg *config.Config, role, modelOverride string) ([]output.Check, error) {
	registry := ailink.NewRegistry(cfg.AILink)
	candidates, err := registry.Candidates(role)
	if err != nil {
		return nil, fmt.Errorf("resolve role %q: %w", role, err)
	}

	source, routingTarget := describeAILinkResolution(cfg, role)
	rows := []output.Check{
		{Name: "role", OK: true, Detail: role},
		{Name: "source", OK: true, Detail: source},
		{Name: "candidates", OK: true, Detail: strings.Join(candidates, " -> ")},
	}
	if routingTarget != "" {
		rows = append(rows, output.Check{Name: "routing", OK: true, Detail: role + " -> " + routingTarget})
	}

	resolved, err := registry.Resolve(candidates[0], modelOverride)
	if err != nil {
		rows = append(rows, output.Check{Name: "resolve", Detail: err.Error()})
		return rows, nil
	}

	policy := strings.TrimSpace(resolved.Provider.SelectionPolicy)
	if policy == "" {
		policy = "priority"
	}
	hasKey := strings.TrimSpace(resolved.Credential.APIKey) != ""
	rows = append(rows,
		output.Check{Name: "provider", OK: true, Detail: resolved.ProviderID},
		output.Check{Name: "ai_provider", OK: true, Detail: resolved.Provider.AIProvider},
		output.Check{Name: "base_url", OK: true, Detail: resolved.Provider.BaseURL},
		output.Check{Name: "model", OK: resolved.Model != "", Detail: resolved.Model},
		output.Check{Name: "selection_policy", OK: true, Detail: policy},
		output.Check{Name: "credential", OK: hasKey, Detail: fmt.Sprintf("%s (priority %d) api_key %s", orDash(resolved.Credential.Label), resolved.Credential.Priority, keyStatus(hasKey))},
	)
	return rows, nil
}

func describeAILinkResolution(cfg *config.Config, role string) (source string, routingTarget string) {
	if cfg == nil {
		return "config missing", ""
	}

	role = strings.TrimSpace(role)
	if role != "" && cfg.AILink.Routing != nil {
		routingTarget = strings.TrimSpace(cfg.AILink.Routing[role])
		if routingTarget != "" {
			return "routing", routingTarget
		}
	}
	if len(cfg.AILink.Fallbacks[role]) > 0 {
		return "fallbacks", ""
	}

	for _, providerCfg := range cfg.AILink.Providers {
		if !providerCfg.Enabled {
			continue
		}
		for _, r := range providerCfg.Roles {
			if strings.EqualFold(strings.TrimSpace(r), role) {
				return "roles", ""
			}
		}
	}

	if strings.TrimSpace(cfg.AILink.DefaultProvider) != "" {
		return "default_provider", ""
	}
	return "only_enabled_provider", ""
}

func keyStatus(set bool) string {
	if set {
		return "(set)"
	}
	return "(not set)"
}

func init() {
	doctorCmd.AddCommand(doctorAILinkCmd)
	addOutputTargetFlags(doctorAILinkCmd)
	doctorAILinkCmd.Flags().StringVar(&doctorAILinkModel, "model", "", "Model override (defaults to provider models.default)")
}
