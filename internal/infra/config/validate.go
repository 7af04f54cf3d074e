package config

import (
	"fmt"
	"strings"

	"claimflow/internal/domain"
)

// knownSpecialists is the set of roles the supervisor understands.
var knownSpecialists = map[domain.Specialist]bool{
	domain.SpecialistAssessor:      true,
	domain.SpecialistPolicyChecker: true,
	domain.SpecialistRiskAnalyst:   true,
	domain.SpecialistDataAnalyst:   true,
	domain.SpecialistCommunication: true,
}

// knownTools is the tool surface the registry can provide.
var knownTools = map[string]bool{
	"get_vehicle_details":     true,
	"analyze_image":           true,
	"search_policy_documents": true,
	"get_claimant_history":    true,
}

// Validate checks the configuration for startup-fatal problems: malformed
// agent definitions and references to tools that will never be registered.
func (c *Config) Validate() error {
	var errs []string

	if c.Backend.BaseURL == "" && c.Provider.BaseURL == "" {
		errs = append(errs, "either backend.base_url or provider.base_url must be set")
	}
	if len(c.Agents) == 0 {
		errs = append(errs, "at least one agent definition is required")
	}

	seen := make(map[string]bool)
	bySpecialist := make(map[domain.Specialist]string)
	for i, def := range c.Agents {
		where := fmt.Sprintf("agents[%d]", i)
		if def.Name == "" {
			errs = append(errs, where+": name is required")
			continue
		}
		if seen[def.Name] {
			errs = append(errs, fmt.Sprintf("%s: duplicate agent name %q", where, def.Name))
		}
		seen[def.Name] = true

		if !knownSpecialists[def.Specialist] {
			errs = append(errs, fmt.Sprintf("%s (%s): unknown specialist %q", where, def.Name, def.Specialist))
		} else if prev, dup := bySpecialist[def.Specialist]; dup {
			errs = append(errs, fmt.Sprintf("%s (%s): specialist %q already bound to %q", where, def.Name, def.Specialist, prev))
		} else {
			bySpecialist[def.Specialist] = def.Name
		}

		if def.Instructions == "" {
			errs = append(errs, fmt.Sprintf("%s (%s): instructions are required", where, def.Name))
		}
		if def.Model == "" {
			errs = append(errs, fmt.Sprintf("%s (%s): model is required", where, def.Name))
		}
		for _, tool := range def.ToolNames {
			if !knownTools[tool] {
				errs = append(errs, fmt.Sprintf("%s (%s): unknown tool %q", where, def.Name, tool))
			}
		}
	}

	for _, required := range []domain.Specialist{
		domain.SpecialistAssessor,
		domain.SpecialistPolicyChecker,
		domain.SpecialistRiskAnalyst,
		domain.SpecialistCommunication,
	} {
		if _, ok := bySpecialist[required]; !ok {
			errs = append(errs, fmt.Sprintf("no agent definition for required specialist %q", required))
		}
	}
	if c.Tools.DataAnalystEnabled {
		if _, ok := bySpecialist[domain.SpecialistDataAnalyst]; !ok {
			errs = append(errs, "tools.data_analyst_enabled is set but no data_analyst agent is defined")
		}
	}

	if len(errs) > 0 {
		return domain.NewDomainError("config.Validate", domain.ErrConfigLoad, strings.Join(errs, "; "))
	}
	return nil
}
