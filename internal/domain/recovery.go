package domain

import "fmt"

// Scenario classifies a failure for the disaster recovery dispatcher.
type Scenario string

const (
	ScenarioAppFailure   Scenario = "app-failure"
	ScenarioDBFailure    Scenario = "db-failure"
	ScenarioInfraFailure Scenario = "infra-failure"
)

// ParseScenario validates a user-provided scenario name.
func ParseScenario(s string) (Scenario, error) {
	switch Scenario(s) {
	case ScenarioAppFailure, ScenarioDBFailure, ScenarioInfraFailure:
		return Scenario(s), nil
	default:
		return "", fmt.Errorf("%w: unknown scenario %q", ErrInvalidArgument, s)
	}
}

// RecoveryOutcome is the structured result of one dispatch. The dispatcher
// never reports bare success: ActionsTaken lists every mutation performed
// and RequiresManualFollowUp states whether operator action remains.
type RecoveryOutcome struct {
	Scenario               Scenario `json:"scenario"`
	Tier                   Tier     `json:"tier"`
	ActionsTaken           []string `json:"actions_taken"`
	Findings               []string `json:"findings,omitempty"`
	RequiresManualFollowUp bool     `json:"requires_manual_follow_up"`
}
