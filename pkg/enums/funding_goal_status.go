package enums

import "fmt"

// FundingGoalStatus maps to the funding_goal_status_enum enum in Postgres.
type FundingGoalStatus string

const (
	FundingGoalStatusActive    FundingGoalStatus = "active"
	FundingGoalStatusPaused    FundingGoalStatus = "paused"
	FundingGoalStatusCompleted FundingGoalStatus = "completed"
	FundingGoalStatusCancelled FundingGoalStatus = "cancelled"
)

var validFundingGoalStatuses = []FundingGoalStatus{
	FundingGoalStatusActive,
	FundingGoalStatusPaused,
	FundingGoalStatusCompleted,
	FundingGoalStatusCancelled,
}

// IsValid reports whether the value matches the canonical goal status enum.
func (s FundingGoalStatus) IsValid() bool {
	for _, candidate := range validFundingGoalStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseFundingGoalStatus converts raw input into FundingGoalStatus.
func ParseFundingGoalStatus(value string) (FundingGoalStatus, error) {
	for _, candidate := range validFundingGoalStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid funding goal status %q", value)
}
