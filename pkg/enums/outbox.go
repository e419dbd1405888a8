package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type_enum enum in Postgres.
type OutboxAggregateType string

const (
	AggregateFundingGoal OutboxAggregateType = "funding_goal"
	AggregateDonation    OutboxAggregateType = "donation"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateFundingGoal,
	AggregateDonation,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type_enum enum in Postgres.
type OutboxEventType string

const (
	EventGoalCompleted    OutboxEventType = "goal_completed"
	EventDonationThanked  OutboxEventType = "donation_thanked"
	EventDonationExpired  OutboxEventType = "donation_expired"
	EventDonationRefunded OutboxEventType = "donation_refunded"
)

var validOutboxEventTypes = []OutboxEventType{
	EventGoalCompleted,
	EventDonationThanked,
	EventDonationExpired,
	EventDonationRefunded,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
