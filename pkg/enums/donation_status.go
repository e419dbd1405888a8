package enums

import "fmt"

// DonationStatus maps to the donation_status_enum enum in Postgres.
type DonationStatus string

const (
	DonationStatusPending    DonationStatus = "pending"
	DonationStatusProcessing DonationStatus = "processing"
	DonationStatusCompleted  DonationStatus = "completed"
	DonationStatusFailed     DonationStatus = "failed"
	DonationStatusCancelled  DonationStatus = "cancelled"
	DonationStatusRefunded   DonationStatus = "refunded"
)

var validDonationStatuses = []DonationStatus{
	DonationStatusPending,
	DonationStatusProcessing,
	DonationStatusCompleted,
	DonationStatusFailed,
	DonationStatusCancelled,
	DonationStatusRefunded,
}

// IsValid reports whether the value matches the canonical donation status enum.
func (s DonationStatus) IsValid() bool {
	for _, candidate := range validDonationStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is permitted from s.
// Refunded is reachable from completed through the refund path only; every
// other terminal status is final for the provider event stream.
func (s DonationStatus) IsTerminal() bool {
	switch s {
	case DonationStatusCompleted, DonationStatusFailed, DonationStatusCancelled, DonationStatusRefunded:
		return true
	}
	return false
}

// ParseDonationStatus converts raw input into DonationStatus.
func ParseDonationStatus(value string) (DonationStatus, error) {
	for _, candidate := range validDonationStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid donation status %q", value)
}
