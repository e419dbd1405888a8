package enums

import "fmt"

// FundingType maps to the funding_type_enum enum in Postgres and names the
// content a completed goal will fund.
type FundingType string

const (
	FundingTypeChapter            FundingType = "chapter"
	FundingTypeEpisode            FundingType = "episode"
	FundingTypePage               FundingType = "page"
	FundingTypeArtwork            FundingType = "artwork"
	FundingTypeBonusContent       FundingType = "bonus_content"
	FundingTypeSeriesContinuation FundingType = "series_continuation"
)

var validFundingTypes = []FundingType{
	FundingTypeChapter,
	FundingTypeEpisode,
	FundingTypePage,
	FundingTypeArtwork,
	FundingTypeBonusContent,
	FundingTypeSeriesContinuation,
}

// IsValid reports whether the value matches the canonical funding type enum.
func (t FundingType) IsValid() bool {
	for _, candidate := range validFundingTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseFundingType converts raw input into FundingType.
func ParseFundingType(value string) (FundingType, error) {
	for _, candidate := range validFundingTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid funding type %q", value)
}
