package auth

import (
	"github.com/dreamsuncharted/funding-backend/pkg/enums"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID      uuid.UUID
	Role        enums.MemberRole
	DisplayName string
	JTI         string
}

// AccessTokenClaims represents the typed JWT issued to clients.
type AccessTokenClaims struct {
	UserID      uuid.UUID        `json:"user_id"`
	Role        enums.MemberRole `json:"role"`
	DisplayName string           `json:"display_name,omitempty"`
	jwt.RegisteredClaims
}
