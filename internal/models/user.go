package models

import "github.com/golang-jwt/jwt/v5"

// UserRole represents the available roles for the RBAC system. Identity and
// role are minted by the external auth provider; this service only consumes
// them.
type UserRole string

const (
	RoleCitizen        UserRole = "CITIZEN"
	RoleRepresentative UserRole = "REPRESENTATIVE"
	RoleOfficial       UserRole = "OFFICIAL"
	RoleAdmin          UserRole = "ADMIN"
)

// JWTClaims represents the JWT payload for access tokens.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	FullName string   `json:"full_name"`
	jwt.RegisteredClaims
}
