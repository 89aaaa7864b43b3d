package models

import "github.com/golang-jwt/jwt/v5"

// OperatorRole scopes what an ops token may do.
type OperatorRole string

const (
	RoleOperator OperatorRole = "OPERATOR"
	RoleViewer   OperatorRole = "VIEWER"
)

// OperatorClaims is the JWT payload accepted by the ops endpoints.
type OperatorClaims struct {
	Role OperatorRole `json:"role"`
	jwt.RegisteredClaims
}
