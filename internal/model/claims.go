package model

import "github.com/golang-jwt/jwt/v5"

// StaffClaims is the token payload issued by the clinic auth service
// for front-desk terminals. This service only validates it.
type StaffClaims struct {
	StaffID   string `json:"staffId"`
	StationID string `json:"stationId"`
	jwt.RegisteredClaims
}
