package util

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Device credentials are long-lived; the desktop client holds one per
// pairing and uses it for every device-originated call.
const deviceJWTValidity = 365 * 24 * time.Hour

// DeviceClaims scope a credential to exactly one device/account pair.
type DeviceClaims struct {
	DeviceID  string `json:"pc_id"`
	AccountID string `json:"user_id"`
	jwt.RegisteredClaims
}

// SignDeviceJWT issues the scoped credential returned by a successful claim.
func SignDeviceJWT(secret, deviceID, accountID string) (string, error) {
	now := time.Now()
	claims := DeviceClaims{
		DeviceID:  deviceID,
		AccountID: accountID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "kidspc",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(deviceJWTValidity)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseDeviceJWT verifies the signature and expiry and returns the claims.
func ParseDeviceJWT(secret, tokenString string) (*DeviceClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &DeviceClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*DeviceClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid device token")
	}

	if claims.DeviceID == "" || claims.AccountID == "" {
		return nil, fmt.Errorf("device token missing scope claims")
	}

	return claims, nil
}
