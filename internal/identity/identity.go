// Package identity models the external identity provider the widget
// consumes. The provider owns authentication; the core only reads the
// resulting record.
package identity

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const RoleTeacher = "teacher"

// Identity is the current user as the identity provider reports it.
// RecordID is the opaque handle correlating the user to their durable
// record in the host; it may arrive later than Ready.
type Identity struct {
	ID       string
	RecordID string
	Role     string
	Name     string
	Ready    bool
}

func (id Identity) HasRecord() bool {
	return id.Ready && id.RecordID != ""
}

func (id Identity) IsTeacher() bool {
	return id.Role == RoleTeacher
}

// FromToken verifies an HS256 identity token and extracts the identity
// record from its claims.
func FromToken(tokenStr string, secret []byte) (Identity, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("parse identity token: %w", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Identity{}, fmt.Errorf("invalid identity token claims")
	}
	id := Identity{Ready: true}
	id.ID, _ = claims["sub"].(string)
	id.RecordID, _ = claims["record_id"].(string)
	id.Role, _ = claims["role"].(string)
	id.Name, _ = claims["name"].(string)
	if id.ID == "" {
		return Identity{}, fmt.Errorf("identity token has no subject")
	}
	return id, nil
}

// MintToken signs an identity token. Used by the host simulator and by
// tests; production tokens come from the identity provider itself.
func MintToken(id Identity, secret []byte, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub":       id.ID,
		"record_id": id.RecordID,
		"role":      id.Role,
		"name":      id.Name,
		"exp":       time.Now().Add(ttl).Unix(),
		"iat":       time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}
