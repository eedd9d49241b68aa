package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	jwtSecret = []byte("change-me")
	jwtIssuer = ""
)

// Claims identify a signed-in user. The subject is the user id.
type Claims struct {
	Email      string `json:"email"`
	Name       string `json:"name,omitempty"`
	ReferredBy string `json:"ref,omitempty"`
	jwt.RegisteredClaims
}

func SetJWTSecret(secret string) {
	jwtSecret = []byte(secret)
}

// SetJWTIssuer makes ParseToken reject tokens from any other issuer.
// An empty issuer disables the check.
func SetJWTIssuer(issuer string) {
	jwtIssuer = issuer
}

// GenerateToken signs an HS256 token for subject. Used by tests and local
// tooling; production tokens come from the identity provider.
func GenerateToken(subject, email, name string, expireHours int) (string, error) {
	return GenerateReferralToken(subject, email, name, "", expireHours)
}

// GenerateReferralToken is GenerateToken with a referrer attached.
func GenerateReferralToken(subject, email, name, referredBy string, expireHours int) (string, error) {
	now := time.Now()
	claims := Claims{
		Email:      email,
		Name:       name,
		ReferredBy: referredBy,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    jwtIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(expireHours) * time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtSecret)
}

func ParseToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if jwtIssuer != "" {
		opts = append(opts, jwt.WithIssuer(jwtIssuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return jwtSecret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}
