package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"CascadeAdvisor/internal/domain/models"
	domsvc "CascadeAdvisor/internal/domain/service"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carried by access tokens.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// JWTVerifier validates HS256 tokens issued by the account service.
type JWTVerifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

var _ domsvc.TokenVerifier = (*JWTVerifier)(nil)

func NewJWTVerifier(secret, issuer string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), issuer: issuer, now: time.Now}
}

func (v *JWTVerifier) Verify(_ context.Context, token string) (models.Caller, error) {
	if len(v.secret) == 0 {
		return models.Caller{}, fmt.Errorf("%w: verifier has no secret", models.ErrUnknownToken)
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return models.Caller{}, fmt.Errorf("%w: %v", models.ErrUnknownToken, err)
	}
	if claims.Subject == "" {
		return models.Caller{}, fmt.Errorf("%w: missing subject", models.ErrUnknownToken)
	}

	role := models.Role(claims.Role)
	switch role {
	case models.RoleAdmin, models.RoleUser:
	case "":
		role = models.RoleUser
	default:
		return models.Caller{}, fmt.Errorf("%w: role %q", models.ErrUnknownToken, claims.Role)
	}
	return models.Caller{UserID: claims.Subject, Role: role}, nil
}

// Issue signs a token for userID. Used by tooling and tests.
func (v *JWTVerifier) Issue(userID string, role models.Role, ttl time.Duration) (string, error) {
	if len(v.secret) == 0 {
		return "", errors.New("verifier has no secret")
	}
	now := v.now()
	claims := Claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
