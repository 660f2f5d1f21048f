package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidTicket is returned for any ticket that fails validation.
var ErrInvalidTicket = errors.New("invalid ticket")

// Claims represents the claims of a join ticket. The subject is the
// participant id the bearer may join as.
type Claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Tickets issues and validates short-lived join tickets.
type Tickets struct {
	Secret   []byte
	Issuer   string
	Audience string
	TTL      time.Duration

	now func() time.Time
}

// NewTickets builds a ticket authority. A zero ttl means one hour.
func NewTickets(secret, issuer, audience string, ttl time.Duration) *Tickets {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Tickets{
		Secret:   []byte(secret),
		Issuer:   issuer,
		Audience: audience,
		TTL:      ttl,
		now:      time.Now,
	}
}

// Issue signs a ticket for userID.
func (t *Tickets) Issue(userID, name string) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, fmt.Errorf("issue ticket: empty user id")
	}
	now := t.clock()
	expires := now.Add(t.TTL)
	claims := Claims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    t.Issuer,
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	if t.Audience != "" {
		claims.Audience = jwt.ClaimStrings{t.Audience}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.Secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign ticket: %w", err)
	}
	return signed, expires, nil
}

// Validate parses a ticket and returns its claims.
func (t *Tickets) Validate(ticket string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.clock),
	}
	if t.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.Issuer))
	}
	if t.Audience != "" {
		opts = append(opts, jwt.WithAudience(t.Audience))
	}

	token, err := jwt.ParseWithClaims(ticket, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return t.Secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTicket, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidTicket
	}
	return claims, nil
}

func (t *Tickets) clock() time.Time {
	if t.now == nil {
		return time.Now()
	}
	return t.now()
}
