// Package auth verifies studio access tokens and answers the course access predicates.
package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/yungbote/coursestore-backend/internal/keys"
	"github.com/yungbote/coursestore-backend/internal/platform/ctxutil"
	"github.com/yungbote/coursestore-backend/internal/platform/logger"
)

// Course roles carried in tokens.
const (
	RoleInstructor   = "instructor"
	RoleStaff        = "staff"
	RoleLimitedStaff = "limited_staff"
	RoleViewer       = "viewer"
)

type JWTClaims struct {
	jwt.RegisteredClaims
	SessionID string            `json:"sid,omitempty"`
	Staff     bool              `json:"is_staff,omitempty"`
	Roles     map[string]string `json:"course_roles,omitempty"`
}

type AuthService interface {
	SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error)
	IssueToken(userID string, staff bool, roles map[string]string) (string, error)
	HasStudioReadAccess(ctx context.Context, course keys.CourseKey) bool
	HasStudioWriteAccess(ctx context.Context, course keys.CourseKey) bool
}

type authService struct {
	log          *logger.Logger
	jwtSecretKey string
	issuer       string
	accessTTL    time.Duration
}

func NewAuthService(log *logger.Logger, jwtSecretKey, issuer string, accessTTL time.Duration) AuthService {
	serviceLog := log.With("service", "AuthService")
	return &authService{
		log:          serviceLog,
		jwtSecretKey: jwtSecretKey,
		issuer:       issuer,
		accessTTL:    accessTTL,
	}
}

// IssueToken signs an access token. Identity is managed elsewhere; this exists for
// service accounts and local development.
func (as *authService) IssueToken(userID string, staff bool, roles map[string]string) (string, error) {
	now := time.Now()
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    as.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(as.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		SessionID: uuid.New().String(),
		Staff:     staff,
		Roles:     roles,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(as.jwtSecretKey))
}

func (as *authService) SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error) {
	if tokenString == "" {
		return ctx, fmt.Errorf("missing token")
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if as.issuer != "" {
		opts = append(opts, jwt.WithIssuer(as.issuer))
	}
	parsedToken, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(as.jwtSecretKey), nil
	}, opts...)
	if err != nil {
		return ctx, fmt.Errorf("failed to parse token: %w", err)
	}
	claims, ok := parsedToken.Claims.(*JWTClaims)
	if !ok || !parsedToken.Valid {
		return ctx, fmt.Errorf("invalid or expired JWT token")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return ctx, fmt.Errorf("token has no subject")
	}
	sessionID := claims.SessionID
	if sessionID == "" {
		sessionID = claims.ID
	}
	rd := &ctxutil.RequestData{
		TokenString: tokenString,
		UserID:      claims.Subject,
		SessionID:   sessionID,
		Staff:       claims.Staff,
		Roles:       claims.Roles,
	}
	return ctxutil.WithRequestData(ctx, rd), nil
}

func (as *authService) HasStudioWriteAccess(ctx context.Context, course keys.CourseKey) bool {
	role, staff := roleFor(ctx, course)
	if staff {
		return true
	}
	return role == RoleInstructor || role == RoleStaff
}

func (as *authService) HasStudioReadAccess(ctx context.Context, course keys.CourseKey) bool {
	if as.HasStudioWriteAccess(ctx, course) {
		return true
	}
	role, _ := roleFor(ctx, course)
	return role == RoleLimitedStaff || role == RoleViewer
}

// roleFor returns the caller's course role, preferring a course-specific grant over an
// org-wide one.
func roleFor(ctx context.Context, course keys.CourseKey) (string, bool) {
	rd := ctxutil.GetRequestData(ctx)
	if rd == nil {
		return "", false
	}
	if rd.Staff {
		return "", true
	}
	if role, ok := rd.Roles[course.String()]; ok {
		return role, false
	}
	return rd.Roles["org:"+course.Org], false
}
