// Package registry manages farmer profiles and device credentials.
package registry

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/AquaGrid-Network/allocation_layer/internal/app/domain/farmer"
	"github.com/AquaGrid-Network/allocation_layer/internal/app/storage"
	"github.com/AquaGrid-Network/allocation_layer/pkg/logger"
)

const (
	farmerIDSuffixLen = 4
	tokenTTL          = 24 * time.Hour
)

// Service registers farmers, authenticates them and resolves profiles for
// the decision pipeline.
type Service struct {
	store     storage.FarmerStore
	jwtSecret []byte
	log       *logger.Logger
}

// Registration carries the attributes captured at onboarding.
type Registration struct {
	Name     string
	Phone    string
	Email    string
	Password string
	Zone     string
	LandSize float64
	CropType string
	PH       float64
	SoilType string
}

// New constructs the registry service.
func New(store storage.FarmerStore, jwtSecret []byte, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("registry")
	}
	return &Service{store: store, jwtSecret: jwtSecret, log: log}
}

// Register creates a farmer profile with a zone-scoped generated id.
func (s *Service) Register(ctx context.Context, reg Registration) (farmer.Profile, error) {
	reg.Zone = strings.TrimSpace(reg.Zone)
	reg.Phone = strings.TrimSpace(reg.Phone)
	if reg.Zone == "" || reg.Phone == "" || reg.Password == "" {
		return farmer.Profile{}, fmt.Errorf("zone, phone and password are required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(reg.Password), bcrypt.DefaultCost)
	if err != nil {
		return farmer.Profile{}, fmt.Errorf("hash password: %w", err)
	}

	cropType := strings.TrimSpace(reg.CropType)
	if cropType == "" {
		cropType = "UNKNOWN"
	}
	soilType := strings.TrimSpace(reg.SoilType)
	if soilType == "" {
		soilType = "UNKNOWN"
	}

	profile := farmer.Profile{
		ID:           generateFarmerID(reg.Zone),
		Name:         strings.TrimSpace(reg.Name),
		Phone:        reg.Phone,
		Email:        strings.TrimSpace(reg.Email),
		PasswordHash: string(hash),
		Zone:         reg.Zone,
		LandSize:     reg.LandSize,
		CropType:     cropType,
		PH:           reg.PH,
		SoilType:     soilType,
	}

	profile, err = s.store.CreateFarmer(ctx, profile)
	if err != nil {
		return farmer.Profile{}, err
	}

	s.log.WithField("farmer_id", profile.ID).
		WithField("zone", profile.Zone).
		Info("farmer registered")
	return profile, nil
}

// Login checks the password and issues a signed token carrying the farmer id.
func (s *Service) Login(ctx context.Context, farmerID, password string) (string, farmer.Profile, error) {
	profile, err := s.store.GetFarmer(ctx, farmerID)
	if err != nil {
		return "", farmer.Profile{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(profile.PasswordHash), []byte(password)); err != nil {
		return "", farmer.Profile{}, fmt.Errorf("invalid credentials")
	}

	claims := jwt.MapClaims{
		"farmerId": profile.ID,
		"exp":      time.Now().Add(tokenTTL).Unix(),
		"iat":      time.Now().Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return "", farmer.Profile{}, fmt.Errorf("sign token: %w", err)
	}
	return token, profile, nil
}

// VerifyToken validates a bearer token and returns the farmer id it carries.
func (s *Service) VerifyToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("invalid token")
	}
	farmerID, _ := claims["farmerId"].(string)
	if farmerID == "" {
		return "", fmt.Errorf("token missing farmer id")
	}
	return farmerID, nil
}

// Lookup resolves a farmer profile by id.
func (s *Service) Lookup(ctx context.Context, farmerID string) (farmer.Profile, error) {
	return s.store.GetFarmer(ctx, farmerID)
}

// List returns every registered farmer.
func (s *Service) List(ctx context.Context) ([]farmer.Profile, error) {
	return s.store.ListFarmers(ctx)
}

const idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func generateFarmerID(zone string) string {
	suffix := make([]byte, farmerIDSuffixLen)
	for i := range suffix {
		suffix[i] = idAlphabet[rand.Intn(len(idAlphabet))]
	}
	return fmt.Sprintf("FARMER_%s_%s", strings.ToUpper(zone), suffix)
}
