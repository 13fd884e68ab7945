package registry

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/AquaGrid-Network/allocation_layer/internal/app/faults"
	"github.com/AquaGrid-Network/allocation_layer/internal/app/storage/memory"
)

func TestRegisterAndLogin(t *testing.T) {
	store := memory.New()
	svc := New(store, []byte("test-secret"), nil)
	ctx := context.Background()

	profile, err := svc.Register(ctx, Registration{
		Name:     "Wanjiru",
		Phone:    "0711000000",
		Password: "s3cret",
		Zone:     "north",
		LandSize: 12.5,
		CropType: "rice",
		PH:       6.2,
		SoilType: "loam",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !strings.HasPrefix(profile.ID, "FARMER_NORTH_") {
		t.Fatalf("expected zone-scoped id, got %q", profile.ID)
	}
	if profile.PasswordHash == "" || profile.PasswordHash == "s3cret" {
		t.Fatalf("expected hashed password, got %q", profile.PasswordHash)
	}

	token, logged, err := svc.Login(ctx, profile.ID, "s3cret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if token == "" || logged.ID != profile.ID {
		t.Fatalf("unexpected login result: token=%q farmer=%+v", token, logged)
	}

	farmerID, err := svc.VerifyToken(token)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if farmerID != profile.ID {
		t.Fatalf("expected token to carry %s, got %s", profile.ID, farmerID)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	store := memory.New()
	svc := New(store, []byte("test-secret"), nil)
	ctx := context.Background()

	profile, err := svc.Register(ctx, Registration{Phone: "0711000001", Password: "right", Zone: "SOUTH"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, _, err := svc.Login(ctx, profile.ID, "wrong"); err == nil {
		t.Fatalf("expected login to fail with wrong password")
	}
	if _, _, err := svc.Login(ctx, "FARMER_GHOST_0000", "right"); !errors.Is(err, faults.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	store := memory.New()
	svc := New(store, []byte("test-secret"), nil)
	ctx := context.Background()

	if _, err := svc.Register(ctx, Registration{Phone: "0711000002", Password: "pw"}); err == nil {
		t.Fatalf("expected missing zone rejection")
	}
	if _, err := svc.Register(ctx, Registration{Zone: "EAST", Password: "pw"}); err == nil {
		t.Fatalf("expected missing phone rejection")
	}
	if _, err := svc.Register(ctx, Registration{Zone: "EAST", Phone: "0711000003"}); err == nil {
		t.Fatalf("expected missing password rejection")
	}

	profile, err := svc.Register(ctx, Registration{Zone: "EAST", Phone: "0711000004", Password: "pw"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if profile.CropType != "UNKNOWN" || profile.SoilType != "UNKNOWN" {
		t.Fatalf("expected UNKNOWN defaults, got %+v", profile)
	}
}

func TestVerifyTokenRejectsForeignSignature(t *testing.T) {
	store := memory.New()
	svc := New(store, []byte("secret-a"), nil)
	other := New(store, []byte("secret-b"), nil)
	ctx := context.Background()

	profile, err := svc.Register(ctx, Registration{Zone: "WEST", Phone: "0711000005", Password: "pw"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	token, _, err := svc.Login(ctx, profile.ID, "pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if _, err := other.VerifyToken(token); err == nil {
		t.Fatalf("expected token signed with a different secret to be rejected")
	}
}
