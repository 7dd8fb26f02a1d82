package management

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/welldanyogia/steel-scrap-yard/internal/auth"
	"github.com/welldanyogia/steel-scrap-yard/internal/repository"
	"github.com/welldanyogia/steel-scrap-yard/internal/repository/memory"
	"github.com/welldanyogia/steel-scrap-yard/internal/sanitizer"
)

var fastPasswords = auth.NewPasswordValidatorWithParams(auth.Argon2Params{Time: 1, Memory: 64, Threads: 1, KeyLen: 16})

var now = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *repository.Store) {
	t.Helper()
	store := memory.New().Store()
	svc := NewService(store, fastPasswords, sanitizer.New(), nil)
	svc.SetClock(func() time.Time { return now })
	return svc, store
}

func ownerRequest(email, factory string) CreateOwnerRequest {
	return CreateOwnerRequest{
		Name:           "Ravi <script>alert(1)</script>Kumar",
		Email:          email,
		Phone:          "+91 98000 00000",
		FactoryName:    factory,
		FactoryAddress: "Plot 7, MIDC",
		GSTNumber:      "27AAAAA0000A1Z5",
	}
}

func TestCreateOwner_CreatesAndLinksFactory(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateOwner(ctx, "admin-1", ownerRequest(" Ravi@Yard.com ", "Ravi Steels"))
	if err != nil {
		t.Fatalf("CreateOwner() error = %v", err)
	}
	if created.GeneratedPassword == "" {
		t.Error("a password should be generated when none is given")
	}

	owner := created.Owner
	if owner.Email != "ravi@yard.com" || owner.Role != repository.RoleOwner || owner.CreatedBy != "admin-1" {
		t.Errorf("owner = %+v", owner.User)
	}
	if owner.Name != "Ravi Kumar" {
		t.Errorf("name not sanitised: %q", owner.Name)
	}
	if owner.FactoryDetails == nil || owner.FactoryID != owner.FactoryDetails.ID {
		t.Fatalf("factory not linked: %+v", owner)
	}

	stored, err := store.Users.GetByID(ctx, owner.ID)
	if err != nil || stored.FactoryID != owner.FactoryID {
		t.Errorf("stored owner = %+v, %v", stored, err)
	}
	if !fastPasswords.VerifyPassword(created.GeneratedPassword, stored.PasswordHash) {
		t.Error("generated password does not verify against the stored hash")
	}
}

func TestCreateOwner_Conflicts(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateOwner(ctx, "a", ownerRequest("one@x.com", "Alpha")); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CreateOwner(ctx, "a", ownerRequest("ONE@x.com", "Beta")); !errors.Is(err, ErrEmailExists) {
		t.Errorf("duplicate email error = %v", err)
	}
	if _, err := svc.CreateOwner(ctx, "a", ownerRequest("two@x.com", "alpha")); !errors.Is(err, ErrFactoryExists) {
		t.Errorf("duplicate factory error = %v", err)
	}

	req := ownerRequest("three@x.com", "")
	var verrs validator.ValidationErrors
	if _, err := svc.CreateOwner(ctx, "a", req); !errors.As(err, &verrs) {
		t.Errorf("missing factory name error = %v", err)
	}
}

func TestSetOwnerStatus_TogglesFactory(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	created, err := svc.CreateOwner(ctx, "a", ownerRequest("o@x.com", "Yard"))
	if err != nil {
		t.Fatal(err)
	}

	view, err := svc.SetOwnerStatus(ctx, created.Owner.ID, false)
	if err != nil {
		t.Fatal(err)
	}
	if view.IsActive || view.FactoryDetails == nil || view.FactoryDetails.IsActive {
		t.Errorf("view = %+v", view)
	}
	factory, _ := store.Factories.GetByID(ctx, created.Owner.FactoryID)
	if factory.IsActive {
		t.Error("factory should be deactivated with its owner")
	}

	labourer := &repository.User{Email: "l@x.com", PasswordHash: "h", Role: repository.RoleLabourer, IsActive: true}
	_ = store.Users.Create(ctx, labourer)
	if _, err := svc.SetOwnerStatus(ctx, labourer.ID, false); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("toggling a non-owner: %v", err)
	}
}

func TestLabourers_ScopedToFactory(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	a, _ := svc.CreateOwner(ctx, "admin", ownerRequest("a@x.com", "A"))
	b, _ := svc.CreateOwner(ctx, "admin", ownerRequest("b@x.com", "B"))
	factoryA, factoryB := a.Owner.FactoryID, b.Owner.FactoryID

	lab, err := svc.CreateLabourer(ctx, a.Owner.ID, factoryA, CreateLabourerRequest{
		Name: "Sunil", Email: "sunil@x.com", EmployeeID: "EMP001", Department: "Scrap Analysis", Shift: "Day", Password: "p1",
	})
	if err != nil {
		t.Fatalf("CreateLabourer() error = %v", err)
	}
	if lab.FactoryID != factoryA || lab.CreatedBy != a.Owner.ID || lab.Role != repository.RoleLabourer {
		t.Errorf("labourer = %+v", lab)
	}

	if _, err := svc.CreateLabourer(ctx, a.Owner.ID, factoryA, CreateLabourerRequest{Name: "X", Email: "x@x.com"}); err == nil {
		t.Error("a labourer needs a password")
	}

	if list, _ := svc.ListLabourers(ctx, factoryB); len(list) != 0 {
		t.Errorf("factory B sees %d labourers of A", len(list))
	}
	if _, err := svc.SetLabourerStatus(ctx, factoryB, lab.ID, false); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("cross-factory toggle error = %v", err)
	}
	updated, err := svc.SetLabourerStatus(ctx, factoryA, lab.ID, false)
	if err != nil || updated.IsActive {
		t.Errorf("SetLabourerStatus() = %+v, %v", updated, err)
	}
}

func TestStats(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	created, _ := svc.CreateOwner(ctx, "admin", ownerRequest("o@x.com", "Yard"))
	factoryID := created.Owner.FactoryID
	_, _ = svc.CreateLabourer(ctx, created.Owner.ID, factoryID, CreateLabourerRequest{Name: "L", Email: "l@x.com", Password: "pw"})

	for i, at := range []time.Time{now.Add(-time.Hour), now.AddDate(0, -1, 0), now.Add(-48 * time.Hour)} {
		_ = store.History.Create(ctx, &repository.AnalysisRecord{
			Timestamp: at, TruckNumber: "T", TruckID: "t", AnalysisID: string(rune('a' + i)), FactoryID: factoryID,
		})
	}

	admin, err := svc.AdminStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if *admin != (AdminStats{TotalOwners: 1, TotalFactories: 1, TotalLabourers: 1, TotalAnalyses: 3}) {
		t.Errorf("admin stats = %+v", admin)
	}

	owner, err := svc.OwnerStats(ctx, factoryID)
	if err != nil {
		t.Fatal(err)
	}
	if *owner != (OwnerStats{TotalLabourers: 1, TotalAnalyses: 3, ThisMonthAnalyses: 2, FactoryName: "Yard"}) {
		t.Errorf("owner stats = %+v", owner)
	}
}
