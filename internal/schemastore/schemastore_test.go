package schemastore

import (
	"context"
	"testing"

	apperrors "github.com/crmlake/crmlake/internal/errors"
	"github.com/crmlake/crmlake/internal/storage"
	"github.com/crmlake/crmlake/pkg/types"
)

func newClient(t *testing.T) (*Client, storage.ObjectStorage) {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("creating local storage: %v", err)
	}
	return New(store, "inst-a"), store
}

func accountSchema() *types.SchemaDefinition {
	return &types.SchemaDefinition{
		Name: "Account",
		Properties: map[string]types.FieldSpec{
			"Id":   {Type: types.FieldTypeID},
			"Name": {Type: types.FieldTypeString},
		},
	}
}

func TestKey(t *testing.T) {
	client, _ := newClient(t)
	want := "schemas/Account.inst-a.schema.json"
	if got := client.Key("Account"); got != want {
		t.Errorf("Key = %q, want %q", got, want)
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	client, _ := newClient(t)
	ctx := context.Background()

	if err := client.Put(ctx, "Account", accountSchema()); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := client.Get(ctx, "Account")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Name != "Account" {
		t.Errorf("schema name = %q, want %q", got.Name, "Account")
	}
	if got.Properties["Name"].Type != types.FieldTypeString {
		t.Errorf("Name field type = %q", got.Properties["Name"].Type)
	}
}

func TestGet_NotFound(t *testing.T) {
	client, _ := newClient(t)

	_, err := client.Get(context.Background(), "Nowhere")
	if err == nil {
		t.Fatal("Get succeeded for a missing schema")
	}
	if code := apperrors.GetCode(err); code != apperrors.CodeNotFound {
		t.Errorf("error code = %q, want %q", code, apperrors.CodeNotFound)
	}
}

func TestGet_Malformed(t *testing.T) {
	client, store := newClient(t)
	ctx := context.Background()

	if err := store.Put(ctx, client.Key("Broken"), []byte("{not json")); err != nil {
		t.Fatalf("seeding malformed document: %v", err)
	}
	_, err := client.Get(ctx, "Broken")
	if err == nil {
		t.Fatal("Get succeeded for a malformed document")
	}
	if code := apperrors.GetCode(err); code != apperrors.CodeMalformedSchema {
		t.Errorf("error code = %q, want %q", code, apperrors.CodeMalformedSchema)
	}
}

func TestGet_MissingNameRejected(t *testing.T) {
	client, store := newClient(t)
	ctx := context.Background()

	if err := store.Put(ctx, client.Key("Anon"), []byte(`{"properties": {}}`)); err != nil {
		t.Fatalf("seeding document: %v", err)
	}
	_, err := client.Get(ctx, "Anon")
	if err == nil {
		t.Fatal("Get accepted a schema without a name")
	}
	if code := apperrors.GetCode(err); code != apperrors.CodeMalformedSchema {
		t.Errorf("error code = %q, want %q", code, apperrors.CodeMalformedSchema)
	}
}

func TestGet_Memoizes(t *testing.T) {
	client, store := newClient(t)
	ctx := context.Background()

	if err := client.Put(ctx, "Account", accountSchema()); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, err := client.Get(ctx, "Account"); err != nil {
		t.Fatalf("first Get failed: %v", err)
	}

	// Remove the backing document; the cached copy must still be served.
	if err := store.Delete(ctx, client.Key("Account")); err != nil {
		t.Fatalf("deleting backing document: %v", err)
	}
	got, err := client.Get(ctx, "Account")
	if err != nil {
		t.Fatalf("cached Get failed: %v", err)
	}
	if got.Name != "Account" {
		t.Errorf("cached schema name = %q", got.Name)
	}
}

func TestPut_InvalidatesCache(t *testing.T) {
	client, _ := newClient(t)
	ctx := context.Background()

	if err := client.Put(ctx, "Account", accountSchema()); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, err := client.Get(ctx, "Account"); err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	updated := accountSchema()
	updated.Properties["Phone"] = types.FieldSpec{Type: types.FieldTypePhone}
	if err := client.Put(ctx, "Account", updated); err != nil {
		t.Fatalf("second Put failed: %v", err)
	}

	got, err := client.Get(ctx, "Account")
	if err != nil {
		t.Fatalf("Get after update failed: %v", err)
	}
	if _, ok := got.Properties["Phone"]; !ok {
		t.Error("Get served the stale cached schema after Put")
	}
}

func TestDelete_InvalidatesCache(t *testing.T) {
	client, _ := newClient(t)
	ctx := context.Background()

	if err := client.Put(ctx, "Account", accountSchema()); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, err := client.Get(ctx, "Account"); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if err := client.Delete(ctx, "Account"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	_, err := client.Get(ctx, "Account")
	if code := apperrors.GetCode(err); code != apperrors.CodeNotFound {
		t.Errorf("Get after Delete: code = %q, want %q", code, apperrors.CodeNotFound)
	}
}

func TestListObjects_FiltersByInstallation(t *testing.T) {
	client, store := newClient(t)
	ctx := context.Background()

	if err := client.Put(ctx, "Account", accountSchema()); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := client.Put(ctx, "Contact", accountSchema()); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	// Another installation's document must not appear.
	if err := store.Put(ctx, "schemas/Lead.inst-b.schema.json", []byte("{}")); err != nil {
		t.Fatalf("seeding foreign document: %v", err)
	}

	objects, err := client.ListObjects(ctx)
	if err != nil {
		t.Fatalf("ListObjects failed: %v", err)
	}
	if len(objects) != 2 || objects[0] != "Account" || objects[1] != "Contact" {
		t.Errorf("objects = %v, want [Account Contact]", objects)
	}
}
