package contact_test

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/matins/pkg/contact"
	"github.com/m-mizutani/matins/pkg/model"
)

func setupFirestore(t *testing.T) *contact.Firestore {
	projectID := os.Getenv("TEST_FIRESTORE_PROJECT_ID")
	databaseID := os.Getenv("TEST_FIRESTORE_DATABASE_ID")

	if projectID == "" || databaseID == "" {
		t.Skip("TEST_FIRESTORE_PROJECT_ID and TEST_FIRESTORE_DATABASE_ID must be set to run Firestore tests")
	}

	src, err := contact.NewFirestore(context.Background(), projectID, databaseID,
		contact.WithCollection("contacts-test-"+uuid.NewString()),
	)
	gt.NoError(t, err)
	t.Cleanup(func() { _ = src.Close() })

	return src
}

func TestFirestoreAddAndList(t *testing.T) {
	src := setupFirestore(t)
	ctx := context.Background()

	gt.NoError(t, src.Add(ctx, &model.Contact{ID: "5511999990000", Name: "Maria", Active: true}))
	gt.NoError(t, src.Add(ctx, &model.Contact{ID: "5521988887777", Name: "João", Active: false}))
	// adding an existing contact is a no-op
	gt.NoError(t, src.Add(ctx, &model.Contact{ID: "5511999990000", Name: "Outra", Active: false}))

	contacts, err := src.List(ctx)
	gt.NoError(t, err)
	gt.A(t, contacts).Length(2)

	maria := contact.Find(contacts, "5511999990000")
	gt.NotNil(t, maria)
	gt.Equal(t, maria.Name, "Maria")
	gt.True(t, maria.Active)
}
