package contact

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/matins/pkg/model"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const DefaultCollection = "contacts"

// Firestore keeps one document per contact, keyed by contact id
type Firestore struct {
	client     *firestore.Client
	collection string
}

type FirestoreOption func(*Firestore)

func WithCollection(name string) FirestoreOption {
	return func(f *Firestore) {
		f.collection = name
	}
}

// NewFirestore connects to databaseID in projectID
func NewFirestore(ctx context.Context, projectID, databaseID string, opts ...FirestoreOption) (*Firestore, error) {
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project_id", projectID),
			goerr.V("database_id", databaseID),
		)
	}

	f := &Firestore{
		client:     client,
		collection: DefaultCollection,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

func (f *Firestore) Close() error {
	return f.client.Close()
}

func (f *Firestore) List(ctx context.Context) ([]*model.Contact, error) {
	iter := f.client.Collection(f.collection).Documents(ctx)
	defer iter.Stop()

	var contacts []*model.Contact
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate contacts", goerr.V("collection", f.collection))
		}

		var c model.Contact
		if err := doc.DataTo(&c); err != nil {
			return nil, goerr.Wrap(err, "failed to decode contact", goerr.V("doc_id", doc.Ref.ID))
		}
		c.ID = doc.Ref.ID
		contacts = append(contacts, &c)
	}
	return contacts, nil
}

// Add creates the contact document. An existing document is left untouched.
func (f *Firestore) Add(ctx context.Context, contact *model.Contact) error {
	ref := f.client.Collection(f.collection).Doc(contact.ID)
	if _, err := ref.Create(ctx, contact); err != nil {
		if isAlreadyExists(err) {
			return nil
		}
		return goerr.Wrap(err, "failed to add contact", goerr.V("contact_id", contact.ID))
	}
	return nil
}

func isAlreadyExists(err error) bool {
	return status.Code(err) == codes.AlreadyExists
}
