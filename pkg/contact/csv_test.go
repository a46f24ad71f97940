package contact_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/matins/pkg/contact"
	"github.com/m-mizutani/matins/pkg/model"
)

func TestNormalizePhone(t *testing.T) {
	testCases := map[string]struct {
		input  string
		expect string
		hasErr bool
	}{
		"mobile with formatting": {input: "(11) 99999-0000", expect: "5511999990000"},
		"landline":               {input: "11 3333-4444", expect: "551133334444"},
		"already international":  {input: "+55 11 99999-0000", expect: "5511999990000"},
		"foreign number":         {input: "+1 415 555 0100 22", expect: "1415555010022"},
		"too short":              {input: "99999-000", hasErr: true},
		"empty":                  {input: "", hasErr: true},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			got, err := contact.NormalizePhone(tc.input)
			if tc.hasErr {
				gt.Error(t, err)
				gt.True(t, errors.Is(err, model.ErrInvalidContactID))
				return
			}
			gt.NoError(t, err)
			gt.Equal(t, got, tc.expect)
		})
	}
}

func writeCSV(t *testing.T, body string) string {
	path := filepath.Join(t.TempDir(), "contatos.csv")
	gt.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestCSVList(t *testing.T) {
	path := writeCSV(t, `Nome,Telefone,Ativo
Maria,(11) 99999-0000,sim
João,21 98888-7777,não
Curto,1234,sim
Maria de novo,11999990000,sim
Sem status,31 97777-6666,
`)

	contacts, err := contact.NewCSV(path).List(context.Background())
	gt.NoError(t, err)
	gt.A(t, contacts).Length(3)

	gt.Equal(t, contacts[0].ID, "5511999990000")
	gt.Equal(t, contacts[0].Name, "Maria")
	gt.True(t, contacts[0].Active)

	gt.Equal(t, contacts[1].ID, "5521988887777")
	gt.False(t, contacts[1].Active)

	gt.Equal(t, contacts[2].ID, "5531977776666")
	gt.True(t, contacts[2].Active)

	gt.A(t, model.ActiveContacts(contacts)).Length(2)
}

func TestCSVListEnglishHeaders(t *testing.T) {
	path := writeCSV(t, `phone,name,status
5511999990000,Ana,active
5511888880000,Bia,inactive
`)

	contacts, err := contact.NewCSV(path).List(context.Background())
	gt.NoError(t, err)
	gt.A(t, contacts).Length(2)
	gt.Equal(t, contacts[0].Name, "Ana")
	gt.True(t, contacts[0].Active)
	gt.False(t, contacts[1].Active)
}

func TestCSVListMissingPhoneColumn(t *testing.T) {
	path := writeCSV(t, "nome,email\nMaria,maria@example.com\n")
	_, err := contact.NewCSV(path).List(context.Background())
	gt.Error(t, err)
}

func TestCSVAdd(t *testing.T) {
	path := writeCSV(t, "nome,telefone,ativo\nMaria,11999990000,sim\n")
	src := contact.NewCSV(path)
	ctx := context.Background()

	gt.NoError(t, src.Add(ctx, &model.Contact{ID: "5521988887777", Name: "João", Active: true}))
	gt.NoError(t, src.Add(ctx, &model.Contact{ID: "5511999990000", Name: "Maria", Active: true}))

	contacts, err := src.List(ctx)
	gt.NoError(t, err)
	gt.A(t, contacts).Length(2)
	gt.Equal(t, contacts[1].ID, "5521988887777")
	gt.Equal(t, contacts[1].Name, "João")
	gt.True(t, contacts[1].Active)

	found := contact.Find(contacts, "5521988887777")
	gt.NotNil(t, found)
	gt.Nil(t, contact.Find(contacts, "unknown"))
}

func TestCSVAddCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "novo.csv")
	src := contact.NewCSV(path)
	ctx := context.Background()

	gt.NoError(t, src.Add(ctx, &model.Contact{ID: "5511999990000", Name: "Ana", Active: true}))

	contacts, err := src.List(ctx)
	gt.NoError(t, err)
	gt.A(t, contacts).Length(1)
	gt.Equal(t, contacts[0].Name, "Ana")
}
