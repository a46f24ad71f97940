package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/chzyer/readline"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/matins/pkg/adapter"
	"github.com/m-mizutani/matins/pkg/citation"
	"github.com/m-mizutani/matins/pkg/contact"
)

type fakeReader struct {
	lines []string
	err   error
}

func (f *fakeReader) Readline() (string, error) {
	if len(f.lines) == 0 {
		return "", f.err
	}
	line := f.lines[0]
	f.lines = f.lines[1:]
	return line, nil
}

func TestChatLoop(t *testing.T) {
	t.Run("stops at exit", func(t *testing.T) {
		var sent []string
		r := &fakeReader{lines: []string{"oi", "  ", "tudo bem?", "exit", "ignored"}}
		err := chatLoop(context.Background(), r, func(text string) error {
			sent = append(sent, text)
			return nil
		})
		gt.NoError(t, err)
		gt.Equal(t, sent, []string{"oi", "tudo bem?"})
	})

	t.Run("stops at EOF and interrupt", func(t *testing.T) {
		for _, end := range []error{io.EOF, readline.ErrInterrupt} {
			r := &fakeReader{lines: []string{"a"}, err: end}
			count := 0
			gt.NoError(t, chatLoop(context.Background(), r, func(string) error {
				count++
				return nil
			}))
			gt.Equal(t, count, 1)
		}
	})

	t.Run("handler error ends the loop", func(t *testing.T) {
		r := &fakeReader{lines: []string{"a", "b"}}
		err := chatLoop(context.Background(), r, func(string) error {
			return errors.New("boom")
		})
		gt.Error(t, err)
	})
}

func TestConfigPaths(t *testing.T) {
	cfg := &config{dataDir: "/srv/matins"}
	gt.Equal(t, cfg.historyPath(), filepath.Join("/srv/matins", "history", "history.json"))
	gt.Equal(t, cfg.conversationsPath(), filepath.Join("/srv/matins", "conversations"))
	gt.Equal(t, cfg.contactsPath(), filepath.Join("/srv/matins", "contacts.csv"))

	cfg.historyFile = "/tmp/h.json"
	cfg.conversationsDir = "/tmp/conv"
	cfg.contactsFile = "/tmp/c.csv"
	gt.Equal(t, cfg.historyPath(), "/tmp/h.json")
	gt.Equal(t, cfg.conversationsPath(), "/tmp/conv")
	gt.Equal(t, cfg.contactsPath(), "/tmp/c.csv")
}

func TestConfigContactsByExtension(t *testing.T) {
	ctx := context.Background()

	cfg := &config{dataDir: "/srv/matins"}
	src, closeFn, err := cfg.newContacts(ctx)
	gt.NoError(t, err)
	defer closeFn()
	_, ok := src.(*contact.CSV)
	gt.True(t, ok)

	cfg.contactsFile = "/srv/matins/contatos.xlsx"
	src, closeFn, err = cfg.newContacts(ctx)
	gt.NoError(t, err)
	defer closeFn()
	_, ok = src.(*contact.XLSX)
	gt.True(t, ok)
}

func TestConfigEnsureDirs(t *testing.T) {
	cfg := &config{dataDir: t.TempDir()}
	gt.NoError(t, cfg.ensureDirs())
}

func TestConfigTransport(t *testing.T) {
	cfg := &config{}
	_, ok := cfg.newTransport(&bytes.Buffer{}).(*adapter.ConsoleTransport)
	gt.True(t, ok)

	cfg.gatewayURL = "http://localhost:9000"
	_, ok = cfg.newTransport(&bytes.Buffer{}).(*adapter.WebhookTransport)
	gt.True(t, ok)
}

func TestConfigNormalizer(t *testing.T) {
	cfg := &config{}
	gt.False(t, citation.Equal(cfg.normalizer(), "João 3:16", "Joao 3:16"))

	cfg.accentFolding = true
	gt.True(t, citation.Equal(cfg.normalizer(), "João 3:16", "Joao 3:16"))
}

func TestConfigLocation(t *testing.T) {
	cfg := &config{timezone: "America/Sao_Paulo", localeName: "pt-BR"}
	loc, err := cfg.location()
	gt.NoError(t, err)
	gt.Equal(t, loc.String(), "America/Sao_Paulo")

	_, err = cfg.formatter()
	gt.NoError(t, err)

	cfg.timezone = "Mars/Olympus"
	_, err = cfg.location()
	gt.Error(t, err)
}
