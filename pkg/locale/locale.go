// Package locale renders human date labels for devotional headers and history
// entries. Month names are the only locale-specific data the application needs.
package locale

import (
	"fmt"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

const (
	PortugueseBR = "pt-BR"
	English      = "en"
)

// Formatter renders dates for one locale
type Formatter interface {
	Name() string
	Date(t time.Time) string
	Weekday(t time.Time) string
}

type ptBR struct{}

var ptMonths = [...]string{
	"janeiro", "fevereiro", "março", "abril", "maio", "junho",
	"julho", "agosto", "setembro", "outubro", "novembro", "dezembro",
}

var ptWeekdays = [...]string{
	"domingo", "segunda-feira", "terça-feira", "quarta-feira",
	"quinta-feira", "sexta-feira", "sábado",
}

func (ptBR) Name() string { return PortugueseBR }

// Date returns e.g. "17 de outubro de 2026"
func (ptBR) Date(t time.Time) string {
	return fmt.Sprintf("%d de %s de %d", t.Day(), ptMonths[t.Month()-1], t.Year())
}

func (ptBR) Weekday(t time.Time) string {
	return ptWeekdays[t.Weekday()]
}

type en struct{}

func (en) Name() string { return English }

// Date returns e.g. "October 17, 2026"
func (en) Date(t time.Time) string {
	return t.Format("January 2, 2006")
}

func (en) Weekday(t time.Time) string {
	return t.Weekday().String()
}

// Lookup returns the formatter for name. Matching ignores case and accepts the
// bare language ("pt") as well as "pt_BR".
func Lookup(name string) (Formatter, error) {
	key := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), "_", "-"))
	switch key {
	case "pt-br", "pt":
		return ptBR{}, nil
	case "en", "en-us", "en-gb":
		return en{}, nil
	default:
		return nil, goerr.New("unsupported locale", goerr.V("locale", name))
	}
}

// Default is the pt-BR formatter
func Default() Formatter {
	return ptBR{}
}
