package devotional

import (
	"math/rand/v2"
	"os"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

// Pool is the static rotation of pre-approved devotionals used when generation
// is exhausted. Entries hold the body only; the date label is prepended on pick.
type Pool struct {
	Entries []string `yaml:"devotionals"`
}

var defaultEntries = []string{
	`*✝️ Versículo:* "Não temas, porque eu sou contigo; não te assombres, porque eu sou teu Deus; eu te fortaleço, e te ajudo, e te sustento com a destra da minha justiça." (Isaías 41:10)

*💭 Reflexão:* Mesmo quando enfrentamos dificuldades ou desafios inesperados, Deus está ao nosso lado, pronto para nos dar força e sustento. Este versículo nos lembra que não precisamos temer, pois temos a presença constante do Senhor em nossas vidas, guiando nossos passos e iluminando nosso caminho.

*🧗🏻 Prática:* Hoje, ao enfrentar qualquer situação desafiadora, faça uma pausa, respire e relembre esta promessa de sustento divino antes de prosseguir.`,

	`*✝️ Versículo:* "O Senhor é o meu pastor; nada me faltará." (Salmos 23:1)

*💭 Reflexão:* Davi escreveu estas palavras conhecendo bem o cuidado de um pastor com suas ovelhas. Deus conhece nossas necessidades antes mesmo de pedirmos, e Sua provisão chega no tempo certo. Descansar nessa verdade nos liberta da ansiedade de querer controlar tudo.

*🧗🏻 Prática:* Antes de começar suas tarefas, escreva uma necessidade que está pesando no seu coração e entregue-a em oração.`,

	`*✝️ Versículo:* "Tudo posso naquele que me fortalece." (Filipenses 4:13)

*💭 Reflexão:* Paulo escreveu esta carta preso, aprendendo a estar contente em qualquer situação. A força de que ele fala não é para conquistar tudo o que desejamos, mas para permanecer firme em Cristo na abundância e na escassez.

*🧗🏻 Prática:* Hoje, diante de uma situação difícil, pare e diga em voz baixa: "Cristo é a minha força".`,

	`*✝️ Versículo:* "Lancem sobre ele toda a sua ansiedade, porque ele tem cuidado de vocês." (1 Pedro 5:7)

*💭 Reflexão:* Carregar sozinho as preocupações nos cansa e nos afasta da paz. Pedro nos convida a lançar, de uma vez, todo o peso sobre Aquele que se importa conosco. Não é fraqueza, é confiança.

*🧗🏻 Prática:* Faça uma lista curta das suas preocupações de hoje e ore por cada uma, entregando-as a Deus.`,
}

// DefaultPool returns the built-in rotation
func DefaultPool() *Pool {
	return &Pool{Entries: append([]string(nil), defaultEntries...)}
}

// LoadPool reads a YAML file with a top-level "devotionals" list. Blank entries
// are dropped; an empty list falls back to the built-in rotation.
func LoadPool(path string) (*Pool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read pool file", goerr.V("path", path))
	}

	var p Pool
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, goerr.Wrap(err, "failed to parse pool file", goerr.V("path", path))
	}

	entries := make([]string, 0, len(p.Entries))
	for _, e := range p.Entries {
		if e = strings.TrimSpace(e); e != "" {
			entries = append(entries, e)
		}
	}
	if len(entries) == 0 {
		return DefaultPool(), nil
	}
	return &Pool{Entries: entries}, nil
}

// Pick returns a random entry headed by dateLabel
func (p *Pool) Pick(dateLabel string) string {
	entries := p.Entries
	if len(entries) == 0 {
		entries = defaultEntries
	}

	body := entries[rand.IntN(len(entries))]

	if dateLabel == "" {
		return body
	}
	return dateLabel + "\n\n" + body
}
