package conversation

import (
	"math/rand/v2"
	"os"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

// Replies holds the canned texts the handler sends without calling the
// generation service
type Replies struct {
	Welcome   string   `yaml:"welcome"`
	Audio     []string `yaml:"audio"`
	Blessings []string `yaml:"blessings"`
	Fallback  string   `yaml:"fallback"`
	Apology   string   `yaml:"apology"`
	Media     string   `yaml:"media"`
}

// DefaultReplies returns the built-in Portuguese replies
func DefaultReplies() *Replies {
	return &Replies{
		Welcome: "Olá 😀! Seja bem-vindo(a) ao Devocional Diário. Aqui está o devocional de hoje:",
		Audio: []string{
			"Olá! Recebi seu áudio, mas ainda não consigo processá-lo. Você poderia, por gentileza, enviar sua pergunta ou comentário como mensagem de texto? Assim poderei lhe ajudar melhor. 🙏",
			"Agradeço pelo seu áudio! No momento, não disponho da capacidade de ouvi-lo. Poderia, por favor, compartilhar seu pensamento ou pergunta em forma de texto? Ficarei feliz em responder!",
			"Recebi sua mensagem de voz! Infelizmente, ainda não consigo compreender áudios. Se puder enviar o mesmo conteúdo em texto, será um prazer conversar sobre o devocional de hoje ou qualquer outro assunto espiritual.",
		},
		Blessings: []string{
			"Amém! Tenha um dia abençoado.",
			"Que Deus te abençoe hoje e sempre.",
			"Obrigado por compartilhar. Fique na paz de Cristo.",
			"Louvado seja Deus! Tenha um excelente dia.",
			"Que a graça de Deus esteja com você hoje.",
		},
		Fallback: "Agradeço sua mensagem. Estou refletindo sobre isso e logo poderei responder com mais clareza. Que Deus abençoe seu dia.",
		Apology:  "Desculpe, ocorreu um erro ao processar sua mensagem. Por favor, tente novamente mais tarde.",
		Media:    "Mídia recebida",
	}
}

// LoadReplies reads the "replies" section of a YAML file. Fields that are
// missing or blank keep their defaults.
func LoadReplies(path string) (*Replies, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read replies file", goerr.V("path", path))
	}

	var doc struct {
		Replies Replies `yaml:"replies"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, goerr.Wrap(err, "failed to parse replies file", goerr.V("path", path))
	}

	r := DefaultReplies()
	r.merge(&doc.Replies)
	return r, nil
}

func (r *Replies) merge(o *Replies) {
	setString(&r.Welcome, o.Welcome)
	setString(&r.Fallback, o.Fallback)
	setString(&r.Apology, o.Apology)
	setString(&r.Media, o.Media)
	setList(&r.Audio, o.Audio)
	setList(&r.Blessings, o.Blessings)
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setList(dst *[]string, v []string) {
	var kept []string
	for _, s := range v {
		if s = strings.TrimSpace(s); s != "" {
			kept = append(kept, s)
		}
	}
	if len(kept) > 0 {
		*dst = kept
	}
}

func pick(options []string) string {
	if len(options) == 0 {
		return ""
	}
	return options[rand.IntN(len(options))]
}
